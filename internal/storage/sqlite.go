package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding entities, collected records, collection
// metadata, run summaries, and the background job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "fdv.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatDate(t time.Time) string {
	return t.Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

func parseTimestamp(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// --- Entities ---

func (s *Store) UpsertEntity(e Entity) error {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO entities (entity_id, name, market, sector, corp_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			name = excluded.name,
			market = excluded.market,
			sector = excluded.sector,
			corp_code = CASE WHEN excluded.corp_code = '' THEN entities.corp_code ELSE excluded.corp_code END`,
		e.ID, e.Name, e.Market, e.Sector, e.CorpCode, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetEntity(id string) (Entity, error) {
	var e Entity
	var createdAt string
	err := s.db.QueryRow(`
		SELECT entity_id, name, market, sector, corp_code, created_at
		FROM entities WHERE entity_id = ?`, id,
	).Scan(&e.ID, &e.Name, &e.Market, &e.Sector, &e.CorpCode, &createdAt)
	if err == sql.ErrNoRows {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	if e.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
		return Entity{}, err
	}
	return e, nil
}

// ListEntities returns all entities ordered by code. An empty market matches all.
func (s *Store) ListEntities(market string) ([]Entity, error) {
	rows, err := s.db.Query(`
		SELECT entity_id, name, market, sector, corp_code, created_at
		FROM entities WHERE ? = '' OR market = ?
		ORDER BY entity_id ASC`, market, market,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Entity
	for rows.Next() {
		var e Entity
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Name, &e.Market, &e.Sector, &e.CorpCode, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTimestamp("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Collection Metadata ---

func (s *Store) GetCollectionMetadata(entityID string) (CollectionMetadata, error) {
	var m CollectionMetadata
	var lastObserved sql.NullString
	var collectedAt string
	err := s.db.QueryRow(`
		SELECT entity_id, last_observed_date, last_collection_timestamp
		FROM collection_metadata WHERE entity_id = ?`, entityID,
	).Scan(&m.EntityID, &lastObserved, &collectedAt)
	if err == sql.ErrNoRows {
		return CollectionMetadata{}, ErrNotFound
	}
	if err != nil {
		return CollectionMetadata{}, err
	}
	if lastObserved.Valid {
		d, err := parseDate(lastObserved.String)
		if err != nil {
			return CollectionMetadata{}, fmt.Errorf("parsing last_observed_date for %s: %w", entityID, err)
		}
		m.LastObservedDate = &d
	}
	if m.LastCollectionTimestamp, err = parseTimestamp("last_collection_timestamp", collectedAt); err != nil {
		return CollectionMetadata{}, err
	}
	return m, nil
}

// UpsertCollectionMetadata stores m. The stored last observed date never moves
// backwards: an older or nil date leaves the current value in place, while the
// collection timestamp is always overwritten.
func (s *Store) UpsertCollectionMetadata(m CollectionMetadata) error {
	var lastObserved interface{}
	if m.LastObservedDate != nil {
		lastObserved = formatDate(*m.LastObservedDate)
	}
	collectedAt := m.LastCollectionTimestamp
	if collectedAt.IsZero() {
		collectedAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO collection_metadata (entity_id, last_observed_date, last_collection_timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			last_observed_date = CASE
				WHEN excluded.last_observed_date IS NULL THEN collection_metadata.last_observed_date
				WHEN collection_metadata.last_observed_date IS NULL THEN excluded.last_observed_date
				WHEN excluded.last_observed_date > collection_metadata.last_observed_date THEN excluded.last_observed_date
				ELSE collection_metadata.last_observed_date
			END,
			last_collection_timestamp = excluded.last_collection_timestamp`,
		m.EntityID, lastObserved, collectedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListCollectionMetadata returns metadata for every entity that has been collected.
func (s *Store) ListCollectionMetadata() ([]CollectionMetadata, error) {
	rows, err := s.db.Query(`
		SELECT entity_id, last_observed_date, last_collection_timestamp
		FROM collection_metadata ORDER BY entity_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CollectionMetadata
	for rows.Next() {
		var m CollectionMetadata
		var lastObserved sql.NullString
		var collectedAt string
		if err := rows.Scan(&m.EntityID, &lastObserved, &collectedAt); err != nil {
			return nil, err
		}
		if lastObserved.Valid {
			d, err := parseDate(lastObserved.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_observed_date for %s: %w", m.EntityID, err)
			}
			m.LastObservedDate = &d
		}
		if m.LastCollectionTimestamp, err = parseTimestamp("last_collection_timestamp", collectedAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
