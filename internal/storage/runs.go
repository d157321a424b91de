package storage

import (
	"time"
)

func (s *Store) SaveRun(r Run) error {
	_, err := s.db.Exec(`
		INSERT INTO collection_runs (id, kind, started_at, finished_at, processed, succeeded, skipped_fresh, failed, rejected, rate_limited, inserted, duplicates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
		r.Processed, r.Succeeded, r.SkippedFresh, r.Failed, r.Rejected, r.RateLimited, r.Inserted, r.Duplicates,
	)
	return err
}

// ListRuns returns the most recent runs first. An empty kind matches all.
func (s *Store) ListRuns(kind string, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, started_at, finished_at, processed, succeeded, skipped_fresh, failed, rejected, rate_limited, inserted, duplicates
		FROM collection_runs WHERE ? = '' OR kind = ?
		ORDER BY started_at DESC LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		var r Run
		var startedAt, finishedAt string
		if err := rows.Scan(&r.ID, &r.Kind, &startedAt, &finishedAt, &r.Processed, &r.Succeeded, &r.SkippedFresh,
			&r.Failed, &r.Rejected, &r.RateLimited, &r.Inserted, &r.Duplicates); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTimestamp("started_at", startedAt); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTimestamp("finished_at", finishedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
