package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const priceColumns = `entity_id, date, open, high, low, close, volume, change_pct`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrice(row rowScanner) (PriceRecord, error) {
	var p PriceRecord
	var date string
	if err := row.Scan(&p.EntityID, &date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &p.ChangePct); err != nil {
		return PriceRecord{}, err
	}
	d, err := parseDate(date)
	if err != nil {
		return PriceRecord{}, fmt.Errorf("parsing price date %q: %w", date, err)
	}
	p.Date = d
	return p, nil
}

// InsertPrice writes p unless a row for the same entity and date exists.
// It reports whether a row was inserted.
func (s *Store) InsertPrice(p PriceRecord) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO stock_prices (`+priceColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.EntityID, formatDate(p.Date), p.Open, p.High, p.Low, p.Close, p.Volume, p.ChangePct,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReplacePrice overwrites the row for p's entity and date, inserting it if
// absent. The previous row is returned, or nil when there was none.
func (s *Store) ReplacePrice(p PriceRecord) (*PriceRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning replace transaction: %w", err)
	}
	defer tx.Rollback()

	var previous *PriceRecord
	old, err := scanPrice(tx.QueryRow(`SELECT `+priceColumns+` FROM stock_prices WHERE entity_id = ? AND date = ?`,
		p.EntityID, formatDate(p.Date)))
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("reading existing price: %w", err)
	default:
		previous = &old
	}

	if _, err := tx.Exec(`
		INSERT INTO stock_prices (`+priceColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id, date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			change_pct = excluded.change_pct`,
		p.EntityID, formatDate(p.Date), p.Open, p.High, p.Low, p.Close, p.Volume, p.ChangePct,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return nil, fmt.Errorf("replacing price: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing replace: %w", err)
	}
	return previous, nil
}

func (s *Store) GetPrice(entityID string, date time.Time) (PriceRecord, error) {
	p, err := scanPrice(s.db.QueryRow(`SELECT `+priceColumns+` FROM stock_prices WHERE entity_id = ? AND date = ?`,
		entityID, formatDate(date)))
	if err == sql.ErrNoRows {
		return PriceRecord{}, ErrNotFound
	}
	return p, err
}

// LastPriceBefore returns the latest row strictly before date that has a close.
func (s *Store) LastPriceBefore(entityID string, date time.Time) (PriceRecord, error) {
	p, err := scanPrice(s.db.QueryRow(`SELECT `+priceColumns+` FROM stock_prices
		WHERE entity_id = ? AND date < ? AND close IS NOT NULL
		ORDER BY date DESC LIMIT 1`, entityID, formatDate(date)))
	if err == sql.ErrNoRows {
		return PriceRecord{}, ErrNotFound
	}
	return p, err
}

// ListPrices returns rows with from <= date <= to in ascending date order.
func (s *Store) ListPrices(entityID string, from, to time.Time) ([]PriceRecord, error) {
	rows, err := s.db.Query(`SELECT `+priceColumns+` FROM stock_prices
		WHERE entity_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, entityID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PriceRecord
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) CountPrices(entityID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM stock_prices WHERE entity_id = ?`, entityID).Scan(&n)
	return n, err
}
