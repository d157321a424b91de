package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const newsColumns = `url, entity_id, entity_name, title, body, snippet, source_label, published_at, quality_score, sentiment_score, collected_at`

func scanNews(row rowScanner) (NewsArticle, error) {
	var a NewsArticle
	var publishedAt sql.NullString
	var collectedAt string
	if err := row.Scan(&a.URL, &a.EntityID, &a.EntityName, &a.Title, &a.Body, &a.Snippet, &a.SourceLabel,
		&publishedAt, &a.QualityScore, &a.SentimentScore, &collectedAt); err != nil {
		return NewsArticle{}, err
	}
	var err error
	if publishedAt.Valid {
		if a.PublishedAt, err = parseTimestamp("published_at", publishedAt.String); err != nil {
			return NewsArticle{}, err
		}
	}
	if a.CollectedAt, err = parseTimestamp("collected_at", collectedAt); err != nil {
		return NewsArticle{}, err
	}
	return a, nil
}

// InsertNews stores a unless an article with the same URL exists.
// It reports whether a row was inserted.
func (s *Store) InsertNews(a NewsArticle) (bool, error) {
	var publishedAt interface{}
	if !a.PublishedAt.IsZero() {
		publishedAt = a.PublishedAt.UTC().Format(time.RFC3339)
	}
	collectedAt := a.CollectedAt
	if collectedAt.IsZero() {
		collectedAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO news_articles (`+newsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.URL, a.EntityID, a.EntityName, a.Title, a.Body, a.Snippet, a.SourceLabel,
		publishedAt, a.QualityScore, a.SentimentScore, collectedAt.UTC().Format(time.RFC3339),
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

func (s *Store) GetNews(url string) (NewsArticle, error) {
	a, err := scanNews(s.db.QueryRow(`SELECT `+newsColumns+` FROM news_articles WHERE url = ?`, url))
	if err == sql.ErrNoRows {
		return NewsArticle{}, ErrNotFound
	}
	return a, err
}

// ListNews returns the newest articles first. An empty entityID matches all.
func (s *Store) ListNews(entityID string, limit, offset int) ([]NewsArticle, error) {
	rows, err := s.db.Query(`SELECT `+newsColumns+` FROM news_articles
		WHERE ? = '' OR entity_id = ?
		ORDER BY COALESCE(published_at, collected_at) DESC, url ASC
		LIMIT ? OFFSET ?`, entityID, entityID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []NewsArticle
	for rows.Next() {
		a, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

func (s *Store) UpdateNewsSentiment(url string, score float64) error {
	res, err := s.db.Exec(`UPDATE news_articles SET sentiment_score = ? WHERE url = ?`, score, url)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountNews returns the number of stored articles for entityID.
func (s *Store) CountNews(entityID string) (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM news_articles WHERE entity_id = ?`, entityID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting news for %s: %w", entityID, err)
	}
	return n, nil
}
