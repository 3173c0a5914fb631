package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveAnalytics replaces the cached snapshot for source.
func (s *Store) SaveAnalytics(source string, payload []byte, refreshedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO analytics_cache (source, payload, refreshed_at) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET payload = excluded.payload, refreshed_at = excluded.refreshed_at`,
		source, payload, refreshedAt.UTC())
	if err != nil {
		return fmt.Errorf("save analytics: %w", err)
	}
	return nil
}

// LoadAnalytics returns the cached snapshot for source, or ErrNotFound.
func (s *Store) LoadAnalytics(source string) ([]byte, time.Time, error) {
	var payload []byte
	var refreshed time.Time
	err := s.db.QueryRow(`SELECT payload, refreshed_at FROM analytics_cache WHERE source = ?`, source).
		Scan(&payload, &refreshed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load analytics: %w", err)
	}
	return payload, refreshed, nil
}
