package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting returns the value stored under key, or ErrNotFound.
func (s *Store) GetSetting(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores value under key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// DeleteSetting removes key. Missing keys are not an error.
func (s *Store) DeleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// Prefs exposes the settings table as a key/value store. A missing key
// reads as the empty string.
type Prefs struct {
	store *Store
}

// Prefs returns the settings table as a Prefs.
func (s *Store) Prefs() *Prefs {
	return &Prefs{store: s}
}

// Get returns the value for key, or "" when unset.
func (p *Prefs) Get(key string) (string, error) {
	v, err := p.store.GetSetting(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

// Set stores value under key.
func (p *Prefs) Set(key, value string) error {
	return p.store.SetSetting(key, value)
}

// Clear removes key.
func (p *Prefs) Clear(key string) error {
	return p.store.DeleteSetting(key)
}
