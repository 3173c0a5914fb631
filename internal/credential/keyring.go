// Package credential keeps the admin token for each server in the OS
// keyring, falling back to an encrypted file.
package credential

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailroom"

// ErrNotFound is returned when no token is stored for a server.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes admin tokens.
type Store struct {
	ring keyring.Keyring
}

// Open opens the system keyring. dir holds the file backend used when no
// OS keyring is available.
func Open(dir string) (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailroom-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// New wraps an existing keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

func tokenKey(server string) string {
	return "token:" + strings.TrimSuffix(strings.TrimSpace(server), "/")
}

// Token returns the stored token for server.
func (s *Store) Token(server string) (string, error) {
	item, err := s.ring.Get(tokenKey(server))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential for %q: %w", server, err)
	}
	return string(item.Data), nil
}

// SetToken stores token for server.
func (s *Store) SetToken(server, token string) error {
	err := s.ring.Set(keyring.Item{
		Key:         tokenKey(server),
		Data:        []byte(token),
		Label:       "mailroom admin token",
		Description: server,
	})
	if err != nil {
		return fmt.Errorf("setting credential for %q: %w", server, err)
	}
	return nil
}

// DeleteToken removes the token for server. Removing a missing token is
// not an error.
func (s *Store) DeleteToken(server string) error {
	err := s.ring.Remove(tokenKey(server))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential for %q: %w", server, err)
	}
	return nil
}
