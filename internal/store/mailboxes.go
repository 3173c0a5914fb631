package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMailboxExists is returned when adding an address already managed.
	ErrMailboxExists = errors.New("email already exists")
	// ErrMailboxNotFound is returned when removing an unknown address.
	ErrMailboxNotFound = errors.New("email not found")
)

// ListMailboxes returns the managed addresses in sorted order.
func (s *Store) ListMailboxes() ([]string, error) {
	return listMailboxes(s.db)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func listMailboxes(q queryer) ([]string, error) {
	rows, err := q.Query(`SELECT address FROM mailboxes ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	defer rows.Close()

	addresses := []string{}
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan mailbox: %w", err)
		}
		addresses = append(addresses, addr)
	}
	return addresses, rows.Err()
}

// AddMailbox registers address and returns the updated list. The address
// is trimmed and compared exactly.
func (s *Store) AddMailbox(address string) ([]string, error) {
	address = strings.TrimSpace(address)
	var list []string
	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO mailboxes (address) VALUES (?)`, address); err != nil {
			if isUniqueViolation(err) {
				return ErrMailboxExists
			}
			return fmt.Errorf("insert mailbox: %w", err)
		}
		var err error
		list, err = listMailboxes(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// RemoveMailbox unregisters address and returns the updated list.
func (s *Store) RemoveMailbox(address string) ([]string, error) {
	address = strings.TrimSpace(address)
	var list []string
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`DELETE FROM mailboxes WHERE address = ?`, address)
		if err != nil {
			return fmt.Errorf("delete mailbox: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrMailboxNotFound
		}
		list, err = listMailboxes(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// HasMailbox reports whether address is managed.
func (s *Store) HasMailbox(address string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mailboxes WHERE address = ?`, strings.TrimSpace(address)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check mailbox: %w", err)
	}
	return n > 0, nil
}
