package store

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no stored image matches a well-formed key.
	ErrNotFound = errors.New("store: image not found")

	// ErrUnavailable indicates the backing database could not serve the
	// request: pool exhaustion, lost connectivity or a backend failure.
	// It is the only store condition callers may retry.
	ErrUnavailable = errors.New("store: unavailable")
)

// unavailable wraps a driver error so callers can match ErrUnavailable
// while keeping the underlying cause in the chain.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, errors.Join(ErrUnavailable, err))
}

func notFoundOrUnavailable(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return unavailable(op, err)
}
