package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrInvalidSession is returned for empty or malformed session ids.
	ErrInvalidSession = errors.New("session: invalid session id")

	// ErrStoreUnavailable wraps any failure to reach the backing store.
	ErrStoreUnavailable = errors.New("session: store unavailable")
)

// MaxIDLength bounds session ids accepted by the store and the components built on it.
const MaxIDLength = 256

// Store is a per-session key/value store. Keys are isolated per session id and every
// implementation must give read-after-write consistency for a single key.
type Store interface {
	// Get returns the value and whether it exists.
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	// Set upserts value and returns the previous value, if any.
	Set(ctx context.Context, sessionID, key, value string) (previous string, existed bool, err error)
	// CompareAndSet writes value only when the current value equals *expected.
	// A nil expected means "only if absent".
	CompareAndSet(ctx context.Context, sessionID, key string, expected *string, value string) (bool, error)
}

// Expect is a convenience for building the expected argument of CompareAndSet.
func Expect(value string) *string {
	return &value
}

// ValidateID rejects blank, oversized, or control-character session ids.
func ValidateID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSession)
	}
	if len(sessionID) > MaxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSession, MaxIDLength)
	}
	if !utf8.ValidString(sessionID) {
		return fmt.Errorf("%w: not valid utf-8", ErrInvalidSession)
	}
	for _, r := range sessionID {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control characters", ErrInvalidSession)
		}
	}
	return nil
}

func validateKey(sessionID, key string) error {
	if err := ValidateID(sessionID); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("session: key required")
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("session: %s: %w: %w", op, ErrStoreUnavailable, err)
}
