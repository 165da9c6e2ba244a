package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned by a Store when no value exists for a key.
var ErrNotFound = errors.New("key not found")

// Store is the key-value persistence behind conversation contexts.
// This allows us to swap between Redis, Badger, in-memory, etc.
type Store interface {
	// Load returns the value for key, or ErrNotFound
	Load(ctx context.Context, key string) ([]byte, error)

	// Save writes the value for key
	Save(ctx context.Context, key string, data []byte) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Exists checks if key has a value
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the underlying connection or database
	Close() error
}

// StorageKey is the key a session's context is persisted under.
func StorageKey(sessionID string) string {
	return fmt.Sprintf("neighbourbot_%s", sessionID)
}

// NewSessionID generates an opaque session identifier.
func NewSessionID() string {
	return "session_" + uuid.NewString()
}
