// Package store provides the durable key-value persistence used by the companion.
package store

import (
	"context"
	"errors"
)

// Record keys used by the companion.
const (
	// KeyCachedModules holds the JSON-encoded recommended module list.
	KeyCachedModules = "cachedModules"
	// KeyModuleProgress holds the JSON-encoded per-module progress book.
	KeyModuleProgress = "moduleProgress"
)

// Common store errors.
var (
	ErrInvalidConfig = errors.New("invalid store configuration")
	ErrInvalidDriver = errors.New("invalid store driver")
	ErrClosed        = errors.New("store is closed")
)

// Store is a string-keyed durable store.
type Store interface {
	// Get returns the value stored under key.
	// found is false when the key does not exist (not an error).
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear removes every key owned by the store.
	Clear(ctx context.Context) error

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources.
	Close() error
}
