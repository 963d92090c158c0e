// Package cache holds the process-wide list of recommended modules.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/learnsync/internal/domain"
	"github.com/ashureev/learnsync/internal/store"
)

// ErrPersistence wraps any failure of the durable store.
var ErrPersistence = errors.New("session cache persistence failed")

// SessionCache serves the recommended modules from memory and mirrors them
// into the store under store.KeyCachedModules.
type SessionCache struct {
	store  store.Store
	logger *slog.Logger

	// writeMu is held across the durable write and the memory swap so that the
	// write completing last is the one both stored and served.
	writeMu sync.Mutex

	mu      sync.RWMutex
	modules []domain.Module

	subMu  sync.Mutex
	subs   map[int]chan []domain.Module
	nextID int
}

// New creates the cache and hydrates it from the store.
// A missing or unreadable record yields an empty cache.
func New(ctx context.Context, st store.Store, logger *slog.Logger) *SessionCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &SessionCache{
		store:   st,
		logger:  logger,
		modules: []domain.Module{},
		subs:    make(map[int]chan []domain.Module),
	}
	c.hydrate(ctx)
	return c
}

func (c *SessionCache) hydrate(ctx context.Context) {
	raw, found, err := c.store.Get(ctx, store.KeyCachedModules)
	if err != nil {
		c.logger.Warn("Failed to read cached modules", "error", err)
		return
	}
	if !found {
		return
	}

	var modules []domain.Module
	if err := json.Unmarshal([]byte(raw), &modules); err != nil {
		c.logger.Warn("Ignoring malformed cached modules", "error", err)
		return
	}

	c.mu.Lock()
	c.modules = domain.CloneModules(modules)
	c.mu.Unlock()
	c.logger.Debug("Hydrated session cache", "modules", len(modules))
}

// Read returns a copy of the current modules in relevance order.
func (c *SessionCache) Read() []domain.Module {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.CloneModules(c.modules)
}

// Replace stores modules durably, then makes them the in-memory value.
// On error the in-memory value is unchanged.
func (c *SessionCache) Replace(ctx context.Context, modules []domain.Module) error {
	next := domain.CloneModules(modules)
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("%w: encode modules: %v", ErrPersistence, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Set(ctx, store.KeyCachedModules, string(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	c.swap(next)
	return nil
}

// Clear removes the durable record, then empties memory.
func (c *SessionCache) Clear(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Remove(ctx, store.KeyCachedModules); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	c.swap([]domain.Module{})
	return nil
}

// ResetAll wipes every durable record of the session, then empties memory.
func (c *SessionCache) ResetAll(ctx context.Context) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	c.swap([]domain.Module{})
	c.logger.Info("Session reset")
	return nil
}

// Subscribe returns a channel receiving a snapshot after every change, and a
// function that ends the subscription. Slow receivers miss intermediate snapshots.
func (c *SessionCache) Subscribe() (<-chan []domain.Module, func()) {
	ch := make(chan []domain.Module, 1)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

// swap installs next and notifies subscribers. Must be called with writeMu held.
func (c *SessionCache) swap(next []domain.Module) {
	c.mu.Lock()
	c.modules = next
	c.mu.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		snapshot := domain.CloneModules(next)
		select {
		case ch <- snapshot:
		default:
			// Drop the stale pending snapshot in favour of the newest one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
