package store

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver selects the store implementation.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
)

// Option configures a store created through New.
type Option func(*options)

type options struct {
	path        string
	redisClient *redis.Client
	redisPrefix string
	redisTTL    time.Duration
	logger      *slog.Logger
}

// WithPath sets the database file for the SQLite driver.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithRedisClient sets the client for the Redis driver.
func WithRedisClient(client *redis.Client) Option {
	return func(o *options) {
		o.redisClient = client
	}
}

// WithRedisPrefix sets the key namespace for the Redis driver.
func WithRedisPrefix(prefix string) Option {
	return func(o *options) {
		o.redisPrefix = prefix
	}
}

// WithRedisTTL sets the expiry applied to Redis keys. Zero keeps keys forever.
func WithRedisTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.redisTTL = ttl
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a Store for the given driver.
// The SQLite driver requires WithPath; the Redis driver requires WithRedisClient.
func New(driver Driver, opts ...Option) (Store, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil

	case DriverSQLite, "":
		if o.path == "" {
			return nil, ErrInvalidConfig
		}
		return NewSQLite(o.path, o.logger)

	case DriverRedis:
		if o.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedis(o.redisClient, o.redisPrefix, o.redisTTL), nil

	default:
		return nil, ErrInvalidDriver
	}
}
