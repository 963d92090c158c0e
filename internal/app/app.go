// Package app wires the companion components from configuration. Both the
// daemon and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/learnsync/internal/cache"
	"github.com/ashureev/learnsync/internal/config"
	"github.com/ashureev/learnsync/internal/conversation"
	"github.com/ashureev/learnsync/internal/dashboard"
	"github.com/ashureev/learnsync/internal/progress"
	"github.com/ashureev/learnsync/internal/remote"
	"github.com/ashureev/learnsync/internal/resilience"
	"github.com/ashureev/learnsync/internal/store"
)

// App holds the components shared by every host.
type App struct {
	Config     *config.Config
	Store      store.Store
	Remote     *remote.Client
	Cache      *cache.SessionCache
	Transcript conversation.TranscriptLogger
	Logger     *slog.Logger
}

// New opens the store, hydrates the session cache and creates the remote
// client. The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := OpenStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}

	client, err := NewRemote(cfg.Remote, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	transcript, err := conversation.NewTranscriptLogger(conversation.TranscriptConfig{
		Enabled:   cfg.Transcript.Enabled,
		Dir:       cfg.Transcript.Dir,
		QueueSize: cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create transcript logger: %w", err)
	}

	return &App{
		Config:     cfg,
		Store:      st,
		Remote:     client,
		Cache:      cache.New(ctx, st, logger),
		Transcript: transcript,
		Logger:     logger,
	}, nil
}

// OpenStore creates the durable store selected by cfg.
func OpenStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	opts := []store.Option{store.WithLogger(logger)}
	switch store.Driver(cfg.Driver) {
	case store.DriverRedis:
		opts = append(opts,
			store.WithRedisClient(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})),
			store.WithRedisTTL(cfg.RedisTTL),
		)
	case store.DriverSQLite, "":
		opts = append(opts, store.WithPath(cfg.Path))
	}

	st, err := store.New(store.Driver(cfg.Driver), opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return st, nil
}

// NewRemote creates the learning service client with a breaker configured
// from cfg. Breaker transitions are logged.
func NewRemote(cfg config.RemoteConfig, logger *slog.Logger) (*remote.Client, error) {
	breaker := resilience.New(resilience.Config{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		Counts:    remote.TripsBreaker,
		OnChange: func(from, to resilience.State) {
			logger.Warn("Learning service breaker changed state", "from", from.String(), "to", to.String())
		},
	})

	client, err := remote.NewClient(cfg.BaseURL,
		remote.WithTimeout(cfg.Timeout),
		remote.WithRateLimit(cfg.RateLimit),
		remote.WithBreaker(breaker),
		remote.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create remote client: %w", err)
	}
	return client, nil
}

// TrackerConfig returns the tracker template for this configuration.
func (a *App) TrackerConfig() progress.Config {
	return progress.Config{
		Mode:   progress.FetchMode(a.Config.Remote.TopicFetchMode),
		Store:  a.Store,
		Logger: a.Logger,
	}
}

// Dashboard returns a summary builder over the cache and store.
func (a *App) Dashboard() *dashboard.Builder {
	return dashboard.NewBuilder(a.Cache, a.Store, a.Remote, a.Logger)
}

// Probe checks that the learning service answers. A failure is logged as a
// warning and returned; callers decide whether it matters.
func (a *App) Probe(ctx context.Context) error {
	if err := a.Remote.Health(ctx); err != nil {
		a.Logger.Warn("Learning service unreachable", "base_url", a.Config.Remote.BaseURL, "error", err)
		return err
	}
	a.Logger.Info("Learning service reachable", "base_url", a.Config.Remote.BaseURL)
	return nil
}

// Close flushes transcripts and closes the store.
func (a *App) Close() error {
	var errs []error
	if err := a.Transcript.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transcript logger: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
