// learnsync companion daemon
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/learnsync/internal/api"
	"github.com/ashureev/learnsync/internal/app"
	"github.com/ashureev/learnsync/internal/config"
	"github.com/ashureev/learnsync/internal/conversation"
	"github.com/ashureev/learnsync/internal/identity"
	"github.com/ashureev/learnsync/internal/middleware"
	"github.com/ashureev/learnsync/internal/progress"
)

const sweepInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "", "optional YAML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting companion daemon", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize companion", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to close companion", "error", closeErr)
		}
	}()
	slog.Info("Store ready", "driver", cfg.Store.Driver, "cached_modules", len(a.Cache.Read()))

	// The service being down is not fatal; requests will report it.
	probeCtx, cancelProbe := context.WithTimeout(ctx, 5*time.Second)
	_ = a.Probe(probeCtx)
	cancelProbe()

	// Initialize services.
	hub := api.NewHub(cfg.AllowedOrigins, logger)
	engines := conversation.NewRegistry(a.Remote, a.Cache, a.Transcript, logger)
	defer engines.CloseAll()
	trackers := progress.NewSet(a.Remote, a.TrackerConfig(), func(sessionID string, s progress.Snapshot) {
		hub.Publish(sessionID, api.KindProgress, s)
	})
	defer trackers.CloseAll()

	var chatLimiter *middleware.RateLimiter
	if cfg.ChatRateLimit > 0 {
		chatLimiter = middleware.NewRateLimiter(cfg.ChatRateLimit, max(1, cfg.ChatRateLimit/6), 10*time.Minute)
	}

	handler := api.NewHandler(api.Deps{
		Cache:       a.Cache,
		Engines:     engines,
		Trackers:    trackers,
		Dashboard:   a.Dashboard(),
		Remote:      a.Remote,
		Hub:         hub,
		ChatLimiter: chatLimiter,
		Logger:      logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(identity.Middleware)

	handler.RegisterRoutes(r)

	// WriteTimeout stays 0: chat turns and event streams are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	modules, unsubscribe := a.Cache.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx, engines.Events(), modules)
		return nil
	})
	g.Go(func() error {
		<-progress.StartSyncWorker(gctx, trackers, cfg.Sync.RetryInterval, logger)
		return nil
	})
	g.Go(func() error {
		sweepIdleSessions(gctx, engines, trackers, cfg.Sync.IdleSession)
		return nil
	})
	if chatLimiter != nil {
		g.Go(func() error {
			chatLimiter.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// sweepIdleSessions drops conversations and trackers unused for maxIdle.
func sweepIdleSessions(ctx context.Context, engines *conversation.Registry, trackers *progress.Set, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e := engines.Sweep(maxIdle)
			t := trackers.Sweep(maxIdle)
			if e > 0 || t > 0 {
				slog.Info("Idle sessions swept", "conversations", e, "trackers", t)
			}
		case <-ctx.Done():
			return
		}
	}
}
