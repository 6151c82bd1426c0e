// Package app assembles one teamdesk session from the CLI configuration:
// a guarded backend client, the shared profile cache, the mention
// service, the workspace services and the presence tracker. Every
// command works through a single App so all of them see the same
// profile cache.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/credentials"
	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/backend/memory"
	"github.com/otherjamesbrown/teamdesk/pkg/backend/postgres"
	"github.com/otherjamesbrown/teamdesk/pkg/backend/supabase"
	"github.com/otherjamesbrown/teamdesk/pkg/db"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
	"github.com/otherjamesbrown/teamdesk/pkg/presence"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
	"github.com/otherjamesbrown/teamdesk/pkg/workspace"
)

// Options carries what New cannot read from the configuration.
type Options struct {
	// Session is the signed-in user. Nil runs anonymously.
	Session *credentials.Credentials

	// Logger overrides the logger built from the configuration.
	Logger logging.Logger

	// Registry receives the metrics. Nil creates a private registry.
	Registry *prometheus.Registry

	// Memory is the backend used for the memory kind. Nil creates an
	// empty one.
	Memory *memory.Backend
}

// App is one assembled session.
type App struct {
	Config   *config.CLIConfig
	Logger   logging.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer

	Client    *backend.Client
	Profiles  *profiles.Cache
	Mentions  *mentions.Service
	Workspace *workspace.Workspace
	Presence  *presence.Tracker

	// Pool is set when a database connection was opened.
	Pool *pgxpool.Pool
	// Memory is set for the memory kind.
	Memory *memory.Backend
}

// New builds an App. Nothing is fetched until Start.
func New(ctx context.Context, cfg *config.CLIConfig, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: opts.Logger, Registry: opts.Registry}
	if a.Logger == nil {
		a.Logger = NewLogger(cfg)
	}
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
	}
	a.Metrics = observability.NewMetrics(a.Registry)
	a.Tracer = observability.NewTracer()

	raw, err := a.connect(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	if cfg.RedisConfigured() {
		store, err := a.redisPresence(ctx, cfg)
		if err != nil {
			raw.Close()
			return nil, err
		}
		raw.Presence = store
		raw.OnClose(store.Close)
	}

	a.Client = backend.Guard(raw, backend.GuardConfig{
		Timeout: cfg.Timeout,
		Breaker: cfg.Breaker.Backend(),
		Logger:  a.Logger,
		Tracer:  a.Tracer,
		Metrics: a.Metrics,
	})

	a.Profiles = profiles.NewCache(a.Client, profiles.CacheConfig{
		Logger:         a.Logger,
		Metrics:        a.Metrics,
		Tracer:         a.Tracer,
		RefetchTimeout: cfg.Timeout,
	})
	store := mentions.NewStore(a.Client.Tables, mentions.StoreConfig{
		Logger:  a.Logger,
		Metrics: a.Metrics,
		Tracer:  a.Tracer,
	})
	a.Mentions = mentions.NewService(a.Profiles, store, mentions.ServiceConfig{
		SuggestionLimit: cfg.SuggestionLimit,
		Logger:          a.Logger,
		Metrics:         a.Metrics,
	})

	a.Workspace, err = workspace.New(workspace.Deps{
		Client:   a.Client,
		Profiles: a.Profiles,
		Mentions: a.Mentions,
		Logger:   a.Logger,
		Metrics:  a.Metrics,
		Tracer:   a.Tracer,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		a.Client.Close()
		return nil, err
	}

	a.Presence = presence.NewTracker(a.Client.Presence, presence.TrackerConfig{
		Topic:     cfg.Presence.Topic,
		Heartbeat: cfg.Presence.Heartbeat,
		Timeout:   cfg.Timeout,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	})

	a.Logger.Debug("Session assembled",
		logging.F("backend", string(cfg.Backend)),
		logging.F("feed", a.Client.Feed != nil),
		logging.F("presence", a.Client.Presence != nil))
	return a, nil
}

// NewLogger builds the logger described by the configuration.
func NewLogger(cfg *config.CLIConfig) logging.Logger {
	lc := logging.DefaultConfig()
	lc.ServiceName = "teamdesk-cli"
	lc.JSONFormat = cfg.LogJSON
	lc.Level = logging.LevelWarn
	if cfg.Debug {
		lc.Level = logging.LevelDebug
	}
	return logging.NewLogger(lc)
}

func userID(s *credentials.Credentials) string {
	if s == nil {
		return ""
	}
	return s.UserID
}

func accessToken(s *credentials.Credentials) string {
	if s == nil {
		return ""
	}
	return s.AccessToken
}

// connect builds the unguarded client for the configured backend kind.
func (a *App) connect(ctx context.Context, cfg *config.CLIConfig, opts Options) (*backend.Client, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		mem := opts.Memory
		if mem == nil {
			mem = memory.New(memory.WithLogger(a.Logger), memory.WithMetrics(a.Metrics))
		}
		if id := userID(opts.Session); id != "" {
			mem.SetCurrentUser(id)
		}
		a.Memory = mem
		return mem.Client(), nil

	case config.BackendPostgres:
		dbCfg := cfg.Database.DBConfig()
		pool, err := a.openPool(ctx, dbCfg)
		if err != nil {
			return nil, err
		}
		client, err := postgres.New(postgres.Config{
			Pool:      pool,
			ListenURL: dbCfg.ConnectionString(),
			Feed:      a.feedConfig(),
			UserID:    userID(opts.Session),
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("creating postgres backend: %w", err)
		}
		client.OnClose(closePool(pool))
		return client, nil

	case config.BackendSupabase:
		client, err := supabase.New(supabase.Config{
			URL:         cfg.Supabase.URL,
			APIKey:      cfg.Supabase.APIKey,
			AccessToken: accessToken(opts.Session),
		})
		if err != nil {
			return nil, fmt.Errorf("creating supabase backend: %w", err)
		}
		if cfg.Database.IsConfigured() {
			// The hosted database publishes the same notify triggers.
			feed, err := postgres.NewFeed(cfg.Database.DBConfig().ConnectionString(), a.feedConfig())
			if err != nil {
				a.Logger.Warn("Change feed unavailable, running fetch-only", logging.Err(err))
			} else {
				client.Feed = feed
				client.OnClose(feed.Close)
			}
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown backend %q: %w", cfg.Backend, tderrors.ErrValidation)
}

func (a *App) feedConfig() postgres.FeedConfig {
	return postgres.FeedConfig{Logger: a.Logger, Metrics: a.Metrics}
}

func (a *App) openPool(ctx context.Context, dbCfg *db.Config) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w: %w", tderrors.ErrUnavailable, err)
	}
	if _, err := db.RegisterPoolStats(a.Registry, pool, string(config.BackendPostgres)); err != nil {
		a.Logger.Warn("Pool metrics not registered", logging.Err(err))
	}
	a.Pool = pool
	return pool, nil
}

func closePool(pool *pgxpool.Pool) func() error {
	return func() error {
		pool.Close()
		return nil
	}
}

func (a *App) redisPresence(ctx context.Context, cfg *config.CLIConfig) (*presence.RedisStore, error) {
	rc, err := presence.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting presence store: %w", err)
	}
	return presence.NewRedisStore(rc, presence.StoreConfig{
		TTL:    cfg.Presence.TTL,
		Logger: a.Logger,
	}), nil
}

// Start loads the profile cache, then starts every workspace service.
// A failed fetch is returned but leaves the services running.
func (a *App) Start(ctx context.Context) error {
	return errors.Join(a.Profiles.Start(ctx), a.Workspace.Start(ctx))
}

// CurrentProfile returns the signed-in user's profile.
func (a *App) CurrentProfile(ctx context.Context) (profiles.Profile, error) {
	return a.Profiles.Current(ctx, a.Client.Auth)
}

// Close leaves presence, stops every consumer and releases the backend.
func (a *App) Close() error {
	return errors.Join(
		a.Presence.Close(),
		a.Workspace.Close(),
		a.Profiles.Close(),
		a.Client.Close(),
	)
}
