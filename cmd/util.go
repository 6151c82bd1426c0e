// Package cmd provides CLI commands for the teamdesk tool.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/credentials"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/backend/supabase"
	"github.com/otherjamesbrown/teamdesk/pkg/db"
	"github.com/otherjamesbrown/teamdesk/pkg/presence"
)

// CommandDeps holds the dependencies shared by the commands. Tests swap
// the constructors for in-memory ones.
type CommandDeps struct {
	LoadConfig     func() (*config.CLIConfig, error)
	NewStore       func() (*credentials.Store, error)
	OpenApp        func(context.Context, *config.CLIConfig, *credentials.Credentials) (*app.App, error)
	ConnectToDB    func(context.Context, *config.CLIConfig) (*pgxpool.Pool, error)
	ConnectToRedis func(context.Context, *config.CLIConfig) (*redis.Client, error)
	SignIn         func(url, apiKey, email, password string) (supabase.Session, error)
	ReadPassword   func(prompt string) (string, error)
	Stdin          io.Reader
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{
		LoadConfig:     config.LoadConfig,
		NewStore:       credentials.NewStore,
		OpenApp:        openApp,
		ConnectToDB:    connectToDatabase,
		ConnectToRedis: connectToRedis,
		SignIn:         supabase.SignIn,
		ReadPassword:   readPassword,
		Stdin:          os.Stdin,
	}
}

func openApp(ctx context.Context, cfg *config.CLIConfig, session *credentials.Credentials) (*app.App, error) {
	return app.New(ctx, cfg, app.Options{Session: session})
}

// connectToDatabase opens a pool from the database settings.
func connectToDatabase(ctx context.Context, cfg *config.CLIConfig) (*pgxpool.Pool, error) {
	if !cfg.Database.IsConfigured() && os.Getenv("TEAMDESK_DB_HOST") == "" && os.Getenv("TEAMDESK_DB_URL") == "" {
		return nil, fmt.Errorf("no database configured: set database.url in the config file or TEAMDESK_DB_URL")
	}
	return db.Connect(ctx, cfg.Database.DBConfig())
}

// connectToRedis opens the presence store connection.
func connectToRedis(ctx context.Context, cfg *config.CLIConfig) (*redis.Client, error) {
	if !cfg.RedisConfigured() {
		return nil, fmt.Errorf("no redis configured: set redis.addr in the config file or TEAMDESK_REDIS_ADDR")
	}
	return presence.Connect(ctx, cfg.Redis)
}

// session returns the active session, or nil when nobody is signed in.
// A missing keyring is not fatal: the environment token still works.
func (d *CommandDeps) session() (*credentials.Credentials, error) {
	store, err := d.NewStore()
	if err != nil {
		if tok := os.Getenv("TEAMDESK_ACCESS_TOKEN"); tok != "" {
			return &credentials.Credentials{AccessToken: tok, UserID: os.Getenv("TEAMDESK_USER_ID")}, nil
		}
		return nil, nil
	}
	creds, err := store.GetActiveCredential()
	switch {
	case errors.Is(err, credentials.ErrNoCredentials):
		return nil, nil
	case errors.Is(err, credentials.ErrExpiredToken):
		return nil, fmt.Errorf("session expired, run 'teamdesk auth login': %w", err)
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return creds, nil
}

// open loads the configuration and session and assembles an App. The
// caller closes it.
func (d *CommandDeps) open(ctx context.Context) (*app.App, *config.CLIConfig, error) {
	cfg, err := d.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	sess, err := d.session()
	if err != nil {
		return nil, nil, err
	}
	a, err := d.OpenApp(ctx, cfg, sess)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to backend: %w", err)
	}
	return a, cfg, nil
}

// withApp runs fn against a session whose profile cache is loaded.
func (d *CommandDeps) withApp(ctx context.Context, fn func(a *app.App, cfg *config.CLIConfig) error) error {
	a, cfg, err := d.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Profiles.Ensure(ctx); err != nil {
		return fmt.Errorf("loading profiles: %w", err)
	}
	return fn(a, cfg)
}

// formatFlag resolves a per-command --output override against the config.
func formatFlag(cfg *config.CLIConfig, override string) config.OutputFormat {
	if override != "" {
		return config.OutputFormat(override)
	}
	return cfg.OutputFormat
}

// writeOutput encodes v as JSON or YAML, or calls text for plain output.
func writeOutput(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return text(w)
	}
}

// parseWhen accepts RFC 3339, "2006-01-02 15:04" or a bare date.
func parseWhen(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use 2006-01-02, \"2006-01-02 15:04\" or RFC 3339)", s)
}

func optTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseWhen(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
