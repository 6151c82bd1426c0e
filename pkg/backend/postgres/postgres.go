package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
)

// Auth yields a fixed signed-in user, taken from the stored session.
type Auth struct {
	UserID string
}

// CurrentUserID implements backend.Auth.
func (a Auth) CurrentUserID(context.Context) (string, error) {
	if a.UserID == "" {
		return "", fmt.Errorf("no signed-in user, run 'teamdesk auth login': %w", tderrors.ErrUnauthorized)
	}
	return a.UserID, nil
}

// Config assembles a postgres client.
type Config struct {
	Pool *pgxpool.Pool

	// ListenURL enables the change feed when set.
	ListenURL string
	Feed      FeedConfig

	UserID string
}

// New builds a backend client. Presence is left nil; callers attach a
// presence store separately.
func New(cfg Config) (*backend.Client, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("postgres backend needs a pool")
	}
	c := &backend.Client{
		Tables: NewTables(cfg.Pool),
		Auth:   Auth{UserID: cfg.UserID},
	}
	if cfg.ListenURL != "" {
		feed, err := NewFeed(cfg.ListenURL, cfg.Feed)
		if err != nil {
			return nil, err
		}
		c.Feed = feed
		c.OnClose(feed.Close)
	}
	return c, nil
}
