// Package backend defines the contract teamdesk uses to talk to its
// backend collaborator: per-table queries and writes, a row change feed,
// an ephemeral presence channel and the signed-in user.
//
// Adapters live in subpackages (memory, postgres, supabase). Services
// depend only on the interfaces here.
package backend

import (
	"context"
	"time"
)

// Tables is the query and write API over named tables.
type Tables interface {
	// Select returns the rows of table matching q.
	Select(ctx context.Context, table string, q Query) ([]Row, error)

	// Insert writes rows and returns them as stored, with backend-assigned
	// columns (id, created_at) filled in.
	Insert(ctx context.Context, table string, rows ...Row) ([]Row, error)

	// Update sets values on every row matching filters and returns the
	// updated rows.
	Update(ctx context.Context, table string, values Row, filters ...Filter) ([]Row, error)

	// Delete removes every row matching filters.
	Delete(ctx context.Context, table string, filters ...Filter) error
}

// EventType is the kind of row change carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"

	// EventResync carries no row and no table. It reaches every
	// subscription after the feed may have missed events; subscribers
	// refetch.
	EventResync EventType = "RESYNC"
)

// ChangeEvent is one row-level change notification. New is set for
// inserts and updates, Old for updates and deletes.
//
// A Truncated event carries only the primary keys of its rows because the
// full rows did not fit the notification. Subscribers must refetch rather
// than apply it.
type ChangeEvent struct {
	Type      EventType `json:"type"`
	Table     string    `json:"table"`
	New       Row       `json:"record,omitempty"`
	Old       Row       `json:"old_record,omitempty"`
	Truncated bool      `json:"truncated,omitempty"`
}

// Partial reports whether ev cannot be applied row by row.
func (ev ChangeEvent) Partial() bool {
	return ev.Truncated || ev.Type == EventResync
}

// Subscription is a live change feed. Events is closed after Close.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Feed opens change feed subscriptions. Delivery is at-least-once and
// unordered relative to the subscriber's own writes.
type Feed interface {
	Subscribe(ctx context.Context, tables ...string) (Subscription, error)
}

// PresenceState is what a connected user publishes on a presence topic.
type PresenceState struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	OnlineAt  time.Time `json:"online_at"`
}

// Presence is the ephemeral "who is online" channel.
type Presence interface {
	Track(ctx context.Context, topic string, state PresenceState) error
	Untrack(ctx context.Context, topic, userID string) error
	List(ctx context.Context, topic string) ([]PresenceState, error)
}

// Auth yields the signed-in user.
type Auth interface {
	// CurrentUserID returns the id of the signed-in user, or an error
	// wrapping errors.ErrUnauthorized when nobody is signed in.
	CurrentUserID(ctx context.Context) (string, error)
}

// Client bundles one backend's capabilities. Feed and Presence may be
// nil when the backend kind cannot provide them; services then run in
// fetch-only mode.
type Client struct {
	Tables   Tables
	Feed     Feed
	Presence Presence
	Auth     Auth

	closers []func() error
}

// OnClose registers fn to run when the client is closed.
func (c *Client) OnClose(fn func() error) {
	c.closers = append(c.closers, fn)
}

// Close releases adapter resources in reverse registration order and
// returns the first error.
func (c *Client) Close() error {
	var first error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	c.closers = nil
	return first
}
