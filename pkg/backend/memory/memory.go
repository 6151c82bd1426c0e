// Package memory is an in-process backend. It keeps tables as ordered row
// slices, publishes a change event for every write and supports fault
// injection so services can be exercised against slow or failing calls.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

// Fault is consulted before every call. A non-nil error fails the call.
// A fault may block on ctx to simulate a hung backend.
type Fault func(ctx context.Context, op, table string) error

// Backend is the in-memory backend.
type Backend struct {
	mu       sync.RWMutex
	tables   map[string][]backend.Row
	presence map[string]map[string]backend.PresenceState
	userID   string
	fault    Fault
	now      func() time.Time

	broker  *backend.Broker
	logger  logging.Logger
	metrics *observability.Metrics
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the timestamp source for created_at / updated_at.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithLogger sets the logger used by the change feed.
func WithLogger(logger logging.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithMetrics sets the metrics used by the change feed.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables:   make(map[string][]backend.Row),
		presence: make(map[string]map[string]backend.PresenceState),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.broker = backend.NewBroker(0, b.logger, b.metrics)
	return b
}

// Client exposes the backend through the backend.Client contract.
func (b *Backend) Client() *backend.Client {
	c := &backend.Client{Tables: b, Feed: b, Presence: b, Auth: b}
	c.OnClose(func() error {
		b.broker.Close()
		return nil
	})
	return c
}

// SetFault installs a fault consulted before every call. nil removes it.
func (b *Backend) SetFault(f Fault) {
	b.mu.Lock()
	b.fault = f
	b.mu.Unlock()
}

// FailOn returns a fault failing calls of op on table with err.
// An empty op or table matches any.
func FailOn(op, table string, err error) Fault {
	return func(_ context.Context, gotOp, gotTable string) error {
		if (op == "" || op == gotOp) && (table == "" || table == gotTable) {
			return err
		}
		return nil
	}
}

// Hang returns a fault that blocks calls of op on table until ctx ends.
func Hang(op, table string) Fault {
	return func(ctx context.Context, gotOp, gotTable string) error {
		if (op == "" || op == gotOp) && (table == "" || table == gotTable) {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}
}

// SetCurrentUser signs in userID. An empty id signs out.
func (b *Backend) SetCurrentUser(userID string) {
	b.mu.Lock()
	b.userID = userID
	b.mu.Unlock()
}

// Seed stores rows without publishing events or consulting faults.
func (b *Backend) Seed(table string, rows ...backend.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.tables[table] = append(b.tables[table], b.stamp(r.Clone(), true))
	}
}

// Publish injects a change event as if another client had written it.
func (b *Backend) Publish(ev backend.ChangeEvent) {
	b.broker.Publish(ev)
}

// Rows returns a copy of every row of table.
func (b *Backend) Rows(table string) []backend.Row {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]backend.Row, 0, len(b.tables[table]))
	for _, r := range b.tables[table] {
		out = append(out, r.Clone())
	}
	return out
}

// Subscribers returns the number of open change feed subscriptions.
func (b *Backend) Subscribers() int {
	return b.broker.Subscribers()
}

func (b *Backend) check(ctx context.Context, op, table string) error {
	b.mu.RLock()
	f := b.fault
	b.mu.RUnlock()
	if f != nil {
		if err := f(ctx, op, table); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (b *Backend) stamp(r backend.Row, insert bool) backend.Row {
	now := b.now().UTC()
	if insert {
		if r.String("id") == "" {
			r["id"] = uuid.NewString()
		}
		if _, ok := r["created_at"]; !ok {
			r["created_at"] = now
		}
	}
	if _, ok := r["updated_at"]; !ok || !insert {
		r["updated_at"] = now
	}
	return r
}

func (b *Backend) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	if err := b.check(ctx, "select", table); err != nil {
		return nil, err
	}
	b.mu.RLock()
	var out []backend.Row
	for _, r := range b.tables[table] {
		if backend.Matches(r, q.Filters) {
			out = append(out, r.Clone())
		}
	}
	b.mu.RUnlock()

	backend.SortRows(out, q.Order)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	for i := range out {
		out[i] = backend.Project(out[i], q.Columns)
	}
	return out, nil
}

func (b *Backend) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	if err := b.check(ctx, "insert", table); err != nil {
		return nil, err
	}
	b.mu.Lock()
	stored := make([]backend.Row, 0, len(rows))
	for _, r := range rows {
		r = b.stamp(r.Clone(), true)
		id := r.String("id")
		for _, existing := range b.tables[table] {
			if existing.String("id") == id {
				b.mu.Unlock()
				return nil, fmt.Errorf("insert %s %s: %w", table, id, tderrors.ErrConflict)
			}
		}
		b.tables[table] = append(b.tables[table], r)
		stored = append(stored, r.Clone())
	}
	b.mu.Unlock()

	for _, r := range stored {
		b.broker.Publish(backend.ChangeEvent{Type: backend.EventInsert, Table: table, New: r.Clone()})
	}
	return stored, nil
}

func (b *Backend) Update(ctx context.Context, table string, values backend.Row, filters ...backend.Filter) ([]backend.Row, error) {
	if err := b.check(ctx, "update", table); err != nil {
		return nil, err
	}
	type change struct{ old, new backend.Row }

	b.mu.Lock()
	var changes []change
	for i, r := range b.tables[table] {
		if !backend.Matches(r, filters) {
			continue
		}
		old := r.Clone()
		for k, v := range values {
			r[k] = v
		}
		b.tables[table][i] = b.stamp(r, false)
		changes = append(changes, change{old: old, new: r.Clone()})
	}
	b.mu.Unlock()

	out := make([]backend.Row, 0, len(changes))
	for _, c := range changes {
		out = append(out, c.new)
		b.broker.Publish(backend.ChangeEvent{Type: backend.EventUpdate, Table: table, New: c.new.Clone(), Old: c.old})
	}
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, table string, filters ...backend.Filter) error {
	if err := b.check(ctx, "delete", table); err != nil {
		return err
	}
	b.mu.Lock()
	var kept, removed []backend.Row
	for _, r := range b.tables[table] {
		if backend.Matches(r, filters) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	b.tables[table] = kept
	b.mu.Unlock()

	for _, r := range removed {
		b.broker.Publish(backend.ChangeEvent{Type: backend.EventDelete, Table: table, Old: r})
	}
	return nil
}

func (b *Backend) Subscribe(ctx context.Context, tables ...string) (backend.Subscription, error) {
	if err := b.check(ctx, "subscribe", ""); err != nil {
		return nil, err
	}
	return b.broker.Subscribe(tables...), nil
}

func (b *Backend) Track(ctx context.Context, topic string, state backend.PresenceState) error {
	if err := b.check(ctx, "presence_track", topic); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.presence[topic] == nil {
		b.presence[topic] = make(map[string]backend.PresenceState)
	}
	b.presence[topic][state.UserID] = state
	return nil
}

func (b *Backend) Untrack(ctx context.Context, topic, userID string) error {
	if err := b.check(ctx, "presence_untrack", topic); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.presence[topic], userID)
	return nil
}

func (b *Backend) List(ctx context.Context, topic string) ([]backend.PresenceState, error) {
	if err := b.check(ctx, "presence_list", topic); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]backend.PresenceState, 0, len(b.presence[topic]))
	for _, s := range b.presence[topic] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OnlineAt.Before(out[j].OnlineAt) })
	return out, nil
}

func (b *Backend) CurrentUserID(ctx context.Context) (string, error) {
	if err := b.check(ctx, "current_user", ""); err != nil {
		return "", err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.userID == "" {
		return "", fmt.Errorf("no signed-in user: %w", tderrors.ErrUnauthorized)
	}
	return b.userID, nil
}
