// Package optimistic keeps a displayed list responsive across slow
// writes. A send shows a placeholder at once, drops it if the write
// fails, and swaps it for the authoritative record when the change feed
// echoes the insert.
//
// Placeholders are matched to their echo by content, so two identical
// sends in quick succession may reconcile against each other's echo.
package optimistic

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

// TempIDPrefix marks placeholder ids. Backend ids never carry it.
const TempIDPrefix = "temp-"

// NewTempID returns a fresh placeholder id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id belongs to a placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Config parameterizes a List for one entity type.
type Config[T any] struct {
	// Entity labels logs and metrics ("message", "task", "note").
	Entity string

	// ID returns the id of an item.
	ID func(T) string

	// Matches reports whether an authoritative record is the echo of a
	// placeholder.
	Matches func(placeholder, record T) bool

	// OnFailure runs after a failed write has rolled its placeholder back.
	OnFailure func(placeholder T, err error)

	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// List is an ordered list of authoritative records and pending
// placeholders. It is safe for concurrent use.
type List[T any] struct {
	cfg    Config[T]
	logger logging.Logger

	mu    sync.RWMutex
	items []T
}

// New creates an empty list. cfg.ID and cfg.Matches are required.
func New[T any](cfg Config[T]) *List[T] {
	if cfg.ID == nil || cfg.Matches == nil {
		panic("optimistic: Config.ID and Config.Matches are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &List[T]{
		cfg:    cfg,
		logger: logger.With(logging.F("component", "optimistic"), logging.F("entity", cfg.Entity)),
	}
}

// Items returns a copy of the list.
func (l *List[T]) Items() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of items, placeholders included.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Pending returns the number of placeholders still awaiting their echo.
func (l *List[T]) Pending() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, it := range l.items {
		if IsTempID(l.cfg.ID(it)) {
			n++
		}
	}
	return n
}

// Reset installs a fetched snapshot. Placeholders whose echo is not in
// the snapshot stay at the end.
func (l *List[T]) Reset(records []T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]T, 0, len(records)+len(l.items))
	next = append(next, records...)
	for _, it := range l.items {
		if !IsTempID(l.cfg.ID(it)) {
			continue
		}
		echoed := false
		for _, r := range records {
			if l.cfg.Matches(it, r) {
				echoed = true
				break
			}
		}
		if !echoed {
			next = append(next, it)
		}
	}
	l.items = next
}

// Send runs one optimistic write. build receives the temporary id and
// returns the placeholder, which is appended before write is called.
// A failed write removes the placeholder, calls OnFailure and returns the
// error. A successful write leaves the placeholder for Reconcile.
func (l *List[T]) Send(ctx context.Context, build func(tempID string) T, write func(ctx context.Context, placeholder T) error) (string, error) {
	tempID := NewTempID()
	placeholder := build(tempID)

	l.mu.Lock()
	l.items = append(l.items, placeholder)
	l.mu.Unlock()
	l.cfg.Metrics.RecordOptimistic(l.cfg.Entity, "pending")

	ctx, span := l.cfg.Tracer.StartOptimisticWrite(ctx, l.cfg.Entity)
	defer span.End()

	if err := write(ctx, placeholder); err != nil {
		l.Remove(tempID)
		l.cfg.Metrics.RecordOptimistic(l.cfg.Entity, "rolled_back")
		code := tderrors.CodeOf(err)
		observability.SetError(span, err, string(code), tderrors.IsRetryable(code))
		l.logger.Error("Optimistic write failed, placeholder removed",
			logging.F("temp_id", tempID),
			logging.Err(err))
		if l.cfg.OnFailure != nil {
			l.cfg.OnFailure(placeholder, err)
		}
		return tempID, err
	}
	observability.SetSuccess(span)
	return tempID, nil
}

// Reconcile folds in an authoritative record from the change feed. The
// first placeholder it matches is removed and the record is appended;
// a record already present by id is replaced in place. It reports
// whether a placeholder was consumed.
func (l *List[T]) Reconcile(record T) bool {
	id := l.cfg.ID(record)

	l.mu.Lock()
	defer l.mu.Unlock()

	for i, it := range l.items {
		if l.cfg.ID(it) == id {
			l.items[i] = record
			return false
		}
	}

	consumed := false
	next := make([]T, 0, len(l.items)+1)
	for _, it := range l.items {
		if !consumed && IsTempID(l.cfg.ID(it)) && l.cfg.Matches(it, record) {
			consumed = true
			continue
		}
		next = append(next, it)
	}
	l.items = append(next, record)
	if consumed {
		l.cfg.Metrics.RecordOptimistic(l.cfg.Entity, "reconciled")
	}
	return consumed
}

// Remove deletes the item with id and reports whether it was present.
func (l *List[T]) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, it := range l.items {
		if l.cfg.ID(it) == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}
