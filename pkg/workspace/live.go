package workspace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
)

// Collection is a live, locally held snapshot of one entity list. It
// fetches on Start, subscribes to its tables and refetches on every change
// event. A failed fetch keeps the previous snapshot.
type Collection[T any] struct {
	name    string
	feed    backend.Feed
	tables  []string
	fetch   func(ctx context.Context) ([]T, error)
	logger  logging.Logger
	timeout time.Duration

	// onEvent, when set, sees every event first. Returning true skips
	// the refetch.
	onEvent func(backend.ChangeEvent) bool

	mu       sync.RWMutex
	items    []T
	loading  bool
	loaded   bool
	lastErr  error
	watchers []func()

	fetchMu sync.Mutex

	lifeMu sync.Mutex
	sub    backend.Subscription
	done   chan struct{}
}

func newCollection[T any](env *env, name string, tables []string, fetch func(ctx context.Context) ([]T, error)) *Collection[T] {
	return &Collection[T]{
		name:    name,
		feed:    env.feed,
		tables:  tables,
		fetch:   fetch,
		logger:  env.logger.With(logging.F("collection", name)),
		timeout: env.timeout,
		loading: true,
	}
}

// Start subscribes to the collection's tables and loads the first
// snapshot. Without a change feed the collection is fetch-only.
func (c *Collection[T]) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.sub == nil && c.feed != nil {
		sub, err := c.feed.Subscribe(ctx, c.tables...)
		if err != nil {
			c.lifeMu.Unlock()
			return fmt.Errorf("subscribing to %s: %w", c.name, err)
		}
		c.sub = sub
		c.done = make(chan struct{})
		go c.consume(sub, c.done)
	}
	c.lifeMu.Unlock()
	return c.Refresh(ctx)
}

func (c *Collection[T]) consume(sub backend.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		if c.onEvent != nil && c.onEvent(ev) {
			c.notify()
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		_ = c.Refresh(ctx)
		cancel()
	}
}

// Close stops the change feed consumer. The snapshot stays readable.
func (c *Collection[T]) Close() error {
	c.lifeMu.Lock()
	sub, done := c.sub, c.done
	c.sub, c.done = nil, nil
	c.lifeMu.Unlock()
	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}

// Refresh refetches the snapshot. The error is logged and returned; the
// loading flag clears either way.
func (c *Collection[T]) Refresh(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	items, err := c.fetch(ctx)

	c.mu.Lock()
	c.loading = false
	c.lastErr = err
	if err == nil {
		c.items = items
		c.loaded = true
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Error fetching "+c.name, logging.Err(err))
		return fmt.Errorf("fetching %s: %w", c.name, err)
	}
	c.notify()
	return nil
}

// Mutate applies a local change to the snapshot, as after a confirmed
// write whose echo has not arrived yet.
func (c *Collection[T]) Mutate(fn func([]T) []T) {
	c.mu.Lock()
	c.items = fn(c.items)
	c.mu.Unlock()
	c.notify()
}

// Watch registers fn to run after every snapshot change.
func (c *Collection[T]) Watch(fn func()) {
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

func (c *Collection[T]) notify() {
	c.mu.RLock()
	watchers := c.watchers
	c.mu.RUnlock()
	for _, fn := range watchers {
		fn()
	}
}

// Items returns a copy of the snapshot.
func (c *Collection[T]) Items() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Loading is true until the first fetch attempt finishes.
func (c *Collection[T]) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// Loaded reports whether any fetch has succeeded.
func (c *Collection[T]) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Err returns the error of the last fetch, nil after a success.
func (c *Collection[T]) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}
