package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

// FallbackName is the display name of a signed-in user without a profile row.
const FallbackName = "Utente"

// CacheConfig configures a Cache.
type CacheConfig struct {
	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// RefetchTimeout bounds the refetch triggered by a truncated or
	// resync event. Default 10s.
	RefetchTimeout time.Duration
}

// Cache is the shared mirror of the profiles table. It is safe for
// concurrent use. Readers never block on the network: Profiles and Get
// return whatever generation is current.
//
// Only the cache writes to its state, from fetches and from its own
// change feed consumer.
type Cache struct {
	tables  backend.Tables
	feed    backend.Feed
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	timeout time.Duration

	mu         sync.RWMutex
	list       []Profile
	byID       map[string]Profile
	loaded     bool
	generation uint64
	watchers   []func(backend.ChangeEvent)

	// While a fetch is in flight, applied events are also kept in missed
	// and replayed onto the fetched list.
	fetching bool
	missed   []backend.ChangeEvent

	fetchMu sync.Mutex

	lifeMu  sync.Mutex
	started bool
	sub     backend.Subscription
	done    chan struct{}
}

// NewCache creates an empty, unstarted cache over the client's tables
// and change feed. A nil feed leaves the cache fetch-only.
func NewCache(client *backend.Client, cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	timeout := cfg.RefetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cache{
		tables:  client.Tables,
		feed:    client.Feed,
		logger:  logger.With(logging.F("component", "profile-cache")),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
		timeout: timeout,
		byID:    make(map[string]Profile),
	}
}

// Start subscribes to profile changes once and loads the cache if it is
// empty. Calling Start again is a no-op apart from the lazy load.
//
// A failed initial fetch is returned but leaves the cache running with an
// empty list; Refetch is the recovery path.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.subscribe(ctx); err != nil {
		return err
	}
	return c.Ensure(ctx)
}

func (c *Cache) subscribe(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.started {
		return nil
	}
	c.started = true
	if c.feed == nil {
		c.logger.Info("No change feed available, profile cache is fetch-only")
		return nil
	}

	sub, err := c.feed.Subscribe(ctx, Table)
	if err != nil {
		c.started = false
		return fmt.Errorf("subscribing to profile changes: %w", err)
	}
	c.sub = sub
	c.done = make(chan struct{})
	go c.consume(sub, c.done)
	return nil
}

func (c *Cache) consume(sub backend.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		c.Apply(ev)
	}
}

// Close stops the change feed consumer. The cached data stays readable.
func (c *Cache) Close() error {
	c.lifeMu.Lock()
	sub, done := c.sub, c.done
	c.sub, c.done = nil, nil
	c.started = false
	c.lifeMu.Unlock()

	if sub == nil {
		return nil
	}
	err := sub.Close()
	<-done
	return err
}

// Ensure fetches the table if no fetch has succeeded yet.
func (c *Cache) Ensure(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Refetch(ctx)
}

// Refetch reloads the whole table. On failure the error is logged and
// returned and the previous generation stays in place.
//
// Events applied while the select is in flight may be newer than the
// rows it returns, so they are replayed onto the fetched list.
func (c *Cache) Refetch(ctx context.Context) error {
	c.fetchMu.Lock()
	defer c.fetchMu.Unlock()

	ctx, span := c.tracer.StartProfileFetch(ctx)
	defer span.End()

	c.mu.Lock()
	c.fetching, c.missed = true, nil
	c.mu.Unlock()

	rows, err := c.tables.Select(ctx, Table, backend.Query{
		Columns: Columns,
		Order:   []backend.Order{{Column: "name"}},
	})
	if err != nil {
		c.mu.Lock()
		c.fetching, c.missed = false, nil
		c.mu.Unlock()

		c.metrics.RecordProfileFetchError()
		be := tderrors.Classify(err, "select", Table)
		observability.SetError(span, err, string(be.Code), tderrors.IsRetryable(be.Code))
		c.logger.Error("Error fetching profiles", logging.Err(err))
		return fmt.Errorf("fetching profiles: %w", err)
	}

	list := make([]Profile, 0, len(rows))
	for _, r := range rows {
		list = append(list, FromRow(r))
	}

	c.mu.Lock()
	c.loaded = true
	c.replace(list)
	missed := c.missed
	for _, ev := range missed {
		c.fold(ev)
	}
	c.fetching, c.missed = false, nil
	size := len(c.list)
	c.mu.Unlock()

	observability.SetSuccess(span)
	c.logger.Debug("Profiles fetched",
		logging.F("count", size),
		logging.F("replayed", len(missed)))
	return nil
}

// Apply folds one change feed event into the cache. Events for other
// tables are ignored. Truncated and resync events carry no usable row and
// trigger a refetch instead.
func (c *Cache) Apply(ev backend.ChangeEvent) {
	if ev.Type != backend.EventResync && ev.Table != Table {
		return
	}
	c.metrics.RecordProfileEvent(string(ev.Type))
	if ev.Partial() {
		c.resync(ev)
		return
	}

	c.mu.Lock()
	if c.fetching {
		c.missed = append(c.missed, ev)
	}
	changed := c.fold(ev)
	watchers := c.watchers
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.Debug("Profile cache updated",
		logging.F("type", string(ev.Type)),
		logging.F("size", c.Len()))
	for _, fn := range watchers {
		fn(ev)
	}
}

func (c *Cache) resync(ev backend.ChangeEvent) {
	c.logger.Debug("Refetching profiles",
		logging.F("type", string(ev.Type)),
		logging.F("truncated", ev.Truncated))
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.Refetch(ctx); err != nil {
		return
	}
	c.mu.RLock()
	watchers := c.watchers
	c.mu.RUnlock()
	for _, fn := range watchers {
		fn(ev)
	}
}

// fold applies a row event to the list and reports whether it changed.
// Callers hold mu.
func (c *Cache) fold(ev backend.ChangeEvent) bool {
	switch ev.Type {
	case backend.EventInsert, backend.EventUpdate:
		if ev.New == nil || ev.New.String("id") == "" {
			return false
		}
		p := FromRow(ev.New)
		list := make([]Profile, 0, len(c.list)+1)
		found := false
		for _, existing := range c.list {
			if existing.ID == p.ID {
				existing, found = p, true
			}
			list = append(list, existing)
		}
		// An update for an unknown id is ignored; a duplicate insert
		// replaces in place so the list holds each id once.
		if !found && ev.Type == backend.EventInsert {
			list = append(list, p)
		}
		if !found && ev.Type != backend.EventInsert {
			return false
		}
		c.replace(list)
		return true
	case backend.EventDelete:
		id := ev.Old.String("id")
		if id == "" {
			return false
		}
		list := make([]Profile, 0, len(c.list))
		for _, existing := range c.list {
			if existing.ID != id {
				list = append(list, existing)
			}
		}
		if len(list) == len(c.list) {
			return false
		}
		c.replace(list)
		return true
	}
	return false
}

// replace installs list and rebuilds the id map. Callers hold mu.
func (c *Cache) replace(list []Profile) {
	byID := make(map[string]Profile, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}
	c.list = list
	c.byID = byID
	c.generation++
	c.metrics.SetProfileCacheSize(len(list))
}

// Watch registers fn to run after every event that changed the cache.
// fn runs on the feed consumer goroutine and must not block.
func (c *Cache) Watch(fn func(backend.ChangeEvent)) {
	c.mu.Lock()
	c.watchers = append(c.watchers, fn)
	c.mu.Unlock()
}

// Profiles returns a copy of the cached list in cache order.
func (c *Cache) Profiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Profile, len(c.list))
	copy(out, c.list)
	return out
}

// Get looks a profile up by id.
func (c *Cache) Get(id string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	return p, ok
}

// Len returns the number of cached profiles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.list)
}

// Loaded reports whether a fetch has succeeded.
func (c *Cache) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Generation increments on every change to the cached list.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// NameOf returns the display name for id, or fallback when unknown.
func (c *Cache) NameOf(id, fallback string) string {
	if p, ok := c.Get(id); ok && p.Name != "" {
		return p.Name
	}
	return fallback
}

// Current returns the signed-in user's profile. A user without a cached
// profile gets a synthesized one so writes always have an actor.
func (c *Cache) Current(ctx context.Context, auth backend.Auth) (Profile, error) {
	if auth == nil {
		return Profile{}, fmt.Errorf("no auth backend: %w", tderrors.ErrUnauthorized)
	}
	id, err := auth.CurrentUserID(ctx)
	if err != nil {
		return Profile{}, err
	}
	if err := c.Ensure(ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("Using fallback profile", logging.F("user_id", id), logging.Err(err))
	}
	if p, ok := c.Get(id); ok {
		return p, nil
	}
	return Profile{ID: id, Name: FallbackName, AvatarURL: PlaceholderAvatarURL, Role: RoleEmployee}, nil
}
