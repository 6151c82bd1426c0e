package profiles

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/backend/memory"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

func newCache(t *testing.T, seed ...backend.Row) (*Cache, *memory.Backend, *logging.MemorySink) {
	t.Helper()
	mem := memory.New()
	mem.Seed(Table, seed...)
	logger, sink := logging.NewRecorder()
	client := mem.Client()
	t.Cleanup(func() { client.Close() })
	return NewCache(client, CacheConfig{Logger: logger}), mem, sink
}

func names(list []Profile) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.Name
	}
	return out
}

func TestCache_StartLoadsOrderedByName(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _, _ := newCache(t,
		backend.Row{"id": "u2", "name": "Bruno"},
		backend.Row{"id": "u1", "name": "Alice"},
	)
	require.NoError(t, c.Start(context.Background()))
	defer c.Close()

	assert.True(t, c.Loaded())
	assert.Equal(t, []string{"Alice", "Bruno"}, names(c.Profiles()))

	p, ok := c.Get("u2")
	require.True(t, ok)
	assert.Equal(t, "Bruno", p.Name)
}

func TestCache_InsertEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, mem, _ := newCache(t, backend.Row{"id": "u1", "name": "Alice"})
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	_, err := mem.Insert(ctx, Table, backend.Row{"id": "u9", "name": "Zoe", "avatar_url": "https://a/z.png"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { _, ok := c.Get("u9"); return ok }, time.Second, 5*time.Millisecond)
	p, _ := c.Get("u9")
	assert.Equal(t, "Zoe", p.Name)
	assert.Equal(t, "https://a/z.png", p.AvatarURL)

	count := 0
	for _, p := range c.Profiles() {
		if p.ID == "u9" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCache_ApplyDuplicateInsertKeepsOneEntry(t *testing.T) {
	c, _, _ := newCache(t)
	ev := backend.ChangeEvent{Type: backend.EventInsert, Table: Table, New: backend.Row{"id": "u1", "name": "Alice"}}

	c.Apply(ev)
	c.Apply(ev)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "Alice", c.NameOf("u1", ""))
}

func TestCache_UpdateAndDeleteEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, mem, _ := newCache(t,
		backend.Row{"id": "u1", "name": "Alice"},
		backend.Row{"id": "u2", "name": "Bruno"},
	)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	defer c.Close()

	_, err := mem.Update(ctx, Table, backend.Row{"name": "Alicia"}, backend.Eq("id", "u1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.NameOf("u1", "") == "Alicia" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Alicia", "Bruno"}, names(c.Profiles()), "update replaces in place")

	require.NoError(t, mem.Delete(ctx, Table, backend.Eq("id", "u2")))
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := c.Get("u2")
	assert.False(t, ok)
}

func TestCache_IgnoresUnknownUpdatesAndOtherTables(t *testing.T) {
	c, _, _ := newCache(t)
	c.Apply(backend.ChangeEvent{Type: backend.EventUpdate, Table: Table, New: backend.Row{"id": "ghost", "name": "Ghost"}})
	c.Apply(backend.ChangeEvent{Type: backend.EventInsert, Table: "notes", New: backend.Row{"id": "n1"}})
	c.Apply(backend.ChangeEvent{Type: backend.EventDelete, Table: Table, Old: backend.Row{"id": "ghost"}})

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(0), c.Generation())
}

func TestCache_FetchErrorKeepsStaleList(t *testing.T) {
	c, mem, sink := newCache(t, backend.Row{"id": "u1", "name": "Alice"})
	ctx := context.Background()
	require.NoError(t, c.Refetch(ctx))

	boom := errors.New("connection reset")
	mem.SetFault(memory.FailOn("select", Table, boom))

	err := c.Refetch(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"Alice"}, names(c.Profiles()))
	assert.Len(t, sink.Find(logging.LevelError, "Error fetching profiles"), 1)
}

func TestCache_FirstFetchErrorIsEmptyThenRecovers(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, mem, _ := newCache(t, backend.Row{"id": "u1", "name": "Alice"})
	m := observability.NewMetrics(prometheus.NewRegistry())
	c.metrics = m
	mem.SetFault(memory.FailOn("select", Table, errors.New("down")))

	ctx := context.Background()
	assert.Error(t, c.Start(ctx))
	defer c.Close()
	assert.Empty(t, c.Profiles())
	assert.False(t, c.Loaded())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProfileFetchErrorsTotal))

	mem.SetFault(nil)
	require.NoError(t, c.Ensure(ctx))
	assert.Equal(t, 1, c.Len())
}

func TestCache_EnsureFetchesOnce(t *testing.T) {
	c, mem, _ := newCache(t, backend.Row{"id": "u1", "name": "Alice"})
	ctx := context.Background()
	require.NoError(t, c.Ensure(ctx))

	mem.SetFault(memory.FailOn("select", Table, errors.New("must not be called")))
	assert.NoError(t, c.Ensure(ctx), "a warm cache is reused without a fetch")
}

func TestCache_CloseStopsConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, mem, _ := newCache(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, c.Start(ctx), "second start does not subscribe again")
	assert.Equal(t, 1, mem.Subscribers())

	require.NoError(t, c.Close())
	assert.Equal(t, 0, mem.Subscribers())
	require.NoError(t, c.Close())
}

func TestCache_Watch(t *testing.T) {
	c, _, _ := newCache(t)
	var seen []backend.EventType
	c.Watch(func(ev backend.ChangeEvent) { seen = append(seen, ev.Type) })

	c.Apply(backend.ChangeEvent{Type: backend.EventInsert, Table: Table, New: backend.Row{"id": "u1", "name": "A"}})
	c.Apply(backend.ChangeEvent{Type: backend.EventDelete, Table: Table, Old: backend.Row{"id": "nobody"}})

	assert.Equal(t, []backend.EventType{backend.EventInsert}, seen)
}

func TestCache_Current(t *testing.T) {
	c, mem, _ := newCache(t, backend.Row{"id": "u1", "name": "Alice"})
	ctx := context.Background()

	_, err := c.Current(ctx, mem)
	assert.True(t, tderrors.IsUnauthorized(err))

	mem.SetCurrentUser("u1")
	p, err := c.Current(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Name)

	mem.SetCurrentUser("u7")
	p, err = c.Current(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, Profile{ID: "u7", Name: FallbackName, AvatarURL: PlaceholderAvatarURL, Role: RoleEmployee}, p)
}

func TestCache_TruncatedEventRefetches(t *testing.T) {
	c, mem, _ := newCache(t, backend.Row{"id": "u1", "name": "Alice"})
	ctx := context.Background()
	require.NoError(t, c.Refetch(ctx))

	_, err := mem.Update(ctx, Table, backend.Row{"name": "Alicia"}, backend.Eq("id", "u1"))
	require.NoError(t, err)
	var seen []backend.ChangeEvent
	c.Watch(func(ev backend.ChangeEvent) { seen = append(seen, ev) })

	c.Apply(backend.ChangeEvent{Type: backend.EventUpdate, Table: Table, New: backend.Row{"id": "u1"}, Truncated: true})

	p, ok := c.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "Alicia", p.Name, "a key-only row must not blank the cached profile")
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Truncated)
}

func TestCache_ResyncEventRefetches(t *testing.T) {
	c, mem, _ := newCache(t, backend.Row{"id": "u1", "name": "Alice"})
	ctx := context.Background()
	require.NoError(t, c.Refetch(ctx))

	_, err := mem.Insert(ctx, Table, backend.Row{"id": "u2", "name": "Bruno"})
	require.NoError(t, err)
	c.Apply(backend.ChangeEvent{Type: backend.EventResync})

	assert.Equal(t, []string{"Alice", "Bruno"}, names(c.Profiles()))
}

// pausedTables holds Select after it has read the table until release
// is closed.
type pausedTables struct {
	backend.Tables
	selected chan struct{}
	release  chan struct{}
}

func (p *pausedTables) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	rows, err := p.Tables.Select(ctx, table, q)
	close(p.selected)
	<-p.release
	return rows, err
}

func TestCache_EventDuringFetchSurvivesInstall(t *testing.T) {
	mem := memory.New()
	mem.Seed(Table, backend.Row{"id": "u1", "name": "Alice"})
	tables := &pausedTables{Tables: mem, selected: make(chan struct{}), release: make(chan struct{})}
	c := NewCache(&backend.Client{Tables: tables}, CacheConfig{})

	errc := make(chan error, 1)
	go func() { errc <- c.Refetch(context.Background()) }()
	<-tables.selected

	c.Apply(backend.ChangeEvent{Type: backend.EventInsert, Table: Table, New: backend.Row{"id": "u2", "name": "Bruno"}})
	close(tables.release)
	require.NoError(t, <-errc)

	_, ok := c.Get("u2")
	assert.True(t, ok, "insert applied mid-fetch must be replayed onto the snapshot")
	assert.Equal(t, []string{"Alice", "Bruno"}, names(c.Profiles()))

	assert.False(t, c.fetching)
	assert.Empty(t, c.missed)
}
