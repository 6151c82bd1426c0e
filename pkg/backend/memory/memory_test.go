package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestBackend_CRUD(t *testing.T) {
	ctx := context.Background()
	b := New(WithClock(fixedClock()))

	rows, err := b.Insert(ctx, "profiles",
		backend.Row{"id": "u2", "name": "Bruno"},
		backend.Row{"name": "Anna"},
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "u2", rows[0].String("id"))
	assert.NotEmpty(t, rows[1].String("id"), "id is generated")
	assert.False(t, rows[1].Time("created_at").IsZero())

	got, err := b.Select(ctx, "profiles", backend.Query{Columns: []string{"name"}}.OrderBy("name", false))
	require.NoError(t, err)
	assert.Equal(t, []backend.Row{{"name": "Anna"}, {"name": "Bruno"}}, got)

	updated, err := b.Update(ctx, "profiles", backend.Row{"role": "Amministratore"}, backend.Eq("id", "u2"))
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "Amministratore", updated[0].String("role"))

	require.NoError(t, b.Delete(ctx, "profiles", backend.Eq("id", "u2")))
	assert.Len(t, b.Rows("profiles"), 1)

	limited, err := b.Select(ctx, "profiles", backend.Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestBackend_InsertConflict(t *testing.T) {
	b := New()
	b.Seed("notes", backend.Row{"id": "n1"})

	_, err := b.Insert(context.Background(), "notes", backend.Row{"id": "n1"})
	assert.True(t, tderrors.IsConflict(err))
}

func TestBackend_ChangeFeed(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	b := New()
	c := b.Client()
	defer c.Close()

	sub, err := b.Subscribe(ctx, "profiles")
	require.NoError(t, err)
	defer sub.Close()

	_, err = b.Insert(ctx, "profiles", backend.Row{"id": "u1", "name": "Alice"})
	require.NoError(t, err)
	_, err = b.Update(ctx, "profiles", backend.Row{"name": "Alice R."}, backend.Eq("id", "u1"))
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "profiles", backend.Eq("id", "u1")))
	_, err = b.Insert(ctx, "notes", backend.Row{"title": "ignored"})
	require.NoError(t, err)

	ins := <-sub.Events()
	assert.Equal(t, backend.EventInsert, ins.Type)
	assert.Equal(t, "Alice", ins.New.String("name"))

	upd := <-sub.Events()
	assert.Equal(t, backend.EventUpdate, upd.Type)
	assert.Equal(t, "Alice R.", upd.New.String("name"))
	assert.Equal(t, "Alice", upd.Old.String("name"))

	del := <-sub.Events()
	assert.Equal(t, backend.EventDelete, del.Type)
	assert.Equal(t, "u1", del.Old.String("id"))

	assert.Len(t, sub.Events(), 0)
}

func TestBackend_SeedDoesNotPublish(t *testing.T) {
	b := New()
	sub, err := b.Subscribe(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	b.Seed("profiles", backend.Row{"id": "u1"})
	assert.Len(t, sub.Events(), 0)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBackend_Faults(t *testing.T) {
	ctx := context.Background()
	b := New()
	boom := errors.New("boom")

	b.SetFault(FailOn("insert", "messages", boom))
	_, err := b.Insert(ctx, "messages", backend.Row{"content": "ciao"})
	assert.ErrorIs(t, err, boom)
	_, err = b.Insert(ctx, "notes", backend.Row{"title": "ok"})
	assert.NoError(t, err)
	assert.Empty(t, b.Rows("messages"), "failed insert stores nothing")

	b.SetFault(Hang("select", ""))
	hctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = b.Select(hctx, "notes", backend.Query{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	b.SetFault(nil)
	_, err = b.Select(ctx, "notes", backend.Query{})
	assert.NoError(t, err)
}

func TestBackend_PresenceAndAuth(t *testing.T) {
	ctx := context.Background()
	b := New()

	_, err := b.CurrentUserID(ctx)
	assert.True(t, tderrors.IsUnauthorized(err))

	b.SetCurrentUser("u1")
	id, err := b.CurrentUserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	t0 := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, b.Track(ctx, "dashboard_presence", backend.PresenceState{UserID: "u2", Name: "Bruno", OnlineAt: t0.Add(time.Minute)}))
	require.NoError(t, b.Track(ctx, "dashboard_presence", backend.PresenceState{UserID: "u1", Name: "Alice", OnlineAt: t0}))

	online, err := b.List(ctx, "dashboard_presence")
	require.NoError(t, err)
	require.Len(t, online, 2)
	assert.Equal(t, "u1", online[0].UserID)

	require.NoError(t, b.Untrack(ctx, "dashboard_presence", "u1"))
	online, err = b.List(ctx, "dashboard_presence")
	require.NoError(t, err)
	assert.Len(t, online, 1)
}
