package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/db"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
)

func TestBuildSelect(t *testing.T) {
	q := backend.Query{
		Columns: []string{"id", "name"},
		Filters: []backend.Filter{
			backend.Eq("role", "Dipendente"),
			backend.In("id", "u1", "u2"),
			backend.NotNull("due_date"),
		},
		Order: []backend.Order{{Column: "name"}, {Column: "created_at", Descending: true}},
		Limit: 5,
	}

	sql, args, err := buildSelect("profiles", q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "id", "name" FROM "profiles" WHERE "role" = $1 AND "id"::text = ANY($2) AND "due_date" IS NOT NULL ORDER BY "name" ASC, "created_at" DESC LIMIT 5`,
		sql)
	assert.Equal(t, []any{"Dipendente", []string{"u1", "u2"}}, args)
}

func TestBuildSelect_AllColumns(t *testing.T) {
	sql, args, err := buildSelect("notes", backend.Query{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "notes"`, sql)
	assert.Empty(t, args)
}

func TestBuildSelect_QuotesIdentifiers(t *testing.T) {
	sql, _, err := buildSelect(`x"; DROP TABLE y; --`, backend.Query{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "x""; DROP TABLE y; --"`, sql)
}

func TestBuildSelect_BadFilter(t *testing.T) {
	_, _, err := buildSelect("notes", backend.Query{Filters: []backend.Filter{{Column: "id", Op: backend.OpIn, Value: 3}}})
	assert.True(t, tderrors.IsValidation(err))

	_, _, err = buildSelect("notes", backend.Query{Filters: []backend.Filter{{Column: "id", Op: "like"}}})
	assert.True(t, tderrors.IsValidation(err))
}

func TestBuildInsert(t *testing.T) {
	sql, args := buildInsert("note_mentions", backend.Row{"note_id": "n1", "mentioned_user_id": "u1"})
	assert.Equal(t, `INSERT INTO "note_mentions" ("mentioned_user_id", "note_id") VALUES ($1, $2) RETURNING *`, sql)
	assert.Equal(t, []any{"u1", "n1"}, args)

	sql, _ = buildInsert("customers", backend.Row{})
	assert.Equal(t, `INSERT INTO "customers" DEFAULT VALUES RETURNING *`, sql)
}

func TestBuildUpdate(t *testing.T) {
	sql, args, err := buildUpdate("user_bans", backend.Row{"is_active": false}, []backend.Filter{backend.Eq("id", "b1")})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "user_bans" SET "is_active" = $1, "updated_at" = NOW() WHERE "id" = $2 RETURNING *`, sql)
	assert.Equal(t, []any{false, "b1"}, args)

	_, _, err = buildUpdate("user_bans", backend.Row{}, nil)
	assert.True(t, tderrors.IsValidation(err))
}

func TestBuildDelete(t *testing.T) {
	since := time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args, err := buildDelete("messages", []backend.Filter{backend.Gte("created_at", since)})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "messages" WHERE "created_at" >= $1`, sql)
	assert.Equal(t, []any{since}, args)
}

func TestWrap(t *testing.T) {
	assert.True(t, tderrors.IsConflict(wrap("insert", "profiles", &pgconn.PgError{Code: "23505"})))
	assert.True(t, tderrors.IsValidation(wrap("insert", "notes", &pgconn.PgError{Code: "23503"})))
	assert.True(t, tderrors.IsForbidden(wrap("select", "user_bans", &pgconn.PgError{Code: "42501"})))

	plain := errors.New("broken pipe")
	err := wrap("select", "notes", plain)
	assert.ErrorIs(t, err, plain)
	assert.EqualError(t, err, "select notes: broken pipe")
}

func TestParseNotification(t *testing.T) {
	ev, err := ParseNotification(`{"type":"UPDATE","table":"profiles","record":{"id":"u1","name":"Alicia","created_at":"2025-05-01T08:00:00.123456+00:00"},"old_record":{"id":"u1","name":"Alice"}}`)
	require.NoError(t, err)
	assert.Equal(t, backend.EventUpdate, ev.Type)
	assert.Equal(t, "profiles", ev.Table)
	assert.Equal(t, "Alicia", ev.New.String("name"))
	assert.Equal(t, "Alice", ev.Old.String("name"))
	assert.Equal(t, 2025, ev.New.Time("created_at").Year())

	ev, err = ParseNotification(`{"type":"DELETE","table":"notes","record":null,"old_record":{"id":"n1"}}`)
	require.NoError(t, err)
	assert.Nil(t, ev.New)
	assert.Equal(t, "n1", ev.Old.String("id"))

	_, err = ParseNotification(`{"type":"TRUNCATE","table":"notes"}`)
	assert.Error(t, err)
	_, err = ParseNotification(`{"type":"INSERT"}`)
	assert.Error(t, err)
	_, err = ParseNotification(`not json`)
	assert.Error(t, err)
}

func TestParseNotification_Truncated(t *testing.T) {
	ev, err := ParseNotification(`{"type":"INSERT","table":"messages","record":{"id":"m-big"},"old_record":null,"truncated":true}`)
	require.NoError(t, err)
	assert.True(t, ev.Truncated)
	assert.True(t, ev.Partial())
	assert.Equal(t, "m-big", ev.New.String("id"))

	ev, err = ParseNotification(`{"type":"INSERT","table":"messages","record":{"id":"m1","content":"ciao"}}`)
	require.NoError(t, err)
	assert.False(t, ev.Partial())
}

func newRelayFeed() *Feed {
	return &Feed{
		broker: backend.NewBroker(4, nil, nil),
		logger: logging.NewNopLogger(),
	}
}

func TestFeed_RelayResyncAfterReconnect(t *testing.T) {
	f := newRelayFeed()
	defer f.broker.Close()
	profiles := f.broker.Subscribe("profiles")
	notes := f.broker.Subscribe("notes")

	f.relay(nil)

	for _, sub := range []backend.Subscription{profiles, notes} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, backend.EventResync, ev.Type)
			assert.True(t, ev.Partial())
		default:
			t.Fatal("resync not delivered to every subscription")
		}
	}
}

func TestFeed_RelayNotification(t *testing.T) {
	f := newRelayFeed()
	defer f.broker.Close()
	sub := f.broker.Subscribe("profiles")

	f.relay(&pq.Notification{Channel: Channel, Extra: `not json`})
	assert.Len(t, sub.Events(), 0)

	f.relay(&pq.Notification{Channel: Channel, Extra: `{"type":"INSERT","table":"profiles","record":{"id":"u2","name":"Bruno"}}`})
	require.Len(t, sub.Events(), 1)
	ev := <-sub.Events()
	assert.Equal(t, "Bruno", ev.New.String("name"))
}

func TestAuth(t *testing.T) {
	_, err := Auth{}.CurrentUserID(context.Background())
	assert.True(t, tderrors.IsUnauthorized(err))

	id, err := Auth{UserID: "u1"}.CurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", id)
}

func TestNew_RequiresPool(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

// TestTablesAndFeed_Integration runs against TEAMDESK_TEST_DATABASE_URL.
func TestTablesAndFeed_Integration(t *testing.T) {
	dbURL := os.Getenv("TEAMDESK_TEST_DATABASE_URL")
	if testing.Short() || dbURL == "" {
		t.Skip("Skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()
	_, err = db.RunMigrations(ctx, pool, db.Schema())
	require.NoError(t, err)

	client, err := New(Config{Pool: pool, ListenURL: dbURL, UserID: "it-user"})
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Feed.Subscribe(ctx, "profiles")
	require.NoError(t, err)
	defer sub.Close()

	id := "it-" + time.Now().Format("150405.000000")
	_, err = client.Tables.Insert(ctx, "profiles", backend.Row{"id": id, "name": "Integration"})
	require.NoError(t, err)
	defer client.Tables.Delete(ctx, "profiles", backend.Eq("id", id)) // nolint: errcheck

	rows, err := client.Tables.Select(ctx, "profiles", backend.Query{Filters: []backend.Filter{backend.Eq("id", id)}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Integration", rows[0].String("name"))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, backend.EventInsert, ev.Type)
		assert.Equal(t, id, ev.New.String("id"))
	case <-time.After(5 * time.Second):
		t.Fatal("no change event received")
	}
}
