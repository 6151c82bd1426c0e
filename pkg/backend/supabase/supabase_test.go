package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
)

type recorded struct {
	method string
	path   string
	query  map[string]string
	body   string
}

func newServer(t *testing.T, status int, response string) (*backend.Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = map[string]string{}
		for k, v := range r.URL.Query() {
			rec.query[k] = v[0]
		}
		body, _ := io.ReadAll(r.Body)
		rec.body = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	client, err := New(Config{URL: srv.URL, APIKey: "anon-key"})
	require.NoError(t, err)
	return client, rec
}

func TestSelect_TranslatesQuery(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, `[{"id":"u1","name":"Alice","role":"Amministratore"}]`)

	rows, err := client.Tables.Select(context.Background(), "profiles", backend.Query{
		Columns: []string{"id", "name", "role"},
		Filters: []backend.Filter{backend.Eq("role", "Amministratore"), backend.NotNull("avatar_url"), backend.In("id", "u1", "u2")},
		Order:   []backend.Order{{Column: "name"}},
		Limit:   10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alice", rows[0].String("name"))

	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/rest/v1/profiles", rec.path)
	assert.Equal(t, "id,name,role", rec.query["select"])
	assert.Equal(t, "eq.Amministratore", rec.query["role"])
	assert.Equal(t, "not.is.null", rec.query["avatar_url"])
	assert.Equal(t, "in.(u1,u2)", rec.query["id"])
	assert.Equal(t, "name.asc.nullslast", rec.query["order"])
	assert.Equal(t, "10", rec.query["limit"])
}

func TestInsert_SendsRows(t *testing.T) {
	client, rec := newServer(t, http.StatusCreated, `[{"id":"m1","note_id":"n1","mentioned_user_id":"u1"}]`)

	rows, err := client.Tables.Insert(context.Background(), "note_mentions",
		backend.Row{"note_id": "n1", "mentioned_user_id": "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].String("id"))

	assert.Equal(t, http.MethodPost, rec.method)
	var sent []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rec.body), &sent))
	assert.Equal(t, []map[string]any{{"note_id": "n1", "mentioned_user_id": "u1"}}, sent)
}

func TestDelete_Filters(t *testing.T) {
	client, rec := newServer(t, http.StatusNoContent, ``)

	err := client.Tables.Delete(context.Background(), "task_mentions", backend.Eq("task_id", "t1"))
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, "eq.t1", rec.query["task_id"])
}

func TestErrorsMapToSentinels(t *testing.T) {
	client, _ := newServer(t, http.StatusConflict, `{"code":"23505","message":"duplicate key value"}`)
	_, err := client.Tables.Insert(context.Background(), "profiles", backend.Row{"id": "u1"})
	assert.True(t, tderrors.IsConflict(err))

	client, _ = newServer(t, http.StatusForbidden, `{"code":"42501","message":"permission denied"}`)
	_, err = client.Tables.Update(context.Background(), "profiles", backend.Row{"role": "x"}, backend.Eq("id", "u1"))
	assert.True(t, tderrors.IsForbidden(err))
}

func TestApplyFilters_RejectsDuplicateColumn(t *testing.T) {
	client, _ := newServer(t, http.StatusOK, `[]`)
	_, err := client.Tables.Select(context.Background(), "tasks", backend.Query{
		Filters: []backend.Filter{backend.Gte("due_date", "2025-01-01"), backend.NotNull("due_date")},
	})
	assert.True(t, tderrors.IsValidation(err))
}

func TestCancelledContext(t *testing.T) {
	client, rec := newServer(t, http.StatusOK, `[]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Tables.Select(ctx, "notes", backend.Query{})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, rec.method, "no request is sent")
}

func TestAuth_NoToken(t *testing.T) {
	client, _ := newServer(t, http.StatusOK, `{}`)
	_, err := client.Auth.CurrentUserID(context.Background())
	assert.True(t, tderrors.IsUnauthorized(err))
}

func TestNew_RequiresURLAndKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
