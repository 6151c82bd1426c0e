package optimistic

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

type message struct {
	ID      string
	Content string
}

func newList(t *testing.T, onFailure func(message, error)) (*List[message], *observability.Metrics, *logging.MemorySink) {
	t.Helper()
	logger, sink := logging.NewRecorder()
	m := observability.NewMetrics(prometheus.NewRegistry())
	l := New(Config[message]{
		Entity:    "message",
		ID:        func(m message) string { return m.ID },
		Matches:   func(p, r message) bool { return p.Content == r.Content },
		OnFailure: onFailure,
		Logger:    logger,
		Metrics:   m,
	})
	return l, m, sink
}

func build(content string) func(string) message {
	return func(id string) message { return message{ID: id, Content: content} }
}

func ok(context.Context, message) error { return nil }

func TestTempID(t *testing.T) {
	id := NewTempID()
	assert.True(t, IsTempID(id))
	assert.NotEqual(t, id, NewTempID())
	assert.False(t, IsTempID("8d1c6a1e-0000-4000-8000-000000000000"))
}

func TestSend_PendingThenReconciled(t *testing.T) {
	l, m, _ := newList(t, nil)
	l.Reset([]message{{ID: "m1", Content: "earlier"}})

	tempID, err := l.Send(context.Background(), build("hello"), ok)
	require.NoError(t, err)
	assert.Equal(t, []message{{ID: "m1", Content: "earlier"}, {ID: tempID, Content: "hello"}}, l.Items())
	assert.Equal(t, 1, l.Pending())

	assert.True(t, l.Reconcile(message{ID: "m2", Content: "hello"}))
	assert.Equal(t, []message{{ID: "m1", Content: "earlier"}, {ID: "m2", Content: "hello"}}, l.Items())
	assert.Equal(t, 0, l.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimisticSendsTotal.WithLabelValues("message", "reconciled")))
}

func TestSend_RollbackOnFailure(t *testing.T) {
	var failed []message
	l, m, sink := newList(t, func(p message, err error) { failed = append(failed, p) })
	boom := errors.New("insert rejected")

	var seenDuringWrite int
	tempID, err := l.Send(context.Background(), build("hello"), func(context.Context, message) error {
		seenDuringWrite = l.Len()
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, seenDuringWrite, "placeholder is visible while the write is in flight")
	assert.Empty(t, l.Items())
	require.Len(t, failed, 1)
	assert.Equal(t, tempID, failed[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimisticSendsTotal.WithLabelValues("message", "rolled_back")))
	assert.Len(t, sink.Find(logging.LevelError, "Optimistic write failed, placeholder removed"), 1)

	l.Reconcile(message{ID: "m9", Content: "other"})
	for _, it := range l.Items() {
		assert.NotEqual(t, tempID, it.ID, "the temporary id never comes back")
	}
}

func TestReconcile_NoPlaceholder(t *testing.T) {
	l, _, _ := newList(t, nil)
	assert.False(t, l.Reconcile(message{ID: "m1", Content: "from someone else"}))
	assert.Equal(t, 1, l.Len())
}

func TestReconcile_DuplicateDeliveryReplaces(t *testing.T) {
	l, _, _ := newList(t, nil)
	l.Reconcile(message{ID: "m1", Content: "v1"})
	l.Reconcile(message{ID: "m1", Content: "v1"})
	assert.Equal(t, 1, l.Len())
}

func TestReconcile_IdenticalSendsConsumeOnePlaceholderEach(t *testing.T) {
	l, _, _ := newList(t, nil)
	ctx := context.Background()
	_, err := l.Send(ctx, build("ok"), ok)
	require.NoError(t, err)
	_, err = l.Send(ctx, build("ok"), ok)
	require.NoError(t, err)

	assert.True(t, l.Reconcile(message{ID: "m1", Content: "ok"}))
	assert.Equal(t, 1, l.Pending())
	assert.True(t, l.Reconcile(message{ID: "m2", Content: "ok"}))
	assert.Equal(t, 0, l.Pending())
	assert.Equal(t, 2, l.Len())
}

func TestReset_KeepsUnechoedPlaceholders(t *testing.T) {
	l, _, _ := newList(t, nil)
	ctx := context.Background()
	_, _ = l.Send(ctx, build("echoed"), ok)
	pendingID, _ := l.Send(ctx, build("in flight"), ok)

	l.Reset([]message{{ID: "m1", Content: "echoed"}})

	assert.Equal(t, []message{{ID: "m1", Content: "echoed"}, {ID: pendingID, Content: "in flight"}}, l.Items())
}

func TestNew_RequiresFuncs(t *testing.T) {
	assert.Panics(t, func() { New(Config[message]{}) })
}
