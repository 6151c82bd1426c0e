package presence

import (
	"context"
	"errors"
	"sync"
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
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

var (
	alice = profiles.Profile{ID: "u1", Name: "Alice", AvatarURL: "https://example.test/a.svg"}
	bruno = profiles.Profile{ID: "u2", Name: "Bruno"}
)

// countingStore counts Track calls and can be told to fail them.
type countingStore struct {
	backend.Presence

	mu     sync.Mutex
	tracks int
	fail   error
	ticks  chan struct{}
}

func (c *countingStore) Track(ctx context.Context, topic string, s backend.PresenceState) error {
	c.mu.Lock()
	c.tracks++
	err := c.fail
	c.mu.Unlock()
	select {
	case c.ticks <- struct{}{}:
	default:
	}
	if err != nil {
		return err
	}
	return c.Presence.Track(ctx, topic, s)
}

func TestTracker_JoinOnlineLeave(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	mem := memory.New()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tr := NewTracker(mem, TrackerConfig{Now: func() time.Time { return t0 }})
	other := NewTracker(mem, TrackerConfig{Now: func() time.Time { return t0.Add(time.Second) }})
	assert.Equal(t, DefaultTopic, tr.Topic())

	require.NoError(t, tr.Join(ctx, alice))
	require.NoError(t, other.Join(ctx, bruno))

	self, ok := tr.Self()
	require.True(t, ok)
	assert.Equal(t, alice.AvatarURL, self.AvatarURL)

	list, err := tr.Online(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u1", list[0].UserID)
	assert.Equal(t, "u2", list[1].UserID)

	online, err := tr.IsOnline(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, online)

	require.NoError(t, other.Leave(ctx))
	online, err = tr.IsOnline(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, tr.Close())
	_, ok = tr.Self()
	assert.False(t, ok)
	assert.NoError(t, tr.Leave(ctx))
}

func TestTracker_HeartbeatRetracksUntilLeave(t *testing.T) {
	defer goleak.VerifyNone(t)
	store := &countingStore{Presence: memory.New(), ticks: make(chan struct{}, 1)}
	tr := NewTracker(store, TrackerConfig{Heartbeat: 5 * time.Millisecond})

	require.NoError(t, tr.Join(context.Background(), alice))
	for i := 0; i < 2; i++ {
		select {
		case <-store.ticks:
		case <-time.After(2 * time.Second):
			t.Fatal("heartbeat did not re-track")
		}
	}
	require.NoError(t, tr.Close())

	store.mu.Lock()
	assert.GreaterOrEqual(t, store.tracks, 2)
	store.mu.Unlock()
}

func TestTracker_HeartbeatFailuresAreCounted(t *testing.T) {
	defer goleak.VerifyNone(t)
	logger, sink := logging.NewRecorder()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	store := &countingStore{Presence: memory.New(), ticks: make(chan struct{}, 1)}
	tr := NewTracker(store, TrackerConfig{Heartbeat: 5 * time.Millisecond, Logger: logger, Metrics: metrics})

	require.NoError(t, tr.Join(context.Background(), alice))
	<-store.ticks
	store.mu.Lock()
	store.fail = errors.New("redis down")
	store.mu.Unlock()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PresenceHeartbeatErrors) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, tr.Close())
	assert.NotEmpty(t, sink.Find(logging.LevelWarn, "Presence heartbeat failed"))
}

func TestTracker_RejoinRestartsHeartbeat(t *testing.T) {
	defer goleak.VerifyNone(t)
	mem := memory.New()
	tr := NewTracker(mem, TrackerConfig{Heartbeat: time.Hour})
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, alice))
	require.NoError(t, tr.Join(ctx, bruno))
	self, _ := tr.Self()
	assert.Equal(t, "u2", self.UserID)
	require.NoError(t, tr.Close())
}

func TestTracker_Errors(t *testing.T) {
	ctx := context.Background()

	none := NewTracker(nil, TrackerConfig{})
	assert.ErrorIs(t, none.Join(ctx, alice), tderrors.ErrUnavailable)
	_, err := none.Online(ctx)
	assert.ErrorIs(t, err, tderrors.ErrUnavailable)
	assert.NoError(t, none.Close())

	mem := memory.New()
	logger, sink := logging.NewRecorder()
	tr := NewTracker(mem, TrackerConfig{Logger: logger})
	mem.SetFault(memory.FailOn("presence_list", DefaultTopic, tderrors.ErrTimeout))
	_, err = tr.Online(ctx)
	assert.ErrorIs(t, err, tderrors.ErrTimeout)
	assert.NotEmpty(t, sink.Find(logging.LevelError, "Error listing presence"))

	mem.SetFault(memory.FailOn("presence_track", "", tderrors.ErrUnavailable))
	assert.ErrorIs(t, tr.Join(ctx, alice), tderrors.ErrUnavailable)
	_, ok := tr.Self()
	assert.False(t, ok)
}

func TestTracker_OnlineGauge(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	mem := memory.New()
	tr := NewTracker(mem, TrackerConfig{Metrics: metrics})
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, alice))
	_, err := tr.Online(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PresenceOnline.WithLabelValues(DefaultTopic)))
}
