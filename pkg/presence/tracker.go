// Package presence tracks which team members are online. A Tracker
// publishes the signed-in user on a topic and keeps the entry alive with
// a heartbeat; any backend.Presence can carry it, including the Redis
// store in this package.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// DefaultTopic is the dashboard-wide presence topic.
const DefaultTopic = "dashboard_presence"

// EventType is a presence transition.
type EventType string

const (
	EventJoin  EventType = "join"
	EventLeave EventType = "leave"
)

// Event is a join or leave on a topic. Leave events carry only the user id.
type Event struct {
	Type  EventType             `json:"type"`
	Topic string                `json:"topic"`
	State backend.PresenceState `json:"state"`
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Topic string
	// Heartbeat re-tracks the joined user at this interval. Zero disables
	// the heartbeat, which suits stores without expiry.
	Heartbeat time.Duration
	Timeout   time.Duration
	Logger    logging.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// Tracker publishes one user's presence and reads the topic's members.
type Tracker struct {
	store   backend.Presence
	topic   string
	beat    time.Duration
	timeout time.Duration
	logger  logging.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu   sync.Mutex
	self *backend.PresenceState
	stop chan struct{}
	done chan struct{}
}

// NewTracker creates a tracker over store. A nil store yields a tracker
// whose operations fail with ErrUnavailable.
func NewTracker(store backend.Presence, cfg TrackerConfig) *Tracker {
	t := &Tracker{
		store:   store,
		topic:   cfg.Topic,
		beat:    cfg.Heartbeat,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if t.topic == "" {
		t.topic = DefaultTopic
	}
	if t.timeout <= 0 {
		t.timeout = 10 * time.Second
	}
	if t.logger == nil {
		t.logger = logging.NewNopLogger()
	}
	t.logger = t.logger.With(logging.F("component", "presence"), logging.F("topic", t.topic))
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// Topic returns the tracked topic.
func (t *Tracker) Topic() string {
	return t.topic
}

func (t *Tracker) available() error {
	if t.store == nil {
		return fmt.Errorf("presence is not configured: %w", tderrors.ErrUnavailable)
	}
	return nil
}

// Join publishes p as online. Joining again replaces the previous user
// and restarts the heartbeat.
func (t *Tracker) Join(ctx context.Context, p profiles.Profile) error {
	if err := t.available(); err != nil {
		return err
	}
	state := backend.PresenceState{
		UserID:    p.ID,
		Name:      p.Name,
		AvatarURL: p.AvatarURL,
		OnlineAt:  t.now().UTC(),
	}
	if err := t.store.Track(ctx, t.topic, state); err != nil {
		t.logger.Error("Error tracking presence", logging.F("user_id", p.ID), logging.Err(err))
		return fmt.Errorf("joining %s: %w", t.topic, err)
	}

	t.stopHeartbeat()
	t.mu.Lock()
	t.self = &state
	if t.beat > 0 {
		t.stop = make(chan struct{})
		t.done = make(chan struct{})
		go t.heartbeat(state, t.stop, t.done)
	}
	t.mu.Unlock()

	t.logger.Info("Joined presence", logging.F("user_id", p.ID))
	return nil
}

func (t *Tracker) heartbeat(state backend.PresenceState, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.beat)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
			err := t.store.Track(ctx, t.topic, state)
			cancel()
			if err != nil {
				t.metrics.RecordPresenceHeartbeatError()
				t.logger.Warn("Presence heartbeat failed", logging.F("user_id", state.UserID), logging.Err(err))
			}
		}
	}
}

func (t *Tracker) stopHeartbeat() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

// Self returns the joined state, if any.
func (t *Tracker) Self() (backend.PresenceState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.self == nil {
		return backend.PresenceState{}, false
	}
	return *t.self, true
}

// Leave stops the heartbeat and removes the joined user. Leaving without
// a join is a no-op.
func (t *Tracker) Leave(ctx context.Context) error {
	t.stopHeartbeat()
	t.mu.Lock()
	self := t.self
	t.self = nil
	t.mu.Unlock()
	if self == nil || t.store == nil {
		return nil
	}
	if err := t.store.Untrack(ctx, t.topic, self.UserID); err != nil {
		t.logger.Error("Error leaving presence", logging.F("user_id", self.UserID), logging.Err(err))
		return fmt.Errorf("leaving %s: %w", t.topic, err)
	}
	t.logger.Info("Left presence", logging.F("user_id", self.UserID))
	return nil
}

// Online lists the topic's members ordered by when they came online.
func (t *Tracker) Online(ctx context.Context) ([]backend.PresenceState, error) {
	if err := t.available(); err != nil {
		return nil, err
	}
	list, err := t.store.List(ctx, t.topic)
	if err != nil {
		t.logger.Error("Error listing presence", logging.Err(err))
		return nil, fmt.Errorf("listing %s: %w", t.topic, err)
	}
	t.metrics.SetPresenceOnline(t.topic, len(list))
	return list, nil
}

// OnlineSet returns the ids of the online members, for badge lookups.
func (t *Tracker) OnlineSet(ctx context.Context) (map[string]bool, error) {
	list, err := t.Online(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(list))
	for _, s := range list {
		set[s.UserID] = true
	}
	return set, nil
}

// IsOnline reports whether userID is a member of the topic.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	set, err := t.OnlineSet(ctx)
	if err != nil {
		return false, err
	}
	return set[userID], nil
}

// Close leaves the topic using a fresh timeout.
func (t *Tracker) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	return t.Leave(ctx)
}
