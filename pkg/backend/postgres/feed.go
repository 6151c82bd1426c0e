package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

// Channel is the NOTIFY channel the schema triggers publish on.
const Channel = "teamdesk_changes"

// FeedConfig configures a Feed.
type FeedConfig struct {
	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration
	Buffer       int
	Logger       logging.Logger
	Metrics      *observability.Metrics
}

func (c *FeedConfig) defaults() {
	if c.MinReconnect <= 0 {
		c.MinReconnect = 10 * time.Second
	}
	if c.MaxReconnect <= 0 {
		c.MaxReconnect = time.Minute
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 90 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.NewNopLogger()
	}
}

// Feed is a backend.Feed fed by a pq.Listener on Channel.
type Feed struct {
	listener *pq.Listener
	broker   *backend.Broker
	logger   logging.Logger
	ping     time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed connects a listener to connString and starts relaying
// notifications.
func NewFeed(connString string, cfg FeedConfig) (*Feed, error) {
	cfg.defaults()
	logger := cfg.Logger.With(logging.F("component", "pg-feed"))

	listener := pq.NewListener(connString, cfg.MinReconnect, cfg.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Debug("Change feed connected")
		case pq.ListenerEventDisconnected:
			logger.Warn("Change feed disconnected", logging.Err(err))
		case pq.ListenerEventReconnected:
			logger.Info("Change feed reconnected, events may have been missed")
		case pq.ListenerEventConnectionAttemptFailed:
			logger.Error("Change feed connection attempt failed", logging.Err(err))
		}
	})
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listening on %s: %w", Channel, err)
	}

	f := &Feed{
		listener: listener,
		broker:   backend.NewBroker(cfg.Buffer, cfg.Logger, cfg.Metrics),
		logger:   logger,
		ping:     cfg.PingInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.run()
	return f, nil
}

func (f *Feed) run() {
	defer close(f.done)
	ticker := time.NewTicker(f.ping)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			f.relay(n)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Debug("Change feed ping failed", logging.Err(err))
				}
			}()
		}
	}
}

// relay publishes one listener notification. pq sends nil after a
// reconnect; anything published meanwhile is lost, so every subscriber
// gets a resync.
func (f *Feed) relay(n *pq.Notification) {
	if n == nil {
		f.logger.Info("Asking subscribers to resync after reconnect")
		f.broker.Publish(backend.ChangeEvent{Type: backend.EventResync})
		return
	}
	ev, err := ParseNotification(n.Extra)
	if err != nil {
		f.logger.Warn("Dropping malformed change notification", logging.Err(err))
		return
	}
	f.broker.Publish(ev)
}

// Subscribe implements backend.Feed.
func (f *Feed) Subscribe(_ context.Context, tables ...string) (backend.Subscription, error) {
	return f.broker.Subscribe(tables...), nil
}

// Close stops relaying, closes the listener and every subscription.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.stop)
		<-f.done
		err = f.listener.Close()
		f.broker.Close()
	})
	return err
}

type notification struct {
	Type      backend.EventType `json:"type"`
	Table     string            `json:"table"`
	Record    map[string]any    `json:"record"`
	Old       map[string]any    `json:"old_record"`
	Truncated bool              `json:"truncated"`
}

// ParseNotification decodes a trigger payload into a change event.
func ParseNotification(payload string) (backend.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return backend.ChangeEvent{}, fmt.Errorf("decoding notification: %w", err)
	}
	switch n.Type {
	case backend.EventInsert, backend.EventUpdate, backend.EventDelete:
	default:
		return backend.ChangeEvent{}, fmt.Errorf("unknown change type %q", n.Type)
	}
	if n.Table == "" {
		return backend.ChangeEvent{}, fmt.Errorf("notification without table")
	}
	ev := backend.ChangeEvent{Type: n.Type, Table: n.Table, Truncated: n.Truncated}
	if n.Record != nil {
		ev.New = backend.Row(n.Record)
	}
	if n.Old != nil {
		ev.Old = backend.Row(n.Old)
	}
	return ev, nil
}
