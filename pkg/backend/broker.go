package backend

import (
	"sync"

	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

// DefaultSubscriberBuffer is the per-subscription event buffer.
const DefaultSubscriberBuffer = 256

// Broker fans change events out to table-scoped subscriptions. Adapters
// feed it from their native source (in-process writes, LISTEN/NOTIFY).
//
// Publish never blocks: an event for a subscriber whose buffer is full is
// dropped and logged. Consumers recover through an explicit refetch.
type Broker struct {
	mu      sync.Mutex
	subs    map[*brokerSub]struct{}
	buffer  int
	closed  bool
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewBroker creates a broker. buffer <= 0 uses DefaultSubscriberBuffer.
func NewBroker(buffer int, logger logging.Logger, metrics *observability.Metrics) *Broker {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Broker{
		subs:    make(map[*brokerSub]struct{}),
		buffer:  buffer,
		logger:  logger.With(logging.F("component", "feed-broker")),
		metrics: metrics,
	}
}

// Subscribe registers a subscription for the given tables. No tables
// means every table.
func (b *Broker) Subscribe(tables ...string) Subscription {
	s := &brokerSub{
		broker: b,
		events: make(chan ChangeEvent, b.buffer),
		tables: make(map[string]struct{}, len(tables)),
	}
	for _, t := range tables {
		s.tables[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.events)
		s.closed = true
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers ev to every subscription watching ev.Table. An event
// without a table reaches every subscription.
func (b *Broker) Publish(ev ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if !s.wants(ev.Table) {
			continue
		}
		select {
		case s.events <- ev:
			b.metrics.RecordFeedEvent(ev.Table, string(ev.Type))
		default:
			b.metrics.RecordFeedDrop(ev.Table)
			b.logger.Warn("Dropping change event for slow subscriber",
				logging.F("table", ev.Table),
				logging.F("type", string(ev.Type)))
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscription. Later subscriptions are born closed.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.closed = true
		close(s.events)
	}
	b.subs = nil
}

type brokerSub struct {
	broker *Broker
	events chan ChangeEvent
	tables map[string]struct{}
	closed bool
}

func (s *brokerSub) wants(table string) bool {
	if table == "" || len(s.tables) == 0 {
		return true
	}
	_, ok := s.tables[table]
	return ok
}

func (s *brokerSub) Events() <-chan ChangeEvent {
	return s.events
}

func (s *brokerSub) Close() error {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	delete(b.subs, s)
	close(s.events)
	return nil
}
