package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
)

// Key layout, per topic:
//
//	<prefix><topic>            sorted set of user ids scored by expiry (unix nanos)
//	<prefix><topic>:<userID>   JSON PresenceState with the member TTL
//	<prefix><topic>:events     pub/sub channel of join/leave events
const DefaultKeyPrefix = "teamdesk:presence:"

// DefaultTTL is how long a member stays online without a heartbeat.
const DefaultTTL = 60 * time.Second

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	URL      string `yaml:"url,omitempty"`
}

// Connect opens a Redis client and pings it. URL wins over Addr.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis address is required: %w", tderrors.ErrValidation)
		}
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w: %w", tderrors.ErrUnavailable, err)
	}
	return client, nil
}

// StoreConfig configures a RedisStore.
type StoreConfig struct {
	Prefix string
	TTL    time.Duration
	Logger logging.Logger
	Now    func() time.Time
}

// RedisStore implements backend.Presence on Redis. Members expire unless
// tracked again within the TTL, so a crashed client drops off the list
// on its own.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger logging.Logger
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, cfg StoreConfig) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
		now:    cfg.Now,
	}
	if s.prefix == "" {
		s.prefix = DefaultKeyPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.logger == nil {
		s.logger = logging.NewNopLogger()
	}
	s.logger = s.logger.With(logging.F("component", "presence-redis"))
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// TTL returns the member expiry.
func (s *RedisStore) TTL() time.Duration {
	return s.ttl
}

func (s *RedisStore) membersKey(topic string) string {
	return s.prefix + topic
}

func (s *RedisStore) stateKey(topic, userID string) string {
	return s.prefix + topic + ":" + userID
}

func (s *RedisStore) eventsChannel(topic string) string {
	return s.prefix + topic + ":events"
}

// Track publishes state on topic and (re)starts the member's TTL.
func (s *RedisStore) Track(ctx context.Context, topic string, state backend.PresenceState) error {
	if topic == "" || state.UserID == "" {
		return fmt.Errorf("presence topic and user id are required: %w", tderrors.ErrValidation)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal presence state: %w", err)
	}
	ev, err := json.Marshal(Event{Type: EventJoin, Topic: topic, State: state})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}

	expiry := s.now().Add(s.ttl)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.stateKey(topic, state.UserID), data, s.ttl)
	pipe.ZAdd(ctx, s.membersKey(topic), redis.Z{Score: float64(expiry.UnixNano()), Member: state.UserID})
	pipe.Publish(ctx, s.eventsChannel(topic), ev)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedis("track", topic, err)
	}
	return nil
}

// Untrack removes userID from topic immediately.
func (s *RedisStore) Untrack(ctx context.Context, topic, userID string) error {
	ev, err := json.Marshal(Event{Type: EventLeave, Topic: topic, State: backend.PresenceState{UserID: userID}})
	if err != nil {
		return fmt.Errorf("marshal presence event: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.stateKey(topic, userID))
	pipe.ZRem(ctx, s.membersKey(topic), userID)
	pipe.Publish(ctx, s.eventsChannel(topic), ev)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapRedis("untrack", topic, err)
	}
	return nil
}

// List returns the live members of topic ordered by OnlineAt. Expired
// members are pruned as a side effect.
func (s *RedisStore) List(ctx context.Context, topic string) ([]backend.PresenceState, error) {
	key := s.membersKey(topic)
	now := float64(s.now().UnixNano())
	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", now)).Err(); err != nil {
		return nil, wrapRedis("list", topic, err)
	}

	ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrapRedis("list", topic, err)
	}
	if len(ids) == 0 {
		return []backend.PresenceState{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.stateKey(topic, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, wrapRedis("list", topic, err)
	}

	out := make([]backend.PresenceState, 0, len(ids))
	var gone []interface{}
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			gone = append(gone, ids[i])
			continue
		}
		if err != nil {
			return nil, wrapRedis("list", topic, err)
		}
		var st backend.PresenceState
		if err := json.Unmarshal(data, &st); err != nil {
			s.logger.Warn("Skipping malformed presence state",
				logging.F("topic", topic), logging.F("user_id", ids[i]), logging.Err(err))
			continue
		}
		out = append(out, st)
	}
	if len(gone) > 0 {
		if err := s.client.ZRem(ctx, key, gone...).Err(); err != nil {
			s.logger.Debug("Failed to prune expired presence members", logging.Err(err))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OnlineAt.Equal(out[j].OnlineAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].OnlineAt.Before(out[j].OnlineAt)
	})
	return out, nil
}

// Watch subscribes to join/leave events on topic. The returned watcher
// must be closed.
func (s *RedisStore) Watch(ctx context.Context, topic string) (*Watcher, error) {
	ps := s.client.Subscribe(ctx, s.eventsChannel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, wrapRedis("watch", topic, err)
	}

	w := &Watcher{
		ps:     ps,
		events: make(chan Event, 16),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.run(ps.Channel(), s.logger)
	return w, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Watcher delivers presence events for one topic.
type Watcher struct {
	ps     *redis.PubSub
	events chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (w *Watcher) run(in <-chan *redis.Message, logger logging.Logger) {
	defer close(w.done)
	defer close(w.events)
	for {
		select {
		case <-w.stop:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("Ignoring malformed presence event", logging.F("channel", msg.Channel), logging.Err(err))
				continue
			}
			select {
			case w.events <- ev:
			case <-w.stop:
				return
			}
		}
	}
}

// Events is closed once the watcher is closed.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close unsubscribes and waits for the delivery goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.ps.Close()
		<-w.done
	})
	return err
}

func wrapRedis(op, topic string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("presence %s %s: %w: %w", op, topic, tderrors.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("presence %s %s: %w", op, topic, err)
	}
	return fmt.Errorf("presence %s %s: %w: %w", op, topic, tderrors.ErrUnavailable, err)
}

var _ backend.Presence = (*RedisStore)(nil)
