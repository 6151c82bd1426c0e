package backend

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

// DefaultCallTimeout bounds every backend call unless configured otherwise.
const DefaultCallTimeout = 10 * time.Second

// BreakerConfig configures the circuit breaker in front of the backend.
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns the breaker settings used by the CLI.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "backend",
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// GuardConfig configures Guard.
type GuardConfig struct {
	// Timeout bounds each call. Zero uses DefaultCallTimeout.
	Timeout time.Duration

	// Breaker configures the circuit breaker. A zero Name disables it.
	Breaker BreakerConfig

	Logger  logging.Logger
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
}

type guard struct {
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

func newGuard(cfg GuardConfig) *guard {
	g := &guard{
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
	}
	if g.timeout <= 0 {
		g.timeout = DefaultCallTimeout
	}
	if g.logger == nil {
		g.logger = logging.NewNopLogger()
	}
	g.logger = g.logger.With(logging.F("component", "backend-guard"))

	if bc := cfg.Breaker; bc.Name != "" {
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        bc.Name,
			MaxRequests: bc.MaxRequests,
			Interval:    bc.Interval,
			Timeout:     bc.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				if counts.Requests < bc.MinRequests {
					return false
				}
				return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				g.metrics.SetBreakerState(name, float64(to))
				g.logger.Warn("Circuit breaker state changed",
					logging.F("breaker", name),
					logging.F("from", from.String()),
					logging.F("to", to.String()))
			},
			// Client-side rejections say nothing about backend health.
			IsSuccessful: func(err error) bool {
				if tderrors.IsUnauthorized(err) || tderrors.IsValidation(err) {
					return true
				}
				switch tderrors.CodeOf(err) {
				case "", tderrors.CodeNotFound, tderrors.CodeConflict, tderrors.CodeForbidden, tderrors.CodeCancelled:
					return true
				}
				return false
			},
		})
	}
	return g
}

// do runs fn under the call timeout, the breaker, a span and metrics, and
// returns a *errors.BackendError on failure.
func (g *guard) do(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	ctx, span := g.tracer.StartBackendCall(ctx, op, table)
	defer span.End()

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	run := func() (interface{}, error) {
		return nil, runBounded(callCtx, fn)
	}

	var err error
	if g.breaker != nil {
		_, err = g.breaker.Execute(run)
	} else {
		_, err = run()
	}

	elapsed := time.Since(start)
	if err == nil {
		g.metrics.RecordBackendCall(op, table, "ok", elapsed.Seconds())
		observability.SetSuccess(span)
		return nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &tderrors.BackendError{Code: tderrors.CodeCircuitOpen, Op: op, Table: table, Message: err.Error(), Cause: err}
	}
	be := tderrors.Classify(err, op, table)
	if be.Code == tderrors.CodeTimeout && ctx.Err() == nil {
		be.Timeout = g.timeout
	}
	g.metrics.RecordBackendCall(op, table, string(be.Code), elapsed.Seconds())
	observability.SetError(span, be, string(be.Code), tderrors.IsRetryable(be.Code))
	return be
}

// runBounded returns when fn does or when ctx ends, whichever is first.
// Adapters whose client ignores ctx keep running in the background until
// their own transport gives up.
func runBounded(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Guard wraps every capability of c with the call timeout, circuit
// breaker, tracing and metrics. Subscriptions themselves are not bounded;
// only opening them is.
func Guard(c *Client, cfg GuardConfig) *Client {
	g := newGuard(cfg)
	out := &Client{closers: c.closers}
	if c.Tables != nil {
		out.Tables = &guardedTables{next: c.Tables, g: g}
	}
	if c.Feed != nil {
		out.Feed = &guardedFeed{next: c.Feed, g: g}
	}
	if c.Presence != nil {
		out.Presence = &guardedPresence{next: c.Presence, g: g}
	}
	if c.Auth != nil {
		out.Auth = &guardedAuth{next: c.Auth, g: g}
	}
	return out
}

type guardedTables struct {
	next Tables
	g    *guard
}

func (t *guardedTables) Select(ctx context.Context, table string, q Query) ([]Row, error) {
	var rows []Row
	err := t.g.do(ctx, "select", table, func(ctx context.Context) error {
		var err error
		rows, err = t.next.Select(ctx, table, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *guardedTables) Insert(ctx context.Context, table string, rows ...Row) ([]Row, error) {
	var out []Row
	err := t.g.do(ctx, "insert", table, func(ctx context.Context) error {
		var err error
		out, err = t.next.Insert(ctx, table, rows...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *guardedTables) Update(ctx context.Context, table string, values Row, filters ...Filter) ([]Row, error) {
	var out []Row
	err := t.g.do(ctx, "update", table, func(ctx context.Context) error {
		var err error
		out, err = t.next.Update(ctx, table, values, filters...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *guardedTables) Delete(ctx context.Context, table string, filters ...Filter) error {
	return t.g.do(ctx, "delete", table, func(ctx context.Context) error {
		return t.next.Delete(ctx, table, filters...)
	})
}

type guardedFeed struct {
	next Feed
	g    *guard
}

func (f *guardedFeed) Subscribe(ctx context.Context, tables ...string) (Subscription, error) {
	var sub Subscription
	err := f.g.do(ctx, "subscribe", "", func(ctx context.Context) error {
		var err error
		sub, err = f.next.Subscribe(ctx, tables...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

type guardedPresence struct {
	next Presence
	g    *guard
}

func (p *guardedPresence) Track(ctx context.Context, topic string, state PresenceState) error {
	return p.g.do(ctx, "presence_track", topic, func(ctx context.Context) error {
		return p.next.Track(ctx, topic, state)
	})
}

func (p *guardedPresence) Untrack(ctx context.Context, topic, userID string) error {
	return p.g.do(ctx, "presence_untrack", topic, func(ctx context.Context) error {
		return p.next.Untrack(ctx, topic, userID)
	})
}

func (p *guardedPresence) List(ctx context.Context, topic string) ([]PresenceState, error) {
	var out []PresenceState
	err := p.g.do(ctx, "presence_list", topic, func(ctx context.Context) error {
		var err error
		out, err = p.next.List(ctx, topic)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type guardedAuth struct {
	next Auth
	g    *guard
}

func (a *guardedAuth) CurrentUserID(ctx context.Context) (string, error) {
	var id string
	err := a.g.do(ctx, "current_user", "", func(ctx context.Context) error {
		var err error
		id, err = a.next.CurrentUserID(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
