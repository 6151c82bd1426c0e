package mentions

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
)

// Phase names a step of a mention record replacement.
type Phase string

const (
	PhaseDelete Phase = "delete"
	PhaseInsert Phase = "insert"
)

// ReplaceError reports which phase of Replace failed.
//
// A delete failure leaves the previous records untouched. An insert
// failure leaves the entity with no records at all; the replacement is
// not atomic and nothing restores the old set.
type ReplaceError struct {
	Kind     Kind
	EntityID string
	Phase    Phase
	Err      error
}

func (e *ReplaceError) Error() string {
	return fmt.Sprintf("replacing %s mentions for %s: %s phase: %v", e.Kind, e.EntityID, e.Phase, e.Err)
}

func (e *ReplaceError) Unwrap() error {
	return e.Err
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Store persists mention records in the per-kind join tables.
type Store struct {
	tables  backend.Tables
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewStore creates a store over tables.
func NewStore(tables backend.Tables, cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		tables:  tables,
		logger:  logger.With(logging.F("component", "mention-store")),
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}
}

// Replace makes userIDs the complete mention set of the entity: it
// deletes every existing record, then inserts one record per id.
// The delete runs even when userIDs is empty so removed mentions go away.
func (s *Store) Replace(ctx context.Context, kind Kind, entityID string, userIDs []string) error {
	if err := kind.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, tderrors.ErrValidation)
	}
	if entityID == "" {
		return fmt.Errorf("empty %s id: %w", kind, tderrors.ErrValidation)
	}

	ctx, span := s.tracer.StartMentionReplace(ctx, string(kind), entityID, len(userIDs))
	defer span.End()

	fail := func(phase Phase, err error) error {
		rerr := &ReplaceError{Kind: kind, EntityID: entityID, Phase: phase, Err: err}
		code := tderrors.CodeOf(err)
		observability.SetError(span, rerr, string(code), tderrors.IsRetryable(code))
		s.metrics.RecordMentionReplace(string(kind), string(phase)+"_failed")
		return rerr
	}

	if err := s.tables.Delete(ctx, kind.Table(), backend.Eq(kind.EntityColumn(), entityID)); err != nil {
		s.logger.Error("Error deleting mention records",
			logging.F("kind", string(kind)),
			logging.F("entity_id", entityID),
			logging.Err(err))
		return fail(PhaseDelete, err)
	}

	if len(userIDs) > 0 {
		rows := make([]backend.Row, 0, len(userIDs))
		for _, id := range userIDs {
			rows = append(rows, backend.Row{kind.EntityColumn(): entityID, MentionedUserColumn: id})
		}
		if _, err := s.tables.Insert(ctx, kind.Table(), rows...); err != nil {
			s.logger.Warn("Mention records lost after partial replacement",
				logging.F("kind", string(kind)),
				logging.F("entity_id", entityID),
				logging.F("mentioned", len(userIDs)),
				logging.Err(err))
			return fail(PhaseInsert, err)
		}
	}

	s.metrics.RecordMentionReplace(string(kind), "ok")
	observability.SetSuccess(span)
	return nil
}

// ForEntity lists the records of one entity.
func (s *Store) ForEntity(ctx context.Context, kind Kind, entityID string) ([]Record, error) {
	return s.list(ctx, kind, backend.Eq(kind.EntityColumn(), entityID))
}

// ForEntities lists the records of several entities of one kind.
func (s *Store) ForEntities(ctx context.Context, kind Kind, entityIDs []string) ([]Record, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	return s.list(ctx, kind, backend.In(kind.EntityColumn(), entityIDs...))
}

// ForUser lists the records mentioning userID, newest first.
func (s *Store) ForUser(ctx context.Context, kind Kind, userID string) ([]Record, error) {
	return s.list(ctx, kind, backend.Eq(MentionedUserColumn, userID))
}

func (s *Store) list(ctx context.Context, kind Kind, f backend.Filter) ([]Record, error) {
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, tderrors.ErrValidation)
	}
	rows, err := s.tables.Select(ctx, kind.Table(), backend.Query{
		Filters: []backend.Filter{f},
		Order:   []backend.Order{{Column: "created_at", Descending: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind.Table(), err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, Record{
			ID:              r.String("id"),
			Kind:            kind,
			EntityID:        r.String(kind.EntityColumn()),
			MentionedUserID: r.String(MentionedUserColumn),
			CreatedAt:       r.Time("created_at"),
		})
	}
	return out, nil
}
