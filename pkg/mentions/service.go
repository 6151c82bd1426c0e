package mentions

import (
	"context"

	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// Directory supplies the current profile list without blocking.
// *profiles.Cache satisfies it.
type Directory interface {
	Profiles() []profiles.Profile
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	SuggestionLimit int
	Logger          logging.Logger
	Metrics         *observability.Metrics
}

// Service ties the text helpers to a profile directory and a store.
type Service struct {
	dir     Directory
	store   *Store
	limit   int
	logger  logging.Logger
	metrics *observability.Metrics
}

// NewService creates a mention service.
func NewService(dir Directory, store *Store, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	limit := cfg.SuggestionLimit
	if limit <= 0 {
		limit = DefaultSuggestionLimit
	}
	return &Service{
		dir:     dir,
		store:   store,
		limit:   limit,
		logger:  logger.With(logging.F("component", "mentions")),
		metrics: cfg.Metrics,
	}
}

// Store returns the record store.
func (s *Service) Store() *Store {
	return s.store
}

// Suggestions detects the mention at caret and returns matching profiles.
// No mention in progress yields no suggestions.
func (s *Service) Suggestions(text string, caret int) (Detection, []profiles.Profile) {
	d := Detect(text, caret)
	if !d.Active {
		return d, nil
	}
	return d, Suggest(s.dir.Profiles(), d.Query, s.limit)
}

// Complete splices p in place of the mention in progress.
func (s *Service) Complete(text string, caret int, p profiles.Profile) (Insertion, error) {
	return Complete(text, caret, p)
}

// Resolve maps the tokens of texts to profile ids. Misses are logged at
// debug level and dropped.
func (s *Service) Resolve(texts ...string) Resolution {
	res := ResolveAll(s.dir.Profiles(), texts...)
	for range res.UserIDs {
		s.metrics.RecordMentionToken("matched")
	}
	for _, tok := range res.Unmatched {
		s.metrics.RecordMentionToken("unmatched")
		s.logger.Debug("Dropping unmatched mention", logging.F("token", tok))
	}
	return res
}

// Save resolves texts and replaces the entity's mention records with the
// result.
func (s *Service) Save(ctx context.Context, kind Kind, entityID string, texts ...string) (Resolution, error) {
	res := s.Resolve(texts...)
	if err := s.store.Replace(ctx, kind, entityID, res.UserIDs); err != nil {
		return res, err
	}
	s.logger.Debug("Mention records replaced",
		logging.F("kind", string(kind)),
		logging.F("entity_id", entityID),
		logging.F("mentioned", len(res.UserIDs)))
	return res, nil
}
