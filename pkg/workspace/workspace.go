// Package workspace holds the dashboard's data services: shipments,
// tasks, notes, chat, calendar, administration and mention notifications.
// Each list-backed service keeps a live Collection that refetches when
// the backend reports a change to one of its tables.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/observability"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// Deps are the shared collaborators every service is built from.
type Deps struct {
	Client   *backend.Client
	Profiles *profiles.Cache
	Mentions *mentions.Service

	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Timeout bounds refetches triggered by change events.
	Timeout time.Duration
	Now     func() time.Time
}

// env is the resolved form of Deps shared by the services.
type env struct {
	tables   backend.Tables
	feed     backend.Feed
	auth     backend.Auth
	profiles *profiles.Cache
	mentions *mentions.Service
	logger   logging.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	timeout  time.Duration
	now      func() time.Time
}

func newEnv(d Deps) (*env, error) {
	if d.Client == nil || d.Client.Tables == nil {
		return nil, errors.New("workspace: backend client with tables is required")
	}
	if d.Profiles == nil || d.Mentions == nil {
		return nil, errors.New("workspace: profile cache and mention service are required")
	}
	e := &env{
		tables:   d.Client.Tables,
		feed:     d.Client.Feed,
		auth:     d.Client.Auth,
		profiles: d.Profiles,
		mentions: d.Mentions,
		logger:   d.Logger,
		metrics:  d.Metrics,
		tracer:   d.Tracer,
		timeout:  d.Timeout,
		now:      d.Now,
	}
	if e.logger == nil {
		e.logger = logging.NewNopLogger()
	}
	if e.timeout <= 0 {
		e.timeout = backend.DefaultCallTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

func (e *env) component(name string) logging.Logger {
	return e.logger.With(logging.F("component", name))
}

// currentUser returns the signed-in user's id.
func (e *env) currentUser(ctx context.Context) (string, error) {
	if e.auth == nil {
		return "", fmt.Errorf("no auth backend: %w", tderrors.ErrUnauthorized)
	}
	return e.auth.CurrentUserID(ctx)
}

// person looks id up in the profile cache.
func (e *env) person(id, fallback string) Person {
	if id == "" {
		return Person{Name: fallback, AvatarURL: profiles.PlaceholderAvatarURL}
	}
	p, ok := e.profiles.Get(id)
	if !ok {
		return Person{ID: id, Name: fallback, AvatarURL: profiles.PlaceholderAvatarURL}
	}
	avatar := p.AvatarURL
	if avatar == "" {
		avatar = profiles.PlaceholderAvatarURL
	}
	return Person{ID: p.ID, Name: p.Name, AvatarURL: avatar}
}

// Workspace bundles the data services over one backend client.
type Workspace struct {
	Shipments     *Shipments
	Tasks         *Tasks
	Notes         *Notes
	Chat          *Chat
	Calendar      *Calendar
	Admin         *Admin
	Notifications *Notifications

	env *env
}

// New builds every service. Nothing is fetched until Start.
func New(d Deps) (*Workspace, error) {
	e, err := newEnv(d)
	if err != nil {
		return nil, err
	}
	return &Workspace{
		Shipments:     newShipments(e),
		Tasks:         newTasks(e),
		Notes:         newNotes(e),
		Chat:          newChat(e),
		Calendar:      newCalendar(e),
		Admin:         newAdmin(e),
		Notifications: newNotifications(e),
		env:           e,
	}, nil
}

type starter interface {
	Start(ctx context.Context) error
	Close() error
}

func (w *Workspace) live() []starter {
	return []starter{w.Shipments, w.Tasks, w.Notes, w.Chat, w.Calendar, w.Notifications}
}

// Start starts every live service. Fetch failures are logged by the
// services and joined into the returned error; subscriptions stay open
// so a later change or Refresh recovers.
func (w *Workspace) Start(ctx context.Context) error {
	var errs []error
	for _, s := range w.live() {
		if err := s.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops every change feed consumer.
func (w *Workspace) Close() error {
	var errs []error
	for _, s := range w.live() {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
