package workspace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
)

// TableCalendarEvents holds stored calendar events.
const TableCalendarEvents = "calendar_events"

// Synthetic event id prefixes for entities with a due date.
const (
	TaskEventPrefix     = "task-"
	ShipmentEventPrefix = "shipment-"
)

// Event is a calendar entry. Synthetic events are derived from task and
// shipment due dates and cannot be edited directly.
type Event struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	Start      time.Time `json:"start" yaml:"start"`
	End        time.Time `json:"end" yaml:"end"`
	Type       EventType `json:"type" yaml:"type"`
	ResourceID string    `json:"resource_id,omitempty" yaml:"resource_id,omitempty"`
	Synthetic  bool      `json:"synthetic,omitempty" yaml:"synthetic,omitempty"`
}

// NewEvent is the input of Create. Only meetings and pickups are stored.
type NewEvent struct {
	Title      string    `validate:"required,max=200"`
	Start      time.Time `validate:"required"`
	End        time.Time `validate:"required,gtefield=Start"`
	Type       EventType `validate:"required,oneof=meeting pickup"`
	ResourceID string
}

// EventUpdate is a partial update; nil fields are left alone.
type EventUpdate struct {
	Title *string `validate:"omitempty,min=1,max=200"`
	Start *time.Time
	End   *time.Time
}

// Calendar merges stored events with task and shipment due dates.
type Calendar struct {
	*Collection[Event]
	env    *env
	logger logging.Logger
}

func newCalendar(e *env) *Calendar {
	c := &Calendar{env: e, logger: e.component("calendar")}
	c.Collection = newCollection(e, "calendar events", []string{TableCalendarEvents, TableTasks, TableShipments}, c.fetch)
	return c
}

func (c *Calendar) fetch(ctx context.Context) ([]Event, error) {
	stored, err := c.env.tables.Select(ctx, TableCalendarEvents, backend.Query{}.OrderBy("start_time", false))
	if err != nil {
		return nil, err
	}
	tasks, err := c.env.tables.Select(ctx, TableTasks, backend.Query{
		Columns: []string{"id", "title", "due_date"},
		Filters: []backend.Filter{backend.NotNull("due_date")},
	})
	if err != nil {
		return nil, err
	}
	shipments, err := c.env.tables.Select(ctx, TableShipments, backend.Query{
		Columns: []string{"id", "order_number", "due_date"},
		Filters: []backend.Filter{backend.NotNull("due_date")},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Event, 0, len(stored)+len(tasks)+len(shipments))
	for _, r := range stored {
		out = append(out, eventFromRow(r))
	}
	for _, r := range tasks {
		due := r.Time("due_date")
		out = append(out, Event{
			ID:         TaskEventPrefix + r.String("id"),
			Title:      "📋 " + r.String("title"),
			Start:      due,
			End:        due,
			Type:       EventTask,
			ResourceID: r.String("id"),
			Synthetic:  true,
		})
	}
	for _, r := range shipments {
		due := r.Time("due_date")
		out = append(out, Event{
			ID:         ShipmentEventPrefix + r.String("id"),
			Title:      "📦 " + r.String("order_number"),
			Start:      due,
			End:        due,
			Type:       EventShipment,
			ResourceID: r.String("id"),
			Synthetic:  true,
		})
	}
	return out, nil
}

func eventFromRow(r backend.Row) Event {
	return Event{
		ID:         r.String("id"),
		Title:      r.String("title"),
		Start:      r.Time("start_time"),
		End:        r.Time("end_time"),
		Type:       EventType(r.String("type")),
		ResourceID: r.String("resource_id"),
	}
}

// Between returns the events overlapping [from, to), ordered by start.
func (c *Calendar) Between(from, to time.Time) []Event {
	var out []Event
	for _, ev := range c.Items() {
		if ev.Start.Before(to) && !ev.End.Before(from) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func isSynthetic(id string) bool {
	return strings.HasPrefix(id, TaskEventPrefix) || strings.HasPrefix(id, ShipmentEventPrefix)
}

// Create stores a meeting or pickup and refreshes the calendar.
func (c *Calendar) Create(ctx context.Context, in NewEvent) (Event, error) {
	if err := validateInput(in); err != nil {
		return Event{}, err
	}
	userID, err := c.env.currentUser(ctx)
	if err != nil {
		return Event{}, err
	}
	row := backend.Row{
		"title":      in.Title,
		"start_time": in.Start.UTC(),
		"end_time":   in.End.UTC(),
		"type":       string(in.Type),
		"created_by": userID,
	}
	if in.ResourceID != "" {
		row["resource_id"] = in.ResourceID
	}
	rows, err := c.env.tables.Insert(ctx, TableCalendarEvents, row)
	if err != nil {
		c.logger.Error("Error creating calendar event", logging.Err(err))
		return Event{}, fmt.Errorf("creating event: %w", err)
	}
	_ = c.Refresh(ctx)
	return eventFromRow(rows[0]), nil
}

// Update changes a stored event and refreshes the calendar.
func (c *Calendar) Update(ctx context.Context, id string, u EventUpdate) error {
	if isSynthetic(id) {
		return fmt.Errorf("event %s is derived from a due date: %w", id, tderrors.ErrValidation)
	}
	if err := validateInput(u); err != nil {
		return err
	}
	if u.Start != nil && u.End != nil && u.End.Before(*u.Start) {
		return fmt.Errorf("end must not be before start: %w", tderrors.ErrValidation)
	}
	values := backend.Row{}
	if u.Title != nil {
		values["title"] = *u.Title
	}
	if u.Start != nil {
		values["start_time"] = u.Start.UTC()
	}
	if u.End != nil {
		values["end_time"] = u.End.UTC()
	}
	if len(values) == 0 {
		return nil
	}
	rows, err := c.env.tables.Update(ctx, TableCalendarEvents, values, backend.Eq("id", id))
	if err != nil {
		c.logger.Error("Error updating calendar event", logging.F("event_id", id), logging.Err(err))
		return fmt.Errorf("updating event %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("event %s: %w", id, tderrors.ErrNotFound)
	}
	_ = c.Refresh(ctx)
	return nil
}

// Delete removes a stored event and refreshes the calendar.
func (c *Calendar) Delete(ctx context.Context, id string) error {
	if isSynthetic(id) {
		return fmt.Errorf("event %s is derived from a due date: %w", id, tderrors.ErrValidation)
	}
	if err := c.env.tables.Delete(ctx, TableCalendarEvents, backend.Eq("id", id)); err != nil {
		c.logger.Error("Error deleting calendar event", logging.F("event_id", id), logging.Err(err))
		return fmt.Errorf("deleting event %s: %w", id, err)
	}
	_ = c.Refresh(ctx)
	return nil
}
