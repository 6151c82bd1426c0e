package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
)

func TestCalendar_MergesDueDates(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	taskDue := day.Add(15 * time.Hour)
	task, err := h.ws.Tasks.Create(ctx, NewTask{Title: "Inventario", DueDate: &taskDue})
	require.NoError(t, err)
	_, err = h.ws.Tasks.Create(ctx, NewTask{Title: "Senza scadenza"})
	require.NoError(t, err)
	shipmentID := seedShipment(t, h)

	meeting, err := h.ws.Calendar.Create(ctx, NewEvent{
		Title: "Riunione",
		Start: day.Add(10 * time.Hour),
		End:   day.Add(11 * time.Hour),
		Type:  EventMeeting,
	})
	require.NoError(t, err)

	all := h.ws.Calendar.Items()
	assert.Len(t, all, 3)

	got := h.ws.Calendar.Between(day, day.Add(24*time.Hour))
	require.Len(t, got, 3)
	assert.Equal(t, ShipmentEventPrefix+shipmentID, got[0].ID)
	assert.Equal(t, "📦 ORD-1", got[0].Title)
	assert.Equal(t, meeting.ID, got[1].ID)
	assert.False(t, got[1].Synthetic)
	assert.Equal(t, TaskEventPrefix+task.ID, got[2].ID)
	assert.Equal(t, "📋 Inventario", got[2].Title)
	assert.Equal(t, EventTask, got[2].Type)
	assert.True(t, got[2].Synthetic)

	assert.Empty(t, h.ws.Calendar.Between(day.Add(24*time.Hour), day.Add(48*time.Hour)))
}

func TestCalendar_UpdateAndDelete(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	ev, err := h.ws.Calendar.Create(ctx, NewEvent{Title: "Ritiro", Start: start, End: start.Add(time.Hour), Type: EventPickup})
	require.NoError(t, err)

	title := "Ritiro spostato"
	later := start.Add(2 * time.Hour)
	laterEnd := later.Add(time.Hour)
	require.NoError(t, h.ws.Calendar.Update(ctx, ev.ID, EventUpdate{Title: &title, Start: &later, End: &laterEnd}))
	items := h.ws.Calendar.Items()
	require.Len(t, items, 1)
	assert.Equal(t, title, items[0].Title)
	assert.True(t, later.Equal(items[0].Start))

	assert.ErrorIs(t, h.ws.Calendar.Update(ctx, "missing", EventUpdate{Title: &title}), tderrors.ErrNotFound)
	assert.ErrorIs(t, h.ws.Calendar.Update(ctx, ev.ID, EventUpdate{Start: &laterEnd, End: &later}), tderrors.ErrValidation)

	require.NoError(t, h.ws.Calendar.Delete(ctx, ev.ID))
	assert.Empty(t, h.ws.Calendar.Items())
}

func TestCalendar_RejectsSyntheticAndInvalid(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	start := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	title := "x"

	assert.ErrorIs(t, h.ws.Calendar.Update(ctx, TaskEventPrefix+"t1", EventUpdate{Title: &title}), tderrors.ErrValidation)
	assert.ErrorIs(t, h.ws.Calendar.Delete(ctx, ShipmentEventPrefix+"s1"), tderrors.ErrValidation)

	_, err := h.ws.Calendar.Create(ctx, NewEvent{Title: "Fine prima", Start: start, End: start.Add(-time.Hour), Type: EventMeeting})
	require.ErrorIs(t, err, tderrors.ErrValidation)
	assert.Contains(t, err.Error(), "end must not be before start")

	_, err = h.ws.Calendar.Create(ctx, NewEvent{Title: "Tipo derivato", Start: start, End: start, Type: EventTask})
	assert.ErrorIs(t, err, tderrors.ErrValidation)
	assert.Empty(t, h.mem.Rows(TableCalendarEvents))
}
