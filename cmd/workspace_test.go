package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
	"github.com/otherjamesbrown/teamdesk/pkg/workspace"
)

func TestNotesCommand_CreateListUpdateDelete(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewNotesCommand, "create", "--title", "Inventario", "--content", "@Bruno controlla il magazzino")
	require.NoError(t, err)
	assert.Contains(t, out, "Inventario")
	assert.Contains(t, out, "Mentions: Bruno")

	id := h.only(t, workspace.TableNotes).String("id")
	rec := h.only(t, mentions.KindNote.Table())
	assert.Equal(t, "u2", rec.String("mentioned_user_id"))

	out, err = h.run(NewNotesCommand, "list", "-o", "json")
	require.NoError(t, err)
	var notes []workspace.Note
	require.NoError(t, json.Unmarshal([]byte(out), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, []string{"u2"}, notes[0].Mentioned)
	assert.Equal(t, workspace.DefaultNotebook, notes[0].Notebook)

	// Removing the mention removes its record.
	_, err = h.run(NewNotesCommand, "update", id, "--content", "tutto a posto")
	require.NoError(t, err)
	assert.Empty(t, h.mem.Rows(mentions.KindNote.Table()))

	out, err = h.run(NewNotesCommand, "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted note "+id)
	assert.Empty(t, h.mem.Rows(workspace.TableNotes))
}

func TestNotesCommand_ListFiltersNotebook(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewNotesCommand, "create", "--title", "A", "--notebook", "Magazzino")
	require.NoError(t, err)
	_, err = h.run(NewNotesCommand, "create", "--title", "B")
	require.NoError(t, err)

	out, err := h.run(NewNotesCommand, "list", "--notebook", "Magazzino")
	require.NoError(t, err)
	assert.Contains(t, out, "A")
	assert.NotContains(t, out, "  B\n")
}

func TestTasksCommand_Lifecycle(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewTasksCommand, "create",
		"--title", "Chiamare @Anna Rossi", "--assignee", "Bruno",
		"--priority", "Alta", "--due", "2024-03-04", "--tag", "telefono")
	require.NoError(t, err)
	assert.Contains(t, out, "Created task")

	row := h.only(t, workspace.TableTasks)
	id := row.String("id")
	assert.Equal(t, "u2", row.String("assigned_to"))
	assert.Equal(t, "u3", h.only(t, mentions.KindTask.Table()).String("mentioned_user_id"))

	_, err = h.run(NewTasksCommand, "subtask", "add", id, "Trovare il numero")
	require.NoError(t, err)
	sub := h.only(t, workspace.TableSubTasks)

	out, err = h.run(NewTasksCommand, "subtask", "toggle", sub.String("id"))
	require.NoError(t, err)
	assert.Contains(t, out, "is done")

	_, err = h.run(NewTasksCommand, "complete", id)
	require.NoError(t, err)
	assert.True(t, h.only(t, workspace.TableTasks).Bool("completed"))

	out, err = h.run(NewTasksCommand, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks.")

	out, err = h.run(NewTasksCommand, "list", "--all", "-o", "json")
	require.NoError(t, err)
	var tasks []workspace.Task
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].Completed)
	assert.Equal(t, workspace.PriorityHigh, tasks[0].Priority)
	require.Len(t, tasks[0].SubTasks, 1)
	assert.True(t, tasks[0].SubTasks[0].Completed)

	_, err = h.run(NewTasksCommand, "delete", id)
	require.NoError(t, err)
	assert.Empty(t, h.mem.Rows(workspace.TableTasks))
	assert.Empty(t, h.mem.Rows(mentions.KindTask.Table()))
}

func TestTasksCommand_UnknownAssignee(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewTasksCommand, "create", "--title", "x", "--assignee", "Zed")
	require.Error(t, err)
	assert.ErrorIs(t, err, tderrors.ErrNotFound)
	assert.Empty(t, h.mem.Rows(workspace.TableTasks))
}

func TestTasksCommand_BadDueDate(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewTasksCommand, "create", "--title", "x", "--due", "tomorrow")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want workspace.ShipmentStatus
	}{
		{"hold", workspace.StatusOnHold},
		{"Spedizioni Ferme", workspace.StatusOnHold},
		{"upcoming", workspace.StatusUpcoming},
		{"spedizioni future", workspace.StatusUpcoming},
		{" pickup ", workspace.StatusPickup},
		{"Ritira il Cliente", workspace.StatusPickup},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := parseStatus("shipped")
	assert.Error(t, err)
}

func TestParseLine(t *testing.T) {
	line, err := parseLine("p1")
	require.NoError(t, err)
	assert.Equal(t, workspace.LineInput{ProductID: "p1", Quantity: 1}, line)

	line, err = parseLine("p2:4")
	require.NoError(t, err)
	assert.Equal(t, 4, line.Quantity)

	_, err = parseLine("p3:many")
	assert.Error(t, err)
}

func TestShipmentsCommand_Board(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(NewShipmentsCommand, "customer", "--name", "Rossi Srl", "--address", "Via Roma 1")
	require.NoError(t, err)
	_, err = h.run(NewShipmentsCommand, "product", "--name", "Pallet", "--sku", "PAL-1")
	require.NoError(t, err)
	customerID := h.only(t, workspace.TableCustomers).String("id")
	productID := h.only(t, workspace.TableProducts).String("id")

	out, err := h.run(NewShipmentsCommand, "create", "--order", "2024-118", "--customer", customerID, "--product", productID+":3")
	require.NoError(t, err)
	assert.Contains(t, out, "order 2024-118")
	ship := h.only(t, workspace.TableShipments)
	assert.Equal(t, string(workspace.StatusUpcoming), ship.String("status"))
	assert.Equal(t, 3, h.only(t, workspace.TableShipmentProducts).Int("quantity"))

	_, err = h.run(NewShipmentsCommand, "move", ship.String("id"), "pickup")
	require.NoError(t, err)
	assert.Equal(t, string(workspace.StatusPickup), h.only(t, workspace.TableShipments).String("status"))

	_, err = h.run(NewShipmentsCommand, "comment", ship.String("id"), "Pronto al ritiro")
	require.NoError(t, err)
	assert.Len(t, h.mem.Rows(workspace.TableComments), 1)

	out, err = h.run(NewShipmentsCommand, "list", "--status", "pickup", "-o", "json")
	require.NoError(t, err)
	var board map[workspace.ShipmentStatus][]workspace.Shipment
	require.NoError(t, json.Unmarshal([]byte(out), &board))
	require.Len(t, board[workspace.StatusPickup], 1)
	assert.Equal(t, "Rossi Srl", board[workspace.StatusPickup][0].Customer.Name)
	assert.NotContains(t, board, workspace.StatusUpcoming)

	out, err = h.run(NewShipmentsCommand, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Spedizioni Future (0)")
	assert.Contains(t, out, "Ritira il Cliente (1)")
	assert.Contains(t, out, "3x Pallet")
}

func TestShipmentsCommand_MoveRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewShipmentsCommand, "move", "s1", "lost")
	assert.Error(t, err)
}

func TestChatCommand_SendAndList(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(NewChatCommand, "send", "@Bruno", "il", "corriere", "arriva")
	require.NoError(t, err)
	msg := h.only(t, workspace.TableMessages)
	assert.Equal(t, "@Bruno il corriere arriva", msg.String("content"))
	assert.Equal(t, "u2", h.only(t, mentions.KindMessage.Table()).String("mentioned_user_id"))

	out, err := h.run(NewChatCommand, "list", "-o", "json")
	require.NoError(t, err)
	var msgs []workspace.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, "Alice", msgs[0].SenderName)
	assert.Equal(t, []string{"Bruno"}, msgs[0].Mentions)
}

func TestChatCommand_RejectsBlankMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewChatCommand, "send", "   ")
	assert.ErrorIs(t, err, tderrors.ErrValidation)
	assert.Empty(t, h.mem.Rows(workspace.TableMessages))
}

func TestCalendarCommand_AddListMoveDelete(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewCalendarCommand, "add", "--title", "Riunione", "--start", "2024-03-04 10:00", "--duration", "30m")
	require.NoError(t, err)
	assert.Contains(t, out, "Scheduled meeting")
	id := h.only(t, workspace.TableCalendarEvents).String("id")

	out, err = h.run(NewCalendarCommand, "list", "--from", "2024-03-04", "--to", "2024-03-05", "-o", "json")
	require.NoError(t, err)
	var events []workspace.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, workspace.EventMeeting, events[0].Type)
	assert.Equal(t, 30.0, events[0].End.Sub(events[0].Start).Minutes())

	out, err = h.run(NewCalendarCommand, "list", "--from", "2024-03-05", "--days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "No events.")

	_, err = h.run(NewCalendarCommand, "move", id, "--start", "2024-03-04 11:00", "--end", "2024-03-04 12:00")
	require.NoError(t, err)

	_, err = h.run(NewCalendarCommand, "delete", id)
	require.NoError(t, err)
	assert.Empty(t, h.mem.Rows(workspace.TableCalendarEvents))
}

func TestCalendarCommand_RejectsTaskType(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewCalendarCommand, "add", "--title", "x", "--start", "2024-03-04 10:00", "--type", "task")
	assert.ErrorIs(t, err, tderrors.ErrValidation)
}

func TestAdminCommand_RequiresAdministrator(t *testing.T) {
	h := newHarness(t)
	h.user = "u2"
	_, err := h.run(NewAdminCommand, "users")
	assert.ErrorIs(t, err, tderrors.ErrForbidden)
}

func TestAdminCommand_UsersAndRoles(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewAdminCommand, "users", "-o", "json")
	require.NoError(t, err)
	var users []workspace.User
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	assert.Len(t, users, 3)

	out, err = h.run(NewAdminCommand, "role", "Bruno", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "Bruno is now "+profiles.RoleAdmin)

	_, err = h.run(NewAdminCommand, "role", "Bruno", "owner")
	assert.Error(t, err)
}

func TestAdminCommand_Sanctions(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(NewAdminCommand, "ban", "Bruno", "--reason", "spam", "--until", "2030-01-01")
	require.NoError(t, err)
	_, err = h.run(NewAdminCommand, "mute", "u3")
	require.NoError(t, err)

	out, err := h.run(NewAdminCommand, "sanctions", "-o", "json")
	require.NoError(t, err)
	var list sanctionList
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Bans, 1)
	require.Len(t, list.Mutes, 1)
	assert.Equal(t, "spam", list.Bans[0].Reason)
	assert.NotNil(t, list.Bans[0].ExpiresAt)

	_, err = h.run(NewAdminCommand, "unban", list.Bans[0].ID)
	require.NoError(t, err)
	out, err = h.run(NewAdminCommand, "sanctions")
	require.NoError(t, err)
	assert.Contains(t, out, "Bans (0)")
	assert.Contains(t, out, "Mutes (1)")
}

func TestAdminCommand_ClearChatNeedsConfirmation(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewChatCommand, "send", "ciao")
	require.NoError(t, err)

	_, err = h.run(NewAdminCommand, "clear-chat")
	assert.Error(t, err)
	assert.Len(t, h.mem.Rows(workspace.TableMessages), 1)

	_, err = h.run(NewAdminCommand, "clear-chat", "--yes")
	require.NoError(t, err)
	assert.Empty(t, h.mem.Rows(workspace.TableMessages))
}
