package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications_InboxAndMarkAllRead(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	// Bruno writes a note mentioning Alice.
	h.mem.SetCurrentUser("u2")
	note, err := h.ws.Notes.Create(ctx, NewNote{Title: "Ordine urgente", Content: "@Alice controlla"})
	require.NoError(t, err)
	_, err = h.ws.Notes.Create(ctx, NewNote{Title: "Solo per me", Content: "@Bruno ricordati"})
	require.NoError(t, err)
	h.mem.SetCurrentUser("u1")

	n := h.ws.Notifications
	require.NoError(t, n.Start(ctx))
	require.Equal(t, 1, n.UnreadCount())
	got := n.Items()[0]
	assert.Equal(t, note.ID, got.NoteID)
	assert.Equal(t, "Ordine urgente", got.NoteTitle)
	assert.Equal(t, "Bruno", got.MentionedBy)
	assert.False(t, got.CreatedAt.IsZero())

	n.MarkAllRead()
	assert.Equal(t, 0, n.UnreadCount())
	require.NoError(t, n.Refresh(ctx))
	assert.Equal(t, 0, n.UnreadCount())

	// Editing the note rewrites its mention records but it stays read.
	h.mem.SetCurrentUser("u2")
	edited := "@Alice controlla subito"
	_, err = h.ws.Notes.Update(ctx, note.ID, NoteUpdate{Content: &edited})
	require.NoError(t, err)
	h.mem.SetCurrentUser("u1")
	require.NoError(t, n.Refresh(ctx))
	assert.Equal(t, 0, n.UnreadCount())

	// A new mention shows up again.
	h.mem.SetCurrentUser("u3")
	_, err = h.ws.Notes.Create(ctx, NewNote{Title: "Altro", Content: "ciao @Alice"})
	require.NoError(t, err)
	h.mem.SetCurrentUser("u1")
	require.NoError(t, n.Refresh(ctx))
	require.Equal(t, 1, n.UnreadCount())
	assert.Equal(t, "Maria Rossi", n.Items()[0].MentionedBy)
}

func TestNotifications_SkipsDeletedNotes(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	h.mem.SetCurrentUser("u2")
	note, err := h.ws.Notes.Create(ctx, NewNote{Title: "Temporanea", Content: "@Alice"})
	require.NoError(t, err)
	h.mem.SetCurrentUser("u1")

	require.NoError(t, h.ws.Notifications.Start(ctx))
	require.Equal(t, 1, h.ws.Notifications.UnreadCount())

	require.NoError(t, h.ws.Notes.Delete(ctx, note.ID))
	require.NoError(t, h.ws.Notifications.Refresh(ctx))
	assert.Equal(t, 0, h.ws.Notifications.UnreadCount())
}
