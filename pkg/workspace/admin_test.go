package workspace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

func TestAdmin_RequiresAdministrator(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.mem.SetCurrentUser("u2")

	ok, err := h.ws.Admin.IsSystemAdmin(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.ws.Admin.Users(ctx)
	assert.ErrorIs(t, err, tderrors.ErrForbidden)
	_, err = h.ws.Admin.Ban(ctx, SanctionInput{UserID: "u3"})
	assert.ErrorIs(t, err, tderrors.ErrForbidden)
	assert.ErrorIs(t, h.ws.Admin.DeleteAllMessages(ctx), tderrors.ErrForbidden)
	assert.ErrorIs(t, h.ws.Admin.UpdateRole(ctx, "u2", profiles.RoleAdmin), tderrors.ErrForbidden)

	h.mem.SetCurrentUser("u1")
	ok, err = h.ws.Admin.IsSystemAdmin(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdmin_UsersAndRoles(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	users, err := h.ws.Admin.Users(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 3)

	require.NoError(t, h.ws.Admin.UpdateRole(ctx, "u2", profiles.RoleAdmin))
	rows := h.mem.Rows(profiles.Table)
	for _, r := range rows {
		if r.String("id") == "u2" {
			assert.Equal(t, profiles.RoleAdmin, r.String("role"))
		}
	}

	assert.ErrorIs(t, h.ws.Admin.UpdateRole(ctx, "u2", "Ospite"), tderrors.ErrValidation)
	assert.ErrorIs(t, h.ws.Admin.UpdateRole(ctx, "ghost", profiles.RoleEmployee), tderrors.ErrNotFound)
}

func TestAdmin_BansAndMutes(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	ban, err := h.ws.Admin.Ban(ctx, SanctionInput{UserID: "u2", Reason: "spam"})
	require.NoError(t, err)
	assert.Equal(t, "Bruno", ban.TargetUserName)
	assert.True(t, ban.IsActive)
	assert.Nil(t, ban.ExpiresAt)

	mute, err := h.ws.Admin.Mute(ctx, SanctionInput{UserID: "ghost", ExpiresAt: &expires})
	require.NoError(t, err)
	assert.Equal(t, UnknownUserName, mute.TargetUserName)
	require.NotNil(t, mute.ExpiresAt)
	assert.True(t, expires.Equal(*mute.ExpiresAt))

	bans, err := h.ws.Admin.Bans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, "spam", bans[0].Reason)

	require.NoError(t, h.ws.Admin.Unban(ctx, ban.ID))
	bans, err = h.ws.Admin.Bans(ctx)
	require.NoError(t, err)
	assert.Empty(t, bans)
	assert.ErrorIs(t, h.ws.Admin.Unmute(ctx, "missing"), tderrors.ErrNotFound)

	mutes, err := h.ws.Admin.Mutes(ctx)
	require.NoError(t, err)
	assert.Len(t, mutes, 1)

	_, err = h.ws.Admin.Ban(ctx, SanctionInput{})
	assert.ErrorIs(t, err, tderrors.ErrValidation)
}

func TestAdmin_DeleteAllMessages(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.ws.Chat.Send(ctx, "uno")
	require.NoError(t, err)
	_, err = h.ws.Chat.Send(ctx, "due")
	require.NoError(t, err)
	require.Len(t, h.mem.Rows(TableMessages), 2)

	require.NoError(t, h.ws.Admin.DeleteAllMessages(ctx))
	assert.Empty(t, h.mem.Rows(TableMessages))
	assert.Len(t, h.sink.Find(logging.LevelWarn, "All chat messages deleted"), 1)
}
