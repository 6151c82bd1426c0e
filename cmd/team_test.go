package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/presence"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// syncBuffer is written by a running command while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMentionsCommand_Detect(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewMentionsCommand, "detect", "ciao @ann", "-o", "json")
	require.NoError(t, err)
	var d mentions.Detection
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.True(t, d.Active)
	assert.Equal(t, "ann", d.Query)
	assert.Equal(t, 5, d.TriggerOffset)

	out, err = h.run(NewMentionsCommand, "detect", "ciao @ann", "--caret", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "No mention in progress.")
}

func TestMentionsCommand_SuggestAndPick(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewMentionsCommand, "suggest", "ciao @ann")
	require.NoError(t, err)
	assert.Contains(t, out, "Anna Rossi")
	assert.NotContains(t, out, "Bruno")

	out, err = h.run(NewMentionsCommand, "suggest", "ciao @br", "--pick", "1", "-o", "json")
	require.NoError(t, err)
	var res suggestResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.NotNil(t, res.Insertion)
	assert.Equal(t, "ciao @Bruno ", res.Insertion.Text)
	assert.Equal(t, 12, res.Insertion.Caret)

	_, err = h.run(NewMentionsCommand, "suggest", "ciao @br", "--pick", "4")
	assert.Error(t, err)
}

func TestMentionsCommand_Resolve(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewMentionsCommand, "resolve", "@Anna Rossi e @Zed", "@Bruno domani")
	require.NoError(t, err)
	assert.Contains(t, out, "u3")
	assert.Contains(t, out, "u2")
	assert.Contains(t, out, "Unmatched: Zed")
}

func TestMentionsCommand_Inbox(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(NewNotesCommand, "create", "--title", "Ordine", "--content", "@Bruno verifica")
	require.NoError(t, err)

	h.user = "u2"
	out, err := h.run(NewMentionsCommand, "inbox")
	require.NoError(t, err)
	assert.Contains(t, out, "1 unread mention(s)")
	assert.Contains(t, out, "Ordine")

	h.user = "u3"
	out, err = h.run(NewMentionsCommand, "inbox")
	require.NoError(t, err)
	assert.Contains(t, out, "No mentions.")
}

func TestProfilesCommand_ListAndMe(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewProfilesCommand, "list", "-o", "json")
	require.NoError(t, err)
	var list []profiles.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 3)
	assert.Equal(t, "Alice", list[0].Name)

	out, err = h.run(NewProfilesCommand, "me")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice ("+profiles.RoleAdmin+")")
}

func TestProfilesCommand_Avatar(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewProfilesCommand, "avatar")
	require.NoError(t, err)
	assert.Contains(t, out, "bottts")

	out, err = h.run(NewProfilesCommand, "avatar", "bottts", "--seed", "Luna")
	require.NoError(t, err)
	assert.Equal(t, profiles.AvatarURL("bottts", "Luna")+"\n", out)

	_, err = h.run(NewProfilesCommand, "avatar", "pixel-art")
	assert.Error(t, err)

	_, err = h.run(NewProfilesCommand, "avatar", "lorelei", "--set")
	require.NoError(t, err)
	for _, r := range h.mem.Rows(profiles.Table) {
		if r.String("id") == "u1" {
			assert.Equal(t, profiles.AvatarURL("lorelei", "Alice"), r.String("avatar_url"))
		}
	}
}

func TestProfilesCommand_Watch(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewProfilesCommand(h.deps)
	out := &syncBuffer{}
	c.SetOut(out)
	c.SetArgs([]string{"watch"})
	done := make(chan error, 1)
	go func() { done <- c.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return h.mem.Subscribers() > 0 }, 2*time.Second, 10*time.Millisecond)
	h.mem.Publish(backend.ChangeEvent{
		Type:  backend.EventInsert,
		Table: profiles.Table,
		New:   backend.Row{"id": "u4", "name": "Dario"},
	})
	require.Eventually(t, func() bool { return bytesContain(out, "Dario") }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "(4 profiles)")

	// A resync refetches from the store, where Dario was never written.
	h.mem.Publish(backend.ChangeEvent{Type: backend.EventResync})
	require.Eventually(t, func() bool { return bytesContain(out, "RESYNC refetched (3 profiles)") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func bytesContain(b *syncBuffer, s string) bool {
	return bytes.Contains([]byte(b.String()), []byte(s))
}

func TestPresenceCommand_ListAndWatchWithoutRedis(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(NewPresenceCommand, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Nobody is online.")

	_, err = h.run(NewPresenceCommand, "watch")
	assert.ErrorContains(t, err, "redis")
}

func TestPresenceCommand_WatchRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	h := newHarness(t)
	h.cfg.Redis = presence.RedisConfig{Addr: mr.Addr()}
	h.deps.ConnectToRedis = func(ctx context.Context, cfg *config.CLIConfig) (*redis.Client, error) {
		return presence.Connect(ctx, cfg.Redis)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewPresenceCommand(h.deps)
	out := &syncBuffer{}
	c.SetOut(out)
	c.SetArgs([]string{"watch"})
	done := make(chan error, 1)
	go func() { done <- c.ExecuteContext(ctx) }()

	rc, err := presence.Connect(ctx, h.cfg.Redis)
	require.NoError(t, err)
	other := presence.NewRedisStore(rc, presence.StoreConfig{})
	defer other.Close()

	// Track until the watcher, which subscribes asynchronously, sees it.
	require.Eventually(t, func() bool {
		_ = other.Track(ctx, h.cfg.Presence.Topic, backend.PresenceState{UserID: "u2", Name: "Bruno", OnlineAt: time.Now()})
		return bytesContain(out, "join  Bruno")
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}

func TestResolveUser(t *testing.T) {
	h := newHarness(t)
	a, _, err := h.deps.open(context.Background())
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Profiles.Ensure(context.Background()))

	id, err := resolveUser(a, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", id)

	id, err = resolveUser(a, "@anna rossi")
	require.NoError(t, err)
	assert.Equal(t, "u3", id)

	id, err = resolveUser(a, "")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = resolveUser(a, "Zed")
	assert.Error(t, err)
}
