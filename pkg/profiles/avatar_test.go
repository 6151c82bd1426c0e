package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvatarURL(t *testing.T) {
	got := AvatarURL("adventurer", "Maria Rossi")
	assert.Contains(t, got, "/adventurer/")
	assert.Contains(t, got, "seed=Maria%20Rossi")
	assert.NotContains(t, got, "+")
}

func TestProfileRowRoundTrip(t *testing.T) {
	p := Profile{ID: "u1", Name: "Alice", Role: RoleAdmin}
	got := FromRow(p.Row())
	assert.Equal(t, p, got)
	assert.True(t, got.IsAdmin())
}
