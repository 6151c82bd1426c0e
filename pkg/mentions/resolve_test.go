package mentions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

var team = []profiles.Profile{
	{ID: "u1", Name: "Alice"},
	{ID: "u2", Name: "Anna"},
	{ID: "u3", Name: "Maria Rossi"},
	{ID: "u4", Name: "Maria"},
	{ID: "u5", Name: "Élodie Durand"},
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"Anna ciao", "Anna"}, Tokens("@Anna ciao @Anna"))
	assert.Equal(t, []string{"Maria Rossi"}, Tokens("hey @Maria Rossi"))
	assert.Equal(t, []string{"a", "b"}, Tokens("@a@b"))
	assert.Empty(t, Tokens("no mentions @ here"))
	assert.Empty(t, Tokens(""))
}

func TestMatch(t *testing.T) {
	tests := []struct {
		token  string
		wantID string
		wantOK bool
	}{
		{"alice", "u1", true},
		{"@Anna", "u2", true},
		{"Maria Rossi", "u3", true},
		{"Maria", "u4", true},
		{"Maria Rossi domani", "u3", true},
		{"Maria domani", "u4", true},
		{"Anna ciao", "u2", true},
		{"Annabel", "", false},
		{"ross", "u3", true},
		{"élodie durand", "u5", true},
		{"Bob", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			p, ok := Match(team, tt.token)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, p.ID)
		})
	}
}

func TestResolve_Dedup(t *testing.T) {
	res := Resolve("@Anna ciao @Anna", []profiles.Profile{{ID: "u2", Name: "Anna"}})
	assert.Equal(t, []string{"u2"}, res.UserIDs)
	assert.Empty(t, res.Unmatched)
}

func TestResolve_Idempotent(t *testing.T) {
	text := "@Maria Rossi and @alice, ask @Nobody about @Anna"
	first := Resolve(text, team)
	second := Resolve(text, team)
	assert.ElementsMatch(t, first.UserIDs, second.UserIDs)
	assert.Equal(t, first, second)
}

func TestResolve_DropsUnmatched(t *testing.T) {
	res := Resolve("ping @Nobody", team)
	assert.Empty(t, res.UserIDs)
	assert.NotNil(t, res.UserIDs)
	assert.Equal(t, []string{"Nobody"}, res.Unmatched)
}

func TestResolveAll(t *testing.T) {
	res := ResolveAll(team, "Ship it @Alice", "cc @Anna @alice")
	assert.Equal(t, []string{"u1", "u2"}, res.UserIDs)
}
