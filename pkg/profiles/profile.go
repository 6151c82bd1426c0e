// Package profiles holds user display identities and the shared profile
// cache every mention-aware component reads from.
package profiles

import (
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
)

// Table is the backend table holding profiles.
const Table = "profiles"

// Columns are the profile columns the cache loads.
var Columns = []string{"id", "name", "avatar_url", "role", "created_at"}

// Roles known to the dashboard.
const (
	RoleAdmin    = "Amministratore"
	RoleEmployee = "Dipendente"
)

// Profile is a user's display identity.
type Profile struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	AvatarURL string    `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	Role      string    `json:"role,omitempty" yaml:"role,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// IsAdmin reports whether the profile has the system administrator role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// FromRow converts a profiles row.
func FromRow(r backend.Row) Profile {
	return Profile{
		ID:        r.String("id"),
		Name:      r.String("name"),
		AvatarURL: r.String("avatar_url"),
		Role:      r.String("role"),
		CreatedAt: r.Time("created_at"),
	}
}

// Row converts the profile back into a row for writes.
func (p Profile) Row() backend.Row {
	r := backend.Row{"id": p.ID, "name": p.Name}
	if p.AvatarURL != "" {
		r["avatar_url"] = p.AvatarURL
	}
	if p.Role != "" {
		r["role"] = p.Role
	}
	return r
}
