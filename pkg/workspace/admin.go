package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

const (
	TableUserBans  = "user_bans"
	TableUserMutes = "user_mutes"
)

// User is a profile as listed in the admin panel.
type User struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Role      string    `json:"role" yaml:"role"`
	AvatarURL string    `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Sanction is a ban or a mute.
type Sanction struct {
	ID             string     `json:"id" yaml:"id"`
	TargetUserID   string     `json:"target_user_id" yaml:"target_user_id"`
	TargetUserName string     `json:"target_user_name" yaml:"target_user_name"`
	Reason         string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	IsActive       bool       `json:"is_active" yaml:"is_active"`
}

// SanctionInput is the input of Ban and Mute.
type SanctionInput struct {
	UserID    string `validate:"required"`
	Reason    string `validate:"max=500"`
	ExpiresAt *time.Time
}

// sanctionTable describes the columns of a ban or mute table.
type sanctionTable struct {
	name      string
	target    string
	actor     string
	createdAt string
}

var (
	bans  = sanctionTable{name: TableUserBans, target: "banned_user_id", actor: "banned_by", createdAt: "banned_at"}
	mutes = sanctionTable{name: TableUserMutes, target: "muted_user_id", actor: "muted_by", createdAt: "muted_at"}
)

// Admin is the system administration panel. Every operation requires
// the signed-in user to hold the administrator role.
type Admin struct {
	env    *env
	logger logging.Logger
}

func newAdmin(e *env) *Admin {
	return &Admin{env: e, logger: e.component("admin")}
}

// IsSystemAdmin reports whether the signed-in user is an administrator.
func (a *Admin) IsSystemAdmin(ctx context.Context) (bool, error) {
	p, err := a.env.profiles.Current(ctx, a.env.auth)
	if err != nil {
		return false, err
	}
	return p.IsAdmin(), nil
}

func (a *Admin) require(ctx context.Context) (profiles.Profile, error) {
	p, err := a.env.profiles.Current(ctx, a.env.auth)
	if err != nil {
		return profiles.Profile{}, err
	}
	if !p.IsAdmin() {
		return profiles.Profile{}, fmt.Errorf("user %s is not an administrator: %w", p.ID, tderrors.ErrForbidden)
	}
	return p, nil
}

// Users lists every profile, newest first.
func (a *Admin) Users(ctx context.Context) ([]User, error) {
	if _, err := a.require(ctx); err != nil {
		return nil, err
	}
	rows, err := a.env.tables.Select(ctx, profiles.Table, backend.Query{}.OrderBy("created_at", true))
	if err != nil {
		a.logger.Error("Error fetching users", logging.Err(err))
		return nil, fmt.Errorf("listing users: %w", err)
	}
	out := make([]User, 0, len(rows))
	for _, r := range rows {
		out = append(out, User{
			ID:        r.String("id"),
			Name:      r.String("name"),
			Role:      stringOr(r.String("role"), profiles.RoleEmployee),
			AvatarURL: r.String("avatar_url"),
			CreatedAt: r.Time("created_at"),
		})
	}
	return out, nil
}

// UpdateRole changes a user's role.
func (a *Admin) UpdateRole(ctx context.Context, userID, role string) error {
	if role != profiles.RoleAdmin && role != profiles.RoleEmployee {
		return fmt.Errorf("unknown role %q: %w", role, tderrors.ErrValidation)
	}
	if _, err := a.require(ctx); err != nil {
		return err
	}
	rows, err := a.env.tables.Update(ctx, profiles.Table, backend.Row{"role": role}, backend.Eq("id", userID))
	if err != nil {
		a.logger.Error("Error updating user role", logging.F("user_id", userID), logging.Err(err))
		return fmt.Errorf("updating role of %s: %w", userID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("user %s: %w", userID, tderrors.ErrNotFound)
	}
	a.logger.Info("User role updated", logging.F("user_id", userID), logging.F("role", role))
	return nil
}

// Ban bans a user.
func (a *Admin) Ban(ctx context.Context, in SanctionInput) (Sanction, error) {
	return a.sanction(ctx, bans, in)
}

// Mute mutes a user.
func (a *Admin) Mute(ctx context.Context, in SanctionInput) (Sanction, error) {
	return a.sanction(ctx, mutes, in)
}

func (a *Admin) sanction(ctx context.Context, t sanctionTable, in SanctionInput) (Sanction, error) {
	if err := validateInput(in); err != nil {
		return Sanction{}, err
	}
	admin, err := a.require(ctx)
	if err != nil {
		return Sanction{}, err
	}
	row := backend.Row{
		t.target:    in.UserID,
		t.actor:     admin.ID,
		"reason":    in.Reason,
		"is_active": true,
		t.createdAt: a.env.now().UTC(),
	}
	if in.ExpiresAt != nil {
		row["expires_at"] = in.ExpiresAt.UTC()
	}
	rows, err := a.env.tables.Insert(ctx, t.name, row)
	if err != nil {
		a.logger.Error("Error sanctioning user", logging.F("table", t.name), logging.F("user_id", in.UserID), logging.Err(err))
		return Sanction{}, fmt.Errorf("inserting into %s: %w", t.name, err)
	}
	a.logger.Info("User sanctioned", logging.F("table", t.name), logging.F("user_id", in.UserID))
	return a.sanctionFromRow(t, rows[0]), nil
}

// Unban deactivates a ban.
func (a *Admin) Unban(ctx context.Context, banID string) error {
	return a.deactivate(ctx, bans, banID)
}

// Unmute deactivates a mute.
func (a *Admin) Unmute(ctx context.Context, muteID string) error {
	return a.deactivate(ctx, mutes, muteID)
}

func (a *Admin) deactivate(ctx context.Context, t sanctionTable, id string) error {
	if _, err := a.require(ctx); err != nil {
		return err
	}
	rows, err := a.env.tables.Update(ctx, t.name, backend.Row{"is_active": false}, backend.Eq("id", id))
	if err != nil {
		a.logger.Error("Error lifting sanction", logging.F("table", t.name), logging.F("id", id), logging.Err(err))
		return fmt.Errorf("deactivating %s %s: %w", t.name, id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s %s: %w", t.name, id, tderrors.ErrNotFound)
	}
	return nil
}

// Bans lists active bans, newest first.
func (a *Admin) Bans(ctx context.Context) ([]Sanction, error) {
	return a.active(ctx, bans)
}

// Mutes lists active mutes, newest first.
func (a *Admin) Mutes(ctx context.Context) ([]Sanction, error) {
	return a.active(ctx, mutes)
}

func (a *Admin) active(ctx context.Context, t sanctionTable) ([]Sanction, error) {
	if _, err := a.require(ctx); err != nil {
		return nil, err
	}
	rows, err := a.env.tables.Select(ctx, t.name, backend.Query{
		Filters: []backend.Filter{backend.Eq("is_active", true)},
		Order:   []backend.Order{{Column: t.createdAt, Descending: true}},
	})
	if err != nil {
		a.logger.Error("Error fetching sanctions", logging.F("table", t.name), logging.Err(err))
		return nil, fmt.Errorf("listing %s: %w", t.name, err)
	}
	out := make([]Sanction, 0, len(rows))
	for _, r := range rows {
		out = append(out, a.sanctionFromRow(t, r))
	}
	return out, nil
}

func (a *Admin) sanctionFromRow(t sanctionTable, r backend.Row) Sanction {
	target := r.String(t.target)
	var reason string
	if p := r.OptString("reason"); p != nil {
		reason = *p
	}
	return Sanction{
		ID:             r.String("id"),
		TargetUserID:   target,
		TargetUserName: a.env.profiles.NameOf(target, UnknownUserName),
		Reason:         reason,
		CreatedAt:      r.Time(t.createdAt),
		ExpiresAt:      r.OptTime("expires_at"),
		IsActive:       r.Bool("is_active"),
	}
}

// messagesEpoch precedes every stored message.
var messagesEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// DeleteAllMessages empties the team chat.
func (a *Admin) DeleteAllMessages(ctx context.Context) error {
	admin, err := a.require(ctx)
	if err != nil {
		return err
	}
	if err := a.env.tables.Delete(ctx, TableMessages, backend.Gte("created_at", messagesEpoch)); err != nil {
		a.logger.Error("Error deleting all messages", logging.Err(err))
		return fmt.Errorf("deleting messages: %w", err)
	}
	a.logger.Warn("All chat messages deleted", logging.F("by", admin.ID))
	return nil
}
