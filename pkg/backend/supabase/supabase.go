// Package supabase is the hosted backend: tables through PostgREST and
// the signed-in user through GoTrue, both via supabase-go.
//
// supabase-go has no realtime client, so this adapter provides no change
// feed or presence. The app attaches the Postgres listener and the Redis
// presence store when they are configured.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/supabase-community/gotrue-go/types"
	postgrest "github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
)

// Config identifies a Supabase project and the stored session.
type Config struct {
	URL    string
	APIKey string

	// AccessToken is the user's session token. Without it requests run
	// with the anonymous key and row level security applies accordingly.
	AccessToken string
}

// Session is what a sign-in yields and what the credential store keeps.
type Session struct {
	AccessToken  string `json:"access_token" yaml:"access_token"`
	RefreshToken string `json:"refresh_token" yaml:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at" yaml:"expires_at"`
	UserID       string `json:"user_id" yaml:"user_id"`
	Email        string `json:"email" yaml:"email"`
}

// SignIn exchanges an email and password for a session.
func SignIn(url, apiKey, email, password string) (Session, error) {
	client, err := supa.NewClient(url, apiKey, nil)
	if err != nil {
		return Session{}, fmt.Errorf("creating supabase client: %w", err)
	}
	s, err := client.SignInWithEmailPassword(email, password)
	if err != nil {
		return Session{}, fmt.Errorf("signing in: %w: %w", tderrors.ErrUnauthorized, err)
	}
	return Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		UserID:       s.User.ID.String(),
		Email:        s.User.Email,
	}, nil
}

// New builds a backend client over a Supabase project.
func New(cfg Config) (*backend.Client, error) {
	client, err := supa.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating supabase client: %w", err)
	}
	if cfg.AccessToken != "" {
		client.UpdateAuthSession(types.Session{AccessToken: cfg.AccessToken, TokenType: "bearer"})
	}
	return &backend.Client{
		Tables: &Tables{from: client.From},
		Auth:   &Auth{client: client, token: cfg.AccessToken},
	}, nil
}

// Tables implements backend.Tables over PostgREST. PostgREST calls take
// no context, so cancellation is only checked before each request; the
// guard's timeout bounds the wait.
type Tables struct {
	from func(table string) *postgrest.QueryBuilder
}

func (t *Tables) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cols := "*"
	if len(q.Columns) > 0 {
		cols = strings.Join(q.Columns, ",")
	}
	fb, err := applyFilters(t.from(table).Select(cols, "", false), q.Filters)
	if err != nil {
		return nil, err
	}
	for _, o := range q.Order {
		fb = fb.Order(o.Column, &postgrest.OrderOpts{Ascending: !o.Descending})
	}
	if q.Limit > 0 {
		fb = fb.Limit(q.Limit, "")
	}
	return execute("select", table, fb)
}

func (t *Tables) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return execute("insert", table, t.from(table).Insert(encodeRows(rows), false, "", "representation", ""))
}

func (t *Tables) Update(ctx context.Context, table string, values backend.Row, filters ...backend.Filter) ([]backend.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fb, err := applyFilters(t.from(table).Update(encodeRow(values), "representation", ""), filters)
	if err != nil {
		return nil, err
	}
	return execute("update", table, fb)
}

func (t *Tables) Delete(ctx context.Context, table string, filters ...backend.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fb, err := applyFilters(t.from(table).Delete("minimal", ""), filters)
	if err != nil {
		return err
	}
	_, _, err = fb.Execute()
	if err != nil {
		return wrap("delete", table, err)
	}
	return nil
}

// applyFilters translates filters. PostgREST keys filters by column, so
// two filters on one column are rejected rather than silently merged.
func applyFilters(fb *postgrest.FilterBuilder, filters []backend.Filter) (*postgrest.FilterBuilder, error) {
	seen := make(map[string]bool, len(filters))
	for _, f := range filters {
		if seen[f.Column] {
			return nil, fmt.Errorf("second filter on %s: %w", f.Column, tderrors.ErrValidation)
		}
		seen[f.Column] = true
		switch f.Op {
		case backend.OpEq:
			fb = fb.Eq(f.Column, backend.ValueString(f.Value))
		case backend.OpNeq:
			fb = fb.Neq(f.Column, backend.ValueString(f.Value))
		case backend.OpIn:
			values, ok := f.Value.([]string)
			if !ok {
				return nil, fmt.Errorf("in filter on %s needs []string: %w", f.Column, tderrors.ErrValidation)
			}
			fb = fb.In(f.Column, values)
		case backend.OpGte:
			fb = fb.Gte(f.Column, backend.ValueString(f.Value))
		case backend.OpNotNull:
			fb = fb.Not(f.Column, "is", "null")
		default:
			return nil, fmt.Errorf("unsupported filter op %q: %w", f.Op, tderrors.ErrValidation)
		}
	}
	return fb, nil
}

func execute(op, table string, fb *postgrest.FilterBuilder) ([]backend.Row, error) {
	body, _, err := fb.Execute()
	if err != nil {
		return nil, wrap(op, table, err)
	}
	return decodeRows(op, table, body)
}

func decodeRows(op, table string, body []byte) ([]backend.Row, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var maps []map[string]any
	if err := json.Unmarshal(body, &maps); err != nil {
		return nil, fmt.Errorf("%s %s: decoding response: %w", op, table, err)
	}
	out := make([]backend.Row, len(maps))
	for i, m := range maps {
		out[i] = backend.Row(m)
	}
	return out, nil
}

// encodeRow turns time values into strings PostgREST accepts.
func encodeRow(r backend.Row) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		switch v.(type) {
		case nil, string, bool, int, int32, int64, float64, []string:
			out[k] = v
		default:
			out[k] = backend.ValueString(v)
		}
	}
	return out
}

func encodeRows(rows []backend.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = encodeRow(r)
	}
	return out
}

var errCode = regexp.MustCompile(`^\(([0-9A-Z]+)\)`)

// wrap maps PostgREST "(code) message" errors onto sentinels.
func wrap(op, table string, err error) error {
	m := errCode.FindStringSubmatch(err.Error())
	if m != nil {
		switch m[1] {
		case "23505":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrConflict, err)
		case "23502", "23503", "23514", "22P02", "PGRST204":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrValidation, err)
		case "42501":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrForbidden, err)
		case "PGRST116", "42P01":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrNotFound, err)
		case "PGRST301", "PGRST302":
			return fmt.Errorf("%s %s: %w: %w", op, table, tderrors.ErrUnauthorized, err)
		}
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

// Auth resolves the signed-in user from the session token through GoTrue
// and remembers it.
type Auth struct {
	client *supa.Client
	token  string

	mu sync.Mutex
	id string
}

// CurrentUserID implements backend.Auth.
func (a *Auth) CurrentUserID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if a.token == "" {
		return "", fmt.Errorf("no session, run 'teamdesk auth login': %w", tderrors.ErrUnauthorized)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id != "" {
		return a.id, nil
	}
	user, err := a.client.Auth.WithToken(a.token).GetUser()
	if err != nil {
		return "", fmt.Errorf("resolving session user: %w: %w", tderrors.ErrUnauthorized, err)
	}
	a.id = user.ID.String()
	return a.id, nil
}
