package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/credentials"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/backend/memory"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// harness runs commands against one in-memory backend. Every command
// opens its own App on it, as separate CLI invocations would.
type harness struct {
	deps *CommandDeps
	mem  *memory.Backend
	cfg  *config.CLIConfig
	user string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("TEAMDESK_ACCESS_TOKEN", "")

	mem := memory.New()
	mem.Seed(profiles.Table,
		backend.Row{"id": "u1", "name": "Alice", "role": profiles.RoleAdmin},
		backend.Row{"id": "u2", "name": "Bruno", "role": profiles.RoleEmployee},
		backend.Row{"id": "u3", "name": "Anna Rossi", "role": profiles.RoleEmployee},
	)
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendMemory

	h := &harness{mem: mem, cfg: cfg, user: "u1"}
	h.deps = &CommandDeps{
		LoadConfig: func() (*config.CLIConfig, error) { return h.cfg, nil },
		NewStore: func() (*credentials.Store, error) {
			return nil, errors.New("no credential store in tests")
		},
		OpenApp: func(ctx context.Context, cfg *config.CLIConfig, _ *credentials.Credentials) (*app.App, error) {
			return app.New(ctx, cfg, app.Options{
				Session: &credentials.Credentials{UserID: h.user},
				Logger:  logging.NewNopLogger(),
				Memory:  h.mem,
			})
		},
		Stdin: strings.NewReader(""),
	}
	return h
}

// run executes the command built by build with args and returns its output.
func (h *harness) run(build func(*CommandDeps) *cobra.Command, args ...string) (string, error) {
	return execute(build(h.deps), args...)
}

func execute(c *cobra.Command, args ...string) (string, error) {
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(args)
	c.SilenceUsage = true
	c.SilenceErrors = true
	err := c.ExecuteContext(context.Background())
	return out.String(), err
}

// only returns the single row of table.
func (h *harness) only(t *testing.T, table string) backend.Row {
	t.Helper()
	rows := h.mem.Rows(table)
	if len(rows) != 1 {
		t.Fatalf("%s has %d rows, want 1", table, len(rows))
	}
	return rows[0]
}
