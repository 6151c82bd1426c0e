package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/teamdesk/credentials"
)

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage the signed-in session",
		Long: `Manage the teamdesk session.

'auth login' signs in to the Supabase project with email and password and
stores the session in ~/.teamdesk/credentials.yaml with the tokens encrypted.

TEAMDESK_ACCESS_TOKEN together with TEAMDESK_USER_ID takes precedence over
the stored session.`,
	}
	cmd.AddCommand(newAuthLoginCommand(deps))
	cmd.AddCommand(newAuthLogoutCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))
	return cmd
}

func newAuthLoginCommand(deps *CommandDeps) *cobra.Command {
	var (
		email         string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in to the configured Supabase project.

The password is read from a hidden prompt, or from stdin with --password-stdin.

Examples:
  teamdesk auth login --email anna@example.com
  echo "$PASSWORD" | teamdesk auth login --email anna@example.com --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, deps, email, passwordStdin)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Sign-in email")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func runLogin(cmd *cobra.Command, deps *CommandDeps, email string, passwordStdin bool) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if !cfg.Supabase.IsConfigured() {
		return fmt.Errorf("supabase project not configured: set supabase.url and supabase.api_key or TEAMDESK_SUPABASE_URL and TEAMDESK_SUPABASE_KEY")
	}

	out := cmd.OutOrStdout()
	reader := bufio.NewReader(deps.Stdin)
	if email == "" {
		fmt.Fprint(out, "Email: ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading email: %w", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return fmt.Errorf("email is required")
	}

	var password string
	if passwordStdin {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	} else {
		password, err = deps.ReadPassword("Password: ")
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
	}
	if password == "" {
		return fmt.Errorf("password is required")
	}

	session, err := deps.SignIn(cfg.Supabase.URL, cfg.Supabase.APIKey, email, password)
	if err != nil {
		return err
	}

	store, err := deps.NewStore()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	creds := credentials.FromSession(session, cfg.Supabase.URL)
	if err := store.Save(creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	fmt.Fprintln(out, "Login successful!")
	fmt.Fprintf(out, "  User:    %s (%s)\n", creds.Email, creds.UserID)
	fmt.Fprintf(out, "  Token:   %s\n", credentials.MaskToken(creds.AccessToken))
	fmt.Fprintf(out, "  Expires: %s\n", credentials.FormatExpiry(creds.ExpiresAt))
	fmt.Fprintf(out, "  Key:     %s\n", store.KeyDescription())
	return nil
}

// readPassword prompts on stderr and reads without echo, falling back to
// a plain line when stdin is not a terminal.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err == nil {
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newAuthLogoutCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session",
		Long: `Remove the stored session from the local credential store.

TEAMDESK_ACCESS_TOKEN is not affected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.NewStore()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			out := cmd.OutOrStdout()
			if !store.Exists() {
				fmt.Fprintln(out, "No stored credentials found.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return fmt.Errorf("removing credentials: %w", err)
			}
			fmt.Fprintln(out, "Logged out successfully.")
			if os.Getenv("TEAMDESK_ACCESS_TOKEN") != "" {
				fmt.Fprintln(out, "\nNote: TEAMDESK_ACCESS_TOKEN is still set.")
			}
			return nil
		},
	}
}

// authStatus is the machine-readable form of 'auth status'.
type authStatus struct {
	Source     string     `json:"source" yaml:"source"`
	UserID     string     `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Email      string     `json:"email,omitempty" yaml:"email,omitempty"`
	ProjectURL string     `json:"project_url,omitempty" yaml:"project_url,omitempty"`
	Token      string     `json:"token,omitempty" yaml:"token,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Expired    bool       `json:"expired" yaml:"expired"`
}

func newAuthStatusCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			st, err := currentAuthStatus(deps)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), st, func(w io.Writer) error {
				if st.Source == "none" {
					fmt.Fprintln(w, "Not signed in. Run 'teamdesk auth login'.")
					return nil
				}
				fmt.Fprintf(w, "Source:  %s\n", st.Source)
				fmt.Fprintf(w, "User:    %s\n", st.UserID)
				if st.Email != "" {
					fmt.Fprintf(w, "Email:   %s\n", st.Email)
				}
				if st.ProjectURL != "" {
					fmt.Fprintf(w, "Project: %s\n", st.ProjectURL)
				}
				fmt.Fprintf(w, "Token:   %s\n", st.Token)
				if st.ExpiresAt != nil {
					fmt.Fprintf(w, "Expires: %s (%s)\n", st.ExpiresAt.Format(time.RFC3339), credentials.FormatExpiry(*st.ExpiresAt))
				}
				if st.Expired {
					fmt.Fprintln(w, "\nWarning: the stored session has expired. Run 'teamdesk auth login'.")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func currentAuthStatus(deps *CommandDeps) (*authStatus, error) {
	if tok := os.Getenv("TEAMDESK_ACCESS_TOKEN"); tok != "" {
		return &authStatus{
			Source: "environment",
			UserID: os.Getenv("TEAMDESK_USER_ID"),
			Token:  credentials.MaskToken(tok),
		}, nil
	}
	store, err := deps.NewStore()
	if err != nil {
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}
	creds, err := store.Load()
	if errors.Is(err, credentials.ErrNoCredentials) {
		return &authStatus{Source: "none"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	st := &authStatus{
		Source:     "stored",
		UserID:     creds.UserID,
		Email:      creds.Email,
		ProjectURL: creds.ProjectURL,
		Token:      credentials.MaskToken(creds.AccessToken),
		Expired:    creds.Expired(time.Now()),
	}
	if !creds.ExpiresAt.IsZero() {
		exp := creds.ExpiresAt
		st.ExpiresAt = &exp
	}
	return st, nil
}
