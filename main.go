// Package main provides the teamdesk CLI entry point.
// teamdesk is the command-line client of the team dashboard: notes, tasks,
// shipments, chat, calendar and administration, with @mentions throughout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/cmd"
	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/buildinfo"
)

// Global flags and state.
var (
	cfgFile      string
	backendKind  string
	timeout      time.Duration
	outputFormat string
	debug        bool

	// cfg holds the loaded configuration.
	cfg *config.CLIConfig

	// deps is shared by every subcommand; its LoadConfig returns cfg once
	// the root command has loaded it.
	deps = cmd.DefaultDeps()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "teamdesk",
	Short: "Team dashboard CLI",
	Long: `teamdesk is the command-line client of the team dashboard.

It reads and edits the same notes, tasks, shipments, chat and calendar as
the web dashboard. Text fields understand @mentions: mentioned colleagues
are notified and can list them with 'teamdesk mentions inbox'.

BACKENDS:
  memory     in-process store, for trying things out
  postgres   direct PostgreSQL connection with live change notifications
  supabase   the hosted dashboard project (sign in with 'teamdesk auth login')

COMMON WORKFLOWS:
  Sign in:        teamdesk auth login --email you@example.com
  Write a note:   teamdesk notes create --title "Inventario" --content "@Anna ..."
  Shipments:      teamdesk shipments list  →  teamdesk shipments move <id> pickup
  Who mentioned me: teamdesk mentions inbox

Every list command supports --output json or yaml.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded
		deps.LoadConfig = func() (*config.CLIConfig, error) { return cfg, nil }
		return nil
	},
}

// loadConfig reads the config file named by --config (or the default one)
// and applies the global flag overrides.
func loadConfig() (*config.CLIConfig, error) {
	var (
		loaded *config.CLIConfig
		err    error
	)
	if cfgFile != "" {
		path, perr := config.ExpandPath(cfgFile)
		if perr != nil {
			return nil, fmt.Errorf("resolving --config: %w", perr)
		}
		loaded, err = config.LoadConfigFrom(path)
	} else {
		loaded, err = config.LoadConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	// Override with command-line flags.
	if backendKind != "" {
		loaded.Backend = config.BackendKind(backendKind)
	}
	if timeout != 0 {
		loaded.Timeout = timeout
	}
	if outputFormat != "" {
		loaded.OutputFormat = config.OutputFormat(outputFormat)
	}
	if debug {
		loaded.Debug = true
	}
	if err := loaded.Validate(); err != nil {
		return nil, err
	}
	return loaded, nil
}

// configCmd is the parent command for configuration management.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage CLI configuration",
	Long:  `View and modify the teamdesk CLI configuration settings.`,
}

// configShowCmd displays current configuration.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration: file values, environment and flags.`,
	RunE: func(c *cobra.Command, args []string) error {
		configPath, _ := config.ConfigPath()
		if cfgFile != "" {
			configPath = cfgFile
		}
		w := c.OutOrStdout()

		fmt.Fprintln(w, "Current configuration:")
		fmt.Fprintf(w, "  Config file:    %s\n", configPath)
		fmt.Fprintf(w, "  Backend:        %s\n", cfg.Backend)
		fmt.Fprintf(w, "  Timeout:        %s\n", cfg.Timeout)
		fmt.Fprintf(w, "  Output format:  %s\n", cfg.OutputFormat)
		fmt.Fprintf(w, "  Debug:          %t\n", cfg.Debug)
		fmt.Fprintf(w, "  Suggestions:    %d\n", cfg.SuggestionLimit)
		fmt.Fprintf(w, "  Supabase URL:   %s\n", valueOrDefault(cfg.Supabase.URL, "(not set)"))
		fmt.Fprintf(w, "  Database:       %s\n", configuredOr(cfg.Database.IsConfigured()))
		fmt.Fprintf(w, "  Redis:          %s\n", valueOrDefault(cfg.Redis.Addr, "(not set)"))
		fmt.Fprintf(w, "  Presence topic: %s (ttl %s)\n", cfg.Presence.Topic, cfg.Presence.TTL)
		fmt.Fprintf(w, "  Breaker:        %s\n", enabledOr(!cfg.Breaker.Disabled))
		return nil
	},
}

// configInitCmd initializes configuration.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a new configuration file with default values if one doesn't exist.`,
	RunE: func(c *cobra.Command, args []string) error {
		configPath, err := config.ConfigPath()
		if err != nil {
			return fmt.Errorf("getting config path: %w", err)
		}
		w := c.OutOrStdout()

		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(w, "Configuration file already exists: %s\n", configPath)
			fmt.Fprintln(w, "Use 'teamdesk config show' to view current settings.")
			return nil
		}

		defaultCfg := config.DefaultConfig()
		if err := config.SaveConfig(defaultCfg); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(w, "Created configuration file: %s\n", configPath)
		fmt.Fprintln(w, "\nDefault settings:")
		fmt.Fprintf(w, "  Backend:        %s\n", defaultCfg.Backend)
		fmt.Fprintf(w, "  Timeout:        %s\n", defaultCfg.Timeout)
		fmt.Fprintf(w, "  Output format:  %s\n", defaultCfg.OutputFormat)
		return nil
	},
}

// configSetCmd sets a configuration value.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file.

Available keys:
  backend           - memory, postgres or supabase
  timeout           - Per-call backend timeout (e.g., 10s, 1m)
  output_format     - Default output format (text, json, yaml)
  debug             - Enable debug logging (true/false)
  suggestion_limit  - Maximum mention suggestions
  supabase.url      - Supabase project URL
  supabase.api_key  - Supabase anon key
  database.url      - PostgreSQL connection string
  redis.addr        - Redis address for shared presence (host:port)
  presence.topic    - Presence topic

Examples:
  teamdesk config set backend supabase
  teamdesk config set supabase.url https://xyzcompany.supabase.co
  teamdesk config set timeout 30s`,
	Args: cobra.ExactArgs(2),
	RunE: func(c *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		currentCfg := config.DefaultConfig()
		if path, err := config.ConfigPath(); err == nil {
			if fileCfg, err := config.LoadConfigFrom(path); err == nil {
				currentCfg = fileCfg
			}
		}

		if err := setConfigValue(currentCfg, key, value); err != nil {
			return err
		}
		if err := currentCfg.Validate(); err != nil {
			return err
		}
		if err := config.SaveConfig(currentCfg); err != nil {
			return fmt.Errorf("saving configuration: %w", err)
		}

		fmt.Fprintf(c.OutOrStdout(), "Set %s = %s\n", key, value)
		return nil
	},
}

func setConfigValue(c *config.CLIConfig, key, value string) error {
	switch key {
	case "backend":
		c.Backend = config.BackendKind(value)
	case "timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		c.Timeout = d
	case "output_format":
		format := config.OutputFormat(value)
		if !format.IsValid() {
			return fmt.Errorf("invalid output format: %s (must be text, json, or yaml)", value)
		}
		c.OutputFormat = format
	case "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid debug value: %s (must be true or false)", value)
		}
		c.Debug = b
	case "suggestion_limit":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid suggestion limit: %s", value)
		}
		c.SuggestionLimit = n
	case "supabase.url":
		c.Supabase.URL = value
	case "supabase.api_key":
		c.Supabase.APIKey = value
	case "database.url":
		c.Database.URL = value
	case "redis.addr":
		c.Redis.Addr = value
	case "presence.topic":
		c.Presence.Topic = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func configuredOr(ok bool) string {
	if ok {
		return "configured"
	}
	return "(not set)"
}

func enabledOr(ok bool) string {
	if ok {
		return "enabled"
	}
	return "disabled"
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for teamdesk.

Bash:
  $ source <(teamdesk completion bash)

Zsh:
  $ teamdesk completion zsh > "${fpath[1]}/_teamdesk"

Fish:
  $ teamdesk completion fish | source

PowerShell:
  PS> teamdesk completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		default:
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
	},
}

var versionOutputJSON bool

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of the teamdesk CLI.

Examples:
  teamdesk version
  teamdesk version --output-json`,
	RunE: func(c *cobra.Command, args []string) error {
		return printVersion(c.OutOrStdout(), versionOutputJSON)
	},
}

func printVersion(w io.Writer, asJSON bool) error {
	info := buildinfo.Get("teamdesk")
	if asJSON {
		return info.WriteJSON(w)
	}
	fmt.Fprintf(w, "teamdesk %s\n", buildinfo.String())
	fmt.Fprintf(w, "  Go: %s\n", info.GoVersion)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ~/.teamdesk/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendKind, "backend", "", "Backend: memory, postgres, supabase")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Per-call backend timeout")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output-format", "", "Default output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "work", Title: "Workspace:"},
		&cobra.Group{ID: "team", Title: "Team:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	for _, c := range []*cobra.Command{
		cmd.NewNotesCommand(deps),
		cmd.NewTasksCommand(deps),
		cmd.NewShipmentsCommand(deps),
		cmd.NewCalendarCommand(deps),
		cmd.NewChatCommand(deps),
	} {
		c.GroupID = "work"
		rootCmd.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewMentionsCommand(deps),
		cmd.NewProfilesCommand(deps),
		cmd.NewPresenceCommand(deps),
		cmd.NewAdminCommand(deps),
	} {
		c.GroupID = "team"
		rootCmd.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewAuthCommand(deps),
		cmd.NewDbCommand(deps),
		configCmd,
		completionCmd,
		versionCmd,
	} {
		c.GroupID = "setup"
		rootCmd.AddCommand(c)
	}

	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
