package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// NewProfilesCommand creates the profiles command group.
func NewProfilesCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"users"},
		Short:   "List and watch team member profiles",
	}
	cmd.AddCommand(newProfilesListCommand(deps))
	cmd.AddCommand(newProfilesMeCommand(deps))
	cmd.AddCommand(newProfilesWatchCommand(deps))
	cmd.AddCommand(newProfilesAvatarCommand(deps))
	return cmd
}

func newProfilesListCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles ordered by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				list := a.Profiles.Profiles()
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), list, func(w io.Writer) error {
					if len(list) == 0 {
						fmt.Fprintln(w, "No profiles.")
						return nil
					}
					fmt.Fprintf(w, "%-36s  %-30s  %s\n", "ID", "NAME", "ROLE")
					for _, p := range list {
						fmt.Fprintf(w, "%-36s  %-30s  %s\n", p.ID, truncate(p.Name, 30), p.Role)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newProfilesMeCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "me",
		Short: "Show the signed-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				me, err := a.CurrentProfile(cmd.Context())
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), me, func(w io.Writer) error {
					fmt.Fprintf(w, "%s (%s)\n", me.Name, me.Role)
					fmt.Fprintf(w, "  ID:     %s\n", me.ID)
					fmt.Fprintf(w, "  Avatar: %s\n", me.AvatarURL)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newProfilesWatchCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print profile changes as they arrive",
		Long: `Subscribe to the profile change feed and print every insert, update and
delete until interrupted. Requires a backend with a change feed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return deps.withApp(ctx, func(a *app.App, cfg *config.CLIConfig) error {
				if a.Client.Feed == nil {
					return fmt.Errorf("the %s backend has no change feed; configure database settings to enable it", cfg.Backend)
				}
				out := cmd.OutOrStdout()
				a.Profiles.Watch(func(ev backend.ChangeEvent) {
					if ev.Partial() {
						fmt.Fprintf(out, "%-6s refetched (%d profiles)\n", ev.Type, a.Profiles.Len())
						return
					}
					row := ev.New
					if row == nil {
						row = ev.Old
					}
					p := profiles.FromRow(row)
					fmt.Fprintf(out, "%-6s %s %s (%d profiles)\n", ev.Type, p.ID, p.Name, a.Profiles.Len())
				})
				if err := a.Profiles.Start(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "Watching %d profiles. Press Ctrl-C to stop.\n", a.Profiles.Len())
				<-ctx.Done()
				return nil
			})
		},
	}
}

func newProfilesAvatarCommand(deps *CommandDeps) *cobra.Command {
	var (
		seed string
		set  bool
	)
	cmd := &cobra.Command{
		Use:   "avatar [style]",
		Short: "Preview avatar styles or set your avatar",
		Long: `Without arguments, list the avatar styles. With a style, print preview
URLs, or with --set store the avatar for the seed on your profile.`,
		Example: `  teamdesk profiles avatar
  teamdesk profiles avatar bottts
  teamdesk profiles avatar lorelei --seed Luna --set`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, s := range profiles.AvatarStyles {
					fmt.Fprintf(out, "%-12s %s\n", s.ID, s.Label)
				}
				return nil
			}
			style := args[0]
			if !profiles.IsAvatarStyle(style) {
				return fmt.Errorf("unknown avatar style %q", style)
			}
			if !set {
				if seed != "" {
					fmt.Fprintln(out, profiles.AvatarURL(style, seed))
					return nil
				}
				for _, u := range profiles.PreviewAvatars(style, 0) {
					fmt.Fprintln(out, u)
				}
				return nil
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				ctx := cmd.Context()
				me, err := a.CurrentProfile(ctx)
				if err != nil {
					return err
				}
				s := seed
				if s == "" {
					s = me.Name
				}
				url := profiles.AvatarURL(style, s)
				if _, err := a.Client.Tables.Update(ctx, profiles.Table, backend.Row{"avatar_url": url}, backend.Eq("id", me.ID)); err != nil {
					return fmt.Errorf("updating avatar: %w", err)
				}
				fmt.Fprintf(out, "Avatar updated: %s\n", url)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "Avatar seed (default: your name)")
	cmd.Flags().BoolVar(&set, "set", false, "Store the avatar on your profile")
	return cmd
}
