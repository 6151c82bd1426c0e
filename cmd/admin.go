package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
	"github.com/otherjamesbrown/teamdesk/pkg/workspace"
)

// NewAdminCommand creates the admin command group. Every subcommand
// requires the administrator role.
func NewAdminCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "System administration",
	}
	cmd.AddCommand(newAdminUsersCommand(deps))
	cmd.AddCommand(newAdminRoleCommand(deps))
	cmd.AddCommand(newAdminSanctionCommand(deps, "ban"))
	cmd.AddCommand(newAdminSanctionCommand(deps, "mute"))
	cmd.AddCommand(newAdminLiftCommand(deps, "unban"))
	cmd.AddCommand(newAdminLiftCommand(deps, "unmute"))
	cmd.AddCommand(newAdminSanctionsCommand(deps))
	cmd.AddCommand(newAdminClearChatCommand(deps))
	return cmd
}

func newAdminUsersCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				users, err := a.Workspace.Admin.Users(cmd.Context())
				if err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), users, func(w io.Writer) error {
					fmt.Fprintf(w, "%-36s  %-30s  %-14s  %s\n", "ID", "NAME", "ROLE", "JOINED")
					for _, u := range users {
						fmt.Fprintf(w, "%-36s  %-30s  %-14s  %s\n", u.ID, truncate(u.Name, 30), u.Role, formatTime(&u.CreatedAt))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

// parseRole accepts the stored role label or admin/employee.
func parseRole(s string) (string, error) {
	switch strings.ToLower(s) {
	case "admin", strings.ToLower(profiles.RoleAdmin):
		return profiles.RoleAdmin, nil
	case "employee", strings.ToLower(profiles.RoleEmployee):
		return profiles.RoleEmployee, nil
	}
	return "", fmt.Errorf("unknown role %q (use admin or employee)", s)
}

func newAdminRoleCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "role <user> <admin|employee>",
		Short: "Change a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := parseRole(args[1])
			if err != nil {
				return err
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				id, err := resolveUser(a, args[0])
				if err != nil {
					return err
				}
				if err := a.Workspace.Admin.UpdateRole(cmd.Context(), id, role); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", a.Profiles.NameOf(id, id), role)
				return nil
			})
		},
	}
}

func newAdminSanctionCommand(deps *CommandDeps, verb string) *cobra.Command {
	var reason, until string
	cmd := &cobra.Command{
		Use:   verb + " <user>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expires, err := optTime(until)
			if err != nil {
				return err
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				id, err := resolveUser(a, args[0])
				if err != nil {
					return err
				}
				in := workspace.SanctionInput{UserID: id, Reason: reason, ExpiresAt: expires}
				var s workspace.Sanction
				if verb == "ban" {
					s, err = a.Workspace.Admin.Ban(cmd.Context(), in)
				} else {
					s, err = a.Workspace.Admin.Mute(cmd.Context(), in)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s), until %s\n", verb, s.TargetUserName, s.ID, formatTime(s.ExpiresAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason shown to other administrators")
	cmd.Flags().StringVar(&until, "until", "", "Expiry (default: permanent)")
	return cmd
}

func newAdminLiftCommand(deps *CommandDeps, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <sanction-id>",
		Short: "Lift a " + strings.TrimPrefix(verb, "un"),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				var err error
				if verb == "unban" {
					err = a.Workspace.Admin.Unban(cmd.Context(), args[0])
				} else {
					err = a.Workspace.Admin.Unmute(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Lifted %s\n", args[0])
				return nil
			})
		},
	}
}

type sanctionList struct {
	Bans  []workspace.Sanction `json:"bans" yaml:"bans"`
	Mutes []workspace.Sanction `json:"mutes" yaml:"mutes"`
}

func newAdminSanctionsCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "sanctions",
		Short: "List active bans and mutes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				var list sanctionList
				var err error
				if list.Bans, err = a.Workspace.Admin.Bans(cmd.Context()); err != nil {
					return err
				}
				if list.Mutes, err = a.Workspace.Admin.Mutes(cmd.Context()); err != nil {
					return err
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), list, func(w io.Writer) error {
					section := func(title string, items []workspace.Sanction) {
						fmt.Fprintf(w, "%s (%d)\n", title, len(items))
						for _, s := range items {
							fmt.Fprintf(w, "  %s  %-30s until %-16s %s\n", s.ID, truncate(s.TargetUserName, 30), formatTime(s.ExpiresAt), s.Reason)
						}
					}
					section("Bans", list.Bans)
					section("Mutes", list.Mutes)
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newAdminClearChatCommand(deps *CommandDeps) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-chat",
		Short: "Delete every chat message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all messages without --yes")
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Admin.DeleteAllMessages(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All chat messages deleted.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}
