package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	"github.com/otherjamesbrown/teamdesk/pkg/presence"
)

// NewPresenceCommand creates the presence command group.
func NewPresenceCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "presence",
		Aliases: []string{"online"},
		Short:   "See who is online",
		Long: `See who is online.

Presence is shared through Redis when redis settings are configured;
otherwise it only covers this process.`,
	}
	cmd.AddCommand(newPresenceListCommand(deps))
	cmd.AddCommand(newPresenceJoinCommand(deps))
	cmd.AddCommand(newPresenceWatchCommand(deps))
	return cmd
}

func newPresenceListCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List online users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				online, err := a.Presence.Online(cmd.Context())
				if err != nil {
					return err
				}
				if online == nil {
					online = []backend.PresenceState{}
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), online, func(w io.Writer) error {
					if len(online) == 0 {
						fmt.Fprintln(w, "Nobody is online.")
						return nil
					}
					for _, s := range online {
						fmt.Fprintf(w, "● %-30s since %s\n", s.Name, s.OnlineAt.Local().Format("15:04"))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newPresenceJoinCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "join",
		Short: "Stay online until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return deps.withApp(ctx, func(a *app.App, cfg *config.CLIConfig) error {
				me, err := a.CurrentProfile(ctx)
				if err != nil {
					return err
				}
				if err := a.Presence.Join(ctx, me); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is online on %s. Press Ctrl-C to leave.\n", me.Name, a.Presence.Topic())
				<-ctx.Done()
				return nil
			})
		},
	}
}

func newPresenceWatchCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print joins and leaves as they happen",
		Long:  `Print joins and leaves on the presence topic. Requires redis settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if !cfg.RedisConfigured() {
				return fmt.Errorf("presence watch needs redis settings (redis.addr or TEAMDESK_REDIS_ADDR)")
			}
			rc, err := deps.ConnectToRedis(ctx, cfg)
			if err != nil {
				return err
			}
			store := presence.NewRedisStore(rc, presence.StoreConfig{TTL: cfg.Presence.TTL})
			defer store.Close()

			w, err := store.Watch(ctx, cfg.Presence.Topic)
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching %s. Press Ctrl-C to stop.\n", cfg.Presence.Topic)
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-w.Events():
					if !ok {
						return nil
					}
					name := ev.State.Name
					if name == "" {
						name = ev.State.UserID
					}
					fmt.Fprintf(out, "%-5s %s\n", ev.Type, name)
				}
			}
		},
	}
}
