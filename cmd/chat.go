package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/workspace"
)

// NewChatCommand creates the chat command group.
func NewChatCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read and post team chat messages",
	}
	cmd.AddCommand(newChatListCommand(deps))
	cmd.AddCommand(newChatSendCommand(deps))
	return cmd
}

func newChatListCommand(deps *CommandDeps) *cobra.Command {
	var (
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show recent messages, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Chat.Refresh(cmd.Context()); err != nil {
					return err
				}
				msgs := a.Workspace.Chat.Messages()
				if limit > 0 && len(msgs) > limit {
					msgs = msgs[len(msgs)-limit:]
				}
				if msgs == nil {
					msgs = []workspace.Message{}
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), msgs, func(w io.Writer) error {
					if len(msgs) == 0 {
						fmt.Fprintln(w, "No messages.")
						return nil
					}
					for _, m := range msgs {
						fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("01-02 15:04"), m.SenderName, m.Content)
						if len(m.Mentions) > 0 {
							fmt.Fprintf(w, "    mentions: %s\n", strings.Join(m.Mentions, ", "))
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Show at most this many messages (0 for all)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newChatSendCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>...",
		Short: "Post a message",
		Long: fmt.Sprintf(`Post a message as the signed-in user. Arguments are joined with spaces.
Messages are limited to %d characters; @mentions notify the named users.`, workspace.MaxMessageLength),
		Example: `  teamdesk chat send "@Anna il corriere arriva alle 15"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				m, err := a.Workspace.Chat.Send(cmd.Context(), strings.Join(args, " "))
				if m.ID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", m.ID)
				}
				return err
			})
		},
	}
}
