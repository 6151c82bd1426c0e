package cmd

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

// NewMentionsCommand creates the mentions command group.
func NewMentionsCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mentions",
		Short: "Detect, suggest and resolve @mentions",
		Long: `Work with @mentions the way the editors do.

Offsets are counted in characters (runes), not bytes. The caret defaults to
the end of the text.

Examples:
  teamdesk mentions detect "ciao @ann"
  teamdesk mentions suggest "ciao @ann" --pick 1
  teamdesk mentions resolve "@Anna Rossi e @Bruno, domani"
  teamdesk mentions inbox`,
	}
	cmd.AddCommand(newMentionsDetectCommand(deps))
	cmd.AddCommand(newMentionsSuggestCommand(deps))
	cmd.AddCommand(newMentionsResolveCommand(deps))
	cmd.AddCommand(newMentionsInboxCommand(deps))
	return cmd
}

// caretFor resolves --caret, where -1 means end of text.
func caretFor(text string, caret int) int {
	if caret < 0 {
		return utf8.RuneCountInString(text)
	}
	return caret
}

func newMentionsDetectCommand(deps *CommandDeps) *cobra.Command {
	var (
		caret  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "detect <text>",
		Short: "Show whether a mention is being typed at the caret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			d := mentions.Detect(args[0], caretFor(args[0], caret))
			return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), d, func(w io.Writer) error {
				if !d.Active {
					fmt.Fprintln(w, "No mention in progress.")
					return nil
				}
				fmt.Fprintf(w, "Mention in progress at %d: %q\n", d.TriggerOffset, d.Query)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&caret, "caret", -1, "Caret offset in characters (default: end of text)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

type suggestResult struct {
	Detection   mentions.Detection  `json:"detection" yaml:"detection"`
	Suggestions []profiles.Profile  `json:"suggestions" yaml:"suggestions"`
	Insertion   *mentions.Insertion `json:"insertion,omitempty" yaml:"insertion,omitempty"`
}

func newMentionsSuggestCommand(deps *CommandDeps) *cobra.Command {
	var (
		caret  int
		pick   int
		output string
	)
	cmd := &cobra.Command{
		Use:   "suggest <text>",
		Short: "List profiles matching the mention being typed",
		Long: `List the profiles whose name contains the partial mention at the caret.

--pick N completes the text with the Nth suggestion, as selecting it in the
editor would.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				text := args[0]
				at := caretFor(text, caret)
				d, list := a.Mentions.Suggestions(text, at)
				res := suggestResult{Detection: d, Suggestions: list}
				if pick > 0 {
					if pick > len(list) {
						return fmt.Errorf("--pick %d: only %d suggestion(s)", pick, len(list))
					}
					ins, err := a.Mentions.Complete(text, at, list[pick-1])
					if err != nil {
						return err
					}
					res.Insertion = &ins
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), res, func(w io.Writer) error {
					if !d.Active {
						fmt.Fprintln(w, "No mention in progress.")
						return nil
					}
					if len(list) == 0 {
						fmt.Fprintf(w, "No profiles match %q.\n", d.Query)
						return nil
					}
					for i, p := range list {
						fmt.Fprintf(w, "%2d. %-30s %s\n", i+1, p.Name, p.ID)
					}
					if res.Insertion != nil {
						fmt.Fprintf(w, "\n%s\n", res.Insertion.Text)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().IntVar(&caret, "caret", -1, "Caret offset in characters (default: end of text)")
	cmd.Flags().IntVar(&pick, "pick", 0, "Complete the text with the Nth suggestion")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newMentionsResolveCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "resolve <text>...",
		Short: "Resolve @mentions to profile ids",
		Long: `Resolve the @mentions of one or more texts to profile ids, the way saving
a note, task or message does. Unmatched mentions are listed but are not an
error.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				res := a.Mentions.Resolve(args...)
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), res, func(w io.Writer) error {
					if len(res.UserIDs) == 0 {
						fmt.Fprintln(w, "No profiles mentioned.")
					}
					for _, id := range res.UserIDs {
						fmt.Fprintf(w, "%-36s %s\n", id, a.Profiles.NameOf(id, profiles.FallbackName))
					}
					if len(res.Unmatched) > 0 {
						fmt.Fprintf(w, "\nUnmatched: %s\n", strings.Join(res.Unmatched, ", "))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newMentionsInboxCommand(deps *CommandDeps) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List notes that mention you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				inbox := a.Workspace.Notifications
				if err := inbox.Refresh(cmd.Context()); err != nil {
					return err
				}
				items := inbox.Items()
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), items, func(w io.Writer) error {
					if len(items) == 0 {
						fmt.Fprintln(w, "No mentions.")
						return nil
					}
					fmt.Fprintf(w, "%d unread mention(s):\n", inbox.UnreadCount())
					for _, n := range items {
						fmt.Fprintf(w, "  %s  %-40s by %s\n", n.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(n.NoteTitle, 40), n.MentionedBy)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}
