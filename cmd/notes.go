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

// NewNotesCommand creates the notes command group.
func NewNotesCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Manage notebook notes",
		Long: `Manage notebook notes.

Every save resolves the @mentions of the title and the content; mentioned
users see the note in 'teamdesk mentions inbox'.`,
	}
	cmd.AddCommand(newNotesListCommand(deps))
	cmd.AddCommand(newNotesCreateCommand(deps))
	cmd.AddCommand(newNotesUpdateCommand(deps))
	cmd.AddCommand(newNotesDeleteCommand(deps))
	return cmd
}

func printNote(w io.Writer, a *app.App, n workspace.Note) {
	fmt.Fprintf(w, "%s  %s\n", n.ID, n.Title)
	fmt.Fprintf(w, "  Notebook: %s  Modified: %s\n", n.Notebook, formatTime(&n.LastModified))
	if len(n.Mentioned) > 0 {
		names := make([]string, 0, len(n.Mentioned))
		for _, id := range n.Mentioned {
			names = append(names, a.Profiles.NameOf(id, id))
		}
		fmt.Fprintf(w, "  Mentions: %s\n", strings.Join(names, ", "))
	}
}

func newNotesListCommand(deps *CommandDeps) *cobra.Command {
	var (
		notebook string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, most recently modified first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Notes.Refresh(cmd.Context()); err != nil {
					return err
				}
				var list []workspace.Note
				for _, n := range a.Workspace.Notes.Items() {
					if notebook == "" || n.Notebook == notebook {
						list = append(list, n)
					}
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), list, func(w io.Writer) error {
					if len(list) == 0 {
						fmt.Fprintln(w, "No notes.")
						return nil
					}
					for _, n := range list {
						printNote(w, a, n)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&notebook, "notebook", "", "Only list notes of this notebook")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newNotesCreateCommand(deps *CommandDeps) *cobra.Command {
	var in workspace.NewNote
	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a note",
		Example: `  teamdesk notes create --title "Inventario" --content "@Anna controlla il magazzino"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				note, err := a.Workspace.Notes.Create(cmd.Context(), in)
				if note.ID != "" {
					printNote(cmd.OutOrStdout(), a, note)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Note title (required)")
	cmd.Flags().StringVar(&in.Content, "content", "", "Note content")
	cmd.Flags().StringVar(&in.Notebook, "notebook", "", "Notebook (default: "+workspace.DefaultNotebook+")")
	cmd.Flags().BoolVar(&in.IsShared, "shared", false, "Share the note with the team")
	return cmd
}

func newNotesUpdateCommand(deps *CommandDeps) *cobra.Command {
	var title, content, notebook string
	var shared bool
	cmd := &cobra.Command{
		Use:   "update <note-id>",
		Short: "Update a note",
		Long: `Update the given fields of a note. The mention records are rebuilt from
the stored title and content, so removing a mention removes its record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u workspace.NoteUpdate
			flags := cmd.Flags()
			if flags.Changed("title") {
				u.Title = &title
			}
			if flags.Changed("content") {
				u.Content = &content
			}
			if flags.Changed("notebook") {
				u.Notebook = &notebook
			}
			if flags.Changed("shared") {
				u.IsShared = &shared
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				note, err := a.Workspace.Notes.Update(cmd.Context(), args[0], u)
				if note.ID != "" {
					printNote(cmd.OutOrStdout(), a, note)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&content, "content", "", "New content")
	cmd.Flags().StringVar(&notebook, "notebook", "", "Move to notebook")
	cmd.Flags().BoolVar(&shared, "shared", false, "Share or unshare the note")
	return cmd
}

func newNotesDeleteCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <note-id>",
		Short: "Delete a note and its mentions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Notes.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted note %s\n", args[0])
				return nil
			})
		},
	}
}
