package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/mentions"
	"github.com/otherjamesbrown/teamdesk/pkg/workspace"
)

// NewTasksCommand creates the tasks command group.
func NewTasksCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the team to-do list",
		Long: `Manage the team to-do list.

Task titles carry @mentions: saving a title replaces the task's mention
records.`,
	}
	cmd.AddCommand(newTasksListCommand(deps))
	cmd.AddCommand(newTasksCreateCommand(deps))
	cmd.AddCommand(newTasksCompleteCommand(deps))
	cmd.AddCommand(newTasksDeleteCommand(deps))
	cmd.AddCommand(newTasksSubtaskCommand(deps))
	return cmd
}

// resolveUser accepts a profile id or a name, matched like a mention.
func resolveUser(a *app.App, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	if _, ok := a.Profiles.Get(s); ok {
		return s, nil
	}
	p, ok := mentions.Match(a.Profiles.Profiles(), strings.TrimPrefix(s, "@"))
	if !ok {
		return "", fmt.Errorf("no profile matches %q: %w", s, tderrors.ErrNotFound)
	}
	return p.ID, nil
}

func newTasksListCommand(deps *CommandDeps) *cobra.Command {
	var (
		all    bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Tasks.Refresh(cmd.Context()); err != nil {
					return err
				}
				list := []workspace.Task{}
				for _, t := range a.Workspace.Tasks.Items() {
					if all || !t.Completed {
						list = append(list, t)
					}
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), list, func(w io.Writer) error {
					if len(list) == 0 {
						fmt.Fprintln(w, "No tasks.")
						return nil
					}
					for _, t := range list {
						check := "[ ]"
						if t.Completed {
							check = "[x]"
						}
						fmt.Fprintf(w, "%s %s  %-40s  %-5s  %-16s  %s\n",
							check, t.ID, truncate(t.Title, 40), t.Priority, formatTime(t.DueDate), t.AssignedTo.Name)
						for _, st := range t.SubTasks {
							sub := "[ ]"
							if st.Completed {
								sub = "[x]"
							}
							fmt.Fprintf(w, "      %s %s  %s\n", sub, st.ID, st.Text)
						}
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Include completed tasks")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newTasksCreateCommand(deps *CommandDeps) *cobra.Command {
	var (
		in       workspace.NewTask
		assignee string
		due      string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Example: `  teamdesk tasks create --title "Chiamare @Bruno per il ritiro" --due 2024-03-04 --priority Alta
  teamdesk tasks create --title "Inventario" --assignee "Anna Rossi" --tag magazzino`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate, err := optTime(due)
			if err != nil {
				return err
			}
			in.DueDate = dueDate
			in.Priority = workspace.Priority(priority)
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if in.AssignedTo, err = resolveUser(a, assignee); err != nil {
					return err
				}
				task, err := a.Workspace.Tasks.Create(cmd.Context(), in)
				if task.ID != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Created task %s: %s\n", task.ID, task.Title)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Task title (required)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee name or profile id")
	cmd.Flags().StringVar(&due, "due", "", "Due date (2006-01-02 or \"2006-01-02 15:04\")")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority: Alta, Media, Bassa (default Media)")
	cmd.Flags().StringVar(&in.Category, "category", "", "Category (default "+workspace.DefaultCategory+")")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "Tag (repeatable)")
	return cmd
}

func newTasksCompleteCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Tasks.Complete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Completed task %s\n", args[0])
				return nil
			})
		},
	}
}

func newTasksDeleteCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task with its sub-tasks and mentions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Tasks.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

func newTasksSubtaskCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subtask",
		Short: "Manage task checklists",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <task-id> <text>",
		Short: "Add a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				st, err := a.Workspace.Tasks.AddSubTask(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s: %s\n", st.ID, st.Text)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle <subtask-id>",
		Short: "Flip a checklist item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				done, err := a.Workspace.Tasks.ToggleSubTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				state := "open"
				if done {
					state = "done"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sub-task %s is %s\n", args[0], state)
				return nil
			})
		},
	})
	return cmd
}
