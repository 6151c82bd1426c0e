package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/workspace"
)

// NewCalendarCommand creates the calendar command group.
func NewCalendarCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Show and schedule calendar events",
		Long: `Show and schedule calendar events.

The calendar merges stored meetings and pickups with the due dates of
open tasks and shipments. Due-date entries are read-only here; change
them on the task or shipment.`,
	}
	cmd.AddCommand(newCalendarListCommand(deps))
	cmd.AddCommand(newCalendarAddCommand(deps))
	cmd.AddCommand(newCalendarMoveCommand(deps))
	cmd.AddCommand(newCalendarDeleteCommand(deps))
	return cmd
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func newCalendarListCommand(deps *CommandDeps) *cobra.Command {
	var (
		from, to string
		days     int
		output   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events in a time window",
		Example: `  teamdesk calendar list
  teamdesk calendar list --from 2024-03-01 --to 2024-04-01`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := startOfDay(time.Now())
			if from != "" {
				t, err := parseWhen(from)
				if err != nil {
					return err
				}
				start = t
			}
			end := start.AddDate(0, 0, days)
			if to != "" {
				t, err := parseWhen(to)
				if err != nil {
					return err
				}
				end = t
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Calendar.Refresh(cmd.Context()); err != nil {
					return err
				}
				events := a.Workspace.Calendar.Between(start, end)
				if events == nil {
					events = []workspace.Event{}
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), events, func(w io.Writer) error {
					if len(events) == 0 {
						fmt.Fprintln(w, "No events.")
						return nil
					}
					for _, ev := range events {
						fmt.Fprintf(w, "%s - %s  %-8s %-30s %s\n",
							ev.Start.Local().Format("2006-01-02 15:04"), ev.End.Local().Format("15:04"),
							ev.Type, ev.ID, ev.Title)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Window start (default: today)")
	cmd.Flags().StringVar(&to, "to", "", "Window end (default: --days after start)")
	cmd.Flags().IntVar(&days, "days", 7, "Window length in days when --to is not set")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newCalendarAddCommand(deps *CommandDeps) *cobra.Command {
	var (
		title, start, end string
		kind              string
		duration          time.Duration
		resource          string
	)
	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Schedule a meeting or pickup",
		Example: `  teamdesk calendar add --title "Riunione" --start "2024-03-04 10:00" --duration 30m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := parseWhen(start)
			if err != nil {
				return err
			}
			e := s.Add(duration)
			if end != "" {
				if e, err = parseWhen(end); err != nil {
					return err
				}
			}
			in := workspace.NewEvent{Title: title, Start: s, End: e, Type: workspace.EventType(kind), ResourceID: resource}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				ev, err := a.Workspace.Calendar.Create(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled %s %s at %s\n", ev.Type, ev.ID, ev.Start.Local().Format("2006-01-02 15:04"))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Event title (required)")
	cmd.Flags().StringVar(&start, "start", "", "Start time (required)")
	cmd.Flags().StringVar(&end, "end", "", "End time (overrides --duration)")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "Event length")
	cmd.Flags().StringVar(&kind, "type", string(workspace.EventMeeting), "Event type: meeting, pickup")
	cmd.Flags().StringVar(&resource, "resource", "", "Linked resource id")
	return cmd
}

func newCalendarMoveCommand(deps *CommandDeps) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "move <event-id>",
		Short: "Reschedule a stored event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u workspace.EventUpdate
			var err error
			if u.Start, err = optTime(start); err != nil {
				return err
			}
			if u.End, err = optTime(end); err != nil {
				return err
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Calendar.Update(cmd.Context(), args[0], u); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rescheduled %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "New start time")
	cmd.Flags().StringVar(&end, "end", "", "New end time")
	return cmd
}

func newCalendarDeleteCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <event-id>",
		Short: "Delete a stored event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Calendar.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted event %s\n", args[0])
				return nil
			})
		},
	}
}
