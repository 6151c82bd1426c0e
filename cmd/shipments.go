package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/teamdesk/config"
	"github.com/otherjamesbrown/teamdesk/pkg/app"
	"github.com/otherjamesbrown/teamdesk/pkg/workspace"
)

// NewShipmentsCommand creates the shipments command group.
func NewShipmentsCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "shipments",
		Aliases: []string{"spedizioni"},
		Short:   "Work with the shipment board",
		Long: `Work with the shipment board.

Shipments are grouped in three columns:
  Spedizioni Ferme    on hold
  Spedizioni Future   upcoming
  Ritira il Cliente   customer pickup`,
	}
	cmd.AddCommand(newShipmentsListCommand(deps))
	cmd.AddCommand(newShipmentsMoveCommand(deps))
	cmd.AddCommand(newShipmentsCreateCommand(deps))
	cmd.AddCommand(newShipmentsCommentCommand(deps))
	cmd.AddCommand(newShipmentsCustomerCommand(deps))
	cmd.AddCommand(newShipmentsProductCommand(deps))
	return cmd
}

// parseStatus accepts the column label or a short alias.
func parseStatus(s string) (workspace.ShipmentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hold", "on-hold", strings.ToLower(string(workspace.StatusOnHold)):
		return workspace.StatusOnHold, nil
	case "upcoming", strings.ToLower(string(workspace.StatusUpcoming)):
		return workspace.StatusUpcoming, nil
	case "pickup", strings.ToLower(string(workspace.StatusPickup)):
		return workspace.StatusPickup, nil
	}
	return "", fmt.Errorf("unknown shipment status %q (use hold, upcoming or pickup)", s)
}

func newShipmentsListCommand(deps *CommandDeps) *cobra.Command {
	var (
		status string
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List shipments by board column",
		RunE: func(cmd *cobra.Command, args []string) error {
			columns := workspace.ShipmentStatuses
			if status != "" {
				st, err := parseStatus(status)
				if err != nil {
					return err
				}
				columns = []workspace.ShipmentStatus{st}
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Shipments.Refresh(cmd.Context()); err != nil {
					return err
				}
				board := a.Workspace.Shipments.ByStatus()
				view := make(map[workspace.ShipmentStatus][]workspace.Shipment, len(columns))
				for _, st := range columns {
					view[st] = board[st]
				}
				return writeOutput(cmd.OutOrStdout(), formatFlag(cfg, output), view, func(w io.Writer) error {
					for _, st := range columns {
						fmt.Fprintf(w, "%s (%d)\n", st, len(board[st]))
						for _, s := range board[st] {
							fmt.Fprintf(w, "  %s  #%-12s %-24s %-5s %-16s %s\n",
								s.ID, s.OrderNumber, truncate(s.Customer.Name, 24), s.Priority, formatTime(s.DueDate), s.AssignedTo.Name)
							for _, p := range s.Products {
								fmt.Fprintf(w, "      %3dx %s\n", p.Quantity, p.Name)
							}
						}
						fmt.Fprintln(w)
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only list one column: hold, upcoming, pickup")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newShipmentsMoveCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "move <shipment-id> <status>",
		Short:   "Move a shipment to another column",
		Example: `  teamdesk shipments move 3f2a pickup`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				if err := a.Workspace.Shipments.UpdateStatus(cmd.Context(), args[0], st); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Shipment %s moved to %s\n", args[0], st)
				return nil
			})
		},
	}
}

// parseLine reads a product line written as <product-id>[:<quantity>].
func parseLine(s string) (workspace.LineInput, error) {
	id, qty, found := strings.Cut(s, ":")
	line := workspace.LineInput{ProductID: id, Quantity: 1}
	if found {
		n, err := strconv.Atoi(qty)
		if err != nil {
			return line, fmt.Errorf("invalid quantity in %q", s)
		}
		line.Quantity = n
	}
	return line, nil
}

func newShipmentsCreateCommand(deps *CommandDeps) *cobra.Command {
	var (
		in       workspace.NewShipment
		assignee string
		due      string
		priority string
		lines    []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a shipment",
		Long: `Create a shipment on the Spedizioni Future column. Product lines are
written as <product-id>[:<quantity>].`,
		Example: `  teamdesk shipments create --order 2024-118 --customer c1 --product p1:4 --product p2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, l := range lines {
				line, err := parseLine(l)
				if err != nil {
					return err
				}
				in.Products = append(in.Products, line)
			}
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
				id, err := a.Workspace.Shipments.Create(cmd.Context(), in)
				if id != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Created shipment %s for order %s\n", id, in.OrderNumber)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&in.OrderNumber, "order", "", "Order number (required)")
	cmd.Flags().StringVar(&in.CustomerID, "customer", "", "Customer id (required)")
	cmd.Flags().StringVar(&in.TrackingNumber, "tracking", "", "Tracking number")
	cmd.Flags().StringVar(&assignee, "assignee", "", "Assignee name or profile id")
	cmd.Flags().StringVar(&due, "due", "", "Due date")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority: Alta, Media, Bassa")
	cmd.Flags().StringArrayVar(&lines, "product", nil, "Product line <product-id>[:<quantity>] (repeatable)")
	return cmd
}

func newShipmentsCommentCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <shipment-id> <text>",
		Short: "Comment on a shipment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				c, err := a.Workspace.Shipments.AddComment(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Comment %s added by %s\n", c.ID, c.Author.Name)
				return nil
			})
		},
	}
}

func newShipmentsCustomerCommand(deps *CommandDeps) *cobra.Command {
	var in workspace.NewCustomer
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Register a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				c, err := a.Workspace.Shipments.CreateCustomer(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created customer %s: %s\n", c.ID, c.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Customer name (required)")
	cmd.Flags().StringVar(&in.Address, "address", "", "Delivery address (required)")
	cmd.Flags().StringVar(&in.Email, "email", "", "Email")
	cmd.Flags().StringVar(&in.Phone, "phone", "", "Phone")
	return cmd
}

func newShipmentsProductCommand(deps *CommandDeps) *cobra.Command {
	var in workspace.NewProduct
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Add a product to the catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return deps.withApp(cmd.Context(), func(a *app.App, cfg *config.CLIConfig) error {
				p, err := a.Workspace.Shipments.CreateProduct(cmd.Context(), in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created product %s: %s\n", p.ID, p.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "Product name (required)")
	cmd.Flags().StringVar(&in.SKU, "sku", "", "SKU")
	cmd.Flags().StringVar(&in.Description, "description", "", "Description")
	return cmd
}
