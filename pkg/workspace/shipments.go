package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/teamdesk/pkg/backend"
	tderrors "github.com/otherjamesbrown/teamdesk/pkg/errors"
	"github.com/otherjamesbrown/teamdesk/pkg/logging"
	"github.com/otherjamesbrown/teamdesk/pkg/profiles"
)

const (
	TableShipments        = "shipments"
	TableShipmentProducts = "shipment_products"
	TableCustomers        = "customers"
	TableProducts         = "products"
	TableAttachments      = "attachments"
	TableComments         = "comments"
)

// Customer receives shipments.
type Customer struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
	Phone   string `json:"phone,omitempty" yaml:"phone,omitempty"`
}

// Product is a catalogue item.
type Product struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	SKU         string `json:"sku,omitempty" yaml:"sku,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ShipmentLine is a product on a shipment.
type ShipmentLine struct {
	ProductID string `json:"product_id" yaml:"product_id"`
	Name      string `json:"name" yaml:"name"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
}

// Attachment is a file linked to a shipment.
type Attachment struct {
	ID   string         `json:"id" yaml:"id"`
	Name string         `json:"name" yaml:"name"`
	URL  string         `json:"url" yaml:"url"`
	Type AttachmentType `json:"type" yaml:"type"`
}

// Comment is a note left on a shipment.
type Comment struct {
	ID        string    `json:"id" yaml:"id"`
	Author    Person    `json:"author" yaml:"author"`
	Text      string    `json:"text" yaml:"text"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Shipment is one kanban card.
type Shipment struct {
	ID             string         `json:"id" yaml:"id"`
	OrderNumber    string         `json:"order_number" yaml:"order_number"`
	TrackingNumber string         `json:"tracking_number,omitempty" yaml:"tracking_number,omitempty"`
	Customer       Customer       `json:"customer" yaml:"customer"`
	Products       []ShipmentLine `json:"products" yaml:"products"`
	AssignedTo     Person         `json:"assigned_to" yaml:"assigned_to"`
	DueDate        *time.Time     `json:"due_date,omitempty" yaml:"due_date,omitempty"`
	Priority       Priority       `json:"priority" yaml:"priority"`
	Status         ShipmentStatus `json:"status" yaml:"status"`
	Attachments    []Attachment   `json:"attachments" yaml:"attachments"`
	Comments       []Comment      `json:"comments" yaml:"comments"`
}

// NewCustomer is the input of CreateCustomer.
type NewCustomer struct {
	Name    string `validate:"required,max=200"`
	Address string `validate:"required,max=500"`
	Email   string `validate:"omitempty,email"`
	Phone   string `validate:"omitempty,max=50"`
}

// NewProduct is the input of CreateProduct.
type NewProduct struct {
	Name        string `validate:"required,max=200"`
	SKU         string `validate:"omitempty,max=100"`
	Description string `validate:"omitempty,max=2000"`
}

// LineInput is one product line of a new shipment.
type LineInput struct {
	ProductID string `validate:"required"`
	Quantity  int    `validate:"min=1"`
}

// NewShipment is the input of Create.
type NewShipment struct {
	OrderNumber    string      `validate:"required,max=100"`
	CustomerID     string      `validate:"required"`
	AssignedTo     string      `validate:"omitempty"`
	DueDate        *time.Time  `validate:"omitempty"`
	Priority       Priority    `validate:"omitempty,oneof=Alta Media Bassa"`
	TrackingNumber string      `validate:"omitempty,max=100"`
	Products       []LineInput `validate:"dive"`
}

// Shipments is the live shipment board.
type Shipments struct {
	*Collection[Shipment]
	env    *env
	logger logging.Logger
}

func newShipments(e *env) *Shipments {
	s := &Shipments{env: e, logger: e.component("shipments")}
	s.Collection = newCollection(e, "shipments",
		[]string{TableShipments, TableShipmentProducts, TableComments, TableAttachments, TableCustomers},
		s.fetch)
	return s
}

func (s *Shipments) fetch(ctx context.Context) ([]Shipment, error) {
	rows, err := s.env.tables.Select(ctx, TableShipments, backend.Query{}.OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}

	// Customer rows may be restricted by role; shipments still render.
	customers := map[string]Customer{}
	if crows, err := s.env.tables.Select(ctx, TableCustomers, backend.Query{}); err != nil {
		s.logger.Warn("Limited access to customer data", logging.Err(err))
	} else {
		for _, r := range crows {
			c := customerFromRow(r)
			customers[c.ID] = c
		}
	}

	prows, err := s.env.tables.Select(ctx, TableProducts, backend.Query{})
	if err != nil {
		return nil, err
	}
	products := make(map[string]string, len(prows))
	for _, r := range prows {
		products[r.String("id")] = r.String("name")
	}

	lines := map[string][]ShipmentLine{}
	lrows, err := s.env.tables.Select(ctx, TableShipmentProducts, backend.Query{}.OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}
	for _, r := range lrows {
		sid := r.String("shipment_id")
		pid := r.String("product_id")
		lines[sid] = append(lines[sid], ShipmentLine{ProductID: pid, Name: products[pid], Quantity: r.Int("quantity")})
	}

	attachments := map[string][]Attachment{}
	arows, err := s.env.tables.Select(ctx, TableAttachments,
		backend.Query{}.Where(backend.NotNull("shipment_id")).OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}
	for _, r := range arows {
		sid := r.String("shipment_id")
		attachments[sid] = append(attachments[sid], Attachment{
			ID:   r.String("id"),
			Name: r.String("name"),
			URL:  r.String("url"),
			Type: AttachmentType(r.String("type")),
		})
	}

	comments := map[string][]Comment{}
	crows, err := s.env.tables.Select(ctx, TableComments, backend.Query{}.OrderBy("created_at", false))
	if err != nil {
		return nil, err
	}
	for _, r := range crows {
		sid := r.String("shipment_id")
		comments[sid] = append(comments[sid], s.commentFromRow(r))
	}

	out := make([]Shipment, 0, len(rows))
	for _, r := range rows {
		id := r.String("id")
		cust, ok := customers[r.String("customer_id")]
		if !ok {
			cust = Customer{Name: UnknownCustomerName}
		}
		out = append(out, Shipment{
			ID:             id,
			OrderNumber:    r.String("order_number"),
			TrackingNumber: r.String("tracking_number"),
			Customer:       cust,
			Products:       nonNil(lines[id]),
			AssignedTo:     s.env.person(r.String("assigned_to"), UnassignedName),
			DueDate:        r.OptTime("due_date"),
			Priority:       priorityOr(r.String("priority"), PriorityMedium),
			Status:         ShipmentStatus(stringOr(r.String("status"), string(StatusUpcoming))),
			Attachments:    nonNil(attachments[id]),
			Comments:       nonNil(comments[id]),
		})
	}
	return out, nil
}

func (s *Shipments) commentFromRow(r backend.Row) Comment {
	return Comment{
		ID:        r.String("id"),
		Author:    s.env.person(r.String("author_id"), profiles.FallbackName),
		Text:      r.String("text"),
		Timestamp: r.Time("created_at"),
	}
}

func customerFromRow(r backend.Row) Customer {
	return Customer{
		ID:      r.String("id"),
		Name:    r.String("name"),
		Address: r.String("address"),
		Email:   r.String("email"),
		Phone:   r.String("phone"),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ByStatus groups the board into its kanban columns.
func (s *Shipments) ByStatus() map[ShipmentStatus][]Shipment {
	out := make(map[ShipmentStatus][]Shipment, len(ShipmentStatuses))
	for _, sh := range s.Items() {
		out[sh.Status] = append(out[sh.Status], sh)
	}
	return out
}

// UpdateStatus moves a shipment to another column.
func (s *Shipments) UpdateStatus(ctx context.Context, id string, status ShipmentStatus) error {
	if !validStatus(status) {
		return fmt.Errorf("unknown shipment status %q: %w", status, tderrors.ErrValidation)
	}
	rows, err := s.env.tables.Update(ctx, TableShipments, backend.Row{"status": string(status)}, backend.Eq("id", id))
	if err != nil {
		s.logger.Error("Error updating shipment status", logging.F("shipment_id", id), logging.Err(err))
		return fmt.Errorf("updating shipment %s: %w", id, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("shipment %s: %w", id, tderrors.ErrNotFound)
	}
	s.Mutate(func(list []Shipment) []Shipment {
		out := make([]Shipment, len(list))
		for i, sh := range list {
			if sh.ID == id {
				sh.Status = status
			}
			out[i] = sh
		}
		return out
	})
	return nil
}

func validStatus(status ShipmentStatus) bool {
	for _, s := range ShipmentStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// CreateCustomer stores a new customer.
func (s *Shipments) CreateCustomer(ctx context.Context, in NewCustomer) (Customer, error) {
	if err := validateInput(in); err != nil {
		return Customer{}, err
	}
	row := backend.Row{"name": in.Name, "address": in.Address}
	if in.Email != "" {
		row["email"] = in.Email
	}
	if in.Phone != "" {
		row["phone"] = in.Phone
	}
	rows, err := s.env.tables.Insert(ctx, TableCustomers, row)
	if err != nil {
		s.logger.Error("Error creating customer", logging.Err(err))
		return Customer{}, fmt.Errorf("creating customer: %w", err)
	}
	return customerFromRow(rows[0]), nil
}

// CreateProduct stores a new catalogue product.
func (s *Shipments) CreateProduct(ctx context.Context, in NewProduct) (Product, error) {
	if err := validateInput(in); err != nil {
		return Product{}, err
	}
	row := backend.Row{"name": in.Name}
	if in.SKU != "" {
		row["sku"] = in.SKU
	}
	if in.Description != "" {
		row["description"] = in.Description
	}
	rows, err := s.env.tables.Insert(ctx, TableProducts, row)
	if err != nil {
		s.logger.Error("Error creating product", logging.Err(err))
		return Product{}, fmt.Errorf("creating product: %w", err)
	}
	r := rows[0]
	return Product{ID: r.String("id"), Name: r.String("name"), SKU: r.String("sku"), Description: r.String("description")}, nil
}

// Create stores a shipment in the upcoming column and then its product
// lines. The two writes are not atomic: when the lines fail the shipment
// id is returned together with the error.
func (s *Shipments) Create(ctx context.Context, in NewShipment) (string, error) {
	if err := validateInput(in); err != nil {
		return "", err
	}
	userID, err := s.env.currentUser(ctx)
	if err != nil {
		return "", err
	}

	row := backend.Row{
		"order_number": in.OrderNumber,
		"customer_id":  in.CustomerID,
		"priority":     string(priorityOr(string(in.Priority), PriorityMedium)),
		"status":       string(StatusUpcoming),
		"created_by":   userID,
	}
	if in.AssignedTo != "" {
		row["assigned_to"] = in.AssignedTo
	}
	if in.DueDate != nil {
		row["due_date"] = in.DueDate.UTC()
	}
	if in.TrackingNumber != "" {
		row["tracking_number"] = in.TrackingNumber
	}
	rows, err := s.env.tables.Insert(ctx, TableShipments, row)
	if err != nil {
		s.logger.Error("Error creating shipment", logging.Err(err))
		return "", fmt.Errorf("creating shipment: %w", err)
	}
	id := rows[0].String("id")

	if len(in.Products) > 0 {
		lines := make([]backend.Row, 0, len(in.Products))
		for _, p := range in.Products {
			lines = append(lines, backend.Row{"shipment_id": id, "product_id": p.ProductID, "quantity": p.Quantity})
		}
		if _, err := s.env.tables.Insert(ctx, TableShipmentProducts, lines...); err != nil {
			s.logger.Error("Error adding products to shipment", logging.F("shipment_id", id), logging.Err(err))
			return id, fmt.Errorf("adding products to shipment %s: %w", id, err)
		}
	}

	s.logger.Info("Shipment created", logging.F("shipment_id", id), logging.F("order_number", in.OrderNumber))
	_ = s.Refresh(ctx)
	return id, nil
}

// AddComment posts a comment on a shipment as the signed-in user.
func (s *Shipments) AddComment(ctx context.Context, shipmentID, text string) (Comment, error) {
	if shipmentID == "" || text == "" {
		return Comment{}, fmt.Errorf("shipment id and text are required: %w", tderrors.ErrValidation)
	}
	userID, err := s.env.currentUser(ctx)
	if err != nil {
		return Comment{}, err
	}
	rows, err := s.env.tables.Insert(ctx, TableComments, backend.Row{
		"shipment_id": shipmentID,
		"author_id":   userID,
		"text":        text,
	})
	if err != nil {
		s.logger.Error("Error adding comment", logging.F("shipment_id", shipmentID), logging.Err(err))
		return Comment{}, fmt.Errorf("commenting on shipment %s: %w", shipmentID, err)
	}
	return s.commentFromRow(rows[0]), nil
}
