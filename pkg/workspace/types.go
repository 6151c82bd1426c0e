package workspace

// Priority of a task or shipment.
type Priority string

const (
	PriorityHigh   Priority = "Alta"
	PriorityMedium Priority = "Media"
	PriorityLow    Priority = "Bassa"
)

// ShipmentStatus is the kanban column of a shipment.
type ShipmentStatus string

const (
	StatusOnHold   ShipmentStatus = "Spedizioni Ferme"
	StatusUpcoming ShipmentStatus = "Spedizioni Future"
	StatusPickup   ShipmentStatus = "Ritira il Cliente"
)

// ShipmentStatuses lists the kanban columns in board order.
var ShipmentStatuses = []ShipmentStatus{StatusUpcoming, StatusOnHold, StatusPickup}

// EventType classifies a calendar event.
type EventType string

const (
	EventShipment EventType = "shipment"
	EventTask     EventType = "task"
	EventPickup   EventType = "pickup"
	EventMeeting  EventType = "meeting"
)

// AttachmentType is the kind of a shipment attachment.
type AttachmentType string

const (
	AttachmentDocument AttachmentType = "document"
	AttachmentImage    AttachmentType = "image"
)

// Display fallbacks for missing related rows.
const (
	UnassignedName      = "Non assegnato"
	UnknownCustomerName = "Cliente non disponibile"
	UnknownUserName     = "Utente sconosciuto"
	DefaultCategory     = "Generale"
	DefaultNotebook     = "Generale"
)

// Person is a profile as shown next to an entity.
type Person struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string `json:"name" yaml:"name"`
	AvatarURL string `json:"avatar_url,omitempty" yaml:"avatar_url,omitempty"`
}

func priorityOr(p string, def Priority) Priority {
	if p == "" {
		return def
	}
	return Priority(p)
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// putFirst prepends item, or replaces the entry with the same id in place
// when a feed refetch already brought the row in.
func putFirst[T any](list []T, item T, id func(T) string) []T {
	for i, existing := range list {
		if id(existing) == id(item) {
			out := make([]T, len(list))
			copy(out, list)
			out[i] = item
			return out
		}
	}
	return append([]T{item}, list...)
}
