package events

import (
	"time"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketsReplaced EventType = "tickets_replaced"
	EventTicketChanged   EventType = "ticket_changed"
	EventFilterChanged   EventType = "filter_changed"
)

// Event is a notification that the ticket cache changed.
type Event struct {
	Type      EventType
	TicketID  int64
	Version   uint64
	Timestamp time.Time
	Payload   any
}

// TicketsReplacedPayload payload. Restored is set when the collection came
// from a stored snapshot rather than the backend.
type TicketsReplacedPayload struct {
	Count    int
	Replayed int
	Restored bool
	SyncedAt time.Time
}

// TicketChangedPayload payload.
type TicketChangedPayload struct {
	Change domain.ChangeEvent
}

// FilterChangedPayload payload.
type FilterChangedPayload struct {
	Criteria domain.FilterCriteria
}
