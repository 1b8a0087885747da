package domain

import (
	"strconv"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusClosed     TicketStatus = "CLOSED"
	TicketStatusPending    TicketStatus = "PENDING"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusEscalated  TicketStatus = "ESCALATED"
)

// TicketStatuses lists every known status in display order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusClosed,
	TicketStatusPending,
	TicketStatusInProgress,
	TicketStatusEscalated,
}

// TicketType classifies the nature of a request.
type TicketType string

const (
	TicketTypeHardware TicketType = "HARDWARE"
	TicketTypeSoftware TicketType = "SOFTWARE"
	TicketTypeQuestion TicketType = "QUESTION"
	TicketTypeChange   TicketType = "CHANGE"
	TicketTypeUnknown  TicketType = "UNKNOWN"
)

// TicketTypes lists every known type.
var TicketTypes = []TicketType{
	TicketTypeHardware,
	TicketTypeSoftware,
	TicketTypeQuestion,
	TicketTypeChange,
	TicketTypeUnknown,
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityCritical TicketPriority = "CRITICAL"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityLow      TicketPriority = "LOW"
)

// TicketPriorities lists every known priority, most urgent first.
var TicketPriorities = []TicketPriority{
	TicketPriorityCritical,
	TicketPriorityHigh,
	TicketPriorityMedium,
	TicketPriorityLow,
}

// Rank orders priorities for sorting; unknown values rank lowest.
func (p TicketPriority) Rank() int {
	switch p {
	case TicketPriorityCritical:
		return 4
	case TicketPriorityHigh:
		return 3
	case TicketPriorityMedium:
		return 2
	case TicketPriorityLow:
		return 1
	default:
		return 0
	}
}

// ProjectRef is the lightweight project reference embedded in tickets.
type ProjectRef struct {
	ID   int64
	Name string
}

// UserRef identifies the user who submitted a ticket.
type UserRef struct {
	ID    int64
	Name  string
	Email string
}

// Ticket is the aggregate the dashboard synchronizes.
type Ticket struct {
	ID              int64
	Title           string
	Status          TicketStatus
	Type            TicketType
	Priority        TicketPriority
	CreationDate    time.Time
	ClosingDate     *time.Time
	FirstResponseAt *time.Time
	LastUpdated     *time.Time
	HasContract     bool
	ContractValid   bool
	ProjectID       *int64
	Project         *ProjectRef
	SubmittedBy     *UserRef
}

// HasProject reports whether the ticket references a project at all.
func (t Ticket) HasProject() bool {
	return t.ProjectID != nil || t.Project != nil
}

// ProjectName returns the embedded project name or "".
func (t Ticket) ProjectName() string {
	if t.Project == nil {
		return ""
	}
	return t.Project.Name
}

// IDString renders the identifier for text search.
func (t Ticket) IDString() string {
	return strconv.FormatInt(t.ID, 10)
}

// UnderContract reports whether a valid service contract covers the ticket.
func (t Ticket) UnderContract() bool {
	return t.HasContract && t.ContractValid
}
