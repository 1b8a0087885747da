package domain

import (
	"cmp"
	"slices"
	"time"
)

// SortKey selects the ticket list ordering.
type SortKey string

const (
	SortByLastUpdated  SortKey = "lastUpdated"
	SortByCreationDate SortKey = "creationDate"
	SortByPriority     SortKey = "priority"
	SortByID           SortKey = "id"
)

// SortDirection is asc or desc.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ViewPreferences are the per-user ticket list selections.
type ViewPreferences struct {
	Statuses   []TicketStatus
	Types      []TicketType
	Priorities []TicketPriority
	SortBy     SortKey
	SortDir    SortDirection
}

// DefaultViewPreferences hides closed tickets and sorts by most recent update.
func DefaultViewPreferences() ViewPreferences {
	statuses := make([]TicketStatus, 0, len(TicketStatuses))
	for _, s := range TicketStatuses {
		if s != TicketStatusClosed {
			statuses = append(statuses, s)
		}
	}
	return ViewPreferences{
		Statuses:   statuses,
		Types:      slices.Clone(TicketTypes),
		Priorities: slices.Clone(TicketPriorities),
		SortBy:     SortByLastUpdated,
		SortDir:    SortDesc,
	}
}

// Apply selects and orders tickets. The input slice is not modified.
func (p ViewPreferences) Apply(tickets []Ticket) []Ticket {
	out := make([]Ticket, 0, len(tickets))
	for _, t := range tickets {
		if !slices.Contains(p.Statuses, t.Status) {
			continue
		}
		typ := t.Type
		if typ == "" {
			typ = TicketTypeUnknown
		}
		if !slices.Contains(p.Types, typ) {
			continue
		}
		if !slices.Contains(p.Priorities, t.Priority) {
			continue
		}
		out = append(out, t)
	}

	slices.SortStableFunc(out, func(a, b Ticket) int {
		c := p.compare(a, b)
		if p.SortDir == SortDesc {
			return -c
		}
		return c
	})
	return out
}

func (p ViewPreferences) compare(a, b Ticket) int {
	switch p.SortBy {
	case SortByCreationDate:
		return a.CreationDate.Compare(b.CreationDate)
	case SortByPriority:
		return cmp.Compare(a.Priority.Rank(), b.Priority.Rank())
	case SortByID:
		return cmp.Compare(a.ID, b.ID)
	default:
		return lastUpdated(a).Compare(lastUpdated(b))
	}
}

func lastUpdated(t Ticket) time.Time {
	if t.LastUpdated != nil {
		return *t.LastUpdated
	}
	return t.CreationDate
}
