// Package merge folds ticket change events into an ordered ticket collection.
package merge

import (
	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// Merge applies evt to current and returns a newly allocated collection.
// current is never written. Invalid events return current unchanged together
// with an error wrapping domain.ErrMalformedEvent.
//
// Ordering is last-received-wins: no timestamp or version comparison is made.
func Merge(current []domain.Ticket, evt domain.ChangeEvent) ([]domain.Ticket, error) {
	if err := evt.Validate(); err != nil {
		return current, err
	}

	switch evt.Type {
	case domain.ChangeCreated:
		return upsert(current, *evt.Ticket), nil
	case domain.ChangeUpdated:
		idx := indexOf(current, evt.TicketID)
		if idx == -1 {
			return prepend(current, evt.Patch.ToTicket(evt.TicketID)), nil
		}
		next := clone(current)
		next[idx] = evt.Patch.ApplyTo(current[idx])
		return next, nil
	default:
		return remove(current, evt.TicketID), nil
	}
}

// MergeAll folds events left to right, skipping invalid ones. It returns the
// final collection and the errors of skipped events in order.
func MergeAll(current []domain.Ticket, evts []domain.ChangeEvent) ([]domain.Ticket, []error) {
	var errs []error
	for _, evt := range evts {
		next, err := Merge(current, evt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		current = next
	}
	return current, errs
}

func upsert(current []domain.Ticket, t domain.Ticket) []domain.Ticket {
	idx := indexOf(current, t.ID)
	if idx == -1 {
		return prepend(current, t)
	}
	next := clone(current)
	next[idx] = t
	return next
}

func remove(current []domain.Ticket, id int64) []domain.Ticket {
	next := make([]domain.Ticket, 0, len(current))
	for _, t := range current {
		if t.ID != id {
			next = append(next, t)
		}
	}
	return next
}

func prepend(current []domain.Ticket, t domain.Ticket) []domain.Ticket {
	next := make([]domain.Ticket, 0, len(current)+1)
	next = append(next, t)
	return append(next, current...)
}

func clone(current []domain.Ticket) []domain.Ticket {
	next := make([]domain.Ticket, len(current))
	copy(next, current)
	return next
}

func indexOf(current []domain.Ticket, id int64) int {
	for i := range current {
		if current[i].ID == id {
			return i
		}
	}
	return -1
}
