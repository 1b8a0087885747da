package domain

import (
	"errors"
	"fmt"
)

// ChangeType tags a ChangeEvent.
type ChangeType string

const (
	ChangeCreated ChangeType = "CREATED"
	ChangeUpdated ChangeType = "UPDATED"
	ChangeDeleted ChangeType = "DELETED"
)

// ErrMalformedEvent marks events that cannot be merged.
var ErrMalformedEvent = errors.New("malformed change event")

// ChangeEvent describes a single create/update/delete of a ticket.
//
// Created events carry Ticket, Updated events carry TicketID and Patch,
// Deleted events carry TicketID only.
type ChangeEvent struct {
	Type     ChangeType
	TicketID int64
	Ticket   *Ticket
	Patch    *TicketPatch
}

// NewCreated builds a CREATED event.
func NewCreated(t Ticket) ChangeEvent {
	return ChangeEvent{Type: ChangeCreated, TicketID: t.ID, Ticket: &t}
}

// NewUpdated builds an UPDATED event.
func NewUpdated(id int64, patch TicketPatch) ChangeEvent {
	return ChangeEvent{Type: ChangeUpdated, TicketID: id, Patch: &patch}
}

// NewDeleted builds a DELETED event.
func NewDeleted(id int64) ChangeEvent {
	return ChangeEvent{Type: ChangeDeleted, TicketID: id}
}

// Validate checks the event carries an identifiable id and the payload its
// type requires.
func (e ChangeEvent) Validate() error {
	switch e.Type {
	case ChangeCreated:
		if e.Ticket == nil {
			return fmt.Errorf("%w: created event without ticket", ErrMalformedEvent)
		}
		if e.Ticket.ID <= 0 {
			return fmt.Errorf("%w: created event without ticket id", ErrMalformedEvent)
		}
	case ChangeUpdated:
		if e.TicketID <= 0 {
			return fmt.Errorf("%w: updated event without ticket id", ErrMalformedEvent)
		}
		if e.Patch == nil {
			return fmt.Errorf("%w: updated event without payload", ErrMalformedEvent)
		}
	case ChangeDeleted:
		if e.TicketID <= 0 {
			return fmt.Errorf("%w: deleted event without ticket id", ErrMalformedEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, e.Type)
	}
	return nil
}

// ID returns the ticket id the event refers to.
func (e ChangeEvent) ID() int64 {
	if e.Type == ChangeCreated && e.Ticket != nil {
		return e.Ticket.ID
	}
	return e.TicketID
}
