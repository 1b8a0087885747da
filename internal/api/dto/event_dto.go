package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// ChangeEventPayload is the live-update message body.
type ChangeEventPayload struct {
	Type     string         `json:"type" validate:"required,oneof=CREATED UPDATED DELETED"`
	Ticket   *TicketPayload `json:"ticket" validate:"required_unless=Type DELETED"`
	TicketID *int64         `json:"ticketId"`
}

// EventDecoder turns raw message bodies into change events.
type EventDecoder struct {
	validate *validator.Validate
	loc      *time.Location
}

// NewEventDecoder builds a decoder reading zone-less timestamps in loc.
func NewEventDecoder(validate *validator.Validate, loc *time.Location) *EventDecoder {
	if validate == nil {
		validate = validator.New()
	}
	if loc == nil {
		loc = time.Local
	}
	return &EventDecoder{validate: validate, loc: loc}
}

// Decode parses and validates body. Every failure wraps
// domain.ErrMalformedEvent.
func (d *EventDecoder) Decode(body []byte) (domain.ChangeEvent, error) {
	var payload ChangeEventPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if err := d.validate.Struct(payload); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	evt, err := payload.ToChangeEvent(d.loc)
	if err != nil {
		return domain.ChangeEvent{}, err
	}
	return evt, evt.Validate()
}

// ToChangeEvent maps the payload onto the domain variant.
func (p ChangeEventPayload) ToChangeEvent(loc *time.Location) (domain.ChangeEvent, error) {
	switch domain.ChangeType(p.Type) {
	case domain.ChangeCreated:
		if p.Ticket == nil {
			return domain.ChangeEvent{}, fmt.Errorf("%w: created event without ticket", domain.ErrMalformedEvent)
		}
		t, err := p.Ticket.ToTicket(loc)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
		}
		return domain.NewCreated(t), nil
	case domain.ChangeUpdated:
		if p.Ticket == nil {
			return domain.ChangeEvent{}, fmt.Errorf("%w: updated event without ticket", domain.ErrMalformedEvent)
		}
		patch, err := p.Ticket.ToPatch(loc)
		if err != nil {
			return domain.ChangeEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
		}
		id := p.Ticket.ID
		if id == 0 && p.TicketID != nil {
			id = *p.TicketID
		}
		return domain.NewUpdated(id, patch), nil
	case domain.ChangeDeleted:
		var id int64
		switch {
		case p.TicketID != nil:
			id = *p.TicketID
		case p.Ticket != nil:
			id = p.Ticket.ID
		}
		return domain.NewDeleted(id), nil
	default:
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown type %q", domain.ErrMalformedEvent, p.Type)
	}
}
