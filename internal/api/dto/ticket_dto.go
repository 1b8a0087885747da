package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// Nullable tracks whether a JSON key was present and whether it was null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON records presence; a literal null leaves Value nil.
func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// ProjectPayload is the embedded project reference.
type ProjectPayload struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserPayload is the embedded submitter reference.
type UserPayload struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// TicketPayload is a ticket as sent by the backend, in full or in part.
// Timestamps stay raw until converted with a location. Empty enum strings
// pass validation.
type TicketPayload struct {
	ID              int64                    `json:"id"`
	Title           *string                  `json:"title"`
	Status          *domain.TicketStatus     `json:"status" validate:"omitempty,oneof=OPEN CLOSED PENDING IN_PROGRESS ESCALATED"`
	Type            *domain.TicketType       `json:"type" validate:"omitempty,oneof=HARDWARE SOFTWARE QUESTION CHANGE UNKNOWN"`
	Priority        *domain.TicketPriority   `json:"priority" validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW"`
	CreationDate    *string                  `json:"creationDate"`
	CreatedAt       *string                  `json:"createdAt"`
	ClosingDate     Nullable[string]         `json:"closingDate"`
	ClosedAt        Nullable[string]         `json:"closedAt"`
	FirstResponseAt Nullable[string]         `json:"firstResponseAt"`
	LastUpdated     Nullable[string]         `json:"lastUpdated"`
	HasContract     *bool                    `json:"hasContract"`
	ContractValid   *bool                    `json:"contractValid"`
	ProjectID       Nullable[int64]          `json:"projectId"`
	Project         Nullable[ProjectPayload] `json:"project"`
	SubmittedBy     Nullable[UserPayload]    `json:"submittedBy"`
}

// ToPatch converts the payload to a field-by-field patch. Zone-less
// timestamps are read in loc.
func (p TicketPayload) ToPatch(loc *time.Location) (domain.TicketPatch, error) {
	patch := domain.TicketPatch{
		Title:         p.Title,
		Status:        p.Status,
		Type:          p.Type,
		Priority:      p.Priority,
		HasContract:   p.HasContract,
		ContractValid: p.ContractValid,
	}

	created := p.CreationDate
	if created == nil {
		created = p.CreatedAt
	}
	if created != nil {
		ts, err := ParseTimestamp(*created, loc)
		if err != nil {
			return patch, fmt.Errorf("creationDate: %w", err)
		}
		patch.CreationDate = &ts
	}

	closing := p.ClosingDate
	if !closing.Set {
		closing = p.ClosedAt
	}
	var err error
	if patch.ClosingDate, err = optionalTime(closing, loc); err != nil {
		return patch, fmt.Errorf("closingDate: %w", err)
	}
	if patch.FirstResponseAt, err = optionalTime(p.FirstResponseAt, loc); err != nil {
		return patch, fmt.Errorf("firstResponseAt: %w", err)
	}
	if patch.LastUpdated, err = optionalTime(p.LastUpdated, loc); err != nil {
		return patch, fmt.Errorf("lastUpdated: %w", err)
	}

	patch.ProjectID = domain.Optional[int64]{Set: p.ProjectID.Set, Value: p.ProjectID.Value}
	if p.Project.Set {
		patch.Project = domain.Optional[domain.ProjectRef]{Set: true}
		if v := p.Project.Value; v != nil {
			patch.Project.Value = &domain.ProjectRef{ID: v.ID, Name: v.Name}
		}
	}
	if p.SubmittedBy.Set {
		patch.SubmittedBy = domain.Optional[domain.UserRef]{Set: true}
		if v := p.SubmittedBy.Value; v != nil {
			patch.SubmittedBy.Value = &domain.UserRef{ID: v.ID, Name: v.Name, Email: v.Email}
		}
	}
	return patch, nil
}

// ToTicket converts a full payload into a ticket.
func (p TicketPayload) ToTicket(loc *time.Location) (domain.Ticket, error) {
	patch, err := p.ToPatch(loc)
	if err != nil {
		return domain.Ticket{}, err
	}
	return patch.ToTicket(p.ID), nil
}

func optionalTime(raw Nullable[string], loc *time.Location) (domain.Optional[time.Time], error) {
	if !raw.Set {
		return domain.Optional[time.Time]{}, nil
	}
	if raw.Value == nil || strings.TrimSpace(*raw.Value) == "" {
		return domain.Null[time.Time](), nil
	}
	ts, err := ParseTimestamp(*raw.Value, loc)
	if err != nil {
		return domain.Optional[time.Time]{}, err
	}
	return domain.Some(ts), nil
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Timestamps outside [minYear, maxYear] are rejected as corrupt.
const (
	minYear = 1970
	maxYear = 2199
)

// ParseTimestamp accepts RFC 3339 timestamps, zone-less local date-times
// and plain dates. Zone-less values are interpreted in loc.
func ParseTimestamp(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if loc == nil {
		loc = time.Local
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	for i := 0; err != nil && i < len(zonelessLayouts); i++ {
		ts, err = time.ParseInLocation(zonelessLayouts[i], raw, loc)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
	}
	// The zero instant is how a ticket without a creation date is encoded.
	if ts.IsZero() {
		return ts, nil
	}
	if y := ts.Year(); y < minYear || y > maxYear {
		return time.Time{}, fmt.Errorf("timestamp %q: year %d out of range", raw, y)
	}
	return ts, nil
}

// TicketResponse is the outbound ticket representation. Field names match
// TicketPayload so persisted responses decode back into payloads.
type TicketResponse struct {
	ID              int64                 `json:"id"`
	Title           string                `json:"title"`
	Status          domain.TicketStatus   `json:"status"`
	Type            domain.TicketType     `json:"type"`
	Priority        domain.TicketPriority `json:"priority"`
	CreationDate    time.Time             `json:"creationDate"`
	ClosingDate     *time.Time            `json:"closingDate"`
	FirstResponseAt *time.Time            `json:"firstResponseAt"`
	LastUpdated     *time.Time            `json:"lastUpdated"`
	HasContract     bool                  `json:"hasContract"`
	ContractValid   bool                  `json:"contractValid"`
	ProjectID       *int64                `json:"projectId"`
	Project         *ProjectPayload       `json:"project"`
	SubmittedBy     *UserPayload          `json:"submittedBy"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:              t.ID,
		Title:           t.Title,
		Status:          t.Status,
		Type:            t.Type,
		Priority:        t.Priority,
		CreationDate:    t.CreationDate,
		ClosingDate:     t.ClosingDate,
		FirstResponseAt: t.FirstResponseAt,
		LastUpdated:     t.LastUpdated,
		HasContract:     t.HasContract,
		ContractValid:   t.ContractValid,
		ProjectID:       t.ProjectID,
	}
	if t.Project != nil {
		resp.Project = &ProjectPayload{ID: t.Project.ID, Name: t.Project.Name}
	}
	if t.SubmittedBy != nil {
		resp.SubmittedBy = &UserPayload{ID: t.SubmittedBy.ID, Name: t.SubmittedBy.Name, Email: t.SubmittedBy.Email}
	}
	return resp
}

// NewTicketResponses maps a list.
func NewTicketResponses(tickets []domain.Ticket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, NewTicketResponse(t))
	}
	return out
}
