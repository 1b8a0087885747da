package domain

import "time"

// Optional carries a nullable field inside a patch. Set distinguishes an
// explicit null (Set && Value == nil) from an absent field (!Set).
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a set optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a set optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

func (o Optional[T]) apply(dst **T) {
	if !o.Set {
		return
	}
	if o.Value == nil {
		*dst = nil
		return
	}
	v := *o.Value
	*dst = &v
}

// TicketPatch is a partial ticket update. Nil pointers and unset optionals
// leave the target field untouched.
type TicketPatch struct {
	Title           *string
	Status          *TicketStatus
	Type            *TicketType
	Priority        *TicketPriority
	CreationDate    *time.Time
	ClosingDate     Optional[time.Time]
	FirstResponseAt Optional[time.Time]
	LastUpdated     Optional[time.Time]
	HasContract     *bool
	ContractValid   *bool
	ProjectID       Optional[int64]
	Project         Optional[ProjectRef]
	SubmittedBy     Optional[UserRef]
}

// ApplyTo returns a copy of t with the patch fields written over it.
func (p TicketPatch) ApplyTo(t Ticket) Ticket {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.CreationDate != nil {
		t.CreationDate = *p.CreationDate
	}
	p.ClosingDate.apply(&t.ClosingDate)
	p.FirstResponseAt.apply(&t.FirstResponseAt)
	p.LastUpdated.apply(&t.LastUpdated)
	if p.HasContract != nil {
		t.HasContract = *p.HasContract
	}
	if p.ContractValid != nil {
		t.ContractValid = *p.ContractValid
	}
	p.ProjectID.apply(&t.ProjectID)
	p.Project.apply(&t.Project)
	p.SubmittedBy.apply(&t.SubmittedBy)
	return t
}

// ToTicket materializes the patch as a new ticket with the given id.
func (p TicketPatch) ToTicket(id int64) Ticket {
	return p.ApplyTo(Ticket{ID: id})
}
