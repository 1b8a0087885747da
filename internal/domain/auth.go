package domain

import "time"

// Privilege names an action a dashboard user may perform.
type Privilege string

const (
	PrivilegeTicketsRead Privilege = "tickets:read"
	PrivilegeTicketsSync Privilege = "tickets:sync"
)

// Token represents issued authentication token metadata.
type Token struct {
	SubjectID  string
	Name       string
	Privileges []Privilege
	ExpiresAt  time.Time
	IssuedAt   time.Time
}
