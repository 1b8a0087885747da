package domain

import "time"

// JournalEntry is one accepted change event as recorded in the event journal.
type JournalEntry struct {
	ID         string
	TicketID   int64
	Type       ChangeType
	Payload    []byte
	ReceivedAt time.Time
}
