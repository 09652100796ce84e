package models

import "time"

// Reservation is a confirmed booking backed by a remote calendar event.
type Reservation struct {
	EventID    string        `json:"event_id"`
	UserID     int64         `json:"user_id"`
	RecordCode string        `json:"record_code"`
	Start      time.Time     `json:"start"`
	Fields     ContactFields `json:"fields"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// BusySource tells where a busy interval came from.
type BusySource string

const (
	SourceRemote BusySource = "remote"
	SourceLedger BusySource = "ledger"
)

// BusyInterval is an occupied span of the shared calendar.
type BusyInterval struct {
	EventID     string     `json:"event_id"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Description string     `json:"description"`
	OwnerID     int64      `json:"owner_id"`
	Source      BusySource `json:"source"`
}

// EventInput is what gets written to the remote calendar.
type EventInput struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}
