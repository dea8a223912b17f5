package models

import "time"

// SystemConfig represents a key-value configuration entry.
type SystemConfig struct {
	ID        int64
	Key       string
	Value     string
	UpdatedAt time.Time
}

// AdminUser represents a dashboard user.
type AdminUser struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Lead represents a contact in the lead store. Ad hoc dials create minimal
// stubs carrying only a name and phone number.
type Lead struct {
	ID        int64
	Name      string
	Phone     string
	Company   string
	Email     string
	Status    string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lead status values.
const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusClosed    = "closed"
)

// CallRecord is the durable outcome of one terminated call. Append-only;
// exactly one record exists per terminated session.
type CallRecord struct {
	ID        int64
	LeadName  string
	Phone     string
	Duration  int // seconds
	Outcome   string
	StartedAt time.Time
	Agent     string
	Direction string // "incoming" | "outgoing"
	LeadID    *int64
	CreatedAt time.Time
}
