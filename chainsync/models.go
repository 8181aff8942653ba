package chainsync

import (
	"encoding/json"
	"time"
)

// State tracks a record's progress toward durable storage plus ledger anchor.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSynced     State = "synced"
	StateUnsynced   State = "unsynced"
)

// SyncRecord is one domain event queued for off-system durability. The
// payload is stored verbatim; ContentHash is computed over its canonical
// form at enqueue time and re-checked after upload.
type SyncRecord struct {
	ID          string
	RecordType  string
	DomainID    string
	Payload     json.RawMessage
	ContentHash string
	DurableRef  *string
	AnchorRef   *string
	State       State
	Attempts    int
	NextRetryAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Upload is the durable store's receipt for a stored payload.
type Upload struct {
	ID   string
	URL  string
	Cost int64 // micro-units
}
