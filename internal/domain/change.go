package domain

// ChangeType is the kind of row mutation reported by a change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"

	// ChangeResync is emitted after a feed reconnects; events may have been missed.
	ChangeResync ChangeType = "RESYNC"
)

// Change is a notification that some row owned by Owner changed.
// Consumers only use the fact that it arrived and re-fetch.
type Change struct {
	Type  ChangeType `json:"type"`
	Owner string     `json:"owner"`
	ID    string     `json:"id,omitempty"`
}
