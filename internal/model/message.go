package model

import "time"

// Message is one deposition correspondence record, shared by both storage
// backends. The field set mirrors the _pdbx_deposition_message_info category
// so that the same logical message can round-trip through either store.
type Message struct {
	MessageID       string    `json:"message_id"`
	DepositionID    string    `json:"deposition_id"`
	Timestamp       time.Time `json:"timestamp"`
	Sender          string    `json:"sender"`
	ContextType     string    `json:"context_type,omitempty"`
	ContextValue    string    `json:"context_value,omitempty"`
	ParentMessageID string    `json:"parent_message_id,omitempty"`
	Subject         string    `json:"subject"`
	Text            string    `json:"text"`
	MessageType     string    `json:"message_type"` // "text" unless set otherwise
	SendStatus      string    `json:"send_status"`  // single char, "Y" when delivered
}

// Backend name constants. These are stable identifiers used in metrics,
// health maps and log lines.
const (
	BackendCIF      = "cif"
	BackendDatabase = "database"
)

// WriteOutcome is the result of a single backend write attempt. It is
// created per attempt, handed to the metrics collector and discarded.
type WriteOutcome struct {
	Backend      string  `json:"backend"`
	Success      bool    `json:"success"`
	DurationMs   float64 `json:"duration_ms"`
	Error        string  `json:"error,omitempty"`
	MessageCount int     `json:"message_count"`
}

// ConsistencyReport is the result of comparing both backends' views of one
// deposition. A mismatch is a finding, not an error: reports are always
// returned, never raised.
type ConsistencyReport struct {
	DepositionID string    `json:"deposition_id"`
	CifCount     int       `json:"cif_count"`
	DbCount      int       `json:"db_count"`
	Consistent   bool      `json:"consistent"`
	Differences  []string  `json:"differences,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}
