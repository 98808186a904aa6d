// Package envelope defines the standard eight-field message envelope used
// between the orchestrator and every external participant, and the codec
// that validates it before any other component sees it.
package envelope

import (
	"encoding/json"
	"time"
)

// Status values carried by response envelopes.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusConflict = "conflict"
)

// Envelope is the standardized message used to request, deliver, and
// acknowledge. Requests omit Status and Result; responses echo the request ID
// and fill both.
type Envelope struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Action string `json:"action"`

	Payload json.RawMessage `json:"payload"`

	// CorrelationID links a message back to the proposal it concerns. The
	// wire name "cort" is the contract inherited from the upstream envelope
	// format.
	CorrelationID string `json:"cort,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Status and Result are set on responses only.
	Status string          `json:"status,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// IsResponse reports whether the envelope carries a response status.
func (e Envelope) IsResponse() bool {
	return e.Status != ""
}

// FieldError describes a single envelope validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}
