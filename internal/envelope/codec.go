package envelope

import (
	"encoding/json"
	"fmt"

	dErrors "assent/pkg/domain-errors"
)

// DefaultMaxPayloadBytes is the payload size ceiling applied when none is
// configured.
const DefaultMaxPayloadBytes = 256 << 10

// Codec serializes, deserializes, and validates envelopes. It is stateless;
// a single instance is shared by the inbound API and the dispatcher.
type Codec struct {
	maxPayloadBytes int
}

// NewCodec creates a codec enforcing the given payload ceiling. A ceiling of
// zero or less selects DefaultMaxPayloadBytes.
func NewCodec(maxPayloadBytes int) *Codec {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	return &Codec{maxPayloadBytes: maxPayloadBytes}
}

// Encode validates and serializes an envelope.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	if errs := c.Validate(env); len(errs) > 0 {
		return nil, dErrors.Wrap(errs[0], dErrors.CodeSchema, "envelope failed validation")
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeSchema, "marshal envelope")
	}
	return raw, nil
}

// Decode deserializes and validates an envelope.
func (c *Codec) Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, dErrors.Wrap(err, dErrors.CodeSchema, "malformed envelope JSON")
	}
	if len(env.Payload) > c.maxPayloadBytes {
		return Envelope{}, dErrors.New(dErrors.CodeSizeLimit,
			fmt.Sprintf("payload %d bytes exceeds ceiling %d", len(env.Payload), c.maxPayloadBytes))
	}
	if errs := c.Validate(env); len(errs) > 0 {
		return Envelope{}, dErrors.Wrap(errs[0], dErrors.CodeSchema, "envelope failed validation")
	}
	return env, nil
}

// Validate checks mandatory fields and the payload ceiling. It is a pure
// function with no side effects; an empty slice means the envelope is valid.
func (c *Codec) Validate(env Envelope) []FieldError {
	var errs []FieldError

	if env.ID == "" {
		errs = append(errs, FieldError{Field: "id", Message: "is required"})
	}
	if env.Source == "" {
		errs = append(errs, FieldError{Field: "source", Message: "is required"})
	}
	if env.Target == "" {
		errs = append(errs, FieldError{Field: "target", Message: "is required"})
	}
	if env.Action == "" {
		errs = append(errs, FieldError{Field: "action", Message: "is required"})
	}
	if len(env.Payload) == 0 {
		errs = append(errs, FieldError{Field: "payload", Message: "is required"})
	} else if !json.Valid(env.Payload) {
		errs = append(errs, FieldError{Field: "payload", Message: "is not valid JSON"})
	}
	if env.Timestamp.IsZero() {
		errs = append(errs, FieldError{Field: "timestamp", Message: "is required"})
	}
	if len(env.Payload) > c.maxPayloadBytes {
		errs = append(errs, FieldError{Field: "payload",
			Message: fmt.Sprintf("%d bytes exceeds ceiling %d", len(env.Payload), c.maxPayloadBytes)})
	}
	if env.IsResponse() {
		switch env.Status {
		case StatusSuccess, StatusError, StatusConflict:
		default:
			errs = append(errs, FieldError{Field: "status", Message: "must be success, error, or conflict"})
		}
	}

	return errs
}
