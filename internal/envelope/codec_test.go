package envelope

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "assent/pkg/domain-errors"
)

func validEnvelope() Envelope {
	return Envelope{
		ID:        "e1f0a2b4-0000-4000-8000-000000000001",
		Source:    "assent",
		Target:    "key-vault",
		Action:    "rotate_key",
		Payload:   json.RawMessage(`{"key":"openai_primary"}`),
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := NewCodec(0)
	env := validEnvelope()
	env.CorrelationID = "c0ffee00-0000-4000-8000-000000000002"

	raw, err := codec.Encode(env)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.ID, decoded.ID)
	assert.Equal(t, env.CorrelationID, decoded.CorrelationID)
	assert.JSONEq(t, string(env.Payload), string(decoded.Payload))
	assert.False(t, decoded.IsResponse())
}

func TestCodec_EncodeRejectsMissingFields(t *testing.T) {
	codec := NewCodec(0)

	tests := []struct {
		name   string
		mutate func(*Envelope)
		field  string
	}{
		{"missing id", func(e *Envelope) { e.ID = "" }, "id"},
		{"missing source", func(e *Envelope) { e.Source = "" }, "source"},
		{"missing target", func(e *Envelope) { e.Target = "" }, "target"},
		{"missing action", func(e *Envelope) { e.Action = "" }, "action"},
		{"missing payload", func(e *Envelope) { e.Payload = nil }, "payload"},
		{"missing timestamp", func(e *Envelope) { e.Timestamp = time.Time{} }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnvelope()
			tt.mutate(&env)

			_, err := codec.Encode(env)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeSchema))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestCodec_DecodeMalformedJSON(t *testing.T) {
	codec := NewCodec(0)
	_, err := codec.Decode([]byte(`{"id": "x", truncated`))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeSchema))
}

func TestCodec_PayloadCeiling(t *testing.T) {
	codec := NewCodec(64)

	env := validEnvelope()
	env.Payload = json.RawMessage(`{"blob":"` + strings.Repeat("a", 128) + `"}`)

	t.Run("validate flags oversized payload", func(t *testing.T) {
		errs := codec.Validate(env)
		require.NotEmpty(t, errs)
	})

	t.Run("decode returns size limit error", func(t *testing.T) {
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		_, err = codec.Decode(raw)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeSizeLimit))
	})
}

func TestCodec_ValidateIsPure(t *testing.T) {
	codec := NewCodec(0)
	env := validEnvelope()
	env.ID = ""

	first := codec.Validate(env)
	second := codec.Validate(env)
	assert.Equal(t, first, second)
	assert.Equal(t, "", env.Status, "validate must not mutate the envelope")
}

func TestCodec_ResponseStatus(t *testing.T) {
	codec := NewCodec(0)

	t.Run("valid response statuses accepted", func(t *testing.T) {
		for _, status := range []string{StatusSuccess, StatusError, StatusConflict} {
			env := validEnvelope()
			env.Status = status
			assert.Empty(t, codec.Validate(env), "status %q should be valid", status)
		}
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		env := validEnvelope()
		env.Status = "maybe"
		errs := codec.Validate(env)
		require.Len(t, errs, 1)
		assert.Equal(t, "status", errs[0].Field)
	})
}
