package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_NilCause(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestHasCode_WalksChain(t *testing.T) {
	inner := New(CodeNotFound, "proposal missing")
	outer := Wrap(inner, CodeInternal, "lookup failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeNotFound))
	assert.False(t, HasCode(outer, CodeConflict))
}

func TestHasCode_ForeignError(t *testing.T) {
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
	assert.False(t, HasCode(nil, CodeInternal))
}

func TestHasCode_ThroughFmtWrapping(t *testing.T) {
	base := New(CodeInvalidState, "already terminal")
	wrapped := fmt.Errorf("record decision: %w", base)
	assert.True(t, HasCode(wrapped, CodeInvalidState))
}

func TestCodeOf(t *testing.T) {
	inner := New(CodeTamperDetected, "chain broken at seq 7")
	outer := Wrap(inner, CodeInternal, "verify failed")

	assert.Equal(t, CodeInternal, CodeOf(outer))
	assert.Equal(t, CodeTamperDetected, CodeOf(inner))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestError_MessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeLedgerWrite, "append entry")

	require.ErrorContains(t, err, "ledger_write_error")
	require.ErrorContains(t, err, "append entry")
	require.ErrorContains(t, err, "connection refused")
	assert.ErrorIs(t, err, cause)
}
