package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/workflow"
)

func TestExitError(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "open store", cause)
	assert.Equal(t, "open store: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "x")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitFailure, "x"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("other")))
}

func TestOutputFormatter_Success(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Success(map[string]int{"n": 1}, nil))
	assert.JSONEq(t, `{"status":"ok","data":{"n":1}}`, buf.String())

	buf.Reset()
	f.Format = "text"
	require.NoError(t, f.Success("hello", nil))
	assert.Equal(t, "hello\n", buf.String())
}

func TestOutputFormatter_ErrorText(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Error("FORBIDDEN", "actor lacks required capability", map[string]string{
		"required": "(approve_financial)",
		"held":     "{submit}",
	}))
	assert.Equal(t, "Error [FORBIDDEN]: actor lacks required capability\n  held: {submit}\n  required: (approve_financial)\n", buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		exit int
	}{
		{
			name: "denial",
			err:  &workflow.GateError{Code: workflow.CodeSelfApprovalBlocked, Message: "creator may not approve own document"},
			code: "SELF_APPROVAL_BLOCKED",
			exit: ExitFailure,
		},
		{
			name: "request error",
			err:  &workflow.RequestError{Op: "transition", Fields: map[string]string{"ActorID": "failed required"}},
			code: ErrCodeInvalidRequest,
			exit: ExitCommandError,
		},
		{
			name: "not found",
			err:  fmt.Errorf("transition: %w", model.ErrNotFound),
			code: ErrCodeNotFound,
			exit: ExitCommandError,
		},
		{
			name: "closed escalation",
			err:  fmt.Errorf("complete esc-1 (cancelled): %w", escalation.ErrItemClosed),
			code: ErrCodeItemClosed,
			exit: ExitFailure,
		},
		{
			name: "internal",
			err:  errors.New("database is locked"),
			code: ErrCodeInternal,
			exit: ExitCommandError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			f := &OutputFormatter{Format: "json", Writer: &buf}
			err := f.Fail(tt.err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			resp := decodeResponse(t, buf.String(), nil)
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}
