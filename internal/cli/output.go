package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/workflow"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Denied request, failed scenario, broken audit chain
	ExitCommandError = 2 // Bad input, unreachable store, invalid configuration
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, ExitFailure by default.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Error codes reported besides workflow denial codes.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeItemClosed     = "ESCALATION_CLOSED"
	ErrCodeChainBroken    = "CHAIN_BROKEN"
	ErrCodeConfig         = "INVALID_CONFIG"
	ErrCodeSetup          = "SETUP_FAILED"
	ErrCodeTestFailed     = "TEST_FAILED"
	ErrCodeInternal       = "INTERNAL"
)

// OutputFormatter writes command results as JSON or text.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed command.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. In text mode render is used when given, otherwise
// data is printed with fmt.
func (f *OutputFormatter) Success(data any, render func(w io.Writer)) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{Status: "ok", Data: data})
	}
	if render != nil {
		render(f.Writer)
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error response.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	switch d := details.(type) {
	case map[string]string:
		for _, k := range sortedKeys(d) {
			fmt.Fprintf(f.Writer, "  %s: %s\n", k, d[k])
		}
	case []ConfigErrorDetail:
		for _, e := range d {
			fmt.Fprintf(f.Writer, "  %s\n", e)
		}
	}
	return nil
}

// Fail reports err and returns the matching ExitError. Denials exit with
// ExitFailure; malformed input and infrastructure errors with
// ExitCommandError.
func (f *OutputFormatter) Fail(err error) error {
	var (
		ge *workflow.GateError
		re *workflow.RequestError
	)
	switch {
	case errors.As(err, &ge):
		_ = f.Error(string(ge.Code), ge.Message, ge.Details)
		return WrapExitError(ExitFailure, "request denied", err)
	case errors.As(err, &re):
		_ = f.Error(ErrCodeInvalidRequest, re.Error(), re.Fields)
		return WrapExitError(ExitCommandError, "invalid request", err)
	case errors.Is(err, model.ErrNotFound):
		_ = f.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "not found", err)
	case errors.Is(err, escalation.ErrItemClosed):
		_ = f.Error(ErrCodeItemClosed, err.Error(), nil)
		return WrapExitError(ExitFailure, "escalation closed", err)
	}
	_ = f.Error(ErrCodeInternal, err.Error(), nil)
	return WrapExitError(ExitCommandError, "command failed", err)
}
