package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/gatehouse/internal/model"
)

// GateError is a typed denial of a transition, creation or amendment.
//
// Every GateError except CONCURRENT_MODIFICATION is also recorded in the
// audit trail as a denial entry before it is returned.
type GateError struct {
	// Code identifies the denial category.
	Code Code

	// Message is a human-readable description.
	Message string

	DocumentID string
	From       model.State
	To         model.State
	ActorID    string

	// Details contains additional context (required capabilities, bands).
	Details map[string]string

	// AuditSeq is the seq of the denial entry, zero when none was written.
	AuditSeq int64
}

// Code categorizes gate denials.
type Code string

const (
	// CodeInvalidTransition: the requested edge is not in the graph.
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// CodeDocumentLocked: the document is locked and the edge is not a rollback.
	CodeDocumentLocked Code = "DOCUMENT_LOCKED"

	// CodeForbidden: the actor lacks the required capability, or the edge is
	// closed by graph shape or open escalations.
	CodeForbidden Code = "FORBIDDEN"

	// CodeSelfApprovalBlocked: the actor created the document and the edge
	// forbids self-approval.
	CodeSelfApprovalBlocked Code = "SELF_APPROVAL_BLOCKED"

	// CodeVarianceBlocked: a critical deviation exists without justification.
	CodeVarianceBlocked Code = "VARIANCE_BLOCKED"

	// CodeJustificationRequired: a rollback lacks a sufficient reason.
	CodeJustificationRequired Code = "JUSTIFICATION_REQUIRED"

	// CodeConcurrentModification: the document changed between load and
	// commit. Reload and retry. Not audited.
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"
)

// Error implements the error interface.
func (e *GateError) Error() string {
	if e.DocumentID != "" && e.To != "" {
		return fmt.Sprintf("%s: %s (document=%s, %s -> %s)", e.Code, e.Message, e.DocumentID, e.From, e.To)
	}
	if e.DocumentID != "" {
		return fmt.Sprintf("%s: %s (document=%s)", e.Code, e.Message, e.DocumentID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match CONCURRENT_MODIFICATION against the storage sentinel.
func (e *GateError) Is(target error) bool {
	return e.Code == CodeConcurrentModification && target == model.ErrConcurrentModification
}

// CodeOf returns the denial code of err, or "" when err is not a GateError.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// IsDenial reports whether err is an audited business denial.
func IsDenial(err error) bool {
	code := CodeOf(err)
	return code != "" && code != CodeConcurrentModification
}

// IsConcurrentModification reports whether the caller should reload and retry.
func IsConcurrentModification(err error) bool {
	return CodeOf(err) == CodeConcurrentModification || errors.Is(err, model.ErrConcurrentModification)
}

// RequestError reports a malformed request. It is a caller bug, not a
// denial, and is never audited.
type RequestError struct {
	Op     string
	Fields map[string]string
}

func (e *RequestError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + " " + e.Fields[k]
	}
	return fmt.Sprintf("%s: invalid request: %s", e.Op, strings.Join(parts, "; "))
}

// IsRequestError reports whether err is a *RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

func duplicateID(id string) *RequestError {
	return &RequestError{Op: "create", Fields: map[string]string{"ID": "document " + id + " already exists"}}
}

// newRequestError converts validator field errors.
func newRequestError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%s: %w", op, err)
	}
	re := &RequestError{Op: op, Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		re.Fields[fe.Namespace()] = msg
	}
	return re
}
