package domain

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// DomainError is a classified failure. Code has the form
// RX-<AREA>-<nnnn>; for codes outside the ARG area the first three digits
// are the HTTP status the admin API answers with.
type DomainError struct {
	Code    string
	Message string
	Details string
	Cause   error
}

// NewDomainError returns a classification with no details and no cause.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString("[" + e.Code + "] " + e.Message)
	if e.Details != "" {
		b.WriteString(": " + e.Details)
	}
	return b.String()
}

func (e *DomainError) Unwrap() error { return e.Cause }

// argArea prefixes argument error codes.
const argArea = "RX-ARG-"

// Is matches any DomainError with the same code, so a decorated copy still
// satisfies errors.Is against its sentinel. ErrInvalidArgument also matches
// every other argument error.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code ||
		(t.Code == ErrInvalidArgument.Code && strings.HasPrefix(e.Code, argArea))
}

// WithDetails returns a copy carrying details.
func (e *DomainError) WithDetails(details string) *DomainError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithCause returns a copy wrapping cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// HTTPStatus is the status the code maps to.
func (e *DomainError) HTTPStatus() int { return StatusForCode(e.Code) }

// StatusForCode maps an error code to an HTTP status. Argument errors map to
// 400; unknown or malformed codes to 500.
func StatusForCode(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i < 0 || len(code)-i-1 < 3 {
		return http.StatusInternalServerError
	}
	if strings.HasPrefix(code, argArea) {
		return http.StatusBadRequest
	}
	status, err := strconv.Atoi(code[i+1 : i+4])
	if err != nil || status < 400 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}

// IsDomainError reports whether err wraps a DomainError, and when code is
// not empty, whether that error carries code.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	return errors.As(err, &de) && (code == "" || de.Code == code)
}

// GetErrorCode returns the code of the first DomainError in err's chain.
func GetErrorCode(err error) string {
	if de := (*DomainError)(nil); errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Registry and entity lifecycle.
var (
	ErrEntityNotFound      = NewDomainError("RX-ENT-4040", "entity not found")
	ErrEntityAlreadyExists = NewDomainError("RX-ENT-4090", "entity already exists")
	// ErrEntityInvalid marks the placeholder left by a failed load.
	ErrEntityInvalid    = NewDomainError("RX-ENT-4220", "entity failed to load")
	ErrEntityLoadFailed = NewDomainError("RX-ENT-5001", "entity load failed")
	ErrEntitySaveFailed = NewDomainError("RX-ENT-5002", "entity save failed")
)

// Persisted format and expression templates.
var (
	// ErrCorruptFormat is fatal for the read that hit it.
	ErrCorruptFormat = NewDomainError("RX-FMT-4220", "corrupt checkpoint format")
	// ErrTemplateMissing is operational: the template may not have been
	// recovered yet.
	ErrTemplateMissing = NewDomainError("RX-TMPL-4040", "template not found")
	// ErrTemplateShapeMismatch is an argument error.
	ErrTemplateShapeMismatch = NewDomainError("RX-ARG-1003", "template arguments do not match")
)

// Engine lifecycle.
var (
	ErrEngineUnloaded       = NewDomainError("RX-ENG-5030", "engine unloaded")
	ErrCheckpointInProgress = NewDomainError("RX-ENG-4090", "checkpoint or recovery already in progress")
	ErrCheckpointNotFound   = NewDomainError("RX-ENG-4040", "no checkpoint")
	// ErrPartialFailure classifies an AggregateError.
	ErrPartialFailure = NewDomainError("RX-ENG-5000", "operation partially failed")
)

// Transport, access and arguments.
var (
	ErrInternal        = NewDomainError("RX-SYS-5000", "internal error")
	ErrStorage         = NewDomainError("RX-SYS-5001", "storage error")
	ErrBadRequest      = NewDomainError("RX-SYS-4000", "bad request")
	ErrRateLimited     = NewDomainError("RX-SYS-4290", "too many requests")
	ErrUnauthorized    = NewDomainError("RX-AUTH-4010", "authentication required")
	ErrForbidden       = NewDomainError("RX-AUTH-4030", "forbidden")
	ErrInvalidArgument = NewDomainError("RX-ARG-1001", "invalid argument")
	ErrMissingArgument = NewDomainError("RX-ARG-1002", "missing required argument")
)
