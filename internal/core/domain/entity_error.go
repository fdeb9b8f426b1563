package domain

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// EntityError attaches entity context to a classified domain error.
// errors.Is matches both the classification and the cause.
type EntityError struct {
	Err      *DomainError
	ID       string
	Kind     Kind
	EngineID string
	Param    string
	Cause    error
}

// NewEntityError creates an EntityError for the given entity.
func NewEntityError(class *DomainError, id string, kind Kind, cause error) *EntityError {
	return &EntityError{Err: class, ID: id, Kind: kind, Cause: cause}
}

// WithEngine returns the error annotated with an engine identifier.
func (e *EntityError) WithEngine(engineID string) *EntityError {
	c := *e
	c.EngineID = engineID
	return &c
}

func (e *EntityError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	var fields []string
	if e.ID != "" {
		fields = append(fields, "id="+e.ID)
	}
	if e.Kind != KindUnknown {
		fields = append(fields, "kind="+e.Kind.String())
	}
	if e.EngineID != "" {
		fields = append(fields, "engine="+e.EngineID)
	}
	if e.Param != "" {
		fields = append(fields, "param="+e.Param)
	}
	if len(fields) > 0 {
		b.WriteString(" (" + strings.Join(fields, " ") + ")")
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

// Unwrap exposes both the classification and the cause.
func (e *EntityError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// AggregateError reports per-entity failures collected over a whole
// checkpoint or recovery after every entity was attempted.
type AggregateError struct {
	Op       string
	Failures *multierror.Error
}

// NewAggregateError wraps failures; it returns nil when there are none.
func NewAggregateError(op string, failures *multierror.Error) error {
	if failures == nil || len(failures.Errors) == 0 {
		return nil
	}
	return &AggregateError{Op: op, Failures: failures}
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("%s: %s partially failed: %d entities: %s",
		ErrPartialFailure.Code, e.Op, len(e.Failures.Errors), e.Failures.Error())
}

// Unwrap exposes ErrPartialFailure and every entity failure.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures.Errors)+1)
	errs = append(errs, ErrPartialFailure)
	return append(errs, e.Failures.Errors...)
}

// Len returns the number of entity failures.
func (e *AggregateError) Len() int {
	return len(e.Failures.Errors)
}
