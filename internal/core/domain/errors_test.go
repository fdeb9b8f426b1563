package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError_Error(t *testing.T) {
	base := NewDomainError("RX-ENT-4040", "entity not found")
	assert.Equal(t, "[RX-ENT-4040] entity not found", base.Error())
	assert.Equal(t, "[RX-ENT-4040] entity not found: rx://a", base.WithDetails("rx://a").Error())
}

func TestDomainError_CopiesLeaveSentinelAlone(t *testing.T) {
	cause := errors.New("disk full")
	err := ErrStorage.WithDetails("put").WithCause(cause)

	require.Empty(t, ErrStorage.Details, "sentinel mutated")
	require.Nil(t, ErrStorage.Cause, "sentinel mutated")
	assert.Equal(t, ErrStorage.Code, err.Code)
	assert.Equal(t, ErrStorage.Message, err.Message)
	assert.Equal(t, "put", err.Details)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Nil(t, errors.Unwrap(ErrStorage))
}

func TestDomainError_IsComparesCodes(t *testing.T) {
	a := NewDomainError("RX-X-4000", "one")
	tests := []struct {
		target error
		want   bool
	}{
		{NewDomainError("RX-X-4000", "other message"), true},
		{NewDomainError("RX-X-4001", "one"), false},
		{errors.New("[RX-X-4000] one"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errors.Is(a, tt.target), "errors.Is(%v, %v)", a, tt.target)
	}
}

func TestArgumentFamilyMatchesInvalidArgument(t *testing.T) {
	tests := []struct {
		name string
		err  *DomainError
		want bool
	}{
		{"template shape mismatch", ErrTemplateShapeMismatch, true},
		{"missing argument", ErrMissingArgument, true},
		{"detailed copy", ErrTemplateShapeMismatch.WithDetails("arity"), true},
		{"template missing", ErrTemplateMissing, false},
		{"bad request", ErrBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, ErrInvalidArgument))
		})
	}

	assert.False(t, errors.Is(ErrInvalidArgument, ErrTemplateShapeMismatch), "the family match is one way")
	assert.Equal(t, http.StatusBadRequest, ErrTemplateShapeMismatch.HTTPStatus())

	wrapped := NewEntityError(ErrTemplateShapeMismatch, "rx://a", KindSubscription, nil)
	assert.ErrorIs(t, wrapped, ErrInvalidArgument)
}

func TestStatusForCode(t *testing.T) {
	tests := map[string]int{
		"RX-ENT-4040":  http.StatusNotFound,
		"RX-ENG-4090":  http.StatusConflict,
		"RX-FMT-4220":  http.StatusUnprocessableEntity,
		"RX-AUTH-4010": http.StatusUnauthorized,
		"RX-AUTH-4030": http.StatusForbidden,
		"RX-ENG-5030":  http.StatusServiceUnavailable,
		"RX-ENT-5002":  http.StatusInternalServerError,
		"RX-ARG-1002":  http.StatusBadRequest,
		"RX-ARG-1003":  http.StatusBadRequest,
		"RX-X-1234":    http.StatusInternalServerError,
		"RX-X-40":      http.StatusInternalServerError,
		"RX-X-4ab0":    http.StatusInternalServerError,
		"":             http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusForCode(code), "StatusForCode(%q)", code)
	}
	assert.Equal(t, http.StatusTooManyRequests, ErrRateLimited.HTTPStatus())
}

func TestSentinelCodesAreUnique(t *testing.T) {
	all := []*DomainError{
		ErrEntityNotFound, ErrEntityAlreadyExists, ErrEntityInvalid, ErrEntityLoadFailed, ErrEntitySaveFailed,
		ErrCorruptFormat, ErrTemplateMissing, ErrTemplateShapeMismatch,
		ErrEngineUnloaded, ErrCheckpointInProgress, ErrCheckpointNotFound, ErrPartialFailure,
		ErrInternal, ErrStorage, ErrBadRequest, ErrRateLimited, ErrUnauthorized, ErrForbidden,
		ErrInvalidArgument, ErrMissingArgument,
	}
	seen := make(map[string]bool, len(all))
	for _, e := range all {
		assert.False(t, seen[e.Code], "code %s used twice", e.Code)
		seen[e.Code] = true
	}
}

func TestIsDomainErrorAndGetErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("recover: %w", ErrCorruptFormat.WithDetails("bad tag"))
	entity := NewEntityError(ErrEntityAlreadyExists, "rx://a", KindStream, nil)

	tests := []struct {
		name     string
		err      error
		code     string
		is       bool
		wantCode string
	}{
		{"any domain error", wrapped, "", true, "RX-FMT-4220"},
		{"matching code", wrapped, "RX-FMT-4220", true, "RX-FMT-4220"},
		{"other code", wrapped, "RX-FMT-4000", false, "RX-FMT-4220"},
		{"entity error", entity, "RX-ENT-4090", true, "RX-ENT-4090"},
		{"plain error", errors.New("x"), "", false, ""},
		{"nil", nil, "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.is, IsDomainError(tt.err, tt.code))
			assert.Equal(t, tt.wantCode, GetErrorCode(tt.err))
		})
	}
}

func TestEntityError(t *testing.T) {
	cause := errors.New("disk on fire")
	err := NewEntityError(ErrEntitySaveFailed, "rx://subs/1", KindSubscription, cause).WithEngine("eng-1")

	assert.ErrorIs(t, err, ErrEntitySaveFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrEntityLoadFailed)
	assert.EqualError(t, err, "[RX-ENT-5002] entity save failed (id=rx://subs/1 kind=subscription engine=eng-1): disk on fire")
}

func TestAggregateError(t *testing.T) {
	require.NoError(t, NewAggregateError("checkpoint", nil))

	var failures *multierror.Error
	failures = multierror.Append(failures,
		NewEntityError(ErrEntitySaveFailed, "rx://a", KindStream, errors.New("x")),
		NewEntityError(ErrEntitySaveFailed, "rx://b", KindStream, errors.New("y")),
	)
	err := NewAggregateError("checkpoint", failures)

	var agg *AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, 2, agg.Len())
	assert.ErrorIs(t, err, ErrPartialFailure)
	assert.ErrorIs(t, err, ErrEntitySaveFailed)
}
