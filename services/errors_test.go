package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "provider not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "provider not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name:    "error with wrapped error",
			err:     &DomainError{Type: ErrorTypeTimeout, Message: "request deadline exceeded", Err: context.DeadlineExceeded},
			wantMsg: "timeout: request deadline exceeded (context deadline exceeded)",
		},
		{
			name:    "error without wrapped error",
			err:     &DomainError{Type: ErrorTypeValidation, Message: "invalid input"},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_UnwrapKeepsCause(t *testing.T) {
	err := WrapError(ErrorTypeTimeout, "deadline", context.DeadlineExceeded)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.NotErrorIs(t, err, ErrRequestCanceled)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     error
		wantType ErrorType
	}{
		{"deadline", context.DeadlineExceeded, ErrDeadlineExceeded, ErrorTypeTimeout},
		{"wrapped deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), ErrDeadlineExceeded, ErrorTypeTimeout},
		{"canceled", context.Canceled, ErrRequestCanceled, ErrorTypeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromContext(tt.err)

			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.wantType, GetErrorType(err))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := (&DomainError{Type: ErrorTypeValidation}).WithDetail("field", "messages")
	assert.Equal(t, "messages", err.Details["field"])
}

func TestErrorTypeCheckers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", ErrProviderNotFound, IsNotFoundError},
		{"validation", Validation("bad role"), IsValidationError},
		{"unavailable", fmt.Errorf("dispatch: %w", ErrNoProvidersAvailable), IsUnavailableError},
		{"timeout", ErrDeadlineExceeded, IsTimeoutError},
		{"canceled", ErrRequestCanceled, IsCanceledError},
		{"internal", WrapInternal("ledger", errors.New("disk full")), IsInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

type detailedErr struct{}

func (detailedErr) Error() string { return "detailed" }

func (detailedErr) ErrorDetails() map[string]interface{} {
	return map[string]interface{}{"attempts": 2}
}

func TestGetErrorDetails(t *testing.T) {
	t.Run("domain error details", func(t *testing.T) {
		err := Validation("bad").WithDetail("field", "role")
		assert.Equal(t, "role", GetErrorDetails(err)["field"])
	})

	t.Run("error supplying its own details", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", detailedErr{})
		details := GetErrorDetails(err)
		require.NotNil(t, details)
		assert.Equal(t, 2, details["attempts"])
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Nil(t, GetErrorDetails(errors.New("plain")))
		assert.Equal(t, ErrorType(""), GetErrorType(errors.New("plain")))
	})
}
