package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		details    []any
		wantCode   int
		wantStatus int
		wantMsg    string
	}{
		{"default status is 200", ErrMessageContentEmpty, nil, ErrMessageContentEmpty, http.StatusOK, "Message is empty."},
		{"explicit status", ErrUnauthorized, nil, ErrUnauthorized, http.StatusUnauthorized, "Please sign in to continue."},
		{"template is formatted", ErrMessageContentTooLong, []any{5000}, ErrMessageContentTooLong, http.StatusOK, "Message is too long (max 5000 bytes)."},
		{"details ignored without placeholder", ErrUnknownRecipient, []any{"x"}, ErrUnknownRecipient, http.StatusNotFound, "Recipient not found."},
		{"unknown code falls back", 987654, nil, ErrUnknown, http.StatusInternalServerError, errorMap[ErrUnknown].Message},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewError(tt.code, tt.details...)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantMsg, got.Message)
		})
	}
}

func TestNewErrorDoesNotMutateTemplate(t *testing.T) {
	_ = NewError(ErrMessageContentTooLong, 10)
	assert.Equal(t, "Message is too long (max %d bytes).", errorMap[ErrMessageContentTooLong].Message)
}

func TestCustomErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("deliver: %w", NewError(ErrStoreUnavailable))

	assert.True(t, errors.Is(wrapped, NewError(ErrStoreUnavailable)))
	assert.False(t, errors.Is(wrapped, NewError(ErrAuthFailed)))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	custom := fmt.Errorf("ctx: %w", NewError(ErrUnknownRecipient))
	assert.Equal(t, ErrUnknownRecipient, FromError(custom).Code)

	assert.Equal(t, ErrUnknown, FromError(errors.New("boom")).Code)
}

func TestEveryCodeHasMessage(t *testing.T) {
	for code, tmpl := range errorMap {
		assert.Equal(t, code, tmpl.Code, "code %d maps to mismatched template", code)
		assert.NotEmpty(t, tmpl.Message, "code %d has no message", code)
		assert.Equal(t, tmpl.Message, Message(code))
	}
	assert.Empty(t, Message(-1))
}
