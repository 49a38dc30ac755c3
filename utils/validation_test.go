package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

type testRequest struct {
	Messages  []testMessage `json:"messages" validate:"required,min=1,dive"`
	MaxTokens int           `json:"max_tokens" validate:"gte=0,lte=32768"`
}

func TestValidateStruct(t *testing.T) {
	valid := func() testRequest {
		return testRequest{Messages: []testMessage{{Role: "user", Content: "hi"}}, MaxTokens: 10}
	}

	t.Run("valid struct", func(t *testing.T) {
		s := valid()
		assert.NoError(t, ValidateStruct(&s))
	})

	t.Run("missing messages", func(t *testing.T) {
		s := valid()
		s.Messages = nil

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Equal(t, "messages is required", GetValidationFields(err)["messages"])
	})

	t.Run("nested field uses json path", func(t *testing.T) {
		s := valid()
		s.Messages = append(s.Messages, testMessage{Role: "tool"})

		err := ValidateStruct(&s)
		require.Error(t, err)
		fields := GetValidationFields(err)
		assert.Equal(t, "messages[1].role must be one of: system user assistant", fields["messages[1].role"])
	})

	t.Run("out of range", func(t *testing.T) {
		s := valid()
		s.MaxTokens = -1

		err := ValidateStruct(&s)
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err), "max_tokens")
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Message: "Validation failed"}
	assert.Equal(t, "Validation failed", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{}))
	assert.False(t, IsValidationError(assert.AnError))
	assert.Nil(t, GetValidationFields(assert.AnError))
}

func TestValidateUUID(t *testing.T) {
	assert.NoError(t, ValidateUUID("550e8400-e29b-41d4-a716-446655440000"))
	assert.Error(t, ValidateUUID("not-a-uuid"))
	assert.Error(t, ValidateUUID(""))
}

func TestValidateNumericRange(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		wantErr bool
	}{
		{"int in range", 50, false},
		{"int64 in range", int64(1), false},
		{"float at max", 100.0, false},
		{"below min", 0, true},
		{"above max", 101, true},
		{"not numeric", "10", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNumericRange(tt.value, "limit", 1, 100)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
