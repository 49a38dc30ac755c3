package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatchRecord(t *testing.T) {
	rec := NewDispatchRecord("req-1", "chat")

	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.Equal(t, "chat", rec.TaskType)
	assert.False(t, rec.CreatedAt.IsZero())

	generated := NewDispatchRecord("", "")
	_, err := uuid.Parse(generated.RequestID)
	assert.NoError(t, err, "missing request id is generated")
}

func TestDispatchRecord_TableName(t *testing.T) {
	assert.Equal(t, "dispatch_records", DispatchRecord{}.TableName())
}

func TestDispatchRecord_MarkAsCompleted(t *testing.T) {
	rec := NewDispatchRecord("req", "code")
	rec.MarkAsCompleted("groq", "llama-3.3-70b-versatile", 42, 310)

	require.NoError(t, rec.SetFailures([]AttemptRecord{
		{Provider: "gemini", Kind: "rate_limited", Message: "rate limited", StatusCode: 429},
	}))

	assert.Equal(t, DispatchOutcomeCompleted, rec.Outcome)
	assert.Equal(t, "groq", rec.Provider)
	assert.Equal(t, 42, rec.TokensUsed)
	assert.Equal(t, int64(310), rec.LatencyMs)
	assert.Equal(t, 2, rec.Attempts)
	assert.Nil(t, rec.ErrorMessage)

	failures, err := rec.FailureList()
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, 429, failures[0].StatusCode)
}

func TestDispatchRecord_MarkAsCached(t *testing.T) {
	rec := NewDispatchRecord("req", "")
	rec.MarkAsCached("claude", "claude-3-5-haiku-latest")
	require.NoError(t, rec.SetFailures(nil))

	assert.Equal(t, DispatchOutcomeCached, rec.Outcome)
	assert.Zero(t, rec.Attempts)
	assert.Nil(t, rec.Failures)

	failures, err := rec.FailureList()
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestDispatchRecord_MarkAsFailed(t *testing.T) {
	rec := NewDispatchRecord("req", "")
	rec.MarkAsFailed("all providers exhausted")
	require.NoError(t, rec.SetFailures([]AttemptRecord{
		{Provider: "a", Kind: "server_error"},
		{Provider: "b", Kind: "timeout"},
	}))

	assert.Equal(t, DispatchOutcomeFailed, rec.Outcome)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "all providers exhausted", *rec.ErrorMessage)
	assert.Equal(t, 2, rec.Attempts)
	assert.Empty(t, rec.Provider)
}
