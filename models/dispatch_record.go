package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DispatchOutcome is how a generate call ended
type DispatchOutcome string

const (
	DispatchOutcomeCompleted DispatchOutcome = "completed"
	DispatchOutcomeCached    DispatchOutcome = "cached"
	DispatchOutcomeFailed    DispatchOutcome = "failed"
)

// AttemptRecord is one failed or skipped provider within a dispatch
type AttemptRecord struct {
	Provider   string `json:"provider"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// DispatchRecord is one row of the dispatch ledger
type DispatchRecord struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	RequestID string          `json:"request_id" db:"request_id"`
	Outcome   DispatchOutcome `json:"outcome" db:"outcome"`

	// Serving provider, empty when every provider failed
	Provider string `json:"provider" db:"provider"`
	Model    string `json:"model" db:"model"`
	TaskType string `json:"task_type" db:"task_type"`

	Attempts   int   `json:"attempts" db:"attempts"`
	TokensUsed int   `json:"tokens_used" db:"tokens_used"`
	LatencyMs  int64 `json:"latency_ms" db:"latency_ms"`

	// Failures is a JSON array of AttemptRecord
	Failures     json.RawMessage `json:"failures,omitempty" db:"failures"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the DispatchRecord model
func (DispatchRecord) TableName() string {
	return "dispatch_records"
}

// NewDispatchRecord creates a record for requestID with a fresh id
func NewDispatchRecord(requestID, taskType string) *DispatchRecord {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &DispatchRecord{
		ID:        uuid.New(),
		RequestID: requestID,
		TaskType:  taskType,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkAsCompleted records a response served by a provider
func (r *DispatchRecord) MarkAsCompleted(provider, model string, tokens int, latencyMs int64) {
	r.Outcome = DispatchOutcomeCompleted
	r.Provider = provider
	r.Model = model
	r.TokensUsed = tokens
	r.LatencyMs = latencyMs
}

// MarkAsCached records a response served from the cache
func (r *DispatchRecord) MarkAsCached(provider, model string) {
	r.Outcome = DispatchOutcomeCached
	r.Provider = provider
	r.Model = model
}

// MarkAsFailed records a dispatch that produced no response
func (r *DispatchRecord) MarkAsFailed(message string) {
	r.Outcome = DispatchOutcomeFailed
	r.ErrorMessage = &message
}

// SetFailures stores the failed attempts and updates the attempt count.
// The count includes the successful attempt, if any.
func (r *DispatchRecord) SetFailures(failures []AttemptRecord) error {
	r.Attempts = len(failures)
	if r.Outcome == DispatchOutcomeCompleted {
		r.Attempts++
	}
	if len(failures) == 0 {
		r.Failures = nil
		return nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return err
	}
	r.Failures = data
	return nil
}

// FailureList decodes Failures
func (r *DispatchRecord) FailureList() ([]AttemptRecord, error) {
	if len(r.Failures) == 0 {
		return nil, nil
	}
	var out []AttemptRecord
	if err := json.Unmarshal(r.Failures, &out); err != nil {
		return nil, err
	}
	return out, nil
}
