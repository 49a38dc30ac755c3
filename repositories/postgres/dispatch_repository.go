package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/hive/models"
	"github.com/upb/hive/repositories"
	"go.uber.org/zap"
)

const dispatchColumns = `
	id, request_id, outcome, provider, model, task_type,
	attempts, tokens_used, latency_ms, failures, error_message, created_at`

// DispatchRepository implements repositories.DispatchRepository
type DispatchRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDispatchRepository creates a new dispatch ledger repository
func NewDispatchRepository(db *DB, logger *zap.Logger) repositories.DispatchRepository {
	return &DispatchRepository{
		db:     db,
		logger: logger,
	}
}

// Insert writes one dispatch record
func (r *DispatchRepository) Insert(ctx context.Context, rec *models.DispatchRecord) error {
	query := `
		INSERT INTO dispatch_records (` + dispatchColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	var failures interface{}
	if len(rec.Failures) > 0 {
		failures = []byte(rec.Failures)
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.RequestID,
		rec.Outcome,
		rec.Provider,
		rec.Model,
		rec.TaskType,
		rec.Attempts,
		rec.TokensUsed,
		rec.LatencyMs,
		failures,
		rec.ErrorMessage,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch record: %w", err)
	}

	r.logger.Debug("dispatch record inserted",
		zap.String("id", rec.ID.String()),
		zap.String("outcome", string(rec.Outcome)))
	return nil
}

// GetByID retrieves a dispatch record by ID
func (r *DispatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DispatchRecord, error) {
	query := `SELECT ` + dispatchColumns + ` FROM dispatch_records WHERE id = $1`

	rec, err := scanDispatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dispatch record %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get dispatch record: %w", err)
	}
	return rec, nil
}

// ListRecent returns the newest records first
func (r *DispatchRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.DispatchRecord, error) {
	query := `
		SELECT ` + dispatchColumns + `
		FROM dispatch_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	return r.queryDispatches(ctx, query, limit, offset)
}

// ListByProvider returns records served by provider, newest first
func (r *DispatchRepository) ListByProvider(ctx context.Context, provider string, limit, offset int) ([]*models.DispatchRecord, error) {
	query := `
		SELECT ` + dispatchColumns + `
		FROM dispatch_records
		WHERE provider = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.queryDispatches(ctx, query, provider, limit, offset)
}

// CountByOutcome counts records created at or after since, grouped by outcome
func (r *DispatchRepository) CountByOutcome(ctx context.Context, since time.Time) (map[models.DispatchOutcome]int, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM dispatch_records
		WHERE created_at >= $1
		GROUP BY outcome
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatch records: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.DispatchOutcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[models.DispatchOutcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome counts: %w", err)
	}
	return counts, nil
}

func (r *DispatchRepository) queryDispatches(ctx context.Context, query string, args ...interface{}) ([]*models.DispatchRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch records: %w", err)
	}
	defer rows.Close()

	var out []*models.DispatchRecord
	for rows.Next() {
		rec, err := scanDispatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDispatch(row rowScanner) (*models.DispatchRecord, error) {
	rec := &models.DispatchRecord{}
	var (
		outcome  string
		failures []byte
		errMsg   sql.NullString
	)

	err := row.Scan(
		&rec.ID,
		&rec.RequestID,
		&outcome,
		&rec.Provider,
		&rec.Model,
		&rec.TaskType,
		&rec.Attempts,
		&rec.TokensUsed,
		&rec.LatencyMs,
		&failures,
		&errMsg,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Outcome = models.DispatchOutcome(outcome)
	if len(failures) > 0 {
		rec.Failures = append([]byte(nil), failures...)
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.ErrorMessage = &msg
	}
	return rec, nil
}
