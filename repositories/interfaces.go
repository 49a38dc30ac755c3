package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/hive/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("record not found")

// DispatchRepository handles dispatch ledger data operations
type DispatchRepository interface {
	// Insert stores a new dispatch record
	Insert(ctx context.Context, record *models.DispatchRecord) error

	// GetByID retrieves a dispatch record by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.DispatchRecord, error)

	// ListRecent returns records newest first
	ListRecent(ctx context.Context, limit, offset int) ([]*models.DispatchRecord, error)

	// ListByProvider returns records served by provider, newest first
	ListByProvider(ctx context.Context, provider string, limit, offset int) ([]*models.DispatchRecord, error)

	// CountByOutcome counts records created at or after since
	CountByOutcome(ctx context.Context, since time.Time) (map[models.DispatchOutcome]int, error)
}
