package episode

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists care episodes.
type Repository interface {
	Create(ctx context.Context, e *Episode) error
	Get(ctx context.Context, id uuid.UUID) (*Episode, error)
	Update(ctx context.Context, e *Episode) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Episode, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error)
}
