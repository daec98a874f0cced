package facility

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists wards and beds. The single-step state
// transitions (ClaimBed, ReleaseBed, MoveOccupant, AddBed) are
// conditional: each checks its precondition and applies the change as
// one atomic step, so two racing callers cannot both succeed.
type Repository interface {
	CreateWard(ctx context.Context, w *Ward) error
	GetWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error)
	// DeleteWard removes a ward that has no beds left.
	DeleteWard(ctx context.Context, id uuid.UUID) error

	// AddBed inserts a bed, failing with CapacityExceeded when the
	// ward already holds capacity beds.
	AddBed(ctx context.Context, b *Bed) error
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	ListBedsByWard(ctx context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error)
	RenameBed(ctx context.Context, id uuid.UUID, label string) error
	// DeleteBed removes a free bed; an occupied bed cannot be deleted.
	DeleteBed(ctx context.Context, id uuid.UUID) error

	Occupancy(ctx context.Context, wardID uuid.UUID) (*Occupancy, error)
	// BedByOccupant finds the bed a patient currently occupies.
	BedByOccupant(ctx context.Context, patientID uuid.UUID) (*Bed, error)

	// ClaimBed marks a free bed occupied by patientID. Exactly one of
	// several concurrent claims on the same bed succeeds; the rest get
	// BedNotFree. A patient already occupying another bed gets
	// PatientAlreadyAdmitted.
	ClaimBed(ctx context.Context, bedID, patientID uuid.UUID) error
	// ReleaseBed frees an occupied bed and returns the patient that
	// held it.
	ReleaseBed(ctx context.Context, bedID uuid.UUID) (uuid.UUID, error)
	// MoveOccupant transfers the occupant of source to target as one
	// atomic step. No observer sees the patient in zero or two beds.
	MoveOccupant(ctx context.Context, sourceID, targetID uuid.UUID) error
}
