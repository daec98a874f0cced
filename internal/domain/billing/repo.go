package billing

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists bills and insurance claims. AddPayment and
// AttachClaim are conditional single steps, mirroring the bed
// transitions in the facility repository: the precondition check and
// the write happen atomically so racing callers cannot both succeed.
type Repository interface {
	// CreateBill inserts a bill with its line items. A second bill for
	// the same episode fails with BillAlreadyExists.
	CreateBill(ctx context.Context, b *Bill) error
	GetBill(ctx context.Context, id uuid.UUID) (*Bill, error)
	GetBillByEpisode(ctx context.Context, episodeID uuid.UUID) (*Bill, error)
	ListBillsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error)
	// DeleteBill removes an unclaimed bill and its line items.
	DeleteBill(ctx context.Context, id uuid.UUID) error

	// AddPayment increments paid when the bill is unclaimed and the
	// balance allows it, and recomputes the status. Returns BillLocked
	// when a claim id is set, OverPayment when paid+amount exceeds
	// total.
	AddPayment(ctx context.Context, billID uuid.UUID, amount float64) (*Bill, error)

	CreateClaim(ctx context.Context, c *InsuranceClaim) error
	GetClaim(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error)
	// AttachClaim sets the bill's claim id when none is set yet,
	// failing with AlreadyClaimed otherwise.
	AttachClaim(ctx context.Context, billID, claimID uuid.UUID) error
	// ResolveClaim moves a pending claim to a terminal status and
	// stamps processed-at. A claim that already resolved fails with
	// InvalidTransition.
	ResolveClaim(ctx context.Context, claimID uuid.UUID, status string) (*InsuranceClaim, error)
}
