package billing

import (
	"time"

	"github.com/google/uuid"
)

// Bill statuses, derived from paid versus total.
const (
	BillStatusPending = "pending"
	BillStatusPartial = "partial"
	BillStatusPaid    = "paid"
)

// Claim statuses. Approved and Rejected are terminal.
const (
	ClaimStatusPending  = "pending"
	ClaimStatusApproved = "approved"
	ClaimStatusRejected = "rejected"
)

// LineItem is one charge on a bill.
type LineItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BillID      uuid.UUID `db:"bill_id" json:"bill_id"`
	Description string    `db:"description" json:"description"`
	Amount      float64   `db:"amount" json:"amount"`
}

// Bill maps to the bill table. Total is the sum of the line items and
// never changes after generation; paid only grows, and never past
// total. A non-nil ClaimID freezes the bill for direct payment.
type Bill struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	EpisodeID uuid.UUID  `db:"episode_id" json:"episode_id"`
	LineItems []LineItem `json:"line_items"`
	Total     float64    `db:"total" json:"total"`
	Paid      float64    `db:"paid" json:"paid"`
	Status    string     `db:"status" json:"status"`
	ClaimID   *uuid.UUID `db:"claim_id" json:"claim_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Locked reports whether a claim freezes the bill for payment.
func (b *Bill) Locked() bool { return b.ClaimID != nil }

// DeriveStatus computes the bill status from the paid amount.
func DeriveStatus(paid, total float64) string {
	switch {
	case total > 0 && paid >= total:
		return BillStatusPaid
	case paid > 0:
		return BillStatusPartial
	}
	return BillStatusPending
}

// InsuranceClaim maps to the insurance_claim table.
type InsuranceClaim struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	BillID       uuid.UUID  `db:"bill_id" json:"bill_id"`
	PolicyNumber string     `db:"policy_number" json:"policy_number"`
	Amount       float64    `db:"amount" json:"amount"`
	Status       string     `db:"status" json:"status"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submitted_at"`
	ProcessedAt  *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// Resolved reports whether the claim reached a terminal status.
func (c *InsuranceClaim) Resolved() bool {
	return c.Status == ClaimStatusApproved || c.Status == ClaimStatusRejected
}
