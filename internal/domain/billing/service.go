package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/notify"
)

// Service implements bill generation, the payment ledger, and the
// insurance claim lock.
type Service struct {
	repo   Repository
	tx     db.TxRunner
	events *notify.Dispatcher
}

func NewService(repo Repository, tx db.TxRunner, events *notify.Dispatcher) *Service {
	return &Service{repo: repo, tx: tx, events: events}
}

// GenerateBill creates the single bill for an episode. Total is the
// sum of the line items; paid starts at zero.
func (s *Service) GenerateBill(ctx context.Context, patientID, episodeID uuid.UUID, items []LineItem) (*Bill, error) {
	total := 0.0
	for _, item := range items {
		if item.Amount < 0 {
			return nil, fmt.Errorf("line item %q: amount must be non-negative", item.Description)
		}
		if strings.TrimSpace(item.Description) == "" {
			return nil, fmt.Errorf("line item description is required")
		}
		total += item.Amount
	}
	b := &Bill{
		PatientID: patientID,
		EpisodeID: episodeID,
		LineItems: items,
		Total:     total,
		Paid:      0,
		Status:    BillStatusPending,
	}
	if err := s.repo.CreateBill(ctx, b); err != nil {
		return nil, err
	}
	billsGeneratedTotal.Inc()
	s.publish(ctx, notify.EventBillGenerated, map[string]string{
		"bill_id":    b.ID.String(),
		"episode_id": episodeID.String(),
		"patient_id": patientID.String(),
		"total":      strconv.FormatFloat(total, 'f', 2, 64),
	})
	return b, nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.repo.GetBill(ctx, id)
}

// BillForEpisode returns the bill generated for an episode, if any.
func (s *Service) BillForEpisode(ctx context.Context, episodeID uuid.UUID) (*Bill, error) {
	return s.repo.GetBillByEpisode(ctx, episodeID)
}

func (s *Service) ListBillsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	return s.repo.ListBillsByPatient(ctx, patientID, limit, offset)
}

// DeleteBill removes an unclaimed bill. Used to undo a bill whose
// surrounding operation failed after generation.
func (s *Service) DeleteBill(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteBill(ctx, id)
}

// RecordPayment adds amount to the bill's paid ledger. The repository
// applies the balance and claim-lock checks atomically with the
// increment, so concurrent payments cannot overshoot the total.
func (s *Service) RecordPayment(ctx context.Context, billID uuid.UUID, amount float64) (*Bill, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive, got %.2f", amount)
	}
	b, err := s.repo.AddPayment(ctx, billID, amount)
	paymentsTotal.WithLabelValues(paymentOutcome(err)).Inc()
	return b, err
}

// SubmitClaim files an insurance claim against a bill and locks the
// bill for direct payment. Exactly one claim per bill.
func (s *Service) SubmitClaim(ctx context.Context, billID uuid.UUID, policyNumber string, amount float64) (*InsuranceClaim, error) {
	policyNumber = strings.TrimSpace(policyNumber)
	if policyNumber == "" {
		return nil, fmt.Errorf("policy number is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("claim amount must be positive, got %.2f", amount)
	}
	claim := &InsuranceClaim{
		ID:           uuid.New(),
		BillID:       billID,
		PolicyNumber: policyNumber,
		Amount:       amount,
		Status:       ClaimStatusPending,
		SubmittedAt:  time.Now().UTC(),
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		// Win the bill lock first so a lost race leaves no claim row.
		if err := s.repo.AttachClaim(ctx, billID, claim.ID); err != nil {
			return err
		}
		return s.repo.CreateClaim(ctx, claim)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, notify.EventClaimSubmitted, map[string]string{
		"claim_id": claim.ID.String(),
		"bill_id":  billID.String(),
	})
	return claim, nil
}

// ResolveClaim moves a pending claim to approved or rejected. The bill
// stays locked for direct payment; resolution settles the claim record
// only.
func (s *Service) ResolveClaim(ctx context.Context, claimID uuid.UUID, approved bool) (*InsuranceClaim, error) {
	status := ClaimStatusRejected
	if approved {
		status = ClaimStatusApproved
	}
	claim, err := s.repo.ResolveClaim(ctx, claimID, status)
	if err != nil {
		return nil, err
	}
	claimsResolvedTotal.WithLabelValues(status).Inc()
	s.publish(ctx, notify.EventClaimResolved, map[string]string{
		"claim_id": claim.ID.String(),
		"bill_id":  claim.BillID.String(),
		"status":   claim.Status,
	})
	return claim, nil
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	return s.repo.GetClaim(ctx, id)
}

// publish defers through the ambient queue when the caller wrapped the
// operation in one, so a bill event never outlives a rolled-back bill.
func (s *Service) publish(ctx context.Context, event string, payload map[string]string) {
	notify.Emit(ctx, s.events, notify.Event{Type: event, Payload: payload})
}

func paymentOutcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := apperror.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
