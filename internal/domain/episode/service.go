package episode

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/notify"
)

// BedAllocator is the slice of the bed allocator the state machine
// needs for admission, transfer and discharge.
type BedAllocator interface {
	Allocate(ctx context.Context, bedID, patientID uuid.UUID) error
	Release(ctx context.Context, bedID uuid.UUID) (uuid.UUID, error)
	Move(ctx context.Context, sourceID, targetID uuid.UUID) error
}

// Biller is the slice of the billing coordinator the state machine
// needs. DeleteBill undoes a bill when a discharge fails after
// generating it outside a database transaction.
type Biller interface {
	GenerateBill(ctx context.Context, patientID, episodeID uuid.UUID, items []billing.LineItem) (*billing.Bill, error)
	DeleteBill(ctx context.Context, billID uuid.UUID) error
}

// Service drives a care episode through its lifecycle, coupling bed
// changes and bill generation to the status transitions.
type Service struct {
	repo   Repository
	beds   BedAllocator
	bills  Biller
	tx     db.TxRunner
	events *notify.Dispatcher
	opdFee float64
}

func NewService(repo Repository, beds BedAllocator, bills Biller, tx db.TxRunner, events *notify.Dispatcher, opdFee float64) *Service {
	return &Service{repo: repo, beds: beds, bills: bills, tx: tx, events: events, opdFee: opdFee}
}

// Book creates a new episode in Pending.
func (s *Service) Book(ctx context.Context, patientID, doctorID uuid.UUID, scheduledAt time.Time, method string) (*Episode, error) {
	if !ValidMethod(method) {
		return nil, fmt.Errorf("unknown delivery method %q", method)
	}
	e := &Episode{
		PatientID:   patientID,
		DoctorID:    doctorID,
		ScheduledAt: scheduledAt,
		Method:      method,
		Status:      StatusPending,
		Disposition: DispositionUnset,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Episode, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Episode, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// SetStatus applies one legal status edge. Completion must go through
// CompleteOutpatient or Discharge so the bill is never skipped.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, newStatus string) (*Episode, error) {
	if !ValidStatus(newStatus) {
		return nil, fmt.Errorf("unknown status %q", newStatus)
	}
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(e.Status, newStatus) {
		return nil, transitionErr(e, newStatus)
	}
	if newStatus == StatusCompleted {
		return nil, apperror.Newf(apperror.CodeInvalidTransition, "episode", id.String(),
			"completion requires the outpatient or discharge flow")
	}
	if newStatus == StatusCancelled {
		return s.Cancel(ctx, id)
	}
	e.Status = newStatus
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Admit places the episode's patient in a bed and marks the episode
// inpatient. The episode status is untouched; an admitted episode
// stays CheckedIn until discharge.
func (s *Service) Admit(ctx context.Context, id, bedID uuid.UUID) (*Episode, error) {
	ctx, queued := notify.Deferred(ctx)
	var out *Episode
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Terminal() {
			return transitionErr(e, "admitted")
		}
		if e.Admitted() {
			return apperror.Newf(apperror.CodePatientAlreadyAdmitted, "episode", id.String(),
				"episode already holds bed %s", e.BedID)
		}
		if err := s.beds.Allocate(ctx, bedID, e.PatientID); err != nil {
			return err
		}
		now := time.Now().UTC()
		bed := bedID
		e.Disposition = DispositionInpatient
		e.BedID = &bed
		e.AdmittedAt = &now
		if err := s.repo.Update(ctx, e); err != nil {
			// Outside a database transaction the allocation already
			// stuck, so hand the bed back.
			if _, rerr := s.beds.Release(ctx, bedID); rerr != nil {
				log.Error().Err(rerr).Str("bed_id", bedID.String()).
					Msg("failed to release bed after admit rollback")
			}
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	queued.Flush(s.events)
	s.publish(notify.EventEpisodeAdmitted, out)
	return out, nil
}

// Transfer moves an admitted patient to another bed.
func (s *Service) Transfer(ctx context.Context, id, targetBedID uuid.UUID) (*Episode, error) {
	var out *Episode
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if !e.Admitted() {
			return apperror.Newf(apperror.CodeBedNotOccupied, "episode", id.String(),
				"episode holds no bed")
		}
		sourceBedID := *e.BedID
		if err := s.beds.Move(ctx, sourceBedID, targetBedID); err != nil {
			return err
		}
		bed := targetBedID
		e.BedID = &bed
		if err := s.repo.Update(ctx, e); err != nil {
			if merr := s.beds.Move(ctx, targetBedID, sourceBedID); merr != nil {
				log.Error().Err(merr).Str("episode_id", id.String()).
					Msg("failed to undo bed move after transfer rollback")
			}
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CompleteOutpatient closes a non-admitted episode as outpatient and
// generates its bill: the fixed consultation fee plus any ad-hoc
// charges.
func (s *Service) CompleteOutpatient(ctx context.Context, id uuid.UUID, notes string, extras []billing.LineItem) (*Episode, *billing.Bill, error) {
	ctx, queued := notify.Deferred(ctx)
	var (
		outEpisode *Episode
		outBill    *billing.Bill
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Terminal() {
			return transitionErr(e, StatusCompleted)
		}
		if e.Disposition == DispositionInpatient {
			return apperror.Newf(apperror.CodeInvalidTransition, "episode", id.String(),
				"inpatient episode closes through discharge")
		}
		items := append([]billing.LineItem{{Description: "Consultation fee", Amount: s.opdFee}}, extras...)
		bill, err := s.bills.GenerateBill(ctx, e.PatientID, e.ID, items)
		if err != nil {
			return err
		}
		e.Status = StatusCompleted
		e.Disposition = DispositionOutpatient
		e.Notes = notes
		if err := s.repo.Update(ctx, e); err != nil {
			if derr := s.bills.DeleteBill(ctx, bill.ID); derr != nil {
				log.Error().Err(derr).Str("bill_id", bill.ID.String()).
					Msg("failed to delete bill after completion rollback")
			}
			return err
		}
		outEpisode, outBill = e, bill
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	queued.Flush(s.events)
	return outEpisode, outBill, nil
}

// Discharge releases the admission bed, stamps discharged-at, closes
// the episode and generates the inpatient bill. The bed release and
// the bill are one committed step: a failure rolls back both.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID, items []billing.LineItem) (*Episode, *billing.Bill, error) {
	ctx, queued := notify.Deferred(ctx)
	var (
		outEpisode *Episode
		outBill    *billing.Bill
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if e.Disposition != DispositionInpatient || !e.Admitted() {
			return apperror.Newf(apperror.CodeInvalidTransition, "episode", id.String(),
				"episode in state %s/%s has no active admission", e.Status, e.Disposition)
		}
		bedID := *e.BedID

		// Bill first: deleting a fresh bill is a safe undo, while
		// re-claiming a released bed could lose a race.
		bill, err := s.bills.GenerateBill(ctx, e.PatientID, e.ID, items)
		if err != nil {
			return err
		}
		undoBill := func() {
			if derr := s.bills.DeleteBill(ctx, bill.ID); derr != nil {
				log.Error().Err(derr).Str("bill_id", bill.ID.String()).
					Msg("failed to delete bill after discharge rollback")
			}
		}
		if _, err := s.beds.Release(ctx, bedID); err != nil {
			undoBill()
			return err
		}
		now := time.Now().UTC()
		e.Status = StatusCompleted
		e.DischargedAt = &now
		if err := s.repo.Update(ctx, e); err != nil {
			undoBill()
			if aerr := s.beds.Allocate(ctx, bedID, e.PatientID); aerr != nil {
				log.Error().Err(aerr).Str("bed_id", bedID.String()).
					Msg("failed to restore bed after discharge rollback")
			}
			return err
		}
		outEpisode, outBill = e, bill
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	queued.Flush(s.events)
	return outEpisode, outBill, nil
}

// Cancel moves a non-terminal, non-admitted episode to Cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Episode, error) {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Terminal() {
		return nil, transitionErr(e, StatusCancelled)
	}
	if e.Admitted() {
		return nil, apperror.Newf(apperror.CodeCannotCancelAdmitted, "episode", id.String(),
			"episode holds bed %s; discharge before cancelling", e.BedID)
	}
	e.Status = StatusCancelled
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Delete removes an episode that never completed, keeping billing
// provenance intact for completed ones.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	e, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	switch e.Status {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return s.repo.Delete(ctx, id)
	}
	return apperror.Newf(apperror.CodeInvalidTransition, "episode", id.String(),
		"episode in state %s cannot be deleted", e.Status)
}

func (s *Service) publish(event string, e *Episode) {
	if s.events == nil || e == nil {
		return
	}
	payload := map[string]string{
		"episode_id": e.ID.String(),
		"patient_id": e.PatientID.String(),
		"status":     e.Status,
	}
	if e.BedID != nil {
		payload["bed_id"] = e.BedID.String()
	}
	s.events.Publish(notify.Event{Type: event, Payload: payload})
}

func transitionErr(e *Episode, to string) error {
	return apperror.Newf(apperror.CodeInvalidTransition, "episode", e.ID.String(),
		"cannot move episode from %s to %s", e.Status, to)
}
