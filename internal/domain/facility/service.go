package facility

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/notify"
)

// Service implements ward and bed inventory management.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateWard(ctx context.Context, name string, capacity int) (*Ward, error) {
	name = strings.TrimSpace(name)
	if capacity < 1 {
		return nil, apperror.Newf(apperror.CodeInvalidCapacity, "ward", "",
			"capacity must be at least 1, got %d", capacity)
	}
	w := &Ward{Name: name, Capacity: capacity}
	if err := s.repo.CreateWard(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.repo.GetWard(ctx, id)
}

func (s *Service) ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	return s.repo.ListWards(ctx, limit, offset)
}

func (s *Service) DeleteWard(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteWard(ctx, id)
}

func (s *Service) AddBed(ctx context.Context, wardID uuid.UUID, label string) (*Bed, error) {
	b := &Bed{WardID: wardID, Label: strings.TrimSpace(label)}
	if err := s.repo.AddBed(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.repo.GetBed(ctx, id)
}

func (s *Service) ListBedsByWard(ctx context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error) {
	if _, err := s.repo.GetWard(ctx, wardID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListBedsByWard(ctx, wardID, limit, offset)
}

func (s *Service) RenameBed(ctx context.Context, id uuid.UUID, label string) error {
	return s.repo.RenameBed(ctx, id, strings.TrimSpace(label))
}

func (s *Service) DeleteBed(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteBed(ctx, id)
}

func (s *Service) WardOccupancy(ctx context.Context, wardID uuid.UUID) (*Occupancy, error) {
	return s.repo.Occupancy(ctx, wardID)
}

// Allocator performs the bed state transitions. Every transition is a
// single atomic step in the repository, so concurrent callers racing
// for the same bed see exactly one winner.
type Allocator struct {
	repo   Repository
	events *notify.Dispatcher
}

func NewAllocator(repo Repository, events *notify.Dispatcher) *Allocator {
	return &Allocator{repo: repo, events: events}
}

// Allocate claims bed bedID for patientID.
func (a *Allocator) Allocate(ctx context.Context, bedID, patientID uuid.UUID) error {
	if patientID == uuid.Nil {
		return fmt.Errorf("patient id is required")
	}
	err := a.repo.ClaimBed(ctx, bedID, patientID)
	allocationsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return err
	}
	a.publish(ctx, notify.EventBedAllocated, bedID, patientID)
	return nil
}

// Release frees bed bedID and returns the patient that occupied it.
func (a *Allocator) Release(ctx context.Context, bedID uuid.UUID) (uuid.UUID, error) {
	patientID, err := a.repo.ReleaseBed(ctx, bedID)
	releasesTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		return uuid.Nil, err
	}
	a.publish(ctx, notify.EventBedReleased, bedID, patientID)
	return patientID, nil
}

// Move transfers the occupant of source to target in one step.
func (a *Allocator) Move(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if sourceID == targetID {
		return apperror.Newf(apperror.CodeBedNotFree, "bed", targetID.String(),
			"source and target bed are the same")
	}
	err := a.repo.MoveOccupant(ctx, sourceID, targetID)
	movesTotal.WithLabelValues(outcome(err)).Inc()
	return err
}

// BedOf returns the bed a patient currently occupies.
func (a *Allocator) BedOf(ctx context.Context, patientID uuid.UUID) (*Bed, error) {
	return a.repo.BedByOccupant(ctx, patientID)
}

// publish defers through the ambient queue when the caller wrapped the
// operation in one, so events never outlive a rolled-back allocation.
func (a *Allocator) publish(ctx context.Context, event string, bedID, patientID uuid.UUID) {
	notify.Emit(ctx, a.events, notify.Event{
		Type: event,
		Payload: map[string]string{
			"bed_id":     bedID.String(),
			"patient_id": patientID.String(),
		},
	})
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if code := apperror.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
