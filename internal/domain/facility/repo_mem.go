package facility

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperror"
)

// repoMem is an in-memory Repository. A single mutex serializes every
// operation, which makes each conditional transition atomic without a
// database.
type repoMem struct {
	mu    sync.Mutex
	wards map[uuid.UUID]*Ward
	beds  map[uuid.UUID]*Bed
}

// NewRepoMem returns an in-memory facility repository for tests and
// local development.
func NewRepoMem() Repository {
	return &repoMem{
		wards: make(map[uuid.UUID]*Ward),
		beds:  make(map[uuid.UUID]*Bed),
	}
}

func (r *repoMem) CreateWard(_ context.Context, w *Ward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	now := time.Now().UTC()
	w.CreatedAt = now
	w.UpdatedAt = now
	cp := *w
	r.wards[w.ID] = &cp
	return nil
}

func (r *repoMem) GetWard(_ context.Context, id uuid.UUID) (*Ward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wards[id]
	if !ok {
		return nil, apperror.NotFound("ward", id.String())
	}
	cp := *w
	return &cp, nil
}

func (r *repoMem) ListWards(_ context.Context, limit, offset int) ([]*Ward, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Ward, 0, len(r.wards))
	for _, w := range r.wards {
		cp := *w
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, limit, offset), len(all), nil
}

func (r *repoMem) DeleteWard(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wards[id]; !ok {
		return apperror.NotFound("ward", id.String())
	}
	for _, b := range r.beds {
		if b.WardID == id {
			return apperror.Newf(apperror.CodeBedOccupied, "ward", id.String(), "ward still has beds")
		}
	}
	delete(r.wards, id)
	return nil
}

func (r *repoMem) AddBed(_ context.Context, b *Bed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wards[b.WardID]
	if !ok {
		return apperror.NotFound("ward", b.WardID.String())
	}
	count := 0
	for _, existing := range r.beds {
		if existing.WardID == b.WardID {
			count++
		}
	}
	if count >= w.Capacity {
		return apperror.Newf(apperror.CodeCapacityExceeded, "ward", b.WardID.String(),
			"ward %q is at capacity %d", w.Name, w.Capacity)
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.Status = BedStatusFree
	b.OccupantPatientID = nil
	b.CreatedAt = now
	b.UpdatedAt = now
	cp := *b
	r.beds[b.ID] = &cp
	return nil
}

func (r *repoMem) GetBed(_ context.Context, id uuid.UUID) (*Bed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getBedLocked(id)
}

func (r *repoMem) getBedLocked(id uuid.UUID) (*Bed, error) {
	b, ok := r.beds[id]
	if !ok {
		return nil, apperror.NotFound("bed", id.String())
	}
	cp := *b
	if b.OccupantPatientID != nil {
		occ := *b.OccupantPatientID
		cp.OccupantPatientID = &occ
	}
	return &cp, nil
}

func (r *repoMem) ListBedsByWard(_ context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Bed, 0)
	for _, b := range r.beds {
		if b.WardID != wardID {
			continue
		}
		cp := *b
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Label < all[j].Label })
	return page(all, limit, offset), len(all), nil
}

func (r *repoMem) RenameBed(_ context.Context, id uuid.UUID, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beds[id]
	if !ok {
		return apperror.NotFound("bed", id.String())
	}
	b.Label = label
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *repoMem) DeleteBed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beds[id]
	if !ok {
		return apperror.NotFound("bed", id.String())
	}
	if b.Occupied() {
		return apperror.Newf(apperror.CodeBedOccupied, "bed", id.String(), "bed %q is occupied", b.Label)
	}
	delete(r.beds, id)
	return nil
}

func (r *repoMem) Occupancy(_ context.Context, wardID uuid.UUID) (*Occupancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wards[wardID]; !ok {
		return nil, apperror.NotFound("ward", wardID.String())
	}
	occ := Occupancy{WardID: wardID}
	for _, b := range r.beds {
		if b.WardID != wardID {
			continue
		}
		occ.TotalBeds++
		if b.Occupied() {
			occ.OccupiedBeds++
		}
	}
	return &occ, nil
}

func (r *repoMem) BedByOccupant(_ context.Context, patientID uuid.UUID) (*Bed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.beds {
		if b.Occupied() && b.OccupantPatientID != nil && *b.OccupantPatientID == patientID {
			return r.getBedLocked(id)
		}
	}
	return nil, apperror.NotFound("bed", patientID.String())
}

func (r *repoMem) ClaimBed(_ context.Context, bedID, patientID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beds[bedID]
	if !ok {
		return apperror.NotFound("bed", bedID.String())
	}
	if b.Occupied() {
		return apperror.Newf(apperror.CodeBedNotFree, "bed", bedID.String(),
			"bed %q is %s", b.Label, b.Status)
	}
	for _, other := range r.beds {
		if other.Occupied() && other.OccupantPatientID != nil && *other.OccupantPatientID == patientID {
			return apperror.Newf(apperror.CodePatientAlreadyAdmitted, "patient", patientID.String(),
				"patient already occupies a bed")
		}
	}
	pid := patientID
	b.Status = BedStatusOccupied
	b.OccupantPatientID = &pid
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *repoMem) ReleaseBed(_ context.Context, bedID uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beds[bedID]
	if !ok {
		return uuid.Nil, apperror.NotFound("bed", bedID.String())
	}
	if !b.Occupied() {
		return uuid.Nil, apperror.Newf(apperror.CodeBedNotOccupied, "bed", bedID.String(),
			"bed %q is already free", b.Label)
	}
	patientID := *b.OccupantPatientID
	b.Status = BedStatusFree
	b.OccupantPatientID = nil
	b.UpdatedAt = time.Now().UTC()
	return patientID, nil
}

func (r *repoMem) MoveOccupant(_ context.Context, sourceID, targetID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	source, ok := r.beds[sourceID]
	if !ok {
		return apperror.NotFound("bed", sourceID.String())
	}
	target, ok := r.beds[targetID]
	if !ok {
		return apperror.NotFound("bed", targetID.String())
	}
	if !source.Occupied() {
		return apperror.Newf(apperror.CodeBedNotOccupied, "bed", sourceID.String(),
			"source bed %q is free", source.Label)
	}
	if target.Occupied() {
		return apperror.Newf(apperror.CodeBedNotFree, "bed", targetID.String(),
			"target bed %q is occupied", target.Label)
	}
	now := time.Now().UTC()
	target.Status = BedStatusOccupied
	target.OccupantPatientID = source.OccupantPatientID
	target.UpdatedAt = now
	source.Status = BedStatusFree
	source.OccupantPatientID = nil
	source.UpdatedAt = now
	return nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
