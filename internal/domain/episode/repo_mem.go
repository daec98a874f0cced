package episode

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperror"
)

type repoMem struct {
	mu       sync.Mutex
	episodes map[uuid.UUID]*Episode
}

// NewRepoMem returns an in-memory episode repository for tests and
// local development.
func NewRepoMem() Repository {
	return &repoMem{episodes: make(map[uuid.UUID]*Episode)}
}

func (r *repoMem) Create(_ context.Context, e *Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	cp := *e
	r.episodes[e.ID] = &cp
	return nil
}

func (r *repoMem) Get(_ context.Context, id uuid.UUID) (*Episode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.episodes[id]
	if !ok {
		return nil, apperror.NotFound("episode", id.String())
	}
	cp := *e
	return &cp, nil
}

func (r *repoMem) Update(_ context.Context, e *Episode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.episodes[e.ID]; !ok {
		return apperror.NotFound("episode", e.ID.String())
	}
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	r.episodes[e.ID] = &cp
	return nil
}

func (r *repoMem) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.episodes[id]; !ok {
		return apperror.NotFound("episode", id.String())
	}
	delete(r.episodes, id)
	return nil
}

func (r *repoMem) List(_ context.Context, limit, offset int) ([]*Episode, int, error) {
	return r.listWhere(func(*Episode) bool { return true }, limit, offset)
}

func (r *repoMem) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Episode, int, error) {
	return r.listWhere(func(e *Episode) bool { return e.PatientID == patientID }, limit, offset)
}

func (r *repoMem) listWhere(keep func(*Episode) bool, limit, offset int) ([]*Episode, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Episode, 0)
	for _, e := range r.episodes {
		if !keep(e) {
			continue
		}
		cp := *e
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ScheduledAt.After(all[j].ScheduledAt) })
	if offset >= len(all) {
		return []*Episode{}, len(all), nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}
