package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperror"
)

// repoMem is an in-memory Repository serialized by one mutex, so the
// conditional payment and claim steps are atomic.
type repoMem struct {
	mu        sync.Mutex
	bills     map[uuid.UUID]*Bill
	byEpisode map[uuid.UUID]uuid.UUID
	claims    map[uuid.UUID]*InsuranceClaim
}

// NewRepoMem returns an in-memory billing repository for tests and
// local development.
func NewRepoMem() Repository {
	return &repoMem{
		bills:     make(map[uuid.UUID]*Bill),
		byEpisode: make(map[uuid.UUID]uuid.UUID),
		claims:    make(map[uuid.UUID]*InsuranceClaim),
	}
}

func (r *repoMem) CreateBill(_ context.Context, b *Bill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEpisode[b.EpisodeID]; exists {
		return apperror.Newf(apperror.CodeBillAlreadyExists, "episode", b.EpisodeID.String(),
			"episode already has a bill")
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	for i := range b.LineItems {
		if b.LineItems[i].ID == uuid.Nil {
			b.LineItems[i].ID = uuid.New()
		}
		b.LineItems[i].BillID = b.ID
	}
	cp := copyBill(b)
	r.bills[b.ID] = cp
	r.byEpisode[b.EpisodeID] = b.ID
	return nil
}

func (r *repoMem) GetBill(_ context.Context, id uuid.UUID) (*Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getBillLocked(id)
}

func (r *repoMem) getBillLocked(id uuid.UUID) (*Bill, error) {
	b, ok := r.bills[id]
	if !ok {
		return nil, apperror.NotFound("bill", id.String())
	}
	return copyBill(b), nil
}

func (r *repoMem) GetBillByEpisode(_ context.Context, episodeID uuid.UUID) (*Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEpisode[episodeID]
	if !ok {
		return nil, apperror.NotFound("episode", episodeID.String())
	}
	return r.getBillLocked(id)
}

func (r *repoMem) ListBillsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Bill, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Bill, 0)
	for _, b := range r.bills {
		if b.PatientID == patientID {
			all = append(all, copyBill(b))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return []*Bill{}, len(all), nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (r *repoMem) DeleteBill(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[id]
	if !ok {
		return apperror.NotFound("bill", id.String())
	}
	if b.Locked() {
		return apperror.Newf(apperror.CodeBillLocked, "bill", id.String(),
			"a claimed bill cannot be deleted")
	}
	delete(r.bills, id)
	delete(r.byEpisode, b.EpisodeID)
	return nil
}

func (r *repoMem) AddPayment(_ context.Context, billID uuid.UUID, amount float64) (*Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[billID]
	if !ok {
		return nil, apperror.NotFound("bill", billID.String())
	}
	if b.Locked() {
		return nil, apperror.Newf(apperror.CodeBillLocked, "bill", billID.String(),
			"bill is frozen by claim %s", b.ClaimID)
	}
	if b.Paid+amount > b.Total {
		return nil, apperror.Newf(apperror.CodeOverPayment, "bill", billID.String(),
			"payment %.2f exceeds balance %.2f", amount, b.Total-b.Paid)
	}
	b.Paid += amount
	b.Status = DeriveStatus(b.Paid, b.Total)
	b.UpdatedAt = time.Now().UTC()
	return copyBill(b), nil
}

func (r *repoMem) CreateClaim(_ context.Context, c *InsuranceClaim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	r.claims[c.ID] = &cp
	return nil
}

func (r *repoMem) GetClaim(_ context.Context, id uuid.UUID) (*InsuranceClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[id]
	if !ok {
		return nil, apperror.NotFound("claim", id.String())
	}
	cp := *c
	return &cp, nil
}

func (r *repoMem) AttachClaim(_ context.Context, billID, claimID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[billID]
	if !ok {
		return apperror.NotFound("bill", billID.String())
	}
	if b.ClaimID != nil {
		return apperror.Newf(apperror.CodeAlreadyClaimed, "bill", billID.String(),
			"bill already has claim %s", b.ClaimID)
	}
	id := claimID
	b.ClaimID = &id
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *repoMem) ResolveClaim(_ context.Context, claimID uuid.UUID, status string) (*InsuranceClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.claims[claimID]
	if !ok {
		return nil, apperror.NotFound("claim", claimID.String())
	}
	if c.Status != ClaimStatusPending {
		return nil, apperror.Newf(apperror.CodeInvalidTransition, "claim", claimID.String(),
			"claim is already %s", c.Status)
	}
	now := time.Now().UTC()
	c.Status = status
	c.ProcessedAt = &now
	cp := *c
	return &cp, nil
}

func copyBill(b *Bill) *Bill {
	cp := *b
	if b.ClaimID != nil {
		id := *b.ClaimID
		cp.ClaimID = &id
	}
	cp.LineItems = append([]LineItem(nil), b.LineItems...)
	return &cp
}
