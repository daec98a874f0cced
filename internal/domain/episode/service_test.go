package episode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/facility"
	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/notify"
)

type fixture struct {
	episodes  *Service
	facility  *facility.Service
	allocator *facility.Allocator
	billing   *billing.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	facilityRepo := facility.NewRepoMem()
	billingRepo := billing.NewRepoMem()
	allocator := facility.NewAllocator(facilityRepo, nil)
	bills := billing.NewService(billingRepo, db.PassthroughTxRunner{}, nil)
	episodes := NewService(NewRepoMem(), allocator, bills, db.PassthroughTxRunner{}, nil, 100)
	return &fixture{
		episodes:  episodes,
		facility:  facility.NewService(facilityRepo),
		allocator: allocator,
		billing:   bills,
	}
}

// newEventFixture wires a real dispatcher with a capturing sink so
// tests can assert which events actually left the services.
func newEventFixture(t *testing.T) (*fixture, func() []string) {
	t.Helper()
	events := notify.NewDispatcher(zerolog.Nop())
	var mu sync.Mutex
	var seen []string
	events.Register(notify.SinkFunc(func(ev notify.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	}))

	facilityRepo := facility.NewRepoMem()
	billingRepo := billing.NewRepoMem()
	allocator := facility.NewAllocator(facilityRepo, events)
	bills := billing.NewService(billingRepo, db.PassthroughTxRunner{}, events)
	episodes := NewService(NewRepoMem(), allocator, bills, db.PassthroughTxRunner{}, events, 100)
	f := &fixture{
		episodes:  episodes,
		facility:  facility.NewService(facilityRepo),
		allocator: allocator,
		billing:   bills,
	}
	captured := func() []string {
		events.Wait()
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), seen...)
	}
	return f, captured
}

func (f *fixture) book(t *testing.T) *Episode {
	t.Helper()
	e, err := f.episodes.Book(context.Background(), uuid.New(), uuid.New(),
		time.Now().Add(24*time.Hour), MethodInPerson)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return e
}

func (f *fixture) checkIn(t *testing.T, id uuid.UUID) *Episode {
	t.Helper()
	if _, err := f.episodes.SetStatus(context.Background(), id, StatusConfirmed); err != nil {
		t.Fatalf("SetStatus confirmed: %v", err)
	}
	e, err := f.episodes.SetStatus(context.Background(), id, StatusCheckedIn)
	if err != nil {
		t.Fatalf("SetStatus checked_in: %v", err)
	}
	return e
}

func (f *fixture) ward(t *testing.T, capacity int) *facility.Ward {
	t.Helper()
	w, err := f.facility.CreateWard(context.Background(), "ICU", capacity)
	if err != nil {
		t.Fatalf("CreateWard: %v", err)
	}
	return w
}

func (f *fixture) bed(t *testing.T, wardID uuid.UUID, label string) *facility.Bed {
	t.Helper()
	b, err := f.facility.AddBed(context.Background(), wardID, label)
	if err != nil {
		t.Fatalf("AddBed: %v", err)
	}
	return b
}

func TestBook(t *testing.T) {
	f := newFixture(t)
	e := f.book(t)
	if e.Status != StatusPending || e.Disposition != DispositionUnset {
		t.Fatalf("new episode = %s/%s, want pending/unset", e.Status, e.Disposition)
	}
	if _, err := f.episodes.Book(context.Background(), uuid.New(), uuid.New(), time.Now(), "carrier-pigeon"); err == nil {
		t.Fatal("unknown method accepted")
	}
}

func TestSetStatusTransitions(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		from, to string
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCheckedIn, false},
		{StatusConfirmed, StatusCheckedIn, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCheckedIn, StatusConfirmed, false},
		{StatusCompleted, StatusConfirmed, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tc := range cases {
		e := f.book(t)
		e.Status = tc.from
		if err := f.episodes.repo.Update(context.Background(), e); err != nil {
			t.Fatalf("seed status %s: %v", tc.from, err)
		}
		_, err := f.episodes.SetStatus(context.Background(), e.ID, tc.to)
		if tc.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tc.from, tc.to, err)
		}
		if !tc.ok && !apperror.IsCode(err, apperror.CodeInvalidTransition) {
			t.Errorf("%s -> %s: got %v, want invalid_transition", tc.from, tc.to, err)
		}
	}
}

func TestSetStatusCannotComplete(t *testing.T) {
	f := newFixture(t)
	e := f.book(t)
	f.checkIn(t, e.ID)
	_, err := f.episodes.SetStatus(context.Background(), e.ID, StatusCompleted)
	if !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}
}

func TestAdmit(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e := f.book(t)
	f.checkIn(t, e.ID)

	got, err := f.episodes.Admit(context.Background(), e.ID, b.ID)
	if err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if got.Disposition != DispositionInpatient || got.BedID == nil || *got.BedID != b.ID || got.AdmittedAt == nil {
		t.Fatalf("admitted episode = %+v", got)
	}
	if got.Status != StatusCheckedIn {
		t.Fatalf("status after admit = %s, want checked_in", got.Status)
	}

	bed, err := f.facility.GetBed(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBed: %v", err)
	}
	if !bed.Occupied() || *bed.OccupantPatientID != e.PatientID {
		t.Fatalf("bed after admit = %+v", bed)
	}

	// A second admission for the same episode is rejected.
	if _, err := f.episodes.Admit(context.Background(), e.ID, b.ID); !apperror.IsCode(err, apperror.CodePatientAlreadyAdmitted) {
		t.Fatalf("got %v, want patient_already_admitted", err)
	}
}

func TestAdmitOccupiedBed(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e1, e2 := f.book(t), f.book(t)
	f.checkIn(t, e1.ID)
	f.checkIn(t, e2.ID)

	if _, err := f.episodes.Admit(context.Background(), e1.ID, b.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	_, err := f.episodes.Admit(context.Background(), e2.ID, b.ID)
	if !apperror.IsCode(err, apperror.CodeBedNotFree) {
		t.Fatalf("got %v, want bed_not_free", err)
	}

	// The losing episode must not record an admission.
	got, err := f.episodes.Get(context.Background(), e2.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.BedID != nil || got.Disposition != DispositionUnset {
		t.Fatalf("losing episode mutated: %+v", got)
	}
}

func TestCompleteOutpatient(t *testing.T) {
	f := newFixture(t)
	e := f.book(t)
	f.checkIn(t, e.ID)

	got, bill, err := f.episodes.CompleteOutpatient(context.Background(), e.ID, "seen and discharged",
		[]billing.LineItem{{Description: "Lab work", Amount: 35}})
	if err != nil {
		t.Fatalf("CompleteOutpatient: %v", err)
	}
	if got.Status != StatusCompleted || got.Disposition != DispositionOutpatient {
		t.Fatalf("episode = %s/%s, want completed/outpatient", got.Status, got.Disposition)
	}
	// Fixed consultation fee of 100 plus the ad-hoc charge.
	if bill.Total != 135 {
		t.Fatalf("bill total = %.2f, want 135", bill.Total)
	}

	// Completion is terminal.
	if _, _, err := f.episodes.CompleteOutpatient(context.Background(), e.ID, "", nil); !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}
}

func TestCompleteOutpatientRejectsInpatient(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(context.Background(), e.ID, b.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	_, _, err := f.episodes.CompleteOutpatient(context.Background(), e.ID, "", nil)
	if !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}
}

func TestDischarge(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(context.Background(), e.ID, b.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	got, bill, err := f.episodes.Discharge(context.Background(), e.ID, []billing.LineItem{
		{Description: "Ward Charges", Amount: 200},
		{Description: "Nursing", Amount: 50},
	})
	if err != nil {
		t.Fatalf("Discharge: %v", err)
	}
	if got.Status != StatusCompleted || got.DischargedAt == nil {
		t.Fatalf("discharged episode = %+v", got)
	}
	if bill.Total != 250 || bill.Paid != 0 || bill.Status != billing.BillStatusPending {
		t.Fatalf("bill = %+v, want total 250 paid 0 pending", bill)
	}

	bed, err := f.facility.GetBed(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBed: %v", err)
	}
	if bed.Occupied() {
		t.Fatalf("bed still occupied after discharge")
	}

	// Exactly one bill per episode: a second discharge is terminal.
	if _, _, err := f.episodes.Discharge(context.Background(), e.ID, nil); !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}
}

func TestDischargeWithoutAdmission(t *testing.T) {
	f := newFixture(t)
	e := f.book(t)
	f.checkIn(t, e.ID)
	_, _, err := f.episodes.Discharge(context.Background(), e.ID, nil)
	if !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}
}

func TestDischargeBillFailureLeavesBedOccupied(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(context.Background(), e.ID, b.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	// A bill generated out of band occupies the one-bill-per-episode
	// slot, so the discharge's bill generation fails.
	if _, err := f.billing.GenerateBill(context.Background(), e.PatientID, e.ID, nil); err != nil {
		t.Fatalf("GenerateBill: %v", err)
	}
	_, _, err := f.episodes.Discharge(context.Background(), e.ID, []billing.LineItem{{Description: "Ward Charges", Amount: 200}})
	if !apperror.IsCode(err, apperror.CodeBillAlreadyExists) {
		t.Fatalf("got %v, want bill_already_exists", err)
	}

	// Neither the bed nor the episode may be half-discharged.
	bed, err := f.facility.GetBed(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBed: %v", err)
	}
	if !bed.Occupied() {
		t.Fatal("bed released despite failed discharge")
	}
	got, err := f.episodes.Get(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCheckedIn || got.DischargedAt != nil {
		t.Fatalf("episode mutated despite failed discharge: %+v", got)
	}
}

func TestFailedDischargeEmitsNoBillEvent(t *testing.T) {
	f, captured := newEventFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(context.Background(), e.ID, b.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	// Free the bed out of band so the discharge fails after its bill
	// has already been generated.
	if _, err := f.allocator.Release(context.Background(), b.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	_, _, err := f.episodes.Discharge(context.Background(), e.ID, []billing.LineItem{{Description: "Ward Charges", Amount: 200}})
	if !apperror.IsCode(err, apperror.CodeBedNotOccupied) {
		t.Fatalf("got %v, want bed_not_occupied", err)
	}

	if _, err := f.billing.BillForEpisode(context.Background(), e.ID); !apperror.IsCode(err, apperror.CodeNotFound) {
		t.Fatalf("bill survived failed discharge: %v", err)
	}
	for _, ev := range captured() {
		if ev == notify.EventBillGenerated {
			t.Fatal("bill.generated dispatched for a discharge that never committed")
		}
	}
}

func TestDischargeEmitsEventsAfterCommit(t *testing.T) {
	f, captured := newEventFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(context.Background(), e.ID, b.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if _, _, err := f.episodes.Discharge(context.Background(), e.ID, []billing.LineItem{{Description: "Ward Charges", Amount: 200}}); err != nil {
		t.Fatalf("Discharge: %v", err)
	}

	seen := make(map[string]bool)
	for _, ev := range captured() {
		seen[ev] = true
	}
	for _, want := range []string{notify.EventBedAllocated, notify.EventEpisodeAdmitted, notify.EventBillGenerated, notify.EventBedReleased} {
		if !seen[want] {
			t.Errorf("event %s never dispatched", want)
		}
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	e := f.book(t)
	got, err := f.episodes.Cancel(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	// Terminal: cancelling again fails.
	if _, err := f.episodes.Cancel(context.Background(), e.ID); !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}
}

func TestCancelAdmitted(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, 1)
	b := f.bed(t, w.ID, "ICU-1")
	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(context.Background(), e.ID, b.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	_, err := f.episodes.Cancel(context.Background(), e.ID)
	if !apperror.IsCode(err, apperror.CodeCannotCancelAdmitted) {
		t.Fatalf("got %v, want cannot_cancel_admitted", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)

	deletable := f.book(t)
	if err := f.episodes.Delete(context.Background(), deletable.ID); err != nil {
		t.Fatalf("Delete pending: %v", err)
	}

	checkedIn := f.book(t)
	f.checkIn(t, checkedIn.ID)
	if err := f.episodes.Delete(context.Background(), checkedIn.ID); !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}

	completed := f.book(t)
	f.checkIn(t, completed.ID)
	if _, _, err := f.episodes.CompleteOutpatient(context.Background(), completed.ID, "", nil); err != nil {
		t.Fatalf("CompleteOutpatient: %v", err)
	}
	if err := f.episodes.Delete(context.Background(), completed.ID); !apperror.IsCode(err, apperror.CodeInvalidTransition) {
		t.Fatalf("got %v, want invalid_transition", err)
	}
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	w := f.ward(t, 2)
	b1 := f.bed(t, w.ID, "ICU-1")
	b2 := f.bed(t, w.ID, "ICU-2")
	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(context.Background(), e.ID, b1.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	got, err := f.episodes.Transfer(context.Background(), e.ID, b2.ID)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got.BedID == nil || *got.BedID != b2.ID {
		t.Fatalf("episode bed after transfer = %v, want %s", got.BedID, b2.ID)
	}
	src, _ := f.facility.GetBed(context.Background(), b1.ID)
	dst, _ := f.facility.GetBed(context.Background(), b2.ID)
	if src.Occupied() || !dst.Occupied() {
		t.Fatalf("beds after transfer: src occupied=%v dst occupied=%v", src.Occupied(), dst.Occupied())
	}
}

// TestInpatientStayEndToEnd walks the full ICU flow: capacity limits,
// the one-bed-per-patient rule, a transfer, discharge billing, and the
// claim lock.
func TestInpatientStayEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.ward(t, 2)
	b1 := f.bed(t, w.ID, "B1")
	b2 := f.bed(t, w.ID, "B2")
	if _, err := f.facility.AddBed(ctx, w.ID, "B3"); !apperror.IsCode(err, apperror.CodeCapacityExceeded) {
		t.Fatalf("third bed: got %v, want capacity_exceeded", err)
	}

	e := f.book(t)
	f.checkIn(t, e.ID)
	if _, err := f.episodes.Admit(ctx, e.ID, b1.ID); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	occ, err := f.facility.WardOccupancy(ctx, w.ID)
	if err != nil {
		t.Fatalf("WardOccupancy: %v", err)
	}
	if occ.TotalBeds != 2 || occ.OccupiedBeds != 1 {
		t.Fatalf("occupancy = %+v, want 2/1", occ)
	}

	// The patient cannot hold a second bed.
	if err := f.allocator.Allocate(ctx, b2.ID, e.PatientID); !apperror.IsCode(err, apperror.CodePatientAlreadyAdmitted) {
		t.Fatalf("second allocate: got %v, want patient_already_admitted", err)
	}

	if _, err := f.episodes.Transfer(ctx, e.ID, b2.ID); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	src, _ := f.facility.GetBed(ctx, b1.ID)
	dst, _ := f.facility.GetBed(ctx, b2.ID)
	if src.Occupied() || !dst.Occupied() || *dst.OccupantPatientID != e.PatientID {
		t.Fatalf("beds after transfer: %+v / %+v", src, dst)
	}

	_, bill, err := f.episodes.Discharge(ctx, e.ID, []billing.LineItem{
		{Description: "Ward Charges", Amount: 200},
		{Description: "Nursing", Amount: 50},
	})
	if err != nil {
		t.Fatalf("Discharge: %v", err)
	}
	if bill.Total != 250 || bill.Paid != 0 || bill.Status != billing.BillStatusPending {
		t.Fatalf("bill = %+v", bill)
	}
	dst, _ = f.facility.GetBed(ctx, b2.ID)
	if dst.Occupied() {
		t.Fatal("bed still occupied after discharge")
	}

	if _, err := f.billing.SubmitClaim(ctx, bill.ID, "POL-1", 250); err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if _, err := f.billing.RecordPayment(ctx, bill.ID, 250); !apperror.IsCode(err, apperror.CodeBillLocked) {
		t.Fatalf("payment on claimed bill: got %v, want bill_locked", err)
	}
}
