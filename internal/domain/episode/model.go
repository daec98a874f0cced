package episode

import (
	"time"

	"github.com/google/uuid"
)

// Episode statuses. Completed and Cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCheckedIn = "checked_in"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Delivery methods.
const (
	MethodInPerson = "in_person"
	MethodRemote   = "remote"
)

// Dispositions. An episode starts unset and resolves to outpatient on
// completion without a bed, or inpatient on admission.
const (
	DispositionUnset      = "unset"
	DispositionOutpatient = "outpatient"
	DispositionInpatient  = "inpatient"
)

// transitions is the set of legal status edges. Completion happens
// through CompleteOutpatient or Discharge, cancellation through Cancel;
// both still consult this table.
var transitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status edge.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is a known episode status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidMethod reports whether m is a known delivery method.
func ValidMethod(m string) bool {
	return m == MethodInPerson || m == MethodRemote
}

// Episode maps to the care_episode table.
type Episode struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID     uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	ScheduledAt  time.Time  `db:"scheduled_at" json:"scheduled_at"`
	Method       string     `db:"method" json:"method"`
	Status       string     `db:"status" json:"status"`
	Disposition  string     `db:"disposition" json:"disposition"`
	Notes        string     `db:"notes" json:"notes,omitempty"`
	BedID        *uuid.UUID `db:"bed_id" json:"bed_id,omitempty"`
	AdmittedAt   *time.Time `db:"admitted_at" json:"admitted_at,omitempty"`
	DischargedAt *time.Time `db:"discharged_at" json:"discharged_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the episode allows no further transitions.
func (e *Episode) Terminal() bool {
	return e.Status == StatusCompleted || e.Status == StatusCancelled
}

// Admitted reports whether the episode holds a bed that has not been
// discharged yet.
func (e *Episode) Admitted() bool {
	return e.BedID != nil && e.DischargedAt == nil
}
