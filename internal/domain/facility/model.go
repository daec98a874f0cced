package facility

import (
	"time"

	"github.com/google/uuid"
)

// Bed statuses.
const (
	BedStatusFree     = "free"
	BedStatusOccupied = "occupied"
)

// Ward maps to the ward table. Capacity is the maximum number of beds
// the ward may ever hold; the live bed count never exceeds it.
type Ward struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Capacity  int       `db:"capacity" json:"capacity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Bed maps to the bed table. A bed references its ward by id, never by
// pointer, and holds at most one occupant.
type Bed struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	WardID            uuid.UUID  `db:"ward_id" json:"ward_id"`
	Label             string     `db:"label" json:"label"`
	Status            string     `db:"status" json:"status"`
	OccupantPatientID *uuid.UUID `db:"occupant_patient_id" json:"occupant_patient_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Occupied reports whether the bed currently has an occupant.
func (b *Bed) Occupied() bool { return b.Status == BedStatusOccupied }

// Occupancy is the live occupancy of one ward, computed from the bed
// set at query time.
type Occupancy struct {
	WardID       uuid.UUID `json:"ward_id"`
	TotalBeds    int       `json:"total_beds"`
	OccupiedBeds int       `json:"occupied_beds"`
}
