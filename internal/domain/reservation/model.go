package reservation

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusUnpaid = "unpaid"
	StatusPaid   = "paid"
)

// Reserve is a bookable doctor time slot. A nil PatientID means the slot is
// free; a patient with status unpaid is a claim awaiting payment; paid is
// terminal.
type Reserve struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	DoctorID         uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	PatientID        *uuid.UUID `db:"patient_id" json:"patient_id"`
	Status           string     `db:"status" json:"status"`
	Price            int64      `db:"price" json:"price"`
	ReserveDatetime  time.Time  `db:"reserve_datetime" json:"reserve_datetime"`
	PaymentAuthority string     `db:"payment_authority" json:"-"`
	PaymentRefID     string     `db:"payment_ref_id" json:"payment_ref_id,omitempty"`
	ReleaseJobID     string     `db:"release_job_id" json:"-"`
	PaymentExpiresAt *time.Time `db:"payment_expires_at" json:"payment_expires_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`

	IsExpired bool `db:"-" json:"is_expired"`
}

func (r *Reserve) IsFree() bool { return r.PatientID == nil }

func (r *Reserve) IsPaid() bool { return r.Status == StatusPaid }

// HeldBy reports whether patientID holds the reserve.
func (r *Reserve) HeldBy(patientID uuid.UUID) bool {
	return r.PatientID != nil && *r.PatientID == patientID
}

// Detail is a reserve joined with the names needed by listings and receipts.
type Detail struct {
	Reserve
	DoctorName          string `json:"doctor"`
	DoctorOfficeAddress string `json:"office_address"`
	PatientName         string `json:"patient,omitempty"`
	PatientPhone        string `json:"patient_phone,omitempty"`
}

// Filter narrows reserve listings.
type Filter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	// FreeFrom lists only free reserves at or after the given time.
	FreeFrom *time.Time
}
