package doctor

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusWaiting  = "waiting"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

const (
	GenderMale   = "m"
	GenderFemale = "f"
)

const (
	OrderMaxSuccessfulReserve = "max_successful_reserve"
	OrderClosestFreeReserve   = "closest_free_reserve"
)

// Ref is a named reference row embedded in doctor responses.
type Ref struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Doctor struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	AccountID            uuid.UUID  `db:"account_id" json:"account_id"`
	FirstName            string     `db:"first_name" json:"first_name"`
	LastName             string     `db:"last_name" json:"last_name"`
	NationalCode         string     `db:"national_code" json:"national_code"`
	MedicalCouncilNumber string     `db:"medical_council_number" json:"medical_council_number"`
	Email                string     `db:"email" json:"email"`
	Gender               string     `db:"gender" json:"gender"`
	Status               string     `db:"status" json:"status"`
	ConfirmDatetime      *time.Time `db:"confirm_datetime" json:"confirm_datetime,omitempty"`
	ProvinceID           *uuid.UUID `db:"province_id" json:"province_id,omitempty"`
	CityID               *uuid.UUID `db:"city_id" json:"city_id,omitempty"`
	OfficeAddress        string     `db:"office_address" json:"office_address"`
	Bio                  string     `db:"bio" json:"bio"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`

	Specialties []Ref `json:"specialties"`
	Insurances  []Ref `json:"insurances"`
}

func (d *Doctor) FullName() string {
	return d.FirstName + " " + d.LastName
}

// Summary is a doctor as shown in public listings, with review and
// reservation aggregates.
type Summary struct {
	Doctor
	Province               *Ref     `json:"province"`
	City                   *Ref     `json:"city"`
	RatingAverage          *float64 `json:"rating_average"`
	CommentCount           int      `json:"comment_count"`
	SuccessfulReserveCount int      `json:"successful_reserve_count"`
	FirstFreeReserve       *string  `json:"first_free_reserve_datetime"`
	IsCoverInsurance       bool     `json:"is_cover_insurance"`

	FirstFreeReserveAt *time.Time `json:"-"`
	SuggestCount       int        `json:"-"`
	AvgWaitingTime     *float64   `json:"-"`
}

// Detail extends Summary with the fields of the public profile page.
type Detail struct {
	Summary
	SuggestPercentage  *int       `json:"suggest_percentage"`
	AverageWaitingTime *string    `json:"average_waiting_time"`
	HasFreeReserve     bool       `json:"has_free_reserve"`
	AlternativeDoctors []*Summary `json:"alternative_doctors"`
}

// Filter narrows public doctor listings. Only accepted doctors are listed.
type Filter struct {
	SpecialtyID *uuid.UUID
	InsuranceID *uuid.UUID
	ProvinceID  *uuid.UUID
	CityID      *uuid.UUID
	Gender      string
	Search      string
	Ordering    string

	// Used for alternative suggestions.
	SpecialtyIDs   []uuid.UUID
	ExcludeID      *uuid.UUID
	HasFreeReserve bool
}
