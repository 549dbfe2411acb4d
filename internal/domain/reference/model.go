package reference

import (
	"time"

	"github.com/google/uuid"
)

// Kind names one of the flat lookup tables.
type Kind string

const (
	KindProvince  Kind = "province"
	KindInsurance Kind = "insurance"
	KindSpecialty Kind = "specialty"
)

func (k Kind) table() string {
	switch k {
	case KindProvince:
		return "provinces"
	case KindInsurance:
		return "insurances"
	case KindSpecialty:
		return "specialties"
	}
	return ""
}

// Item is a row of a flat lookup table: a province, insurance or specialty.
type Item struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type City struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ProvinceID uuid.UUID `db:"province_id" json:"province_id"`
	Name       string    `db:"name" json:"name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
