package identity

import (
	"time"

	"github.com/google/uuid"
)

// Account is a login identity keyed by mobile number. Every account owns
// exactly one Patient.
type Account struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Phone        string     `db:"phone" json:"phone"`
	PasswordHash *string    `db:"password_hash" json:"-"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	IsStaff      bool       `db:"is_staff" json:"is_staff"`
	IsSuperuser  bool       `db:"is_superuser" json:"is_superuser"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// HasUsablePassword is false for accounts created through the OTP flow.
func (a *Account) HasUsablePassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

const (
	GenderMale   = "m"
	GenderFemale = "f"
)

type Patient struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	AccountID         uuid.UUID  `db:"account_id" json:"account_id"`
	Phone             string     `db:"phone" json:"phone"`
	FirstName         string     `db:"first_name" json:"first_name"`
	LastName          string     `db:"last_name" json:"last_name"`
	BirthDate         *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	NationalCode      string     `db:"national_code" json:"national_code"`
	Email             string     `db:"email" json:"email"`
	Gender            string     `db:"gender" json:"gender"`
	InsuranceID       *uuid.UUID `db:"insurance_id" json:"insurance_id,omitempty"`
	CaseHistory       string     `db:"case_history" json:"case_history"`
	IsForeignNational bool       `db:"is_foreign_national" json:"is_foreign_national"`
	ProvinceID        *uuid.UUID `db:"province_id" json:"province_id,omitempty"`
	CityID            *uuid.UUID `db:"city_id" json:"city_id,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// IsProfileComplete reports whether the patient filled in everything needed
// to post a review. Foreign nationals are exempt from the national code.
func (p *Patient) IsProfileComplete() bool {
	if p.FirstName == "" || p.LastName == "" || p.BirthDate == nil || p.Gender == "" {
		return false
	}
	if p.ProvinceID == nil || p.CityID == nil {
		return false
	}
	if !p.IsForeignNational && p.NationalCode == "" {
		return false
	}
	return true
}

// Age returns the patient's age in whole years at now, or nil without a birth date.
func (p *Patient) Age(now time.Time) *int {
	if p.BirthDate == nil {
		return nil
	}
	b := *p.BirthDate
	years := now.Year() - b.Year()
	if now.Month() < b.Month() || (now.Month() == b.Month() && now.Day() < b.Day()) {
		years--
	}
	return &years
}

// OneTimePassword is a short-lived 4 digit code bound to a phone number.
type OneTimePassword struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Code      string    `db:"code" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// PatientFilter narrows the admin patient list. Nil fields are ignored.
type PatientFilter struct {
	Gender            string
	Age               *int
	AgeMin            *int
	AgeMax            *int
	IsForeignNational *bool
	ProvinceID        *uuid.UUID
	CityID            *uuid.UUID
	InsuranceID       *uuid.UUID
}

// AccountFilter narrows the admin account list.
type AccountFilter struct {
	Phone    string
	IsStaff  *bool
	IsActive *bool
}
