package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
)

var (
	ErrAccountNotFound = apperr.NotFound("account not found")
	ErrPatientNotFound = apperr.NotFound("patient not found")
	ErrOTPNotFound     = apperr.NotFound("one-time password not found")
)

type AccountRepository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	GetByPhone(ctx context.Context, phone string) (*Account, error)
	Update(ctx context.Context, a *Account) error
	SetPassword(ctx context.Context, id uuid.UUID, hash *string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f AccountFilter, limit, offset int) ([]*Account, int, error)
	// AcceptedDoctorID returns the id of the account's accepted doctor
	// profile, or nil when there is none.
	AcceptedDoctorID(ctx context.Context, accountID uuid.UUID) (*uuid.UUID, error)
	// HasReserves reports whether the account's patient or doctor is
	// referenced by any reserve.
	HasReserves(ctx context.Context, accountID uuid.UUID) (bool, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error)
}

type OTPRepository interface {
	Create(ctx context.Context, o *OneTimePassword) error
	// FindValid returns the code matching id, phone and code that has not
	// expired at now.
	FindValid(ctx context.Context, id uuid.UUID, phone, code string, now time.Time) (*OneTimePassword, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}
