package doctor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
)

var ErrDoctorNotFound = apperr.NotFound("Not found.")

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	SetStatus(ctx context.Context, id uuid.UUID, status string, confirmedAt *time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	HasReserves(ctx context.Context, id uuid.UUID) (bool, error)
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Doctor, int, error)

	AddSpecialty(ctx context.Context, doctorID, specialtyID uuid.UUID) error
	ClearSpecialties(ctx context.Context, doctorID uuid.UUID) error
	AddInsurance(ctx context.Context, doctorID, insuranceID uuid.UUID) error
	ClearInsurances(ctx context.Context, doctorID uuid.UUID) error

	// Search lists accepted doctors with their aggregates. Free reserves are
	// those without a patient at or after now.
	Search(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]*Summary, int, error)
	// GetSummary returns an accepted doctor with its aggregates.
	GetSummary(ctx context.Context, id uuid.UUID, now time.Time) (*Summary, error)
}
