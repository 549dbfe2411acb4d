package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
)

var ErrReserveNotFound = apperr.NotFound("There isn't any reserve with this reserve_id.")

// ReleaseGuard narrows a release to the claim the caller inspected, so a
// release decided on a stale read leaves a newer claim alone.
type ReleaseGuard struct {
	// Holder, when set, must still hold the reserve.
	Holder uuid.UUID
	// ClearPayment also clears the authority, ref id, job id and deadline.
	ClearPayment bool
	// ClosedBy, when set, requires the payment window to have closed by
	// then. A claim without a deadline matches.
	ClosedBy *time.Time
}

type ReserveRepository interface {
	Create(ctx context.Context, r *Reserve) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reserve, error)
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Reserve, error)
	GetByAuthority(ctx context.Context, authority string) (*Reserve, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Detail, int, error)

	// Claim assigns the patient when the reserve is free or already held by
	// the same patient and still unpaid. It reports whether a row matched.
	Claim(ctx context.Context, id, patientID uuid.UUID) (bool, error)
	// Release clears the patient of an unpaid claimed reserve that still
	// matches g. It reports whether a row matched.
	Release(ctx context.Context, id uuid.UUID, g ReleaseGuard) (bool, error)
	// ReleaseStale releases every unpaid claim whose slot or payment
	// deadline passed before now.
	ReleaseStale(ctx context.Context, now time.Time) (int, error)
	SetReleaseJob(ctx context.Context, id uuid.UUID, jobID string) error
	// SetPaymentWindow records the payment deadline of a claim.
	SetPaymentWindow(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	SetAuthority(ctx context.Context, id uuid.UUID, authority string) error
	// MarkPaid settles an unpaid reserve and stores the provider reference.
	// It reports false when the reserve was not unpaid.
	MarkPaid(ctx context.Context, id uuid.UUID, refID string) (bool, error)
	// DeleteFree removes a reserve only while no patient holds it.
	DeleteFree(ctx context.Context, id uuid.UUID) (bool, error)
}
