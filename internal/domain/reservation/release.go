package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/jobs"
)

// ReleaseJobName is the deferred job that frees an unpaid claim.
const ReleaseJobName = "reserve.release"

type ReleaseArgs struct {
	ReserveID    uuid.UUID `json:"reserve_id"`
	ClearPayment bool      `json:"clear_payment"`
}

// RegisterJobs binds the release handler on d.
func (s *Service) RegisterJobs(d *jobs.Dispatcher) {
	d.Register(ReleaseJobName, s.HandleRelease)
}

// HandleRelease clears the patient of an unpaid claim. It is a no-op for
// missing, free and paid reserves, and for payment-window releases whose
// window was restarted or reclaimed after they were armed.
func (s *Service) HandleRelease(ctx context.Context, job jobs.Job) error {
	var args ReleaseArgs
	if err := job.Bind(&args); err != nil {
		return err
	}
	log := s.logger.With().Str("job_id", job.ID).Str("reserve_id", args.ReserveID.String()).Logger()

	r, err := s.reserves.GetByID(ctx, args.ReserveID)
	if errors.Is(err, ErrReserveNotFound) {
		log.Info().Msg("There isn't any reserve with this id.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load reserve: %w", err)
	}

	if r.IsPaid() || r.IsFree() {
		log.Debug().Msg("No patient had this reserve.")
		return nil
	}
	// The delay store may hand a job out slightly before its run time.
	due := s.now()
	if job.RunAt.After(due) {
		due = job.RunAt
	}
	guard := ReleaseGuard{ClearPayment: args.ClearPayment}
	if args.ClearPayment {
		if r.PaymentExpiresAt != nil && r.PaymentExpiresAt.After(due) {
			log.Debug().Time("payment_expires_at", *r.PaymentExpiresAt).Msg("payment window still open")
			return nil
		}
		guard.Holder = *r.PatientID
		guard.ClosedBy = &due
	}

	released, err := s.reserves.Release(ctx, r.ID, guard)
	if err != nil {
		return fmt.Errorf("release reserve: %w", err)
	}
	if released {
		log.Info().Msg("The patient was successfully removed from the reserve.")
		s.announce(ctx, EventReleased, r, true)
	}
	return nil
}
