package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/jobs"
	"github.com/medbook/medbook/internal/platform/live"
)

const (
	// CreateBuffer is how far ahead of now a doctor may post a slot.
	CreateBuffer         = 5 * time.Minute
	DefaultPaymentWindow = 15 * time.Minute
)

var (
	ErrReserveExpired = apperr.New(apperr.KindExpired, "RESERVE_EXPIRED", "This reserve has expired.")
	ErrAlreadyTaken   = apperr.Conflict("ALREADY_TAKEN", "This reserve has been taken by another patient.")
	ErrAlreadyPaid    = apperr.Conflict("ALREADY_PAID", "You have already taken and paid for this reserve.")
	ErrDuplicateSlot  = apperr.Conflict("DUPLICATE_SLOT", "This doctor already has a reserve at this datetime.")
	ErrPaidRelease    = apperr.Conflict("RESERVE_PAID", "A paid reserve cannot be released.")
	ErrNotFree        = apperr.Conflict("RESERVE_TAKEN", "Only free reserves can be deleted.")
	ErrNotAccepted    = apperr.New(apperr.KindValidation, "DOCTOR_NOT_ACCEPTED",
		"Reserves can only be created for accepted doctors.")
)

// DoctorLookup answers whether a doctor may offer reserves.
type DoctorLookup interface {
	IsAccepted(ctx context.Context, doctorID uuid.UUID) (bool, error)
}

type Service struct {
	reserves  ReserveRepository
	tx        db.Transactor
	doctors   DoctorLookup
	scheduler jobs.Scheduler
	events    live.Publisher
	logger    zerolog.Logger

	loc           *time.Location
	paymentWindow time.Duration
	now           func() time.Time
}

type Option func(*Service)

// WithLocation sets the zone used to read and render local datetimes.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPaymentWindow sets how long a claim may stay unpaid.
func WithPaymentWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.paymentWindow = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(reserves ReserveRepository, tx db.Transactor, doctors DoctorLookup, scheduler jobs.Scheduler, opts ...Option) *Service {
	s := &Service{
		reserves:      reserves,
		tx:            tx,
		doctors:       doctors,
		scheduler:     scheduler,
		events:        nopPublisher{},
		logger:        zerolog.Nop(),
		loc:           time.UTC,
		paymentWindow: DefaultPaymentWindow,
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) PaymentWindow() time.Duration { return s.paymentWindow }

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ParseDatetime reads an RFC 3339 timestamp, or a local "2006-01-02 15:04"
// style value interpreted in loc.
func ParseDatetime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range datetimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperr.Validation("Datetime has wrong format. Use YYYY-MM-DD hh:mm.")
}

// -- Slots --

type SlotRequest struct {
	ReserveDatetime string `json:"reserve_datetime" validate:"required"`
	Price           int64  `json:"price" validate:"required,gt=0"`
}

// CreateSlot posts a free reserve for doctorID. When byOwner is set the
// datetime must be at least CreateBuffer ahead of now; admins posting on a
// doctor's behalf skip that check. A release is armed at the slot time.
func (s *Service) CreateSlot(ctx context.Context, doctorID uuid.UUID, req SlotRequest, byOwner bool) (*Reserve, error) {
	at, err := ParseDatetime(req.ReserveDatetime, s.loc)
	if err != nil {
		return nil, err
	}
	at = at.Truncate(time.Minute)
	if req.Price <= 0 {
		return nil, apperr.Validation("price must be greater than 0")
	}

	now := s.now()
	if byOwner {
		earliest := now.Add(CreateBuffer).Truncate(time.Minute)
		if at.Before(earliest) {
			return nil, apperr.Validation(fmt.Sprintf("The reserve datetime cannot be before %s.",
				earliest.In(s.loc).Format("2006-01-02 15:04")))
		}
	}

	ok, err := s.doctors.IsAccepted(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAccepted
	}

	r := &Reserve{DoctorID: doctorID, Status: StatusUnpaid, Price: req.Price, ReserveDatetime: at}
	if err := s.reserves.Create(ctx, r); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateSlot
		}
		return nil, fmt.Errorf("create reserve: %w", err)
	}
	s.announce(ctx, EventCreated, r, true)

	if at.After(now) {
		jobID, err := s.scheduler.Schedule(ctx, ReleaseJobName, ReleaseArgs{ReserveID: r.ID}, at)
		if err != nil {
			s.logger.Error().Err(err).Str("reserve_id", r.ID.String()).Msg("arm slot release")
			return r, nil
		}
		if err := s.reserves.SetReleaseJob(ctx, r.ID, jobID); err != nil {
			return nil, fmt.Errorf("record release job: %w", err)
		}
		r.ReleaseJobID = jobID
	}
	return r, nil
}

// checkClaimable applies the claim rules in order: expiry, another holder,
// then an already paid claim by the same patient.
func checkClaimable(r *Reserve, patientID uuid.UUID, now time.Time) error {
	if r.ReserveDatetime.Before(now) {
		return ErrReserveExpired
	}
	if r.PatientID != nil && *r.PatientID != patientID {
		return ErrAlreadyTaken
	}
	if r.HeldBy(patientID) && r.IsPaid() {
		return ErrAlreadyPaid
	}
	return nil
}

// ValidateClaim reports whether patientID could claim the reserve now,
// without changing it.
func (s *Service) ValidateClaim(ctx context.Context, id, patientID uuid.UUID) (*Reserve, error) {
	r, err := s.reserves.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkClaimable(r, patientID, s.now()); err != nil {
		return nil, err
	}
	return r, nil
}

// ClaimSlot assigns a free reserve to patientID. Claiming a reserve the
// patient already holds is a no-op. A new claim and its payment deadline
// commit together; the release at the deadline is armed after commit.
func (s *Service) ClaimSlot(ctx context.Context, id, patientID uuid.UUID) (*Reserve, error) {
	now := s.now()
	deadline := now.Add(s.paymentWindow)
	var (
		res     *Reserve
		claimed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.reserves.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := checkClaimable(r, patientID, now); err != nil {
			return err
		}
		if r.HeldBy(patientID) {
			res = r
			return nil
		}
		ok, err := s.reserves.Claim(ctx, id, patientID)
		if err != nil {
			return fmt.Errorf("claim reserve: %w", err)
		}
		if !ok {
			return ErrAlreadyTaken
		}
		if err := s.reserves.SetPaymentWindow(ctx, id, deadline); err != nil {
			return fmt.Errorf("record payment window: %w", err)
		}
		r.PatientID = &patientID
		r.PaymentExpiresAt = &deadline
		res, claimed = r, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if claimed {
		s.armWindowRelease(ctx, res, deadline)
		s.announce(ctx, EventClaimed, res, false)
	}
	res.IsExpired = res.ReserveDatetime.Before(now)
	return res, nil
}

// AttachPayment records the provider authority for a claimed reserve and
// restarts its payment window.
func (s *Service) AttachPayment(ctx context.Context, id uuid.UUID, authority string) (*Reserve, error) {
	r, err := s.reserves.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	deadline := s.now().Add(s.paymentWindow)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if authority != "" {
			if err := s.reserves.SetAuthority(ctx, id, authority); err != nil {
				return fmt.Errorf("store authority: %w", err)
			}
		}
		if err := s.reserves.SetPaymentWindow(ctx, id, deadline); err != nil {
			return fmt.Errorf("record payment window: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if authority != "" {
		r.PaymentAuthority = authority
	}
	r.PaymentExpiresAt = &deadline
	s.armWindowRelease(ctx, r, deadline)
	return r, nil
}

// armWindowRelease schedules a release at the payment deadline. Failures are
// logged; the sweeper still honors the recorded deadline.
func (s *Service) armWindowRelease(ctx context.Context, r *Reserve, deadline time.Time) {
	log := s.logger.With().Str("reserve_id", r.ID.String()).Logger()
	jobID, err := s.scheduler.Schedule(ctx, ReleaseJobName,
		ReleaseArgs{ReserveID: r.ID, ClearPayment: true}, deadline)
	if err != nil {
		log.Error().Err(err).Msg("arm payment window release")
		return
	}
	if err := s.reserves.SetReleaseJob(ctx, r.ID, jobID); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("record payment window release")
		return
	}
	r.ReleaseJobID = jobID
}

// ReleaseSlot frees a claimed reserve and clears its payment state. Paid
// reserves are never released.
func (s *Service) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	r, err := s.reserves.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if r.IsPaid() {
		return ErrPaidRelease
	}
	if r.IsFree() {
		return nil
	}
	released, err := s.reserves.Release(ctx, id, ReleaseGuard{Holder: *r.PatientID, ClearPayment: true})
	if err != nil {
		return fmt.Errorf("release reserve: %w", err)
	}
	if released {
		s.announce(ctx, EventReleased, r, true)
	}
	return nil
}

// CancelClaim lets a patient give up an unpaid claim.
func (s *Service) CancelClaim(ctx context.Context, id, patientID uuid.UUID) error {
	r, err := s.reserves.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !r.HeldBy(patientID) {
		return ErrReserveNotFound
	}
	return s.ReleaseSlot(ctx, id)
}

// SweepStale releases unpaid claims whose slot time or payment deadline has
// passed. It backs up the scheduled releases.
func (s *Service) SweepStale(ctx context.Context, now time.Time) (int, error) {
	return s.reserves.ReleaseStale(ctx, now)
}

// -- Settlement, used by the payment workflow --

func (s *Service) GetReserve(ctx context.Context, id uuid.UUID) (*Reserve, error) {
	return s.reserves.GetByID(ctx, id)
}

func (s *Service) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	d, err := s.reserves.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	d.IsExpired = d.ReserveDatetime.Before(s.now())
	return d, nil
}

func (s *Service) FindByAuthority(ctx context.Context, authority string) (*Reserve, error) {
	return s.reserves.GetByAuthority(ctx, authority)
}

// Settle marks the reserve paid. It reports false when the reserve was not
// awaiting payment, which leaves any earlier ref id untouched.
func (s *Service) Settle(ctx context.Context, id uuid.UUID, refID string) (bool, error) {
	settled, err := s.reserves.MarkPaid(ctx, id, refID)
	if err != nil || !settled {
		return settled, err
	}
	if r, err := s.reserves.GetByID(ctx, id); err == nil {
		s.announce(ctx, EventPaid, r, false)
	}
	return true, nil
}

// -- Listings --

func (s *Service) list(ctx context.Context, f Filter, limit, offset int) ([]*Detail, int, error) {
	items, total, err := s.reserves.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, it := range items {
		it.IsExpired = it.ReserveDatetime.Before(now)
	}
	return items, total, nil
}

func (s *Service) ListDoctorReserves(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	return s.list(ctx, Filter{DoctorID: &doctorID}, limit, offset)
}

// ListFreeReserves lists a doctor's bookable future reserves.
func (s *Service) ListFreeReserves(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	now := s.now()
	return s.list(ctx, Filter{DoctorID: &doctorID, FreeFrom: &now}, limit, offset)
}

func (s *Service) ListPatientReserves(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Detail, int, error) {
	return s.list(ctx, Filter{PatientID: &patientID}, limit, offset)
}

func (s *Service) GetPatientReserve(ctx context.Context, patientID, id uuid.UUID) (*Detail, error) {
	d, err := s.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.HeldBy(patientID) {
		return nil, ErrReserveNotFound
	}
	return d, nil
}

func (s *Service) GetDoctorReserve(ctx context.Context, doctorID, id uuid.UUID) (*Detail, error) {
	d, err := s.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.DoctorID != doctorID {
		return nil, ErrReserveNotFound
	}
	return d, nil
}

// DeleteFreeReserve removes one of the doctor's reserves that no patient
// holds.
func (s *Service) DeleteFreeReserve(ctx context.Context, doctorID, id uuid.UUID) error {
	r, err := s.reserves.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if r.DoctorID != doctorID {
		return ErrReserveNotFound
	}
	if !r.IsFree() {
		return ErrNotFree
	}
	ok, err := s.reserves.DeleteFree(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFree
	}
	s.announce(ctx, EventDeleted, r, false)
	return nil
}

// IsNotFound reports whether err means the reserve does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrReserveNotFound)
}
