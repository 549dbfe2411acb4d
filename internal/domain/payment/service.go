// Package payment drives a claimed reserve through the gateway: it opens a
// payment for the reserve price and settles the reserve when the gateway
// calls back.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/reservation"
	"github.com/medbook/medbook/internal/platform/apperr"
	gateway "github.com/medbook/medbook/internal/platform/payment"
)

// CallbackStatusOK is the Status query value the gateway sends when the
// payer completed the payment page.
const CallbackStatusOK = "OK"

var (
	ErrTakenByOther = apperr.Conflict("TAKEN_BY_OTHER", "This reserve has been taken by another patient.")
	ErrProvider     = apperr.New(apperr.KindExternal, "PAYMENT_PROVIDER_ERROR",
		"The payment provider did not accept the request, please try again.")
)

// Provider is the payment gateway.
type Provider interface {
	Request(ctx context.Context, amount int64, description, callbackURL string) (gateway.RequestResult, error)
	Verify(ctx context.Context, amount int64, authority string) (gateway.VerifyResult, error)
	PageURL(authority string) string
}

// Reserves is the slice of the reservation service the workflow needs.
type Reserves interface {
	ValidateClaim(ctx context.Context, id, patientID uuid.UUID) (*reservation.Reserve, error)
	ClaimSlot(ctx context.Context, id, patientID uuid.UUID) (*reservation.Reserve, error)
	AttachPayment(ctx context.Context, id uuid.UUID, authority string) (*reservation.Reserve, error)
	FindByAuthority(ctx context.Context, authority string) (*reservation.Reserve, error)
	GetReserve(ctx context.Context, id uuid.UUID) (*reservation.Reserve, error)
	GetDetail(ctx context.Context, id uuid.UUID) (*reservation.Detail, error)
	Settle(ctx context.Context, id uuid.UUID, refID string) (bool, error)
}

// Notifier tells the patient their reserve is paid.
type Notifier interface {
	SendReservePaid(ctx context.Context, phone, doctor, datetime, refID string) error
}

// Initiation is returned to the patient, who continues at PaymentURL.
type Initiation struct {
	PaymentURL string               `json:"payment_url"`
	Authority  string               `json:"authority"`
	Reserve    *reservation.Reserve `json:"reserve"`
}

// CallbackResult is the outcome of a gateway callback.
type CallbackResult struct {
	Paid    bool                 `json:"paid"`
	RefID   string               `json:"ref_id,omitempty"`
	Detail  string               `json:"detail"`
	Reserve *reservation.Reserve `json:"reserve"`
}

const (
	msgPaid   = "Payment was successful."
	msgFailed = "Payment was not successful."
)

type Service struct {
	reserves    Reserves
	provider    Provider
	notifier    Notifier
	callbackURL string
	loc         *time.Location
	logger      zerolog.Logger
}

func NewService(reserves Reserves, provider Provider, notifier Notifier, callbackURL string, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		reserves:    reserves,
		provider:    provider,
		notifier:    notifier,
		callbackURL: callbackURL,
		loc:         loc,
		logger:      logger,
	}
}

func translateClaimError(err error) error {
	if errors.Is(err, reservation.ErrAlreadyTaken) {
		return ErrTakenByOther
	}
	return err
}

// InitiatePayment claims the reserve for patientID and opens a payment for
// its price. The authority is stored whenever the gateway returns one, so a
// failed request still leaves the reserve claimed and unpaid.
func (s *Service) InitiatePayment(ctx context.Context, reserveID, patientID uuid.UUID) (*Initiation, error) {
	if _, err := s.reserves.ValidateClaim(ctx, reserveID, patientID); err != nil {
		return nil, translateClaimError(err)
	}
	r, err := s.reserves.ClaimSlot(ctx, reserveID, patientID)
	if err != nil {
		return nil, translateClaimError(err)
	}

	description := fmt.Sprintf("Reserve %s at %s", r.ID, r.ReserveDatetime.In(s.loc).Format("2006-01-02 15:04"))
	res, reqErr := s.provider.Request(ctx, r.Price, description, s.callbackURL)
	if res.Authority != "" {
		r, err = s.reserves.AttachPayment(ctx, r.ID, res.Authority)
		if err != nil {
			return nil, err
		}
	}
	if reqErr == nil && res.Authority == "" {
		reqErr = errors.New("payment request: empty authority")
	}
	if reqErr != nil {
		s.logger.Error().Err(reqErr).
			Str("reserve_id", reserveID.String()).
			Int("gateway_status", res.Status).
			Msg("payment request failed")
		return nil, apperr.Wrap(reqErr, ErrProvider.Kind, ErrProvider.Code, ErrProvider.Message)
	}

	return &Initiation{
		PaymentURL: s.provider.PageURL(res.Authority),
		Authority:  res.Authority,
		Reserve:    r,
	}, nil
}

// HandleCallback verifies the payment identified by authority and settles
// the reserve. Gateway failures yield an unpaid result rather than an error.
func (s *Service) HandleCallback(ctx context.Context, authority, status string) (*CallbackResult, error) {
	r, err := s.reserves.FindByAuthority(ctx, authority)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("reserve_id", r.ID.String()).Str("authority", authority).Logger()
	failed := &CallbackResult{Detail: msgFailed, Reserve: r}

	if status != CallbackStatusOK {
		log.Info().Str("status", status).Msg("payment cancelled by payer")
		return failed, nil
	}

	res, err := s.provider.Verify(ctx, r.Price, authority)
	if err != nil {
		log.Error().Err(err).Msg("payment verification failed")
		return failed, nil
	}

	switch res.Status {
	case gateway.StatusOK:
		settled, err := s.reserves.Settle(ctx, r.ID, res.RefID)
		if err != nil {
			return nil, fmt.Errorf("settle reserve: %w", err)
		}
		if r, err = s.reserves.GetReserve(ctx, r.ID); err != nil {
			return nil, err
		}
		if !r.IsPaid() {
			log.Error().Str("ref_id", res.RefID).Msg("payment captured for a reserve that is no longer claimed")
			failed.Reserve = r
			return failed, nil
		}
		if settled {
			s.notifyPaid(ctx, r.ID, res.RefID)
		}
		return &CallbackResult{Paid: true, RefID: r.PaymentRefID, Detail: msgPaid, Reserve: r}, nil

	case gateway.StatusAlreadyVerified:
		refID := r.PaymentRefID
		if refID == "" {
			refID = res.RefID
		}
		return &CallbackResult{Paid: true, RefID: refID, Detail: msgPaid, Reserve: r}, nil

	default:
		log.Warn().Int("gateway_status", res.Status).Msg("payment not verified")
		return failed, nil
	}
}

func (s *Service) notifyPaid(ctx context.Context, reserveID uuid.UUID, refID string) {
	if s.notifier == nil {
		return
	}
	d, err := s.reserves.GetDetail(ctx, reserveID)
	if err != nil {
		s.logger.Error().Err(err).Str("reserve_id", reserveID.String()).Msg("load reserve for receipt")
		return
	}
	if d.PatientPhone == "" {
		return
	}
	when := d.ReserveDatetime.In(s.loc).Format("2006-01-02 15:04")
	if err := s.notifier.SendReservePaid(ctx, d.PatientPhone, d.DoctorName, when, refID); err != nil {
		s.logger.Error().Err(err).Str("reserve_id", reserveID.String()).Msg("send payment receipt")
	}
}
