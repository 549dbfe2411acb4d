package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/reservation"
	"github.com/medbook/medbook/internal/platform/apperr"
	gateway "github.com/medbook/medbook/internal/platform/payment"
)

// -- Fakes --

type fakeReserves struct {
	mu       sync.Mutex
	reserves map[uuid.UUID]*reservation.Reserve
	now      time.Time
	settles  int
}

func newFakeReserves() *fakeReserves {
	return &fakeReserves{
		reserves: make(map[uuid.UUID]*reservation.Reserve),
		now:      time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (f *fakeReserves) add(r *reservation.Reserve) *reservation.Reserve {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = uuid.New()
	if r.Status == "" {
		r.Status = reservation.StatusUnpaid
	}
	cp := *r
	f.reserves[r.ID] = &cp
	return r
}

func (f *fakeReserves) get(id uuid.UUID) (*reservation.Reserve, error) {
	r, ok := f.reserves[id]
	if !ok {
		return nil, reservation.ErrReserveNotFound
	}
	return r, nil
}

func (f *fakeReserves) ValidateClaim(_ context.Context, id, patientID uuid.UUID) (*reservation.Reserve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.get(id)
	if err != nil {
		return nil, err
	}
	switch {
	case r.ReserveDatetime.Before(f.now):
		return nil, reservation.ErrReserveExpired
	case r.PatientID != nil && *r.PatientID != patientID:
		return nil, reservation.ErrAlreadyTaken
	case r.HeldBy(patientID) && r.IsPaid():
		return nil, reservation.ErrAlreadyPaid
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReserves) ClaimSlot(_ context.Context, id, patientID uuid.UUID) (*reservation.Reserve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.get(id)
	if err != nil {
		return nil, err
	}
	if r.PatientID != nil && *r.PatientID != patientID {
		return nil, reservation.ErrAlreadyTaken
	}
	p := patientID
	r.PatientID = &p
	cp := *r
	return &cp, nil
}

func (f *fakeReserves) AttachPayment(_ context.Context, id uuid.UUID, authority string) (*reservation.Reserve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.get(id)
	if err != nil {
		return nil, err
	}
	r.PaymentAuthority = authority
	deadline := f.now.Add(reservation.DefaultPaymentWindow)
	r.PaymentExpiresAt = &deadline
	cp := *r
	return &cp, nil
}

func (f *fakeReserves) FindByAuthority(_ context.Context, authority string) (*reservation.Reserve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reserves {
		if r.PaymentAuthority == authority {
			cp := *r
			return &cp, nil
		}
	}
	return nil, reservation.ErrReserveNotFound
}

func (f *fakeReserves) GetReserve(_ context.Context, id uuid.UUID) (*reservation.Reserve, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.get(id)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReserves) GetDetail(_ context.Context, id uuid.UUID) (*reservation.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return &reservation.Detail{Reserve: *r, DoctorName: "Sara Ahmadi", PatientPhone: "09123456789"}, nil
}

func (f *fakeReserves) Settle(_ context.Context, id uuid.UUID, refID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, err := f.get(id)
	if err != nil {
		return false, err
	}
	if r.Status != reservation.StatusUnpaid || r.PatientID == nil {
		return false, nil
	}
	f.settles++
	r.Status = reservation.StatusPaid
	r.PaymentRefID = refID
	return true, nil
}

type fakeProvider struct {
	request    gateway.RequestResult
	requestErr error
	verify     gateway.VerifyResult
	verifyErr  error

	lastAmount int64
	verifies   int
}

func (p *fakeProvider) Request(_ context.Context, amount int64, _, _ string) (gateway.RequestResult, error) {
	p.lastAmount = amount
	return p.request, p.requestErr
}

func (p *fakeProvider) Verify(_ context.Context, _ int64, _ string) (gateway.VerifyResult, error) {
	p.verifies++
	return p.verify, p.verifyErr
}

func (p *fakeProvider) PageURL(authority string) string {
	return "https://sandbox.zarinpal.com/pg/StartPay/" + authority
}

type paidCall struct {
	phone, doctor, datetime, refID string
}

type recordingNotifier struct {
	calls []paidCall
}

func (n *recordingNotifier) SendReservePaid(_ context.Context, phone, doctor, datetime, refID string) error {
	n.calls = append(n.calls, paidCall{phone, doctor, datetime, refID})
	return nil
}

const testAuthority = "A00000000000000000000000000000123456"

type fixture struct {
	svc      *Service
	reserves *fakeReserves
	provider *fakeProvider
	notifier *recordingNotifier
}

func newFixture() *fixture {
	reserves := newFakeReserves()
	provider := &fakeProvider{
		request: gateway.RequestResult{Status: gateway.StatusOK, Authority: testAuthority},
		verify:  gateway.VerifyResult{Status: gateway.StatusOK, RefID: "12345678"},
	}
	notifier := &recordingNotifier{}
	svc := NewService(reserves, provider, notifier, "http://localhost:8000/api/v1/payments/callback", time.UTC, zerolog.Nop())
	return &fixture{svc: svc, reserves: reserves, provider: provider, notifier: notifier}
}

func (f *fixture) freeReserve() *reservation.Reserve {
	return f.reserves.add(&reservation.Reserve{
		DoctorID:        uuid.New(),
		Price:           150000,
		ReserveDatetime: f.reserves.now.Add(24 * time.Hour),
	})
}

// -- InitiatePayment --

func TestInitiatePayment(t *testing.T) {
	f := newFixture()
	r := f.freeReserve()
	patientID := uuid.New()

	res, err := f.svc.InitiatePayment(context.Background(), r.ID, patientID)
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	if res.PaymentURL != "https://sandbox.zarinpal.com/pg/StartPay/"+testAuthority {
		t.Errorf("unexpected payment url %q", res.PaymentURL)
	}
	if f.provider.lastAmount != 150000 {
		t.Errorf("expected amount 150000, got %d", f.provider.lastAmount)
	}
	if !res.Reserve.HeldBy(patientID) || res.Reserve.PaymentExpiresAt == nil {
		t.Errorf("expected claimed reserve with deadline, got %+v", res.Reserve)
	}
}

func TestInitiatePayment_Rules(t *testing.T) {
	f := newFixture()
	patientID := uuid.New()
	other := uuid.New()

	expired := f.reserves.add(&reservation.Reserve{Price: 1, ReserveDatetime: f.reserves.now.Add(-time.Hour)})
	taken := f.reserves.add(&reservation.Reserve{Price: 1, PatientID: &other, ReserveDatetime: f.reserves.now.Add(time.Hour)})
	paid := f.reserves.add(&reservation.Reserve{Price: 1, PatientID: &patientID, Status: reservation.StatusPaid,
		ReserveDatetime: f.reserves.now.Add(time.Hour)})

	tests := []struct {
		name string
		id   uuid.UUID
		want error
	}{
		{"missing", uuid.New(), reservation.ErrReserveNotFound},
		{"expired", expired.ID, reservation.ErrReserveExpired},
		{"taken", taken.ID, ErrTakenByOther},
		{"paid", paid.ID, reservation.ErrAlreadyPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.InitiatePayment(context.Background(), tt.id, patientID)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInitiatePayment_ProviderError(t *testing.T) {
	f := newFixture()
	f.provider.request = gateway.RequestResult{Status: -9, Authority: testAuthority}
	f.provider.requestErr = gateway.ErrRejected
	r := f.freeReserve()
	patientID := uuid.New()

	_, err := f.svc.InitiatePayment(context.Background(), r.ID, patientID)
	if apperr.KindOf(err) != apperr.KindExternal || apperr.CodeOf(err) != "PAYMENT_PROVIDER_ERROR" {
		t.Fatalf("expected provider error, got %v", err)
	}
	got, _ := f.reserves.GetReserve(context.Background(), r.ID)
	if !got.HeldBy(patientID) || got.IsPaid() {
		t.Error("expected reserve to stay claimed and unpaid")
	}
	if got.PaymentAuthority != testAuthority {
		t.Errorf("expected returned authority to be stored, got %q", got.PaymentAuthority)
	}
}

func TestInitiatePayment_EmptyAuthority(t *testing.T) {
	f := newFixture()
	f.provider.request = gateway.RequestResult{Status: gateway.StatusOK}
	r := f.freeReserve()

	_, err := f.svc.InitiatePayment(context.Background(), r.ID, uuid.New())
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

// -- HandleCallback --

func claimedWithAuthority(t *testing.T, f *fixture) *reservation.Reserve {
	t.Helper()
	r := f.freeReserve()
	if _, err := f.svc.InitiatePayment(context.Background(), r.ID, uuid.New()); err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}
	return r
}

func TestHandleCallback_Paid(t *testing.T) {
	f := newFixture()
	r := claimedWithAuthority(t, f)

	res, err := f.svc.HandleCallback(context.Background(), testAuthority, CallbackStatusOK)
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if !res.Paid || res.RefID != "12345678" {
		t.Errorf("expected paid with ref id, got %+v", res)
	}
	got, _ := f.reserves.GetReserve(context.Background(), r.ID)
	if !got.IsPaid() {
		t.Error("expected reserve to be paid")
	}
	if len(f.notifier.calls) != 1 || f.notifier.calls[0].refID != "12345678" {
		t.Errorf("expected one receipt, got %+v", f.notifier.calls)
	}
}

func TestHandleCallback_Replay(t *testing.T) {
	f := newFixture()
	claimedWithAuthority(t, f)

	if _, err := f.svc.HandleCallback(context.Background(), testAuthority, CallbackStatusOK); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	f.provider.verify = gateway.VerifyResult{Status: gateway.StatusAlreadyVerified, RefID: "99999999"}
	res, err := f.svc.HandleCallback(context.Background(), testAuthority, CallbackStatusOK)
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if !res.Paid || res.RefID != "12345678" {
		t.Errorf("expected original ref id, got %+v", res)
	}
	if f.reserves.settles != 1 || len(f.notifier.calls) != 1 {
		t.Errorf("expected a single settlement, got %d settles and %d receipts", f.reserves.settles, len(f.notifier.calls))
	}
}

func TestHandleCallback_Cancelled(t *testing.T) {
	f := newFixture()
	r := claimedWithAuthority(t, f)

	res, err := f.svc.HandleCallback(context.Background(), testAuthority, "NOK")
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if res.Paid {
		t.Error("expected unpaid result")
	}
	if f.provider.verifies != 0 {
		t.Error("expected no verification call")
	}
	got, _ := f.reserves.GetReserve(context.Background(), r.ID)
	if got.IsPaid() || got.IsFree() {
		t.Error("expected reserve to stay claimed and unpaid")
	}
}

func TestHandleCallback_VerifyFailures(t *testing.T) {
	for name, setup := range map[string]func(p *fakeProvider){
		"rejected":  func(p *fakeProvider) { p.verify = gateway.VerifyResult{Status: -21} },
		"transport": func(p *fakeProvider) { p.verifyErr = errors.New("connection reset") },
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			r := claimedWithAuthority(t, f)
			setup(f.provider)

			res, err := f.svc.HandleCallback(context.Background(), testAuthority, CallbackStatusOK)
			if err != nil {
				t.Fatalf("HandleCallback: %v", err)
			}
			if res.Paid {
				t.Error("expected unpaid result")
			}
			if got, _ := f.reserves.GetReserve(context.Background(), r.ID); got.IsPaid() {
				t.Error("expected reserve to stay unpaid")
			}
		})
	}
}

func TestHandleCallback_UnknownAuthority(t *testing.T) {
	f := newFixture()
	_, err := f.svc.HandleCallback(context.Background(), "A-unknown", CallbackStatusOK)
	if !errors.Is(err, reservation.ErrReserveNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
