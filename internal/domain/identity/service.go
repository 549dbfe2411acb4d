package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/validate"
)

const (
	DefaultOTPTTL = 120 * time.Second
	otpDigits     = 4
)

var (
	ErrInvalidOTP = apperr.New(apperr.KindExpired, "INVALID_OR_EXPIRED_OTP",
		"Your one-time password is incorrect or has expired!")
	ErrInvalidCredentials = apperr.Unauthenticated("INVALID_CREDENTIALS",
		"No active account found with the given credentials.")
	ErrNotStaff = apperr.PermissionDenied("AUTHENTICATION_DENIED",
		"You do not have permission to log in to the admin panel.")
	ErrInactiveAccount = apperr.PermissionDenied("ACCOUNT_INACTIVE", "This account is inactive.")
	ErrInvalidToken    = apperr.Unauthenticated("INVALID_TOKEN", "Token is invalid or expired.")
	ErrInvalidPhone    = apperr.Validation("The phone number must be in the format 09XXXXXXXXX.")
	ErrDuplicatePhone  = apperr.Conflict("DUPLICATE_PHONE", "An account with this phone number already exists.")
)

// Throttle limits how often a key may act within a window.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// CodeSender delivers a one-time password out of band.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

type Service struct {
	accounts AccountRepository
	patients PatientRepository
	otps     OTPRepository
	tx       db.Transactor
	throttle Throttle
	sender   CodeSender
	tokens   *auth.Issuer
	logger   zerolog.Logger

	otpTTL  time.Duration
	now     func() time.Time
	newCode func() (string, error)
}

type Option func(*Service)

// WithOTPTTL overrides the lifetime of one-time passwords.
func WithOTPTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.otpTTL = ttl
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(accounts AccountRepository, patients PatientRepository, otps OTPRepository,
	tx db.Transactor, throttle Throttle, sender CodeSender, tokens *auth.Issuer, opts ...Option) *Service {
	s := &Service{
		accounts: accounts,
		patients: patients,
		otps:     otps,
		tx:       tx,
		throttle: throttle,
		sender:   sender,
		tokens:   tokens,
		logger:   zerolog.Nop(),
		otpTTL:   DefaultOTPTTL,
		now:      time.Now,
		newCode:  randomCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// randomCode returns a zero padded 4 digit code from crypto/rand.
func randomCode() (string, error) {
	limit := big.NewInt(int64(math.Pow10(otpDigits)))
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}

// -- OTP gate --

type OTPRequest struct {
	Phone string `json:"phone" validate:"required"`
}

type OTPRequested struct {
	RequestID uuid.UUID `json:"request_id"`
}

// RequestOTP issues a code for phone and hands it to the CodeSender. Only the
// opaque request id is returned to the caller.
func (s *Service) RequestOTP(ctx context.Context, phone string) (*OTPRequested, error) {
	phone = strings.TrimSpace(phone)
	if !validate.IsPhone(phone) {
		return nil, ErrInvalidPhone
	}

	if s.throttle != nil {
		ok, retry, err := s.throttle.Allow(ctx, phone)
		if err != nil {
			return nil, fmt.Errorf("otp throttle: %w", err)
		}
		if !ok {
			secs := int(math.Ceil(retry.Seconds()))
			return nil, apperr.RateLimited(
				fmt.Sprintf("Request was throttled. Expected available in %d seconds.", secs), secs)
		}
	}

	code, err := s.newCode()
	if err != nil {
		return nil, err
	}
	now := s.now()
	otp := &OneTimePassword{
		Phone:     phone,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.otpTTL),
	}
	if err := s.otps.Create(ctx, otp); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	if s.sender != nil {
		if err := s.sender.SendCode(ctx, phone, code); err != nil {
			s.logger.Warn().Err(err).Str("otp_id", otp.ID.String()).Msg("otp delivery failed")
		}
	}
	return &OTPRequested{RequestID: otp.ID}, nil
}

type VerifyRequest struct {
	RequestID uuid.UUID `json:"request_id" validate:"required"`
	Phone     string    `json:"phone" validate:"required"`
	Code      string    `json:"code" validate:"required"`
}

type LoginResult struct {
	auth.TokenPair
	AccountID uuid.UUID `json:"account_id"`
	Phone     string    `json:"phone"`
}

// VerifyOTP consumes a matching unexpired code, finds or creates the account
// for its phone and issues a token pair. A wrong code and an expired one fail
// identically.
func (s *Service) VerifyOTP(ctx context.Context, req VerifyRequest) (*LoginResult, error) {
	acct, err := s.consumeOTP(ctx, req)
	if errors.Is(err, ErrDuplicatePhone) {
		// A concurrent verification created the account first. The failed
		// transaction rolled back, so the code is still unused and the
		// second pass finds the committed account.
		acct, err = s.consumeOTP(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return s.login(ctx, acct)
}

// consumeOTP validates and deletes the code, creating the phone's account on
// first login.
func (s *Service) consumeOTP(ctx context.Context, req VerifyRequest) (*Account, error) {
	now := s.now()
	var acct *Account

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		otp, err := s.otps.FindValid(ctx, req.RequestID, req.Phone, req.Code, now)
		if err != nil {
			if errors.Is(err, ErrOTPNotFound) {
				return ErrInvalidOTP
			}
			return fmt.Errorf("find otp: %w", err)
		}

		acct, err = s.accounts.GetByPhone(ctx, otp.Phone)
		switch {
		case errors.Is(err, ErrAccountNotFound):
			acct = &Account{Phone: otp.Phone, IsActive: true}
			if err := s.createAccount(ctx, acct); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("find account: %w", err)
		}

		if !acct.IsActive {
			return ErrInactiveAccount
		}
		if err := s.otps.Delete(ctx, otp.ID); err != nil {
			return fmt.Errorf("consume otp: %w", err)
		}
		return s.accounts.TouchLastLogin(ctx, acct.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

type AdminLoginRequest struct {
	Phone    string `json:"phone" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AdminLogin authenticates staff with a password.
func (s *Service) AdminLogin(ctx context.Context, req AdminLoginRequest) (*LoginResult, error) {
	acct, err := s.accounts.GetByPhone(ctx, req.Phone)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !acct.IsActive || !acct.HasUsablePassword() {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*acct.PasswordHash), []byte(req.Password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !acct.IsStaff && !acct.IsSuperuser {
		return nil, ErrNotStaff
	}
	if err := s.accounts.TouchLastLogin(ctx, acct.ID, s.now()); err != nil {
		return nil, err
	}
	return s.login(ctx, acct)
}

type RefreshRequest struct {
	Refresh string `json:"refresh" validate:"required"`
}

type RefreshResult struct {
	Access string `json:"access"`
}

// RefreshToken issues a fresh access token. Roles are recomputed from
// storage so a doctor accepted after login picks up the doctor role.
func (s *Service) RefreshToken(ctx context.Context, refresh string) (*RefreshResult, error) {
	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		return nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !acct.IsActive {
		return nil, ErrInactiveAccount
	}
	ident, err := s.identityOf(ctx, acct)
	if err != nil {
		return nil, err
	}
	access, err := s.tokens.IssueAccess(*ident)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{Access: access}, nil
}

func (s *Service) login(ctx context.Context, acct *Account) (*LoginResult, error) {
	ident, err := s.identityOf(ctx, acct)
	if err != nil {
		return nil, err
	}
	pair, err := s.tokens.IssuePair(*ident)
	if err != nil {
		return nil, err
	}
	return &LoginResult{TokenPair: *pair, AccountID: acct.ID, Phone: acct.Phone}, nil
}

// identityOf derives the roles and profile ids carried in tokens.
func (s *Service) identityOf(ctx context.Context, acct *Account) (*auth.Identity, error) {
	ident := &auth.Identity{
		AccountID: acct.ID,
		Phone:     acct.Phone,
		Roles:     []string{auth.RolePatient},
	}
	p, err := s.patients.GetByAccountID(ctx, acct.ID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if p != nil {
		ident.PatientID = &p.ID
	}
	doctorID, err := s.accounts.AcceptedDoctorID(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if doctorID != nil {
		ident.DoctorID = doctorID
		ident.Roles = append(ident.Roles, auth.RoleDoctor)
	}
	if acct.IsStaff || acct.IsSuperuser {
		ident.Roles = append(ident.Roles, auth.RoleAdmin)
	}
	return ident, nil
}

// PurgeExpiredOTPs removes codes that expired before now.
func (s *Service) PurgeExpiredOTPs(ctx context.Context, now time.Time) (int, error) {
	return s.otps.DeleteExpired(ctx, now)
}

// -- Accounts --

type CreateAccountRequest struct {
	Phone       string  `json:"phone" validate:"required"`
	Password    *string `json:"password,omitempty" validate:"omitempty,min=8"`
	IsStaff     bool    `json:"is_staff"`
	IsSuperuser bool    `json:"is_superuser"`
}

// CreateAccount creates an account together with its patient in one
// transaction. Staff accounts need a usable password.
func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	if !validate.IsPhone(req.Phone) {
		return nil, ErrInvalidPhone
	}
	acct := &Account{
		Phone:       req.Phone,
		IsActive:    true,
		IsStaff:     req.IsStaff || req.IsSuperuser,
		IsSuperuser: req.IsSuperuser,
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		acct.PasswordHash = &hash
	}
	if (acct.IsStaff || acct.IsSuperuser) && !acct.HasUsablePassword() {
		return nil, apperr.Validation("Staff accounts must have a password.")
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.createAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *Service) createAccount(ctx context.Context, acct *Account) error {
	if err := s.accounts.Create(ctx, acct); err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicatePhone
		}
		return fmt.Errorf("create account: %w", err)
	}
	if err := s.patients.Create(ctx, &Patient{AccountID: acct.ID, Phone: acct.Phone}); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context, f AccountFilter, limit, offset int) ([]*Account, int, error) {
	return s.accounts.List(ctx, f, limit, offset)
}

type UpdateAccountRequest struct {
	Phone       *string `json:"phone,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	IsStaff     *bool   `json:"is_staff,omitempty"`
	IsSuperuser *bool   `json:"is_superuser,omitempty"`
}

func (s *Service) UpdateAccount(ctx context.Context, id uuid.UUID, req UpdateAccountRequest) (*Account, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Phone != nil {
		if !validate.IsPhone(*req.Phone) {
			return nil, ErrInvalidPhone
		}
		acct.Phone = *req.Phone
	}
	if req.IsActive != nil {
		acct.IsActive = *req.IsActive
	}
	if req.IsStaff != nil {
		acct.IsStaff = *req.IsStaff
	}
	if req.IsSuperuser != nil {
		acct.IsSuperuser = *req.IsSuperuser
	}
	if (acct.IsStaff || acct.IsSuperuser) && !acct.HasUsablePassword() {
		return nil, apperr.Validation("Staff accounts must have a password.")
	}
	if err := s.accounts.Update(ctx, acct); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicatePhone
		}
		return nil, err
	}
	return acct, nil
}

// SetPassword sets or, with an empty password, clears the account password.
// Clearing is refused for staff.
func (s *Service) SetPassword(ctx context.Context, id uuid.UUID, password string) error {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if password == "" {
		if acct.IsStaff || acct.IsSuperuser {
			return apperr.Validation("Staff accounts must have a password.")
		}
		return s.accounts.SetPassword(ctx, id, nil)
	}
	if len(password) < 8 {
		return apperr.Validation("password must be at least 8 characters")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return s.accounts.SetPassword(ctx, id, &hash)
}

// DeleteAccount removes an account with its patient and doctor profiles.
// It is refused while reserves reference them.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	has, err := s.accounts.HasReserves(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return apperr.Conflict("ACCOUNT_HAS_RESERVES",
			"This account cannot be deleted because it is referenced by reserves.")
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return apperr.Conflict("ACCOUNT_HAS_RESERVES",
				"This account cannot be deleted because it is referenced by reserves.")
		}
		return err
	}
	return nil
}

// -- Patients --

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) GetMyProfile(ctx context.Context, accountID uuid.UUID) (*Patient, error) {
	return s.patients.GetByAccountID(ctx, accountID)
}

type ProfileRequest struct {
	FirstName         string     `json:"first_name" validate:"required,max=255"`
	LastName          string     `json:"last_name" validate:"required,max=255"`
	BirthDate         *Date      `json:"birth_date" validate:"required"`
	NationalCode      string     `json:"national_code" validate:"national_code"`
	Email             string     `json:"email" validate:"omitempty,email"`
	Gender            string     `json:"gender" validate:"required"`
	InsuranceID       *uuid.UUID `json:"insurance_id,omitempty"`
	CaseHistory       string     `json:"case_history"`
	IsForeignNational bool       `json:"is_foreign_national"`
	ProvinceID        *uuid.UUID `json:"province_id" validate:"required"`
	CityID            *uuid.UUID `json:"city_id" validate:"required"`
}

// UpdateMyProfile replaces the caller's personal information.
func (s *Service) UpdateMyProfile(ctx context.Context, accountID uuid.UUID, req ProfileRequest) (*Patient, error) {
	p, err := s.patients.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if req.Gender != GenderMale && req.Gender != GenderFemale {
		return nil, apperr.Validation("Please choose your gender.")
	}
	if req.BirthDate == nil {
		return nil, apperr.Validation("birth_date is required")
	}
	today := s.now().Format(DateLayout)
	if req.BirthDate.String() > today {
		return nil, apperr.Validation(fmt.Sprintf(
			"The date of birth entered is incorrect, today's date is %s.", today))
	}
	if !req.IsForeignNational && req.NationalCode == "" {
		return nil, apperr.Validation("national_code is required")
	}
	if req.NationalCode != "" && !validate.IsNationalCode(req.NationalCode) {
		return nil, apperr.Validation("The national code must be 10 digits and must not start with 0.")
	}

	p.FirstName = strings.TrimSpace(req.FirstName)
	p.LastName = strings.TrimSpace(req.LastName)
	birth := req.BirthDate.Time()
	p.BirthDate = &birth
	p.NationalCode = req.NationalCode
	p.Email = req.Email
	p.Gender = req.Gender
	p.InsuranceID = req.InsuranceID
	p.CaseHistory = req.CaseHistory
	p.IsForeignNational = req.IsForeignNational
	p.ProvinceID = req.ProvinceID
	p.CityID = req.CityID

	if err := s.patients.Update(ctx, p); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("DUPLICATE_NATIONAL_CODE",
				"This national code has already been registered for a patient.")
		}
		if db.IsForeignKeyViolation(err) {
			return nil, apperr.Validation("Unknown insurance, province or city.")
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPatients(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, f, limit, offset)
}
