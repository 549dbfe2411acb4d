package doctor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/domain/review"
	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
)

const maxAlternatives = 5

var (
	ErrAlreadyApplied = apperr.Validation("You have already applied, your request is under review.")
	ErrNoSpecialty    = apperr.Validation("The doctor must have at least one specialty.")
	ErrInvalidGender  = apperr.Validation("Please choose your gender.")
	ErrHasReserves    = apperr.Conflict("DOCTOR_HAS_RESERVES",
		"This doctor cannot be deleted because it has reserves.")
)

type Service struct {
	doctors DoctorRepository
	tx      db.Transactor
	loc     *time.Location
	now     func() time.Time
}

// NewService builds the doctor service. loc is the zone used for the
// human readable free-reserve labels; nil means UTC.
func NewService(doctors DoctorRepository, tx db.Transactor, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{doctors: doctors, tx: tx, loc: loc, now: time.Now}
}

// IsAccepted reports whether id names an accepted doctor.
func (s *Service) IsAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return false, nil
		}
		return false, err
	}
	return d.Status == StatusAccepted, nil
}

// mapWriteError turns constraint violations on doctors into client errors.
func mapWriteError(err error) error {
	switch {
	case db.IsUniqueViolation(err):
		switch db.ConstraintName(err) {
		case "doctors_account_id_key":
			return apperr.Conflict("ALREADY_DOCTOR", "This account already has a doctor profile.")
		case "doctors_medical_council_number_key":
			return apperr.Conflict("DUPLICATE_COUNCIL_NUMBER",
				"A doctor with this medical council number already exists.")
		case "idx_doctors_national_code":
			return apperr.Conflict("DUPLICATE_NATIONAL_CODE", "A doctor with this national code already exists.")
		}
		return apperr.Conflict(string(apperr.KindConflict), "Doctor already exists.")
	case db.IsForeignKeyViolation(err):
		return apperr.Validation("A referenced province, city, specialty or insurance does not exist.")
	}
	return err
}

func checkGender(g string) error {
	if g != GenderMale && g != GenderFemale {
		return ErrInvalidGender
	}
	return nil
}

// setSpecialties replaces the doctor's specialties. Repeated ids are
// rejected rather than collapsed.
func (s *Service) setSpecialties(ctx context.Context, d *Doctor, ids []uuid.UUID, replace bool) error {
	if replace {
		if err := s.doctors.ClearSpecialties(ctx, d.ID); err != nil {
			return err
		}
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return apperr.Conflict("DUPLICATE_SPECIALTY",
				fmt.Sprintf("The doctor %s has already the specialty %s.", d.FullName(), id))
		}
		seen[id] = true
		if err := s.doctors.AddSpecialty(ctx, d.ID, id); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func (s *Service) setInsurances(ctx context.Context, d *Doctor, ids []uuid.UUID, replace bool) error {
	if replace {
		if err := s.doctors.ClearInsurances(ctx, d.ID); err != nil {
			return err
		}
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return apperr.Conflict("DUPLICATE_INSURANCE",
				fmt.Sprintf("The doctor %s has already covers %s insurance.", d.FullName(), id))
		}
		seen[id] = true
		if err := s.doctors.AddInsurance(ctx, d.ID, id); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

// -- Applications --

type ApplicationRequest struct {
	MedicalCouncilNumber string      `json:"medical_council_number" validate:"required,council_number"`
	FirstName            string      `json:"first_name" validate:"required,max=255"`
	LastName             string      `json:"last_name" validate:"required,max=255"`
	NationalCode         string      `json:"national_code" validate:"required,national_code"`
	Email                string      `json:"email" validate:"omitempty,email"`
	Gender               string      `json:"gender" validate:"required"`
	Specialties          []uuid.UUID `json:"specialties_list"`
}

// CreateDoctorApplication files a waiting doctor profile for the account.
func (s *Service) CreateDoctorApplication(ctx context.Context, accountID uuid.UUID, req ApplicationRequest) (*Doctor, error) {
	if err := checkGender(req.Gender); err != nil {
		return nil, err
	}
	if len(req.Specialties) == 0 {
		return nil, ErrNoSpecialty
	}

	existing, err := s.doctors.GetByAccountID(ctx, accountID)
	switch {
	case err == nil && existing.Status == StatusWaiting:
		return nil, ErrAlreadyApplied
	case err == nil:
		return nil, apperr.Conflict("ALREADY_DOCTOR", "This account already has a doctor profile.")
	case !errors.Is(err, ErrDoctorNotFound):
		return nil, err
	}

	d := &Doctor{
		AccountID:            accountID,
		FirstName:            strings.TrimSpace(req.FirstName),
		LastName:             strings.TrimSpace(req.LastName),
		NationalCode:         req.NationalCode,
		MedicalCouncilNumber: req.MedicalCouncilNumber,
		Email:                req.Email,
		Gender:               req.Gender,
		Status:               StatusWaiting,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Create(ctx, d); err != nil {
			return mapWriteError(err)
		}
		return s.setSpecialties(ctx, d, req.Specialties, false)
	})
	if err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, d.ID)
}

func (s *Service) ListApplications(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.ListByStatus(ctx, StatusWaiting, limit, offset)
}

type ModerationRequest struct {
	Status string `json:"status" validate:"required,oneof=accepted rejected"`
}

// ModerateDoctorApplication accepts or rejects a doctor. Accepting stamps
// confirm_datetime. Rejecting deletes the doctor and returns nil.
func (s *Service) ModerateDoctorApplication(ctx context.Context, id uuid.UUID, status string) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status {
	case StatusAccepted:
		if d.Status == StatusAccepted {
			return d, nil
		}
		now := s.now()
		if err := s.doctors.SetStatus(ctx, id, StatusAccepted, &now); err != nil {
			return nil, err
		}
		d.Status = StatusAccepted
		d.ConfirmDatetime = &now
		return d, nil
	case StatusRejected:
		if err := s.deleteDoctor(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, apperr.Validation(fmt.Sprintf("%q is not a valid choice.", status))
	}
}

// -- Admin management --

type DoctorRequest struct {
	MedicalCouncilNumber string      `json:"medical_council_number" validate:"required,council_number"`
	FirstName            string      `json:"first_name" validate:"required,max=255"`
	LastName             string      `json:"last_name" validate:"required,max=255"`
	NationalCode         string      `json:"national_code" validate:"required,national_code"`
	Email                string      `json:"email" validate:"omitempty,email"`
	Gender               string      `json:"gender" validate:"required"`
	OfficeAddress        string      `json:"office_address" validate:"required"`
	Bio                  string      `json:"bio"`
	ProvinceID           *uuid.UUID  `json:"province_id,omitempty"`
	CityID               *uuid.UUID  `json:"city_id,omitempty"`
	Specialties          []uuid.UUID `json:"specialties_list"`
	Insurances           []uuid.UUID `json:"insurances_list"`
}

type CreateDoctorRequest struct {
	AccountID uuid.UUID `json:"account_id" validate:"required"`
	DoctorRequest
}

func (r *DoctorRequest) apply(d *Doctor) {
	d.MedicalCouncilNumber = r.MedicalCouncilNumber
	d.FirstName = strings.TrimSpace(r.FirstName)
	d.LastName = strings.TrimSpace(r.LastName)
	d.NationalCode = r.NationalCode
	d.Email = r.Email
	d.Gender = r.Gender
	d.OfficeAddress = r.OfficeAddress
	d.Bio = r.Bio
	d.ProvinceID = r.ProvinceID
	d.CityID = r.CityID
}

// CreateDoctor registers an already accepted doctor for an account.
func (s *Service) CreateDoctor(ctx context.Context, req CreateDoctorRequest) (*Doctor, error) {
	if err := checkGender(req.Gender); err != nil {
		return nil, err
	}
	if len(req.Specialties) == 0 {
		return nil, ErrNoSpecialty
	}

	now := s.now()
	d := &Doctor{AccountID: req.AccountID, Status: StatusAccepted, ConfirmDatetime: &now}
	req.apply(d)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Create(ctx, d); err != nil {
			return mapWriteError(err)
		}
		if err := s.setSpecialties(ctx, d, req.Specialties, false); err != nil {
			return err
		}
		return s.setInsurances(ctx, d, req.Insurances, false)
	})
	if err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, d.ID)
}

// UpdateDoctor replaces the doctor's fields. Specialties and insurances are
// replaced only when a non-empty list is given.
func (s *Service) UpdateDoctor(ctx context.Context, id uuid.UUID, req DoctorRequest) (*Doctor, error) {
	if err := checkGender(req.Gender); err != nil {
		return nil, err
	}
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(d)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Update(ctx, d); err != nil {
			return mapWriteError(err)
		}
		if len(req.Specialties) > 0 {
			if err := s.setSpecialties(ctx, d, req.Specialties, true); err != nil {
				return err
			}
		}
		if len(req.Insurances) > 0 {
			if err := s.setInsurances(ctx, d, req.Insurances, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

// DeleteDoctor removes a doctor. It is refused while reserves exist.
func (s *Service) DeleteDoctor(ctx context.Context, id uuid.UUID) error {
	if _, err := s.doctors.GetByID(ctx, id); err != nil {
		return err
	}
	return s.deleteDoctor(ctx, id)
}

func (s *Service) deleteDoctor(ctx context.Context, id uuid.UUID) error {
	has, err := s.doctors.HasReserves(ctx, id)
	if err != nil {
		return err
	}
	if has {
		return ErrHasReserves
	}
	if err := s.doctors.Delete(ctx, id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrHasReserves
		}
		return err
	}
	return nil
}

// -- Own profile --

func (s *Service) GetMyDoctorProfile(ctx context.Context, accountID uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByAccountID(ctx, accountID)
}

type ProfileRequest struct {
	Email         string      `json:"email" validate:"omitempty,email"`
	OfficeAddress string      `json:"office_address" validate:"required"`
	Bio           string      `json:"bio"`
	ProvinceID    *uuid.UUID  `json:"province_id" validate:"required"`
	CityID        *uuid.UUID  `json:"city_id" validate:"required"`
	Insurances    []uuid.UUID `json:"insurances_list"`
}

// UpdateMyDoctorProfile lets a doctor edit the practice details. Identity
// fields stay under admin control.
func (s *Service) UpdateMyDoctorProfile(ctx context.Context, accountID uuid.UUID, req ProfileRequest) (*Doctor, error) {
	d, err := s.doctors.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	d.Email = req.Email
	d.OfficeAddress = req.OfficeAddress
	d.Bio = req.Bio
	d.ProvinceID = req.ProvinceID
	d.CityID = req.CityID

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Update(ctx, d); err != nil {
			return mapWriteError(err)
		}
		if req.Insurances != nil {
			return s.setInsurances(ctx, d, req.Insurances, true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.doctors.GetByID(ctx, d.ID)
}

// -- Public listing --

// ListDoctors lists accepted doctors with their aggregates.
func (s *Service) ListDoctors(ctx context.Context, f Filter, limit, offset int) ([]*Summary, int, error) {
	if f.Ordering != "" && f.Ordering != OrderMaxSuccessfulReserve && f.Ordering != OrderClosestFreeReserve {
		f.Ordering = ""
	}
	items, total, err := s.doctors.Search(ctx, f, s.now(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, it := range items {
		s.decorate(it)
	}
	return items, total, nil
}

// GetDoctorDetail returns the public profile of an accepted doctor. When the
// doctor has no free reserve, up to five alternatives sharing a specialty
// and the city are suggested.
func (s *Service) GetDoctorDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	sum, err := s.doctors.GetSummary(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	s.decorate(sum)

	d := &Detail{
		Summary:            *sum,
		HasFreeReserve:     sum.FirstFreeReserveAt != nil,
		AlternativeDoctors: []*Summary{},
	}
	if sum.CommentCount > 0 {
		pct := int(math.Round(float64(sum.SuggestCount) / float64(sum.CommentCount) * 100))
		d.SuggestPercentage = &pct
	}
	if sum.AvgWaitingTime != nil {
		label := review.WaitingTimeLabel(int(math.RoundToEven(*sum.AvgWaitingTime)))
		d.AverageWaitingTime = &label
	}

	if !d.HasFreeReserve && sum.CityID != nil && len(sum.Specialties) > 0 {
		ids := make([]uuid.UUID, 0, len(sum.Specialties))
		for _, sp := range sum.Specialties {
			ids = append(ids, sp.ID)
		}
		alts, _, err := s.doctors.Search(ctx, Filter{
			SpecialtyIDs:   ids,
			CityID:         sum.CityID,
			ExcludeID:      &sum.ID,
			HasFreeReserve: true,
			Ordering:       OrderClosestFreeReserve,
		}, s.now(), maxAlternatives, 0)
		if err != nil {
			return nil, err
		}
		for _, a := range alts {
			s.decorate(a)
			d.AlternativeDoctors = append(d.AlternativeDoctors, a)
		}
	}
	return d, nil
}

func (s *Service) decorate(sum *Summary) {
	if sum.FirstFreeReserveAt != nil {
		label := FreeReserveLabel(*sum.FirstFreeReserveAt, s.now(), s.loc)
		sum.FirstFreeReserve = &label
	}
}

// FreeReserveLabel renders t relative to now in loc: "Today 15:04",
// "Tomorrow 15:04" or "01-02 15:04".
func FreeReserveLabel(t, now time.Time, loc *time.Location) string {
	t = t.In(loc)
	now = now.In(loc)
	day := func(x time.Time) time.Time {
		y, m, d := x.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	today, target := day(now), day(t)
	switch {
	case target.Equal(today):
		return "Today " + t.Format("15:04")
	case target.Equal(today.AddDate(0, 0, 1)):
		return "Tomorrow " + t.Format("15:04")
	}
	return t.Format("01-02 15:04")
}
