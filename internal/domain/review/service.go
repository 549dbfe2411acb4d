package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/platform/apperr"
)

var (
	ErrProfileIncomplete = apperr.PermissionDenied("PROFILE_INCOMPLETE",
		"To register a comment, you must first complete your personal information in your profile.")
	ErrDoctorNotFound = apperr.NotFound("There isn't any doctor with this id.")
	ErrInvalidRating  = apperr.Validation(fmt.Sprintf("Rating must be between %d and %d.", MinRating, MaxRating))
	ErrInvalidWaiting = apperr.Validation(fmt.Sprintf("Waiting time must be between 0 and %d.", MaxWaitingTime))
	ErrInvalidStatus  = apperr.Validation("Status must be approved or not_approved.")
)

// PatientLookup loads the author's profile.
type PatientLookup interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*identity.Patient, error)
}

// DoctorLookup reports whether a doctor is listed publicly.
type DoctorLookup interface {
	IsAccepted(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	comments CommentRepository
	patients PatientLookup
	doctors  DoctorLookup
	loc      *time.Location
}

func NewService(comments CommentRepository, patients PatientLookup, doctors DoctorLookup, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{comments: comments, patients: patients, doctors: doctors, loc: loc}
}

type SubmitRequest struct {
	Rating      int    `json:"rating"`
	IsSuggest   bool   `json:"is_suggest"`
	WaitingTime int    `json:"waiting_time"`
	Body        string `json:"body" validate:"required"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type ModerationRequest struct {
	Status string `json:"status" validate:"required"`
}

// SubmitReview stores a comment from patientID about doctorID. New comments
// wait for moderation before they are listed.
func (s *Service) SubmitReview(ctx context.Context, patientID, doctorID uuid.UUID, req SubmitRequest) (*Comment, error) {
	patient, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		if errors.Is(err, identity.ErrPatientNotFound) {
			return nil, ErrProfileIncomplete
		}
		return nil, err
	}
	if !patient.IsProfileComplete() {
		return nil, ErrProfileIncomplete
	}

	if req.Rating < MinRating || req.Rating > MaxRating {
		return nil, ErrInvalidRating
	}
	if req.WaitingTime < 0 || req.WaitingTime > MaxWaitingTime {
		return nil, ErrInvalidWaiting
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, apperr.Validation("body is required")
	}

	ok, err := s.doctors.IsAccepted(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDoctorNotFound
	}

	c := &Comment{
		PatientID:        patientID,
		DoctorID:         doctorID,
		Rating:           req.Rating,
		IsSuggest:        req.IsSuggest,
		WaitingTime:      req.WaitingTime,
		Body:             body,
		IsAnonymous:      req.IsAnonymous,
		Status:           StatusWaiting,
		PatientFirstName: patient.FirstName,
		PatientLastName:  patient.LastName,
	}
	if err := s.comments.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create comment: %w", err)
	}
	return c, nil
}

// ModerateReview approves a comment, or deletes it when not approved. It
// returns nil for a deleted comment.
func (s *Service) ModerateReview(ctx context.Context, id uuid.UUID, status string) (*ModerationView, error) {
	c, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status {
	case StatusNotApproved:
		if err := s.comments.Delete(ctx, id); err != nil {
			return nil, err
		}
		return nil, nil
	case StatusApproved:
		if c.Status != StatusApproved {
			if err := s.comments.SetStatus(ctx, id, StatusApproved); err != nil {
				return nil, err
			}
			c.Status = StatusApproved
		}
		v := c.Moderation()
		return &v, nil
	default:
		return nil, ErrInvalidStatus
	}
}

// ListDoctorReviews lists the approved comments on a doctor.
func (s *Service) ListDoctorReviews(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]PublicView, int, error) {
	items, total, err := s.comments.List(ctx, Filter{DoctorID: &doctorID, Status: StatusApproved}, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]PublicView, 0, len(items))
	for _, c := range items {
		out = append(out, c.Public(s.loc))
	}
	return out, total, nil
}

func (s *Service) ListWaitingReviews(ctx context.Context, limit, offset int) ([]ModerationView, int, error) {
	items, total, err := s.comments.List(ctx, Filter{Status: StatusWaiting}, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]ModerationView, 0, len(items))
	for _, c := range items {
		out = append(out, c.Moderation())
	}
	return out, total, nil
}

func (s *Service) GetReview(ctx context.Context, id uuid.UUID) (*ModerationView, error) {
	c, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	v := c.Moderation()
	return &v, nil
}
