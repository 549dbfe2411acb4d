package review

import (
	"context"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
)

var ErrCommentNotFound = apperr.NotFound("There isn't any comment with this id.")

// Filter narrows comment listings. Zero values match everything.
type Filter struct {
	DoctorID *uuid.UUID
	Status   string
}

type CommentRepository interface {
	Create(ctx context.Context, c *Comment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Comment, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Comment, int, error)
}
