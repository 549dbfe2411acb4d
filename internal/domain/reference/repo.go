package reference

import (
	"context"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
)

var (
	ErrItemNotFound = apperr.NotFound("Not found.")
	ErrCityNotFound = apperr.NotFound("city not found")
)

// ItemRepository stores provinces, insurances and specialties.
type ItemRepository interface {
	Create(ctx context.Context, kind Kind, item *Item) error
	GetByID(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error)
	Update(ctx context.Context, kind Kind, item *Item) error
	Delete(ctx context.Context, kind Kind, id uuid.UUID) error
	List(ctx context.Context, kind Kind, search string, limit, offset int) ([]*Item, int, error)
}

type CityRepository interface {
	Create(ctx context.Context, c *City) error
	GetByID(ctx context.Context, provinceID, id uuid.UUID) (*City, error)
	Update(ctx context.Context, c *City) error
	Delete(ctx context.Context, provinceID, id uuid.UUID) error
	ListByProvince(ctx context.Context, provinceID uuid.UUID, limit, offset int) ([]*City, int, error)
}
