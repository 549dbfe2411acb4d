package reference

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
)

type Service struct {
	items  ItemRepository
	cities CityRepository
}

func NewService(items ItemRepository, cities CityRepository) *Service {
	return &Service{items: items, cities: cities}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.Validation("name is required")
	}
	if len(name) > 255 {
		return "", apperr.Validation("name must be at most 255 characters")
	}
	return name, nil
}

func duplicateName(kind string) error {
	return apperr.Conflict("DUPLICATE_NAME", fmt.Sprintf("A %s with this name already exists.", kind))
}

func stillReferenced(kind string) error {
	return apperr.Conflict("REFERENCED",
		fmt.Sprintf("This %s cannot be deleted because it is referenced by other records.", kind))
}

// -- Provinces, insurances, specialties --

func (s *Service) CreateItem(ctx context.Context, kind Kind, name string) (*Item, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	item := &Item{Name: name}
	if err := s.items.Create(ctx, kind, item); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, duplicateName(string(kind))
		}
		return nil, err
	}
	return item, nil
}

func (s *Service) GetItem(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error) {
	return s.items.GetByID(ctx, kind, id)
}

func (s *Service) UpdateItem(ctx context.Context, kind Kind, id uuid.UUID, name string) (*Item, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	item := &Item{ID: id, Name: name}
	if err := s.items.Update(ctx, kind, item); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, duplicateName(string(kind))
		}
		return nil, err
	}
	return item, nil
}

// DeleteItem removes a row. Rows still referenced by doctors or patients
// are kept and the call fails with a conflict.
func (s *Service) DeleteItem(ctx context.Context, kind Kind, id uuid.UUID) error {
	if err := s.items.Delete(ctx, kind, id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return stillReferenced(string(kind))
		}
		return err
	}
	return nil
}

func (s *Service) ListItems(ctx context.Context, kind Kind, search string, limit, offset int) ([]*Item, int, error) {
	return s.items.List(ctx, kind, search, limit, offset)
}

// -- Cities --

func (s *Service) CreateCity(ctx context.Context, provinceID uuid.UUID, name string) (*City, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	if _, err := s.items.GetByID(ctx, KindProvince, provinceID); err != nil {
		return nil, err
	}
	c := &City{ProvinceID: provinceID, Name: name}
	if err := s.cities.Create(ctx, c); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("DUPLICATE_NAME", "A city with this name already exists in this province.")
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) GetCity(ctx context.Context, provinceID, id uuid.UUID) (*City, error) {
	return s.cities.GetByID(ctx, provinceID, id)
}

func (s *Service) UpdateCity(ctx context.Context, provinceID, id uuid.UUID, name string) (*City, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	c := &City{ID: id, ProvinceID: provinceID, Name: name}
	if err := s.cities.Update(ctx, c); err != nil {
		if db.IsUniqueViolation(err) {
			return nil, apperr.Conflict("DUPLICATE_NAME", "A city with this name already exists in this province.")
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) DeleteCity(ctx context.Context, provinceID, id uuid.UUID) error {
	if err := s.cities.Delete(ctx, provinceID, id); err != nil {
		if db.IsForeignKeyViolation(err) {
			return stillReferenced("city")
		}
		return err
	}
	return nil
}

func (s *Service) ListCities(ctx context.Context, provinceID uuid.UUID, limit, offset int) ([]*City, int, error) {
	if _, err := s.items.GetByID(ctx, KindProvince, provinceID); err != nil {
		return nil, 0, err
	}
	return s.cities.ListByProvince(ctx, provinceID, limit, offset)
}
