package reference

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/db"
)

// =========== Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

func (r *itemRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func tableOf(kind Kind) (string, error) {
	t := kind.table()
	if t == "" {
		return "", fmt.Errorf("unknown reference kind %q", kind)
	}
	return t, nil
}

func (r *itemRepoPG) scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Name, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return &it, err
}

func (r *itemRepoPG) Create(ctx context.Context, kind Kind, item *Item) error {
	table, err := tableOf(kind)
	if err != nil {
		return err
	}
	item.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO `+table+` (id, name) VALUES ($1, $2) RETURNING created_at, updated_at`,
		item.ID, item.Name,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

func (r *itemRepoPG) GetByID(ctx context.Context, kind Kind, id uuid.UUID) (*Item, error) {
	table, err := tableOf(kind)
	if err != nil {
		return nil, err
	}
	return r.scanItem(r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM `+table+` WHERE id = $1`, id))
}

func (r *itemRepoPG) Update(ctx context.Context, kind Kind, item *Item) error {
	table, err := tableOf(kind)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx,
		`UPDATE `+table+` SET name=$2, updated_at=NOW() WHERE id = $1 RETURNING created_at, updated_at`,
		item.ID, item.Name,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrItemNotFound
	}
	return err
}

func (r *itemRepoPG) Delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	table, err := tableOf(kind)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *itemRepoPG) List(ctx context.Context, kind Kind, search string, limit, offset int) ([]*Item, int, error) {
	table, err := tableOf(kind)
	if err != nil {
		return nil, 0, err
	}
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1
	if search != "" {
		where += fmt.Sprintf(` AND name ILIKE $%d`, idx)
		args = append(args, "%"+search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+table+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, created_at, updated_at FROM `+table+where+
			fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		it, err := r.scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// =========== City Repository ===========

type cityRepoPG struct{ pool *pgxpool.Pool }

func NewCityRepoPG(pool *pgxpool.Pool) CityRepository { return &cityRepoPG{pool: pool} }

func (r *cityRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const cityCols = `id, province_id, name, created_at, updated_at`

func (r *cityRepoPG) scanCity(row pgx.Row) (*City, error) {
	var c City
	err := row.Scan(&c.ID, &c.ProvinceID, &c.Name, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCityNotFound
	}
	return &c, err
}

func (r *cityRepoPG) Create(ctx context.Context, c *City) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx,
		`INSERT INTO cities (id, province_id, name) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		c.ID, c.ProvinceID, c.Name,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *cityRepoPG) GetByID(ctx context.Context, provinceID, id uuid.UUID) (*City, error) {
	return r.scanCity(r.conn(ctx).QueryRow(ctx,
		`SELECT `+cityCols+` FROM cities WHERE province_id = $1 AND id = $2`, provinceID, id))
}

func (r *cityRepoPG) Update(ctx context.Context, c *City) error {
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE cities SET name=$3, updated_at=NOW() WHERE province_id = $1 AND id = $2
		RETURNING created_at, updated_at`,
		c.ProvinceID, c.ID, c.Name,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrCityNotFound
	}
	return err
}

func (r *cityRepoPG) Delete(ctx context.Context, provinceID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM cities WHERE province_id = $1 AND id = $2`, provinceID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCityNotFound
	}
	return nil
}

func (r *cityRepoPG) ListByProvince(ctx context.Context, provinceID uuid.UUID, limit, offset int) ([]*City, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cities WHERE province_id = $1`, provinceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cityCols+` FROM cities WHERE province_id = $1 ORDER BY name LIMIT $2 OFFSET $3`,
		provinceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*City
	for rows.Next() {
		c, err := r.scanCity(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
