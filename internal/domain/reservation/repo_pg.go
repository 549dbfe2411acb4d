package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/db"
)

type reserveRepoPG struct{ pool *pgxpool.Pool }

func NewReserveRepoPG(pool *pgxpool.Pool) ReserveRepository { return &reserveRepoPG{pool: pool} }

func (r *reserveRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const reserveCols = `r.id, r.doctor_id, r.patient_id, r.status, r.price, r.reserve_datetime,
	r.payment_authority, r.payment_ref_id, r.release_job_id, r.payment_expires_at, r.created_at, r.updated_at`

func reserveDest(v *Reserve) []interface{} {
	return []interface{}{&v.ID, &v.DoctorID, &v.PatientID, &v.Status, &v.Price, &v.ReserveDatetime,
		&v.PaymentAuthority, &v.PaymentRefID, &v.ReleaseJobID, &v.PaymentExpiresAt, &v.CreatedAt, &v.UpdatedAt}
}

func (r *reserveRepoPG) scanReserve(row pgx.Row) (*Reserve, error) {
	var v Reserve
	err := row.Scan(reserveDest(&v)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReserveNotFound
	}
	return &v, err
}

const detailCols = reserveCols + `, d.first_name || ' ' || d.last_name, d.office_address,
	COALESCE(TRIM(p.first_name || ' ' || p.last_name), ''), COALESCE(a.phone, '')`

const detailFrom = ` FROM reserves r
	JOIN doctors d ON d.id = r.doctor_id
	LEFT JOIN patients p ON p.id = r.patient_id
	LEFT JOIN accounts a ON a.id = p.account_id`

func (r *reserveRepoPG) scanDetail(row pgx.Row) (*Detail, error) {
	var v Detail
	dest := append(reserveDest(&v.Reserve), &v.DoctorName, &v.DoctorOfficeAddress, &v.PatientName, &v.PatientPhone)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReserveNotFound
	}
	return &v, err
}

func (r *reserveRepoPG) Create(ctx context.Context, v *Reserve) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reserves (id, doctor_id, status, price, reserve_datetime)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		v.ID, v.DoctorID, v.Status, v.Price, v.ReserveDatetime,
	).Scan(&v.CreatedAt, &v.UpdatedAt)
}

func (r *reserveRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reserve, error) {
	return r.scanReserve(r.conn(ctx).QueryRow(ctx, `SELECT `+reserveCols+` FROM reserves r WHERE r.id = $1`, id))
}

func (r *reserveRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Reserve, error) {
	return r.scanReserve(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reserveCols+` FROM reserves r WHERE r.id = $1 FOR UPDATE`, id))
}

func (r *reserveRepoPG) GetByAuthority(ctx context.Context, authority string) (*Reserve, error) {
	if authority == "" {
		return nil, ErrReserveNotFound
	}
	return r.scanReserve(r.conn(ctx).QueryRow(ctx,
		`SELECT `+reserveCols+` FROM reserves r WHERE r.payment_authority = $1`, authority))
}

func (r *reserveRepoPG) GetDetail(ctx context.Context, id uuid.UUID) (*Detail, error) {
	return r.scanDetail(r.conn(ctx).QueryRow(ctx, `SELECT `+detailCols+detailFrom+` WHERE r.id = $1`, id))
}

func (r *reserveRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Detail, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND r.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.PatientID != nil {
		where += fmt.Sprintf(` AND r.patient_id = $%d`, idx)
		args = append(args, *f.PatientID)
		idx++
	}
	order := ` ORDER BY r.reserve_datetime DESC`
	if f.FreeFrom != nil {
		where += fmt.Sprintf(` AND r.patient_id IS NULL AND r.reserve_datetime >= $%d`, idx)
		args = append(args, *f.FreeFrom)
		idx++
		order = ` ORDER BY r.reserve_datetime`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM reserves r`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + detailCols + detailFrom + where + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Detail
	for rows.Next() {
		v, err := r.scanDetail(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (r *reserveRepoPG) Claim(ctx context.Context, id, patientID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reserves SET patient_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'unpaid' AND (patient_id IS NULL OR patient_id = $2)`, id, patientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const clearPaymentSet = `, payment_authority = '', payment_ref_id = '', release_job_id = '', payment_expires_at = NULL`

func (r *reserveRepoPG) Release(ctx context.Context, id uuid.UUID, g ReleaseGuard) (bool, error) {
	set := `patient_id = NULL, updated_at = NOW()`
	if g.ClearPayment {
		set += clearPaymentSet
	}
	where := ` WHERE id = $1 AND status = 'unpaid' AND patient_id IS NOT NULL`
	args := []interface{}{id}
	if g.Holder != uuid.Nil {
		args = append(args, g.Holder)
		where += fmt.Sprintf(` AND patient_id = $%d`, len(args))
	}
	if g.ClosedBy != nil {
		args = append(args, *g.ClosedBy)
		where += fmt.Sprintf(` AND (payment_expires_at IS NULL OR payment_expires_at <= $%d)`, len(args))
	}
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE reserves SET `+set+where, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *reserveRepoPG) ReleaseStale(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reserves SET patient_id = NULL, updated_at = NOW()`+clearPaymentSet+`
		WHERE status = 'unpaid' AND patient_id IS NOT NULL
			AND (reserve_datetime < $1 OR payment_expires_at < $1)`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *reserveRepoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReserveNotFound
	}
	return nil
}

func (r *reserveRepoPG) SetReleaseJob(ctx context.Context, id uuid.UUID, jobID string) error {
	return r.exec(ctx, `UPDATE reserves SET release_job_id = $2, updated_at = NOW() WHERE id = $1`, id, jobID)
}

func (r *reserveRepoPG) SetPaymentWindow(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	return r.exec(ctx, `UPDATE reserves SET payment_expires_at = $2, updated_at = NOW() WHERE id = $1`, id, expiresAt)
}

func (r *reserveRepoPG) SetAuthority(ctx context.Context, id uuid.UUID, authority string) error {
	return r.exec(ctx, `UPDATE reserves SET payment_authority = $2, updated_at = NOW() WHERE id = $1`, id, authority)
}

func (r *reserveRepoPG) MarkPaid(ctx context.Context, id uuid.UUID, refID string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reserves SET status = 'paid', payment_ref_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'unpaid' AND patient_id IS NOT NULL`, id, refID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *reserveRepoPG) DeleteFree(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM reserves WHERE id = $1 AND patient_id IS NULL`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
