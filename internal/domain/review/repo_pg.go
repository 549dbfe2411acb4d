package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/db"
)

type commentRepoPG struct{ pool *pgxpool.Pool }

func NewCommentRepoPG(pool *pgxpool.Pool) CommentRepository { return &commentRepoPG{pool: pool} }

func (r *commentRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const commentCols = `c.id, c.patient_id, c.doctor_id, c.rating, c.is_suggest, c.waiting_time, c.body,
	c.is_anonymous, c.status, c.created_at, c.updated_at,
	p.first_name, p.last_name, d.first_name || ' ' || d.last_name`

const commentFrom = ` FROM comments c
	JOIN patients p ON p.id = c.patient_id
	JOIN doctors d ON d.id = c.doctor_id`

func (r *commentRepoPG) scanComment(row pgx.Row) (*Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.PatientID, &c.DoctorID, &c.Rating, &c.IsSuggest, &c.WaitingTime, &c.Body,
		&c.IsAnonymous, &c.Status, &c.CreatedAt, &c.UpdatedAt,
		&c.PatientFirstName, &c.PatientLastName, &c.DoctorName)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCommentNotFound
	}
	return &c, err
}

func (r *commentRepoPG) Create(ctx context.Context, c *Comment) error {
	c.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO comments (id, patient_id, doctor_id, rating, is_suggest, waiting_time, body, is_anonymous, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.DoctorID, c.Rating, c.IsSuggest, c.WaitingTime, c.Body, c.IsAnonymous, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *commentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Comment, error) {
	return r.scanComment(r.conn(ctx).QueryRow(ctx, `SELECT `+commentCols+commentFrom+` WHERE c.id = $1`, id))
}

func (r *commentRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE comments SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCommentNotFound
	}
	return nil
}

func (r *commentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM comments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCommentNotFound
	}
	return nil
}

func (r *commentRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Comment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.DoctorID != nil {
		where += fmt.Sprintf(` AND c.doctor_id = $%d`, idx)
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND c.status = $%d`, idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM comments c`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + commentCols + commentFrom + where + ` ORDER BY c.created_at DESC` +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Comment
	for rows.Next() {
		c, err := r.scanComment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
