package doctor

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

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const doctorCols = `d.id, d.account_id, d.first_name, d.last_name, d.national_code, d.medical_council_number,
	d.email, d.gender, d.status, d.confirm_datetime, d.province_id, d.city_id, d.office_address, d.bio,
	d.created_at, d.updated_at`

func doctorDest(d *Doctor) []interface{} {
	return []interface{}{&d.ID, &d.AccountID, &d.FirstName, &d.LastName, &d.NationalCode, &d.MedicalCouncilNumber,
		&d.Email, &d.Gender, &d.Status, &d.ConfirmDatetime, &d.ProvinceID, &d.CityID, &d.OfficeAddress, &d.Bio,
		&d.CreatedAt, &d.UpdatedAt}
}

func (r *doctorRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(doctorDest(&d)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, account_id, first_name, last_name, national_code, medical_council_number,
			email, gender, status, confirm_datetime, province_id, city_id, office_address, bio)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING created_at, updated_at`,
		d.ID, d.AccountID, d.FirstName, d.LastName, d.NationalCode, d.MedicalCouncilNumber,
		d.Email, d.Gender, d.Status, d.ConfirmDatetime, d.ProvinceID, d.CityID, d.OfficeAddress, d.Bio,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) get(ctx context.Context, where string, arg interface{}) (*Doctor, error) {
	d, err := r.scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors d WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadRefs(ctx, []*Doctor{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return r.get(ctx, `d.id = $1`, id)
}

func (r *doctorRepoPG) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*Doctor, error) {
	return r.get(ctx, `d.account_id = $1`, accountID)
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE doctors SET first_name=$2, last_name=$3, national_code=$4, medical_council_number=$5,
			email=$6, gender=$7, province_id=$8, city_id=$9, office_address=$10, bio=$11, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.FirstName, d.LastName, d.NationalCode, d.MedicalCouncilNumber,
		d.Email, d.Gender, d.ProvinceID, d.CityID, d.OfficeAddress, d.Bio,
	).Scan(&d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDoctorNotFound
	}
	return err
}

func (r *doctorRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status string, confirmedAt *time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET status=$2, confirm_datetime=COALESCE($3, confirm_datetime), updated_at=NOW()
		WHERE id = $1`, id, status, confirmedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoPG) HasReserves(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reserves WHERE doctor_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *doctorRepoPG) ListByStatus(ctx context.Context, status string, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+doctorCols+` FROM doctors d WHERE d.status = $1
		ORDER BY d.created_at LIMIT $2 OFFSET $3`, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, r.loadRefs(ctx, items)
}

// -- Specialties and insurances --

func (r *doctorRepoPG) AddSpecialty(ctx context.Context, doctorID, specialtyID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO doctor_specialties (doctor_id, specialty_id) VALUES ($1, $2)`, doctorID, specialtyID)
	return err
}

func (r *doctorRepoPG) ClearSpecialties(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_specialties WHERE doctor_id = $1`, doctorID)
	return err
}

func (r *doctorRepoPG) AddInsurance(ctx context.Context, doctorID, insuranceID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO doctor_insurances (doctor_id, insurance_id) VALUES ($1, $2)`, doctorID, insuranceID)
	return err
}

func (r *doctorRepoPG) ClearInsurances(ctx context.Context, doctorID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_insurances WHERE doctor_id = $1`, doctorID)
	return err
}

// loadRefs fills Specialties and Insurances for every doctor in docs.
func (r *doctorRepoPG) loadRefs(ctx context.Context, docs []*Doctor) error {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Doctor, len(docs))
	ids := make([]uuid.UUID, 0, len(docs))
	for _, d := range docs {
		d.Specialties = []Ref{}
		d.Insurances = []Ref{}
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT ds.doctor_id, s.id, s.name FROM doctor_specialties ds
		JOIN specialties s ON s.id = ds.specialty_id
		WHERE ds.doctor_id = ANY($1::uuid[]) ORDER BY s.name`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var doctorID uuid.UUID
		var ref Ref
		if err := rows.Scan(&doctorID, &ref.ID, &ref.Name); err != nil {
			rows.Close()
			return err
		}
		byID[doctorID].Specialties = append(byID[doctorID].Specialties, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT di.doctor_id, i.id, i.name FROM doctor_insurances di
		JOIN insurances i ON i.id = di.insurance_id
		WHERE di.doctor_id = ANY($1::uuid[]) ORDER BY i.name`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var doctorID uuid.UUID
		var ref Ref
		if err := rows.Scan(&doctorID, &ref.ID, &ref.Name); err != nil {
			return err
		}
		byID[doctorID].Insurances = append(byID[doctorID].Insurances, ref)
	}
	return rows.Err()
}

// -- Public listing --

// summaryFrom joins the review and reservation aggregates. It takes two
// placeholders: the reference time for free reserves and an optional
// insurance id for is_cover_insurance.
func summaryFrom(nowIdx, insuranceIdx int) string {
	return fmt.Sprintf(`
	FROM doctors d
	LEFT JOIN provinces p ON p.id = d.province_id
	LEFT JOIN cities ci ON ci.id = d.city_id
	LEFT JOIN LATERAL (
		SELECT ROUND(AVG(c.rating)::numeric, 1)::float8 AS rating_average,
			COUNT(*) AS comment_count,
			COUNT(*) FILTER (WHERE c.is_suggest) AS suggest_count,
			AVG(c.waiting_time)::float8 AS avg_waiting_time
		FROM comments c WHERE c.doctor_id = d.id AND c.status = 'approved'
	) cs ON TRUE
	LEFT JOIN LATERAL (
		SELECT COUNT(*) AS paid_count FROM reserves r WHERE r.doctor_id = d.id AND r.status = 'paid'
	) rs ON TRUE
	LEFT JOIN LATERAL (
		SELECT MIN(r.reserve_datetime) AS first_free FROM reserves r
		WHERE r.doctor_id = d.id AND r.patient_id IS NULL AND r.reserve_datetime >= $%d
	) fr ON TRUE
	LEFT JOIN LATERAL (
		SELECT EXISTS (
			SELECT 1 FROM doctor_insurances di
			WHERE di.doctor_id = d.id AND ($%d::uuid IS NULL OR di.insurance_id = $%d::uuid)
		) AS covers
	) ins ON TRUE`, nowIdx, insuranceIdx, insuranceIdx)
}

const summaryCols = doctorCols + `, d.province_id, p.name, d.city_id, ci.name,
	cs.rating_average, cs.comment_count, cs.suggest_count, cs.avg_waiting_time,
	rs.paid_count, fr.first_free, ins.covers`

func (r *doctorRepoPG) scanSummary(row pgx.Row) (*Summary, error) {
	var s Summary
	var provinceID, cityID *uuid.UUID
	var provinceName, cityName *string
	dest := append(doctorDest(&s.Doctor),
		&provinceID, &provinceName, &cityID, &cityName,
		&s.RatingAverage, &s.CommentCount, &s.SuggestCount, &s.AvgWaitingTime,
		&s.SuccessfulReserveCount, &s.FirstFreeReserveAt, &s.IsCoverInsurance)
	err := row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	if provinceID != nil && provinceName != nil {
		s.Province = &Ref{ID: *provinceID, Name: *provinceName}
	}
	if cityID != nil && cityName != nil {
		s.City = &Ref{ID: *cityID, Name: *cityName}
	}
	return &s, nil
}

func (r *doctorRepoPG) Search(ctx context.Context, f Filter, now time.Time, limit, offset int) ([]*Summary, int, error) {
	where := ` WHERE d.status = 'accepted'`
	var args []interface{}
	idx := 1

	if f.SpecialtyID != nil {
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM doctor_specialties x WHERE x.doctor_id = d.id AND x.specialty_id = $%d)`, idx)
		args = append(args, *f.SpecialtyID)
		idx++
	}
	if len(f.SpecialtyIDs) > 0 {
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM doctor_specialties x WHERE x.doctor_id = d.id AND x.specialty_id = ANY($%d::uuid[]))`, idx)
		args = append(args, f.SpecialtyIDs)
		idx++
	}
	if f.InsuranceID != nil {
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM doctor_insurances x WHERE x.doctor_id = d.id AND x.insurance_id = $%d)`, idx)
		args = append(args, *f.InsuranceID)
		idx++
	}
	if f.ProvinceID != nil {
		where += fmt.Sprintf(` AND d.province_id = $%d`, idx)
		args = append(args, *f.ProvinceID)
		idx++
	}
	if f.CityID != nil {
		where += fmt.Sprintf(` AND d.city_id = $%d`, idx)
		args = append(args, *f.CityID)
		idx++
	}
	if f.Gender != "" {
		where += fmt.Sprintf(` AND d.gender = $%d`, idx)
		args = append(args, f.Gender)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(` AND ((d.first_name || ' ' || d.last_name) ILIKE $%d
			OR EXISTS (SELECT 1 FROM doctor_specialties x JOIN specialties s ON s.id = x.specialty_id
				WHERE x.doctor_id = d.id AND s.name ILIKE $%d))`, idx, idx)
		args = append(args, "%"+f.Search+"%")
		idx++
	}
	if f.ExcludeID != nil {
		where += fmt.Sprintf(` AND d.id <> $%d`, idx)
		args = append(args, *f.ExcludeID)
		idx++
	}
	if f.HasFreeReserve {
		where += fmt.Sprintf(` AND EXISTS (SELECT 1 FROM reserves x WHERE x.doctor_id = d.id
			AND x.patient_id IS NULL AND x.reserve_datetime >= $%d)`, idx)
		args = append(args, now)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors d`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	order := ` ORDER BY d.confirm_datetime DESC NULLS LAST, d.id`
	switch f.Ordering {
	case OrderMaxSuccessfulReserve:
		order = ` ORDER BY rs.paid_count DESC, d.id`
	case OrderClosestFreeReserve:
		order = ` ORDER BY fr.first_free ASC NULLS LAST, d.id`
	}

	query := `SELECT ` + summaryCols + summaryFrom(idx, idx+1) + where + order +
		fmt.Sprintf(` LIMIT $%d OFFSET $%d`, idx+2, idx+3)
	args = append(args, now, f.InsuranceID, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Summary
	docs := []*Doctor{}
	for rows.Next() {
		s, err := r.scanSummary(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
		docs = append(docs, &s.Doctor)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, r.loadRefs(ctx, docs)
}

func (r *doctorRepoPG) GetSummary(ctx context.Context, id uuid.UUID, now time.Time) (*Summary, error) {
	query := `SELECT ` + summaryCols + summaryFrom(2, 3) + ` WHERE d.id = $1 AND d.status = 'accepted'`
	s, err := r.scanSummary(r.conn(ctx).QueryRow(ctx, query, id, now, nil))
	if err != nil {
		return nil, err
	}
	if err := r.loadRefs(ctx, []*Doctor{&s.Doctor}); err != nil {
		return nil, err
	}
	return s, nil
}
