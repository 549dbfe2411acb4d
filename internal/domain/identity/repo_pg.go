package identity

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

// =========== Account Repository ===========

type accountRepoPG struct{ pool *pgxpool.Pool }

func NewAccountRepoPG(pool *pgxpool.Pool) AccountRepository { return &accountRepoPG{pool: pool} }

func (r *accountRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const accountCols = `id, phone, password_hash, is_active, is_staff, is_superuser, last_login, created_at, updated_at`

func (r *accountRepoPG) scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Phone, &a.PasswordHash, &a.IsActive, &a.IsStaff, &a.IsSuperuser,
		&a.LastLogin, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return &a, err
}

func (r *accountRepoPG) Create(ctx context.Context, a *Account) error {
	a.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO accounts (id, phone, password_hash, is_active, is_staff, is_superuser)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		a.ID, a.Phone, a.PasswordHash, a.IsActive, a.IsStaff, a.IsSuperuser,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *accountRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
}

func (r *accountRepoPG) GetByPhone(ctx context.Context, phone string) (*Account, error) {
	return r.scanAccount(r.conn(ctx).QueryRow(ctx, `SELECT `+accountCols+` FROM accounts WHERE phone = $1`, phone))
}

func (r *accountRepoPG) Update(ctx context.Context, a *Account) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE accounts SET phone=$2, is_active=$3, is_staff=$4, is_superuser=$5, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Phone, a.IsActive, a.IsStaff, a.IsSuperuser)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepoPG) SetPassword(ctx context.Context, id uuid.UUID, hash *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE accounts SET password_hash=$2, updated_at=NOW() WHERE id = $1`, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepoPG) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE accounts SET last_login=$2 WHERE id = $1`, id, at)
	return err
}

func (r *accountRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *accountRepoPG) List(ctx context.Context, f AccountFilter, limit, offset int) ([]*Account, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Phone != "" {
		where += fmt.Sprintf(` AND phone LIKE $%d`, idx)
		args = append(args, "%"+f.Phone+"%")
		idx++
	}
	if f.IsStaff != nil {
		where += fmt.Sprintf(` AND is_staff = $%d`, idx)
		args = append(args, *f.IsStaff)
		idx++
	}
	if f.IsActive != nil {
		where += fmt.Sprintf(` AND is_active = $%d`, idx)
		args = append(args, *f.IsActive)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM accounts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + accountCols + ` FROM accounts` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Account
	for rows.Next() {
		a, err := r.scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *accountRepoPG) AcceptedDoctorID(ctx context.Context, accountID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id FROM doctors WHERE account_id = $1 AND status = 'accepted'`, accountID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (r *accountRepoPG) HasReserves(ctx context.Context, accountID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reserves rv
			LEFT JOIN patients p ON p.id = rv.patient_id
			LEFT JOIN doctors d ON d.id = rv.doctor_id
			WHERE p.account_id = $1 OR d.account_id = $1
		)`, accountID).Scan(&exists)
	return exists, err
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const patientCols = `p.id, p.account_id, a.phone, p.first_name, p.last_name, p.birth_date,
	p.national_code, p.email, p.gender, p.insurance_id, p.case_history, p.is_foreign_national,
	p.province_id, p.city_id, p.created_at, p.updated_at`

const patientFrom = ` FROM patients p JOIN accounts a ON a.id = p.account_id`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.AccountID, &p.Phone, &p.FirstName, &p.LastName, &p.BirthDate,
		&p.NationalCode, &p.Email, &p.Gender, &p.InsuranceID, &p.CaseHistory, &p.IsForeignNational,
		&p.ProvinceID, &p.CityID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, account_id, first_name, last_name, birth_date, national_code,
			email, gender, insurance_id, case_history, is_foreign_national, province_id, city_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.AccountID, p.FirstName, p.LastName, p.BirthDate, p.NationalCode,
		p.Email, p.Gender, p.InsuranceID, p.CaseHistory, p.IsForeignNational, p.ProvinceID, p.CityID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+patientFrom+` WHERE p.id = $1`, id))
}

func (r *patientRepoPG) GetByAccountID(ctx context.Context, accountID uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+patientFrom+` WHERE p.account_id = $1`, accountID))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET first_name=$2, last_name=$3, birth_date=$4, national_code=$5, email=$6,
			gender=$7, insurance_id=$8, case_history=$9, is_foreign_national=$10,
			province_id=$11, city_id=$12, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.NationalCode, p.Email,
		p.Gender, p.InsuranceID, p.CaseHistory, p.IsForeignNational, p.ProvinceID, p.CityID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Gender != "" {
		where += fmt.Sprintf(` AND p.gender = $%d`, idx)
		args = append(args, f.Gender)
		idx++
	}
	if f.Age != nil {
		where += fmt.Sprintf(` AND date_part('year', age(p.birth_date)) = $%d`, idx)
		args = append(args, *f.Age)
		idx++
	}
	if f.AgeMin != nil {
		where += fmt.Sprintf(` AND date_part('year', age(p.birth_date)) >= $%d`, idx)
		args = append(args, *f.AgeMin)
		idx++
	}
	if f.AgeMax != nil {
		where += fmt.Sprintf(` AND date_part('year', age(p.birth_date)) <= $%d`, idx)
		args = append(args, *f.AgeMax)
		idx++
	}
	if f.IsForeignNational != nil {
		where += fmt.Sprintf(` AND p.is_foreign_national = $%d`, idx)
		args = append(args, *f.IsForeignNational)
		idx++
	}
	if f.ProvinceID != nil {
		where += fmt.Sprintf(` AND p.province_id = $%d`, idx)
		args = append(args, *f.ProvinceID)
		idx++
	}
	if f.CityID != nil {
		where += fmt.Sprintf(` AND p.city_id = $%d`, idx)
		args = append(args, *f.CityID)
		idx++
	}
	if f.InsuranceID != nil {
		where += fmt.Sprintf(` AND p.insurance_id = $%d`, idx)
		args = append(args, *f.InsuranceID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+patientFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + patientCols + patientFrom + where +
		fmt.Sprintf(` ORDER BY p.created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== OTP Repository ===========

type otpRepoPG struct{ pool *pgxpool.Pool }

func NewOTPRepoPG(pool *pgxpool.Pool) OTPRepository { return &otpRepoPG{pool: pool} }

func (r *otpRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *otpRepoPG) Create(ctx context.Context, o *OneTimePassword) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO one_time_passwords (id, phone, code, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5)`,
		o.ID, o.Phone, o.Code, o.CreatedAt, o.ExpiresAt)
	return err
}

func (r *otpRepoPG) FindValid(ctx context.Context, id uuid.UUID, phone, code string, now time.Time) (*OneTimePassword, error) {
	var o OneTimePassword
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, phone, code, created_at, expires_at FROM one_time_passwords
		WHERE id = $1 AND phone = $2 AND code = $3 AND expires_at >= $4
		FOR UPDATE`,
		id, phone, code, now,
	).Scan(&o.ID, &o.Phone, &o.Code, &o.CreatedAt, &o.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *otpRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM one_time_passwords WHERE id = $1`, id)
	return err
}

func (r *otpRepoPG) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM one_time_passwords WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
