package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurosense360/console/internal/platform/db"
)

const clinicColumns = `id, name, email, contact_person, is_active, reports_used, reports_allowed,
	subscription_status, trial_end_date, created_at, updated_at`

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) Create(ctx context.Context, c *Clinic) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinic (
			id, name, email, contact_person, is_active, reports_used, reports_allowed,
			subscription_status, trial_end_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Email, c.ContactPerson, c.IsActive, c.ReportsUsed, c.ReportsAllowed,
		c.SubscriptionStatus, c.TrialEndDate,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	return scanClinic(r.conn(ctx).QueryRow(ctx, `SELECT `+clinicColumns+` FROM clinic WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, c *Clinic) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE clinic SET
			name = $2, email = $3, contact_person = $4, is_active = $5,
			reports_used = $6, reports_allowed = $7, subscription_status = $8,
			trial_end_date = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Email, c.ContactPerson, c.IsActive,
		c.ReportsUsed, c.ReportsAllowed, c.SubscriptionStatus, c.TrialEndDate,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinic WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Clinic, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM clinic`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+clinicColumns+` FROM clinic ORDER BY name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	clinics, err := collectClinics(rows)
	if err != nil {
		return nil, 0, err
	}
	return clinics, total, nil
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Clinic, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+clinicColumns+` FROM clinic WHERE is_active ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectClinics(rows)
}

func (r *repoPG) ExpireTrial(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clinic SET subscription_status = 'expired', is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND subscription_status = 'trial'`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *repoPG) AddReportsUsed(ctx context.Context, id uuid.UUID, n int) (*Clinic, error) {
	return scanClinic(r.conn(ctx).QueryRow(ctx, `
		UPDATE clinic SET reports_used = GREATEST(reports_used + $2, 0), updated_at = NOW()
		WHERE id = $1
		RETURNING `+clinicColumns, id, n))
}

func (r *repoPG) AddReportsAllowed(ctx context.Context, id uuid.UUID, n int) (*Clinic, error) {
	return scanClinic(r.conn(ctx).QueryRow(ctx, `
		UPDATE clinic SET reports_allowed = reports_allowed + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+clinicColumns, id, n))
}

func collectClinics(rows pgx.Rows) ([]*Clinic, error) {
	defer rows.Close()

	var clinics []*Clinic
	for rows.Next() {
		c, err := scanClinic(rows)
		if err != nil {
			return nil, err
		}
		clinics = append(clinics, c)
	}
	return clinics, rows.Err()
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.ContactPerson, &c.IsActive, &c.ReportsUsed, &c.ReportsAllowed,
		&c.SubscriptionStatus, &c.TrialEndDate, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
