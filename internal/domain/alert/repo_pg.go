package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurosense360/console/internal/platform/db"
)

const alertColumns = `id, alert_key, clinic_id, type, category, title, message, action, data,
	status, acknowledged, count, created_at, updated_at, acknowledged_at, resolved_at`

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

// Init verifies the alert table exists. The table itself is created by the
// embedded migrations.
func (r *repoPG) Init(ctx context.Context) error {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT to_regclass('alert') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return errors.New("alert table missing: run migrations")
	}
	return nil
}

func (r *repoPG) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

func (r *repoPG) Create(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("marshal alert data: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO alert (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, a.Key, a.ClinicID, a.Type, a.Category, a.Title, a.Message, a.Action, data,
		a.Status, a.Acknowledged, a.Count, a.CreatedAt, a.UpdatedAt, a.AcknowledgedAt, a.ResolvedAt,
	)
	return err
}

func (r *repoPG) Update(ctx context.Context, a *Alert) error {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return fmt.Errorf("marshal alert data: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE alert SET
			title = $2, message = $3, action = $4, data = $5, status = $6,
			acknowledged = $7, count = $8, updated_at = $9, acknowledged_at = $10, resolved_at = $11
		WHERE id = $1`,
		a.ID, a.Title, a.Message, a.Action, data, a.Status,
		a.Acknowledged, a.Count, a.UpdatedAt, a.AcknowledgedAt, a.ResolvedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertColumns+` FROM alert WHERE id = $1`, id))
}

// FindRecentActive locks the matched row when called inside WithinTx.
func (r *repoPG) FindRecentActive(ctx context.Context, key string, since time.Time) (*Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alert
		WHERE alert_key = $1 AND status = 'active' AND created_at > $2
		ORDER BY created_at DESC LIMIT 1`
	if db.TxFromContext(ctx) != nil {
		q += ` FOR UPDATE`
	}
	return scanAlert(r.conn(ctx).QueryRow(ctx, q, key, since))
}

func (r *repoPG) ListActive(ctx context.Context, clinicID *uuid.UUID) ([]*Alert, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if clinicID == nil {
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT `+alertColumns+` FROM alert WHERE status = 'active' ORDER BY created_at DESC, id`)
	} else {
		rows, err = r.conn(ctx).Query(ctx,
			`SELECT `+alertColumns+` FROM alert WHERE status = 'active' AND clinic_id = $1
			ORDER BY created_at DESC, id`, *clinicID)
	}
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

func (r *repoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID, activeOnly bool) ([]*Alert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+alertColumns+` FROM alert
		WHERE clinic_id = $1 AND (NOT $2 OR status = 'active')
		ORDER BY created_at DESC, id`, clinicID, activeOnly)
	if err != nil {
		return nil, err
	}
	return collectAlerts(rows)
}

func (r *repoPG) Stats(ctx context.Context) (Stats, error) {
	s := Stats{ByCategory: map[Category]int{}}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'active' AND type = 'critical'),
			COUNT(*) FILTER (WHERE status = 'active' AND type = 'warning')
		FROM alert`).Scan(&s.Total, &s.Active, &s.Critical, &s.Warning)
	if err != nil {
		return Stats{}, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT category, COUNT(*) FROM alert WHERE status = 'active' GROUP BY category`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cat Category
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return Stats{}, err
		}
		s.ByCategory[cat] = n
	}
	return s, rows.Err()
}

func collectAlerts(rows pgx.Rows) ([]*Alert, error) {
	defer rows.Close()

	alerts := make([]*Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var (
		a    Alert
		data []byte
	)
	err := row.Scan(
		&a.ID, &a.Key, &a.ClinicID, &a.Type, &a.Category, &a.Title, &a.Message, &a.Action, &data,
		&a.Status, &a.Acknowledged, &a.Count, &a.CreatedAt, &a.UpdatedAt, &a.AcknowledgedAt, &a.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &a.Data); err != nil {
			return nil, fmt.Errorf("unmarshal alert data: %w", err)
		}
	}
	return &a, nil
}

type eventRepoPG struct {
	pool *pgxpool.Pool
}

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository {
	return &eventRepoPG{pool: pool}
}

func (r *eventRepoPG) Append(ctx context.Context, ev *UsageEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO usage_event (id, clinic_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.ClinicID, ev.Action, details, ev.Timestamp)
	return err
}

func (r *eventRepoPG) ListByClinic(ctx context.Context, clinicID uuid.UUID, limit int) ([]*UsageEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, clinic_id, action, details, created_at FROM usage_event
		WHERE clinic_id = $1 ORDER BY created_at DESC, id LIMIT $2`, clinicID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*UsageEvent, 0)
	for rows.Next() {
		var (
			ev      UsageEvent
			details []byte
		)
		if err := rows.Scan(&ev.ID, &ev.ClinicID, &ev.Action, &details, &ev.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			return nil, fmt.Errorf("unmarshal event details: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
