package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"karina/bots/Karina/reminder"
)

// pool is the part of pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Postgres stores reminders in PostgreSQL.
type Postgres struct {
	pool pool
}

func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	// connection string should look like postgresql://localhost:5432/karina?user=karina&password=passwd
	p, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating pool")
	}
	return &Postgres{pool: p}, nil
}

func (d *Postgres) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

func (d *Postgres) Close() error {
	d.pool.Close()
	return nil
}

func (d *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range statements(postgresSchema) {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed applying schema")
		}
	}
	return nil
}

const columns = `id, category, message, scheduled_time, escalation_delays, severity, active, confirmed, deferred_until, context, updated_at`

func (d *Postgres) Upsert(ctx context.Context, r *reminder.Reminder) error {
	w, err := toRow(r)
	if err != nil {
		return err
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = clk.Now()
	}

	_, err = d.pool.Exec(ctx, `INSERT INTO reminders (`+columns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    category = EXCLUDED.category,
    message = EXCLUDED.message,
    scheduled_time = EXCLUDED.scheduled_time,
    escalation_delays = EXCLUDED.escalation_delays,
    severity = EXCLUDED.severity,
    active = EXCLUDED.active,
    confirmed = EXCLUDED.confirmed,
    deferred_until = EXCLUDED.deferred_until,
    context = EXCLUDED.context,
    updated_at = EXCLUDED.updated_at`,
		w.ID, w.Category, w.Message, w.ScheduledTime, w.Delays, w.Severity,
		w.Active, w.Confirmed, w.DeferredUntil, w.Context, w.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "failed upserting reminder %s", r.ID)
	}
	return nil
}

func (d *Postgres) ListActive(ctx context.Context) ([]*reminder.Reminder, error) {
	rows, err := d.pool.Query(ctx, `SELECT `+columns+` FROM reminders WHERE active ORDER BY scheduled_time`)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying active reminders")
	}
	defer rows.Close()

	var res []*reminder.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed reading active reminders")
	}
	return res, nil
}

func (d *Postgres) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	r, err := scanReminder(d.pool.QueryRow(ctx, `SELECT `+columns+` FROM reminders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (d *Postgres) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying settings")
	}
	defer rows.Close()

	res := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, errors.Wrap(err, "failed scanning setting")
		}
		res[name] = value
	}
	return res, errors.Wrap(rows.Err(), "failed reading settings")
}

func (d *Postgres) SaveSetting(ctx context.Context, name, value string) error {
	_, err := d.pool.Exec(ctx, `INSERT INTO settings (name, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		name, value, clk.Now())
	return errors.Wrapf(err, "failed saving setting %s", name)
}

func scanReminder(s pgx.Row) (*reminder.Reminder, error) {
	var w row
	err := s.Scan(&w.ID, &w.Category, &w.Message, &w.ScheduledTime, &w.Delays, &w.Severity,
		&w.Active, &w.Confirmed, &w.DeferredUntil, &w.Context, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed scanning reminder")
	}
	return w.toReminder()
}

func statements(schema string) []string {
	var res []string
	for _, s := range strings.Split(schema, ";") {
		if s = strings.TrimSpace(s); s != "" {
			res = append(res, s)
		}
	}
	return res
}
