package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"karina/bots/Karina/reminder"
)

const timeLayout = time.RFC3339Nano

// SQLite stores reminders in a single SQLite file. Times are kept as UTC
// RFC 3339 text.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed opening sqlite")
	}
	// one writer; also keeps ":memory:" databases on a single connection
	d.SetMaxOpenConns(1)
	return &SQLite{db: d}, nil
}

func (d *SQLite) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *SQLite) Close() error {
	return d.db.Close()
}

func (d *SQLite) Migrate(ctx context.Context) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range statements(sqliteSchema) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed applying schema")
		}
	}
	return tx.Commit()
}

func (d *SQLite) Upsert(ctx context.Context, r *reminder.Reminder) error {
	w, err := toRow(r)
	if err != nil {
		return err
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = clk.Now()
	}

	var deferred sql.NullString
	if w.DeferredUntil != nil {
		deferred = sql.NullString{String: formatTime(*w.DeferredUntil), Valid: true}
	}

	_, err = d.db.ExecContext(ctx, `INSERT INTO reminders (`+columns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    category = excluded.category,
    message = excluded.message,
    scheduled_time = excluded.scheduled_time,
    escalation_delays = excluded.escalation_delays,
    severity = excluded.severity,
    active = excluded.active,
    confirmed = excluded.confirmed,
    deferred_until = excluded.deferred_until,
    context = excluded.context,
    updated_at = excluded.updated_at`,
		w.ID, w.Category, w.Message, formatTime(w.ScheduledTime), string(w.Delays), w.Severity,
		w.Active, w.Confirmed, deferred, string(w.Context), formatTime(w.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed upserting reminder %s", r.ID)
	}
	return nil
}

func (d *SQLite) ListActive(ctx context.Context) ([]*reminder.Reminder, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+columns+` FROM reminders WHERE active = 1 ORDER BY scheduled_time`)
	if err != nil {
		return nil, errors.Wrap(err, "failed querying active reminders")
	}
	defer rows.Close()

	var res []*reminder.Reminder
	for rows.Next() {
		r, err := scanSQLite(rows)
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

func (d *SQLite) Get(ctx context.Context, id string) (*reminder.Reminder, error) {
	r, err := scanSQLite(d.db.QueryRowContext(ctx, `SELECT `+columns+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (d *SQLite) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT name, value FROM settings`)
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

func (d *SQLite) SaveSetting(ctx context.Context, name, value string) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, formatTime(clk.Now()))
	return errors.Wrapf(err, "failed saving setting %s", name)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(s scanner) (*reminder.Reminder, error) {
	var (
		w                  row
		scheduled, updated string
		delays, ctxJSON    string
		deferred           sql.NullString
	)
	err := s.Scan(&w.ID, &w.Category, &w.Message, &scheduled, &delays, &w.Severity,
		&w.Active, &w.Confirmed, &deferred, &ctxJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed scanning reminder")
	}

	if w.ScheduledTime, err = parseTime(scheduled); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if deferred.Valid {
		t, err := parseTime(deferred.String)
		if err != nil {
			return nil, err
		}
		w.DeferredUntil = &t
	}
	w.Delays = []byte(delays)
	w.Context = []byte(ctxJSON)

	return w.toReminder()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	return t, errors.Wrapf(err, "bad time %q", s)
}
