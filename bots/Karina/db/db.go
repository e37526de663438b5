// Package db implements the durable reminder store on PostgreSQL and SQLite.
package db

import (
	"context"
	_ "embed"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"

	"karina/bot"
	"karina/bots/Karina/reminder"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

var (
	//go:embed schema/postgres.sql
	postgresSchema string

	//go:embed schema/sqlite.sql
	sqliteSchema string

	clk = clock.New()

	errUnknownDriver = errors.New("unknown database driver")
)

type Config struct {
	Driver        string
	ConnStr       string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
}

// Database is a reminder store with a schema to maintain.
type Database interface {
	reminder.Store
	Migrate(ctx context.Context) error
	Close() error
}

type memory struct {
	*reminder.MemoryStore
}

func (memory) Migrate(context.Context) error { return nil }
func (memory) Close() error                  { return nil }

// Open connects to the configured database, retrying the first contact.
func Open(ctx context.Context, cfg Config) (Database, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	var (
		d    Database
		ping func(ctx context.Context) error
	)
	switch cfg.Driver {
	case DriverPostgres, "":
		p, err := NewPostgres(ctx, cfg.ConnStr)
		if err != nil {
			return nil, err
		}
		d, ping = p, p.Ping
	case DriverSQLite:
		s, err := NewSQLite(cfg.ConnStr)
		if err != nil {
			return nil, err
		}
		d, ping = s, s.Ping
	case DriverMemory:
		return memory{reminder.NewMemoryStore()}, nil
	default:
		return nil, errors.Wrap(errUnknownDriver, cfg.Driver)
	}

	var lastErr error
	ok := bot.RobustExecute(ctx, cfg.RetryAttempts, cfg.RetryDelay, func() bool {
		pctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		lastErr = ping(pctx)
		return lastErr == nil
	})
	if !ok {
		_ = d.Close()
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return nil, errors.Wrap(lastErr, "failed connecting to database")
	}
	return d, nil
}
