package statuslog

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresRecorder appends entries to the status_log table.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect status log database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping status log database: %w", err)
	}

	if err := migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresRecorder{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	logger.Info("Applying status log migrations")
	if err := goose.UpContext(runCtx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Record implements Recorder.
func (r *PostgresRecorder) Record(ctx context.Context, e Entry) error {
	const query = `INSERT INTO status_log (day, recorded_at, service, status, alert_sent, alert_type, recipients)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	recipients := e.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	day := time.Date(e.Timestamp.Year(), e.Timestamp.Month(), e.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
	if _, err := r.pool.Exec(ctx, query, day, e.Timestamp, e.Service, e.Status, e.AlertSent, e.Channel, recipients); err != nil {
		return fmt.Errorf("insert status log row: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
