package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/config"
	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS archive_runs (
	id            BIGSERIAL PRIMARY KEY,
	mode          TEXT        NOT NULL,
	params        TEXT        NOT NULL DEFAULT '',
	status        TEXT        NOT NULL,
	attempted     INTEGER     NOT NULL DEFAULT 0,
	fetched       INTEGER     NOT NULL DEFAULT 0,
	skipped       INTEGER     NOT NULL DEFAULT 0,
	failed        INTEGER     NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	error_message TEXT
);

CREATE TABLE IF NOT EXISTS archive_items (
	id              BIGSERIAL PRIMARY KEY,
	run_id          BIGINT      NOT NULL REFERENCES archive_runs(id) ON DELETE CASCADE,
	url             TEXT        NOT NULL,
	filename        TEXT        NOT NULL,
	kind            TEXT        NOT NULL,
	outcome         TEXT        NOT NULL,
	local_path      TEXT,
	size_bytes      BIGINT,
	extracted_count INTEGER     NOT NULL DEFAULT 0,
	uploaded_keys   TEXT        NOT NULL DEFAULT '',
	error_message   TEXT,
	duration_ms     BIGINT      NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_archive_items_run_id ON archive_items(run_id);
`

// DB wraps the connection pool with a semaphore limiting concurrent operations.
type DB struct {
	*sqlx.DB
	sem *semaphore.Weighted
}

// Postgres is a Recorder backed by PostgreSQL.
type Postgres struct {
	db     *DB
	logger zerolog.Logger
}

// New returns a Postgres ledger when a database URL is configured, Noop otherwise.
func New(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Recorder, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return Noop{}, nil
	}
	pg, err := OpenPostgres(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// OpenPostgres connects through the pgx stdlib driver and creates the schema.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Postgres, error) {
	conn, err := sqlx.ConnectContext(ctx, "pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect ledger database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = 4
	}

	p := &Postgres{
		db:     &DB{DB: conn, sem: semaphore.NewWeighted(limit)},
		logger: logger,
	}
	if err := p.EnsureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the ledger tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	return p.db.WithTx(ctx, p.logger, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create ledger schema: %w", err)
		}
		return nil
	})
}

// WithTx executes a function within a transaction
func (db *DB) WithTx(ctx context.Context, logger zerolog.Logger, fn func(tx *sql.Tx) error) error {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer db.sem.Release(1)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx.Tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

func (p *Postgres) StartRun(ctx context.Context, mode, params string) (int64, error) {
	query := `
		INSERT INTO archive_runs (mode, params, status, started_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	err := p.db.WithTx(ctx, p.logger, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, query, mode, params, string(StatusRunning), time.Now().UTC()).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

func (p *Postgres) RecordItem(ctx context.Context, runID int64, item domain.ItemResult) error {
	query := `
		INSERT INTO archive_items (
			run_id, url, filename, kind, outcome, local_path,
			size_bytes, extracted_count, uploaded_keys, error_message, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var (
		localPath sql.NullString
		size      sql.NullInt64
		errMsg    sql.NullString
	)
	if item.Archive != nil {
		localPath = sql.NullString{String: item.Archive.Path, Valid: true}
		size = sql.NullInt64{Int64: item.Archive.SizeBytes, Valid: true}
	}
	if item.Error != "" {
		errMsg = sql.NullString{String: item.Error, Valid: true}
	}

	keys := make([]string, 0, len(item.Uploaded))
	for _, target := range item.Uploaded {
		keys = append(keys, target.Key)
	}

	return p.db.WithTx(ctx, p.logger, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			runID, item.Ref.URL, item.Ref.Filename, string(item.Ref.Kind), string(item.Outcome),
			localPath, size, len(item.Extracted), strings.Join(keys, ","), errMsg,
			item.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("record item %s: %w", item.Ref.Filename, err)
		}
		return nil
	})
}

func (p *Postgres) FinishRun(ctx context.Context, runID int64, totals Totals, runErr error) error {
	query := `
		UPDATE archive_runs
		SET status = $1, attempted = $2, fetched = $3, skipped = $4,
		    failed = $5, completed_at = $6, error_message = $7
		WHERE id = $8
	`

	status := StatusCompleted
	var errMsg sql.NullString
	if runErr != nil {
		status = StatusFailed
		errMsg = sql.NullString{String: runErr.Error(), Valid: true}
	}

	return p.db.WithTx(ctx, p.logger, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			string(status), totals.Attempted, totals.Fetched, totals.Skipped,
			totals.Failed, time.Now().UTC(), errMsg, runID,
		)
		if err != nil {
			return fmt.Errorf("finish run %d: %w", runID, err)
		}
		return nil
	})
}

func (p *Postgres) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, mode, params, status, attempted, fetched, skipped, failed,
		       started_at, completed_at, error_message
		FROM archive_runs
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`

	if err := p.db.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer p.db.sem.Release(1)

	runs := make([]Run, 0)
	if err := p.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	return runs, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

var _ Recorder = (*Postgres)(nil)
