package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"videoLabeler/worker/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcode_jobs (
	filename      TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	frames_done   INTEGER,
	total_frames  INTEGER,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at  TIMESTAMPTZ
)`

// PostgresRepo keeps a write-only history of transcode jobs. It is never
// read back by the server.
type PostgresRepo struct {
	db *pgxpool.Pool
}

func Connect(ctx context.Context, url string) (*PostgresRepo, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresRepo(pool), nil
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// RecordStatus upserts the job row. A new ACTIVE status restarts the row,
// terminal statuses stamp completed_at.
func (r *PostgresRepo) RecordStatus(ctx context.Context, st registry.TaskStatus) error {
	query, args := upsertQuery(st)
	_, err := r.db.Exec(ctx, query, args...)
	return err
}

func upsertQuery(st registry.TaskStatus) (string, []any) {
	errMsg := ""
	if st.Error != nil {
		errMsg = *st.Error
	}

	query := `
		INSERT INTO transcode_jobs (filename, status, frames_done, total_frames, error_message)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (filename) DO UPDATE
		SET status = EXCLUDED.status,
			frames_done = EXCLUDED.frames_done,
			total_frames = EXCLUDED.total_frames,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()`

	if st.TranscodeStatus.Terminal() {
		query += `,
			completed_at = NOW()`
	} else {
		query += `,
			started_at = NOW(),
			completed_at = NULL`
	}

	return query, []any{st.Filename, string(st.TranscodeStatus), st.FramesDone, st.TotalFrames, errMsg}
}

func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresRepo) Close() {
	r.db.Close()
}
