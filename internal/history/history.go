// Package history records committed uploads in PostgreSQL.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/filedrop/internal/core"
)

// DefaultLimit is the page size of Recent when none is given.
const DefaultLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS upload_history (
	id          UUID PRIMARY KEY,
	disk        TEXT NOT NULL,
	path        TEXT NOT NULL,
	client_name TEXT NOT NULL,
	mime_type   TEXT,
	size_bytes  BIGINT NOT NULL,
	ip_address  TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS upload_history_created_at_idx ON upload_history (created_at DESC);
`

const insertEntry = `
INSERT INTO upload_history (id, disk, path, client_name, mime_type, size_bytes, ip_address, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectRecent = `
SELECT id, disk, path, client_name, mime_type, size_bytes, ip_address, created_at
FROM upload_history
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`

// DB is the subset of *pgxpool.Pool used by a Recorder.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one committed upload.
type Entry struct {
	ID         string    `json:"id"`
	Disk       string    `json:"disk"`
	Path       string    `json:"path"`
	ClientName string    `json:"clientName"`
	MimeType   string    `json:"mimeType,omitempty"`
	Size       int64     `json:"size"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Recorder writes history entries.
type Recorder struct {
	db DB
}

// NewRecorder creates a Recorder on db.
func NewRecorder(db DB) *Recorder {
	return &Recorder{db: db}
}

// EnsureSchema creates the history table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create upload_history: %w", err)
	}
	return nil
}

// Hook returns a lifecycle hook that records every stored file. Failures
// are logged and never affect the upload.
func (r *Recorder) Hook() core.Hook {
	return func(ctx context.Context, ev core.LifecycleEvent) {
		if ev.Kind != core.EventUploaded {
			return
		}
		if err := r.Record(ctx, ev); err != nil {
			slog.ErrorContext(ctx, "failed to record upload history", "path", ev.Path, "error", err)
		}
	}
}

// Record inserts one entry for ev.
func (r *Recorder) Record(ctx context.Context, ev core.LifecycleEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := r.db.Exec(ctx, insertEntry,
		uuid.New(),
		ev.Disk,
		ev.Path,
		ev.File.ClientName,
		toPgText(ev.File.MimeType),
		ev.File.Size,
		toPgText(core.ClientIPFromContext(ctx)),
		pgtype.Timestamptz{Time: at, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("insert upload_history: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (r *Recorder) Recent(ctx context.Context, limit, offset int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, selectRecent, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query upload_history: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e       Entry
			id      pgtype.UUID
			mime    pgtype.Text
			ip      pgtype.Text
			created pgtype.Timestamptz
		)
		if err := row.Scan(&id, &e.Disk, &e.Path, &e.ClientName, &mime, &e.Size, &ip, &created); err != nil {
			return Entry{}, err
		}
		if id.Valid {
			e.ID = uuid.UUID(id.Bytes).String()
		}
		e.MimeType = mime.String
		e.IPAddress = ip.String
		e.CreatedAt = created.Time
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan upload_history: %w", err)
	}
	return entries, nil
}

func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
