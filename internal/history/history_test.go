package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/filedrop/internal/core"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func uploadedEvent() core.LifecycleEvent {
	return core.LifecycleEvent{
		Kind: core.EventUploaded,
		Disk: "public",
		Path: "img/cat (1).png",
		File: core.FinishedFile{ClientName: "cat.png", MimeType: "image/png", Size: 2048},
		At:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHookRecordsUploaded(t *testing.T) {
	db := &fakeDB{}
	ctx := core.ContextWithClientIP(context.Background(), "203.0.113.7")

	NewRecorder(db).Hook()(ctx, uploadedEvent())

	require.Len(t, db.calls, 1)
	args := db.calls[0].args
	require.Len(t, args, 8)
	assert.Equal(t, "public", args[1])
	assert.Equal(t, "img/cat (1).png", args[2])
	assert.Equal(t, "cat.png", args[3])
	assert.Equal(t, pgtype.Text{String: "image/png", Valid: true}, args[4])
	assert.Equal(t, int64(2048), args[5])
	assert.Equal(t, pgtype.Text{String: "203.0.113.7", Valid: true}, args[6])
}

func TestHookIgnoresUploading(t *testing.T) {
	db := &fakeDB{}
	ev := uploadedEvent()
	ev.Kind = core.EventUploading

	NewRecorder(db).Hook()(context.Background(), ev)
	assert.Empty(t, db.calls)
}

func TestHookSwallowsErrors(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}

	assert.NotPanics(t, func() {
		NewRecorder(db).Hook()(context.Background(), uploadedEvent())
	})
	assert.Len(t, db.calls, 1)
}

func TestRecordWithoutClientIP(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewRecorder(db).Record(context.Background(), uploadedEvent()))
	assert.Equal(t, pgtype.Text{}, db.calls[0].args[6])
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewRecorder(db).EnsureSchema(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS upload_history")

	db.err = errors.New("permission denied")
	assert.ErrorContains(t, NewRecorder(db).EnsureSchema(context.Background()), "permission denied")
}
