package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJanitor_Sweep(t *testing.T) {
	a, store := newTestAssembler(t)
	ctx := context.Background()
	data := randomBytes(100, 31)

	_, err := a.Receive(ctx, "stale", chunkOf(data, 0, 10, 0, false))
	require.NoError(t, err)
	_, err = a.Receive(ctx, "fresh", chunkOf(data, 0, 10, 0, false))
	require.NoError(t, err)

	leftover := filepath.Join(a.ScratchDir(), "crashed"+finishedSuffix+".jpg")
	require.NoError(t, os.WriteFile(leftover, []byte("x"), 0o600))
	unrelated := filepath.Join(a.ScratchDir(), "README")
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o600))

	old := time.Now().Add(-2 * time.Hour)
	for _, p := range []string{a.scratchPath("stale"), leftover, unrelated} {
		require.NoError(t, os.Chtimes(p, old, old))
	}
	sess, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	sess.UpdatedAt = old
	require.NoError(t, store.Save(ctx, sess))

	require.NoError(t, store.MarkCompleted(ctx, "done", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	stats, err := NewJanitor(a, time.Hour).Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, SweepStats{Sessions: 1, Leftovers: 1, Tombstones: 1}, stats)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoFileExists(t, a.scratchPath("stale"))
	assert.NoFileExists(t, leftover)

	_, err = store.Get(ctx, "fresh")
	assert.NoError(t, err)
	assert.FileExists(t, a.scratchPath("fresh"))
	assert.FileExists(t, unrelated)
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	a, _ := newTestAssembler(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewJanitor(a, time.Hour).Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
