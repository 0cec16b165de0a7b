package core

// janitor.go removes abandoned upload sessions.
//
// A chunked upload whose client never sends the remaining parts leaves a
// scratch file and a session record behind. The janitor runs periodically
// and removes both once a session has been idle longer than the configured
// timeout. It also removes finished scratch files left by a crash between
// assembly and commit. Failures are logged and never stop the loop.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SweepStats summarizes one janitor pass.
type SweepStats struct {
	Sessions   int // abandoned sessions removed
	Leftovers  int // finished scratch files removed
	Tombstones int // expired tombstones pruned
}

// Janitor expires idle sessions of an Assembler.
type Janitor struct {
	assembler   *Assembler
	idleTimeout time.Duration
}

// NewJanitor creates a Janitor removing sessions idle longer than idleTimeout.
func NewJanitor(a *Assembler, idleTimeout time.Duration) *Janitor {
	return &Janitor{assembler: a, idleTimeout: idleTimeout}
}

// Run sweeps immediately, then every interval, until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	slog.Info("session janitor started",
		"idle_timeout", j.idleTimeout,
		"interval", interval,
		"scratch_dir", j.assembler.ScratchDir(),
	)

	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session janitor stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *Janitor) runOnce(ctx context.Context) {
	start := time.Now()
	stats, err := j.Sweep(ctx)
	if err != nil {
		slog.Error("session sweep failed", "error", err)
		return
	}
	slog.Info("session sweep completed",
		"sessions_removed", stats.Sessions,
		"leftovers_removed", stats.Leftovers,
		"tombstones_pruned", stats.Tombstones,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Sweep performs one pass over the scratch directory.
func (j *Janitor) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	a := j.assembler

	entries, err := os.ReadDir(a.scratchDir)
	if err != nil {
		return stats, fmt.Errorf("read scratch dir: %w", err)
	}

	cutoff := a.now().Add(-j.idleTimeout)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if id, ok := strings.CutSuffix(name, partSuffix); ok {
			removed, err := j.expireSession(ctx, id, cutoff)
			if err != nil {
				slog.Warn("failed to expire session", "session_id", id, "error", err)
				continue
			}
			if removed {
				stats.Sessions++
			}
			continue
		}

		if !strings.Contains(name, finishedSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(a.scratchDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove leftover", "file", name, "error", err)
			continue
		}
		stats.Leftovers++
	}

	if p, ok := a.store.(Pruner); ok {
		n, err := p.Prune(ctx, a.now())
		if err != nil {
			return stats, fmt.Errorf("prune tombstones: %w", err)
		}
		stats.Tombstones = n
	}

	return stats, nil
}

// expireSession removes the session under its lock if it is still idle.
func (j *Janitor) expireSession(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	a := j.assembler
	unlock, err := a.lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	lastActivity := time.Time{}
	if info, err := os.Stat(a.scratchPath(id)); err == nil {
		lastActivity = info.ModTime()
	}
	sess, err := a.store.Get(ctx, id)
	switch {
	case err == nil:
		if sess.UpdatedAt.After(lastActivity) {
			lastActivity = sess.UpdatedAt
		}
	case !errors.Is(err, ErrSessionNotFound):
		return false, err
	}

	if lastActivity.After(cutoff) {
		return false, nil
	}
	if err := a.discard(ctx, id); err != nil {
		return false, err
	}
	slog.Debug("expired idle session", "session_id", id, "last_activity", lastActivity)
	return true, nil
}
