package core

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventKind names a point in the commit lifecycle.
type EventKind string

const (
	// EventUploading fires before the storage write with the provisional path.
	EventUploading EventKind = "uploading"

	// EventUploaded fires after the storage write with the stored path.
	EventUploaded EventKind = "uploaded"
)

// LifecycleEvent describes a commit lifecycle transition.
type LifecycleEvent struct {
	Kind    EventKind
	Backend StorageBackend
	Disk    string
	Path    string
	File    FinishedFile
	At      time.Time
}

// Hook observes lifecycle events. Hooks run synchronously on the request
// goroutine and cannot fail the commit.
type Hook func(ctx context.Context, ev LifecycleEvent)

// Hooks is an ordered list of subscribers. The zero value is ready to use.
type Hooks struct {
	mu    sync.RWMutex
	hooks []Hook
}

// Subscribe appends fn to the list.
func (h *Hooks) Subscribe(fn Hook) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Fire calls every hook in subscription order. A panicking hook is logged
// and skipped.
func (h *Hooks) Fire(ctx context.Context, ev LifecycleEvent) {
	h.mu.RLock()
	hooks := make([]Hook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.RUnlock()

	for _, fn := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("lifecycle hook panicked", "event", ev.Kind, "path", ev.Path, "panic", r)
				}
			}()
			fn(ctx, ev)
		}()
	}
}
