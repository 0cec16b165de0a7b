package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"sort"
	"sync"
	"time"
)

// UploadSession is the persisted state of one in-progress chunked upload.
// Parts maps each received byte offset to the size written there, so a
// resent chunk replaces its earlier copy instead of being counted twice.
type UploadSession struct {
	ID            string          `json:"id"`
	Protocol      Protocol        `json:"protocol"`
	FileName      string          `json:"file_name"`
	Extension     string          `json:"extension"`
	MimeType      string          `json:"mime_type,omitempty"`
	TotalSize     int64           `json:"total_size"`
	TotalParts    int             `json:"total_parts"`
	BytesReceived int64           `json:"bytes_received"`
	Parts         map[int64]int64 `json:"parts"`
	ScratchPath   string          `json:"scratch_path"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SessionID derives a stable, file-name-safe session id from the upload
// field and the client's own upload identifier.
func SessionID(field, clientID string) string {
	sum := sha256.Sum256([]byte(field + "\x00" + clientID))
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy of s.
func (s *UploadSession) Clone() *UploadSession {
	c := *s
	c.Parts = maps.Clone(s.Parts)
	if c.Parts == nil {
		c.Parts = make(map[int64]int64)
	}
	return &c
}

// Offsets returns the received part offsets in ascending order.
func (s *UploadSession) Offsets() []int64 {
	offsets := make([]int64, 0, len(s.Parts))
	for off := range s.Parts {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// Complete reports whether every byte of the file has arrived. A declared
// total size wins; otherwise a declared part count is used; with neither,
// only the client's explicit last-chunk signal can complete the session.
func (s *UploadSession) Complete(lastSignal bool) bool {
	switch {
	case s.TotalSize > 0:
		return s.BytesReceived == s.TotalSize
	case s.TotalParts > 0:
		return len(s.Parts) == s.TotalParts
	default:
		return lastSignal && len(s.Parts) > 0
	}
}

// Progress snapshots the session for a pending response.
func (s *UploadSession) Progress() *Progress {
	return &Progress{
		SessionID:     s.ID,
		Protocol:      s.Protocol,
		BytesReceived: s.BytesReceived,
		TotalBytes:    s.TotalSize,
		PartsReceived: len(s.Parts),
		TotalParts:    s.TotalParts,
		Percent:       Percentage(s),
		UpdatedAt:     s.UpdatedAt,
	}
}

// SessionStore persists upload sessions between chunk requests. Callers
// serialize access per session id; implementations only need to be safe for
// concurrent use across different ids. A store shared between processes
// should also implement SessionLocker.
type SessionStore interface {
	// Get returns the session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*UploadSession, error)
	Save(ctx context.Context, s *UploadSession) error
	Delete(ctx context.Context, id string) error

	// MarkCompleted remembers id as finalized for ttl so late chunks are rejected.
	MarkCompleted(ctx context.Context, id string, ttl time.Duration) error
	IsCompleted(ctx context.Context, id string) (bool, error)
}

// SessionLocker is implemented by stores that can serialize writers to one
// session across every Assembler sharing the store. LockSession blocks until
// id is held or ctx is done.
type SessionLocker interface {
	LockSession(ctx context.Context, id string) (unlock func(), err error)
}

// Pruner is implemented by stores that need the janitor to expire entries.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore is an in-process SessionStore. It is the default for single
// instance deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	locks      *keyedMutex
	sessions   map[string]*UploadSession
	tombstones map[string]time.Time // id -> expiry
	now        func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:      newKeyedMutex(),
		sessions:   make(map[string]*UploadSession),
		tombstones: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *UploadSession) error {
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) MarkCompleted(_ context.Context, id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.tombstones[id] = m.now().Add(ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) IsCompleted(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	expiry, ok := m.tombstones[id]
	m.mu.RUnlock()
	return ok && m.now().Before(expiry), nil
}

// LockSession serializes Assemblers sharing this store.
func (m *MemoryStore) LockSession(_ context.Context, id string) (func(), error) {
	return m.locks.Lock(id), nil
}

// Prune drops expired tombstones.
func (m *MemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, expiry := range m.tombstones {
		if !now.Before(expiry) {
			delete(m.tombstones, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
