package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	partSuffix     = ".part"
	finishedSuffix = ".upload"
)

// Assembler persists chunks of in-progress uploads into per-session scratch
// files and decides when a session is complete.
type Assembler struct {
	store        SessionStore
	scratchDir   string
	tombstoneTTL time.Duration
	locks        *keyedMutex
	now          func() time.Time
}

// NewAssembler creates an Assembler writing under scratchDir. An empty
// scratchDir means a "filedrop" directory in the OS temp dir.
func NewAssembler(store SessionStore, scratchDir string, tombstoneTTL time.Duration) (*Assembler, error) {
	if scratchDir == "" {
		scratchDir = filepath.Join(os.TempDir(), "filedrop")
	}
	if err := os.MkdirAll(scratchDir, 0o700); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}

	return &Assembler{
		store:        store,
		scratchDir:   scratchDir,
		tombstoneTTL: tombstoneTTL,
		locks:        newKeyedMutex(),
		now:          time.Now,
	}, nil
}

// ScratchDir returns the directory holding session scratch files.
func (a *Assembler) ScratchDir() string {
	return a.scratchDir
}

// Receive writes chunk into the session identified by sessionID. It returns
// a Finished result for exactly one chunk per session: the one that
// completes the file.
func (a *Assembler) Receive(ctx context.Context, sessionID string, chunk IncomingChunk) (AssemblyResult, error) {
	unlock, err := a.lock(ctx, sessionID)
	if err != nil {
		return AssemblyResult{}, err
	}
	defer unlock()

	closed, err := a.store.IsCompleted(ctx, sessionID)
	if err != nil {
		return AssemblyResult{}, fmt.Errorf("check session %s: %w", sessionID, err)
	}
	if closed {
		return AssemblyResult{}, ErrSessionClosed
	}

	sess, err := a.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		sess = a.newSession(sessionID, chunk)
	case err != nil:
		return AssemblyResult{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if err := sess.admit(chunk); err != nil {
		return AssemblyResult{}, err
	}

	written, err := writePart(sess.ScratchPath, chunk)
	if err != nil {
		// The region may be half-written; forget whatever was recorded there.
		if _, had := sess.Parts[chunk.Offset]; had {
			sess.forget(chunk.Offset)
			sess.UpdatedAt = a.now()
			if saveErr := a.store.Save(ctx, sess); saveErr != nil {
				slog.Warn("failed to save session after bad chunk", "session_id", sessionID, "error", saveErr)
			}
		}
		return AssemblyResult{}, err
	}

	sess.record(chunk.Offset, written, a.now())

	if !sess.Complete(chunk.Last) {
		if err := a.store.Save(ctx, sess); err != nil {
			return AssemblyResult{}, fmt.Errorf("save session %s: %w", sessionID, err)
		}
		return AssemblyResult{Pending: sess.Progress()}, nil
	}

	file, err := a.finalize(ctx, sess)
	if err != nil {
		return AssemblyResult{}, err
	}
	return AssemblyResult{Finished: file}, nil
}

// Progress reports the state of a session. Completed sessions report 100.
func (a *Assembler) Progress(ctx context.Context, sessionID string) (*Progress, error) {
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	sess, err := a.store.Get(ctx, sessionID)
	if err == nil {
		return sess.Progress(), nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	closed, cerr := a.store.IsCompleted(ctx, sessionID)
	if cerr != nil {
		return nil, fmt.Errorf("check session %s: %w", sessionID, cerr)
	}
	if closed {
		return &Progress{SessionID: sessionID, Percent: 100}, nil
	}
	return nil, ErrSessionNotFound
}

// Abort discards a session and its scratch file. Unknown ids are ignored.
func (a *Assembler) Abort(ctx context.Context, sessionID string) error {
	unlock, err := a.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return a.discard(ctx, sessionID)
}

// lock serializes writers to one session: in-process first, then through the
// store when it is shared with other processes.
func (a *Assembler) lock(ctx context.Context, sessionID string) (func(), error) {
	local := a.locks.Lock(sessionID)

	locker, ok := a.store.(SessionLocker)
	if !ok {
		return local, nil
	}
	shared, err := locker.LockSession(ctx, sessionID)
	if err != nil {
		local()
		return nil, fmt.Errorf("lock session %s: %w", sessionID, err)
	}
	return func() {
		shared()
		local()
	}, nil
}

func (a *Assembler) discard(ctx context.Context, sessionID string) error {
	if err := a.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	scratch := a.scratchPath(sessionID)
	if err := os.Remove(scratch); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove scratch file: %w", err)
	}
	return nil
}

func (a *Assembler) newSession(id string, chunk IncomingChunk) *UploadSession {
	now := a.now()
	return &UploadSession{
		ID:          id,
		FileName:    chunk.FileName,
		Extension:   chunk.Extension,
		MimeType:    chunk.MimeType,
		Parts:       make(map[int64]int64),
		ScratchPath: a.scratchPath(id),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (a *Assembler) scratchPath(id string) string {
	return filepath.Join(a.scratchDir, id+partSuffix)
}

// finalize turns the session's scratch file into a FinishedFile, deletes the
// session record and tombstones its id.
func (a *Assembler) finalize(ctx context.Context, sess *UploadSession) (*FinishedFile, error) {
	dest := filepath.Join(a.scratchDir, sess.ID+finishedSuffix)
	if sess.Extension != "" {
		dest += "." + sess.Extension
	}
	if err := os.Rename(sess.ScratchPath, dest); err != nil {
		return nil, fmt.Errorf("finalize session %s: %w", sess.ID, err)
	}

	if err := a.store.MarkCompleted(ctx, sess.ID, a.tombstoneTTL); err != nil {
		slog.Warn("failed to tombstone session", "session_id", sess.ID, "error", err)
	}
	if err := a.store.Delete(ctx, sess.ID); err != nil {
		slog.Warn("failed to delete session", "session_id", sess.ID, "error", err)
	}

	info, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat finished file: %w", err)
	}

	return &FinishedFile{
		Path:       dest,
		ClientName: sess.FileName,
		Extension:  sess.Extension,
		MimeType:   SniffMimeType(dest, sess.Extension, sess.MimeType),
		Size:       info.Size(),
	}, nil
}

// admit reconciles the chunk's declared totals with the session and checks
// that the chunk fits.
func (s *UploadSession) admit(chunk IncomingChunk) error {
	if s.Protocol == "" {
		s.Protocol = chunk.Protocol
	}
	if s.FileName == "" && chunk.FileName != "" {
		s.FileName, s.Extension = chunk.FileName, chunk.Extension
	}

	if chunk.TotalSize > 0 {
		if s.TotalSize > 0 && s.TotalSize != chunk.TotalSize {
			return newValidationError("file", "declared total size changed from %d to %d", s.TotalSize, chunk.TotalSize)
		}
		s.TotalSize = chunk.TotalSize
	}
	if chunk.TotalParts > 0 {
		if s.TotalParts > 0 && s.TotalParts != chunk.TotalParts {
			return newValidationError("file", "declared part count changed from %d to %d", s.TotalParts, chunk.TotalParts)
		}
		s.TotalParts = chunk.TotalParts
	}

	if chunk.Offset < 0 || chunk.Size < 0 {
		return fmt.Errorf("%w: negative offset or size", ErrChunkOutOfRange)
	}
	end := chunk.Offset + chunk.Size
	if end < chunk.Offset {
		return fmt.Errorf("%w: offset %d plus size %d overflows", ErrChunkOutOfRange, chunk.Offset, chunk.Size)
	}
	if s.TotalSize > 0 && end > s.TotalSize {
		return fmt.Errorf("%w: bytes %d-%d exceed total %d", ErrChunkOutOfRange, chunk.Offset, end, s.TotalSize)
	}

	for off, size := range s.Parts {
		if off == chunk.Offset {
			continue
		}
		if chunk.Offset < off+size && off < end {
			return fmt.Errorf("%w: bytes %d-%d overlap part at %d", ErrChunkOutOfRange, chunk.Offset, end, off)
		}
	}
	return nil
}

func (s *UploadSession) record(offset, size int64, at time.Time) {
	s.BytesReceived += size - s.Parts[offset]
	s.Parts[offset] = size
	s.UpdatedAt = at
}

func (s *UploadSession) forget(offset int64) {
	s.BytesReceived -= s.Parts[offset]
	delete(s.Parts, offset)
}

// writePart copies the chunk body into path at the chunk's offset.
func writePart(path string, chunk IncomingChunk) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("open scratch file: %w", err)
	}

	n, err := io.Copy(io.NewOffsetWriter(f, chunk.Offset), chunk.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write chunk at offset %d: %w", chunk.Offset, err)
	}
	if n != chunk.Size {
		return n, newValidationError("file", "chunk declared %d bytes but carried %d", chunk.Size, n)
	}
	return n, nil
}
