package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/docker/go-units"
)

// FinalizeTimeout bounds post-processing plus the storage write of one file.
var FinalizeTimeout = 10 * time.Minute

// Outcome is the result of a best-effort post-processing step. Err is for
// logs only and never changes the upload's result.
type Outcome struct {
	Replaced bool
	Err      error
}

// PostProcessor optionally rewrites a finished file in place.
type PostProcessor interface {
	Process(ctx context.Context, file FinishedFile) Outcome
}

// Result is the outcome of one upload request. Exactly one of Pending and
// Commit is set.
type Result struct {
	SessionID string
	Protocol  Protocol
	Pending   *Progress
	Commit    *CommitResult
}

// Response renders the client-facing body.
func (r Result) Response() UploadResponse {
	if r.Pending != nil {
		return PendingResponse(r.Pending.Percent)
	}
	return FinishedResponse(*r.Commit)
}

// UploaderDeps wires an Uploader. PostProcessor may be nil.
type UploaderDeps struct {
	Receiver               *Receiver
	Assembler              *Assembler
	PostProcessor          PostProcessor
	Committer              *Committer
	Limiter                *FinalizeLimiter
	LogPostProcessFailures bool
}

// Uploader threads one upload request through receive, assemble,
// post-process and commit.
type Uploader struct {
	receiver        *Receiver
	assembler       *Assembler
	post            PostProcessor
	committer       *Committer
	limiter         *FinalizeLimiter
	logPostFailures bool
}

// NewUploader creates an Uploader from its collaborators.
func NewUploader(d UploaderDeps) *Uploader {
	limiter := d.Limiter
	if limiter == nil {
		limiter = NewFinalizeLimiter(0, 0)
	}
	return &Uploader{
		receiver:        d.Receiver,
		assembler:       d.Assembler,
		post:            d.PostProcessor,
		committer:       d.Committer,
		limiter:         limiter,
		logPostFailures: d.LogPostProcessFailures,
	}
}

// Handle processes one upload request. A chunk that leaves its file
// incomplete yields a pending Result; the request that completes the file
// (or a single-shot upload) yields a committed Result.
func (u *Uploader) Handle(r *http.Request, field string) (Result, error) {
	ctx := r.Context()

	rec, err := u.receiver.Receive(r, field)
	if err != nil {
		return Result{}, err
	}
	defer rec.Close()

	res := Result{SessionID: rec.SessionID, Protocol: rec.Protocol}
	file := rec.File

	if rec.Chunk != nil {
		assembled, err := u.assembler.Receive(ctx, rec.SessionID, *rec.Chunk)
		if err != nil {
			return res, fmt.Errorf("assemble session %s: %w", rec.SessionID, err)
		}
		if !assembled.Done() {
			res.Pending = assembled.Pending
			slog.DebugContext(ctx, "chunk stored",
				"session_id", rec.SessionID,
				"protocol", rec.Protocol,
				"offset", rec.Chunk.Offset,
				"percent", assembled.Pending.Percent,
			)
			return res, nil
		}
		file = assembled.Finished
	}
	defer func() {
		if err := file.Remove(); err != nil {
			slog.Warn("failed to remove finished scratch file", "path", file.Path, "error", err)
		}
	}()

	commit, err := u.finalize(ctx, rec.Request, *file)
	if err != nil {
		return res, err
	}
	res.Commit = &commit
	return res, nil
}

// finalize post-processes and commits a finished file under the limiter.
func (u *Uploader) finalize(ctx context.Context, req UploadRequest, file FinishedFile) (CommitResult, error) {
	if err := u.limiter.Acquire(ctx); err != nil {
		return CommitResult{}, err
	}
	defer u.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, FinalizeTimeout)
	defer cancel()

	start := time.Now()
	if u.post != nil {
		out := u.post.Process(ctx, file)
		switch {
		case out.Err != nil && u.logPostFailures:
			slog.WarnContext(ctx, "post-processing skipped", "file", file.ClientName, "error", out.Err)
		case out.Replaced:
			if info, err := os.Stat(file.Path); err == nil {
				slog.DebugContext(ctx, "post-processing replaced file",
					"file", file.ClientName,
					"before", units.HumanSize(float64(file.Size)),
					"after", units.HumanSize(float64(info.Size())),
				)
				file.Size = info.Size()
			}
			file.MimeType = SniffMimeType(file.Path, file.Extension, file.MimeType)
		}
	}

	commit, err := u.committer.Commit(ctx, CommitRequest{
		Field:        req.Field,
		DeclaredPath: req.DeclaredPath,
		Lang:         LanguageFromContext(ctx),
	}, file)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			slog.ErrorContext(ctx, "commit failed", "file", file.ClientName, "error", err)
		}
		return CommitResult{}, err
	}

	slog.InfoContext(ctx, "upload committed",
		"path", commit.Path,
		"disk", commit.Disk,
		"size", units.HumanSize(float64(file.Size)),
		"mime", file.MimeType,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return commit, nil
}

// Progress reports the state of a chunked session.
func (u *Uploader) Progress(ctx context.Context, sessionID string) (*Progress, error) {
	return u.assembler.Progress(ctx, sessionID)
}

// Abort discards an in-progress session.
func (u *Uploader) Abort(ctx context.Context, sessionID string) error {
	return u.assembler.Abort(ctx, sessionID)
}

// Limiter exposes the finalize limiter for health reporting and shutdown.
func (u *Uploader) Limiter() *FinalizeLimiter {
	return u.limiter
}
