package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Message keys understood by a Translator.
const (
	MsgUploadSuccess    = "messages.file.upload"
	MsgUploadValidation = "errors.file.upload_validation"
)

// StorageBackend is the durable destination of committed files.
type StorageBackend interface {
	// PutFileAs stores file under folder as name and returns the stored
	// path, which may differ from folder/name when the backend renames on
	// collision.
	PutFileAs(ctx context.Context, folder string, file FinishedFile, name string) (string, error)
	Delete(ctx context.Context, path string) error
	Disk() string
}

// Translator resolves a message key in a language. Unknown languages fall
// back to the translator's default.
type Translator interface {
	Translate(lang, key string) string
}

// CommitRequest is what the committer needs from the original request.
type CommitRequest struct {
	Field        string
	DeclaredPath string
	Lang         string
}

// Committer validates a finished file and writes it to storage.
type Committer struct {
	backend    StorageBackend
	validator  Validator
	hooks      *Hooks
	translator Translator
	now        func() time.Time
}

// NewCommitter wires a Committer. hooks may be nil.
func NewCommitter(backend StorageBackend, validator Validator, hooks *Hooks, translator Translator) *Committer {
	if hooks == nil {
		hooks = &Hooks{}
	}
	return &Committer{
		backend:    backend,
		validator:  validator,
		hooks:      hooks,
		translator: translator,
		now:        time.Now,
	}
}

// Commit runs the strict validation, fires the lifecycle hooks around the
// storage write and returns the localized success message.
func (c *Committer) Commit(ctx context.Context, req CommitRequest, file FinishedFile) (CommitResult, error) {
	err := c.validator.Validate(ctx, UploadRequest{
		Field:        req.Field,
		DeclaredPath: req.DeclaredPath,
		FileName:     file.ClientName,
	}, &file, true)
	if err != nil {
		return CommitResult{}, err
	}

	target := ResolveTarget(req.DeclaredPath, file.ClientName)
	disk := c.backend.Disk()

	c.hooks.Fire(ctx, LifecycleEvent{
		Kind:    EventUploading,
		Backend: c.backend,
		Disk:    disk,
		Path:    target.Path,
		File:    file,
		At:      c.now(),
	})

	stored, err := c.backend.PutFileAs(ctx, target.Folder, file, target.FileName)
	if err != nil {
		return CommitResult{}, &StorageWriteError{Disk: disk, Path: target.Path, Err: err}
	}

	c.hooks.Fire(ctx, LifecycleEvent{
		Kind:    EventUploaded,
		Backend: c.backend,
		Disk:    disk,
		Path:    stored,
		File:    file,
		At:      c.now(),
	})

	return CommitResult{
		Path:    stored,
		Disk:    disk,
		Message: c.translate(req.Lang, MsgUploadSuccess),
		File:    file,
	}, nil
}

func (c *Committer) translate(lang, key string) string {
	if c.translator == nil {
		return key
	}
	return c.translator.Translate(lang, key)
}

// NormalizePath strips leading separators and collapses repeated ones.
// It does not resolve "." or ".." segments.
func NormalizePath(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return strings.TrimLeft(p, "/")
}

// ResolveTarget derives the destination of a file from the client's declared
// path: the folder is the declared path's parent, the name is the client
// file name.
func ResolveTarget(declaredPath, fileName string) UploadTarget {
	folder := parentDir(declaredPath)
	return UploadTarget{
		Folder:   strings.TrimRight(NormalizePath(folder), "/"),
		FileName: fileName,
		Path:     NormalizePath(fmt.Sprintf("%s/%s", folder, fileName)),
	}
}

// parentDir returns everything before the last separator of p, ignoring
// trailing separators. Separator runs are kept for NormalizePath to collapse.
func parentDir(p string) string {
	trimmed := strings.TrimRight(p, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 {
		return ""
	}
	return trimmed[:i]
}
