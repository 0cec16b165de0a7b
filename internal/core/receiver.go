package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// DefaultMaxMemory is the multipart parser's in-memory threshold.
const DefaultMaxMemory = 32 << 20

// Received is one parsed upload request. Exactly one of File and Chunk is set.
type Received struct {
	Protocol  Protocol
	Request   UploadRequest
	SessionID string // set for chunks only

	File  *FinishedFile
	Chunk *IncomingChunk

	part multipart.File
}

// Close releases the request's multipart part. It does not touch File.
func (r *Received) Close() error {
	if r.part == nil {
		return nil
	}
	return r.part.Close()
}

// Receiver turns HTTP requests into finished files or chunks.
type Receiver struct {
	scratchDir string
	maxMemory  int64
	validator  Validator
}

// NewReceiver creates a Receiver that spools single-shot uploads into scratchDir.
func NewReceiver(scratchDir string, maxMemory int64, validator Validator) *Receiver {
	if maxMemory <= 0 {
		maxMemory = DefaultMaxMemory
	}
	return &Receiver{
		scratchDir: scratchDir,
		maxMemory:  maxMemory,
		validator:  validator,
	}
}

// Receive parses r. A request without a file under field fails with
// MissingUploadError; a request the upload rules reject fails with
// ValidationError before any bytes are persisted.
func (rv *Receiver) Receive(r *http.Request, field string) (*Received, error) {
	if err := r.ParseMultipartForm(rv.maxMemory); err != nil {
		var (
			tooLarge *http.MaxBytesError
			pathErr  *fs.PathError
		)
		switch {
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			return nil, &MissingUploadError{Field: field}
		case errors.As(err, &tooLarge):
			return nil, newValidationError(field, "request exceeds %d bytes", tooLarge.Limit)
		case errors.As(err, &pathErr):
			// Spilling parts to disk failed on our side.
			return nil, fmt.Errorf("parse multipart form: %w", err)
		default:
			// Truncated or malformed body.
			return nil, &MissingUploadError{Field: field, Err: err}
		}
	}

	part, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, &MissingUploadError{Field: field}
	}
	if err != nil {
		return nil, fmt.Errorf("read form file %q: %w", field, err)
	}

	rec, err := rv.describe(r, field, hdr)
	if err != nil {
		part.Close()
		return nil, err
	}
	rec.part = part

	if err := rv.validator.Validate(r.Context(), rec.Request, nil, false); err != nil {
		part.Close()
		return nil, err
	}

	if rec.Chunk != nil {
		rec.Chunk.Body = part
		return rec, nil
	}

	file, err := rv.spool(part, rec.Request.FileName, hdr.Header.Get("Content-Type"))
	if err != nil {
		part.Close()
		return nil, err
	}
	rec.File = file
	return rec, nil
}

// describe parses the protocol fields into a Received without touching the body.
func (rv *Receiver) describe(r *http.Request, field string, hdr *multipart.FileHeader) (*Received, error) {
	meta, err := parseChunkMeta(r, field, hdr)
	if err != nil {
		return nil, err
	}

	name, ext := splitClientName(meta.fileName)
	if name == "" {
		return nil, newValidationError(field, "missing file name")
	}

	declared := meta.totalSize
	if meta.wholeFile() {
		declared = meta.size
	}

	rec := &Received{
		Protocol: meta.protocol,
		Request: UploadRequest{
			Field:        field,
			DeclaredPath: r.FormValue("path"),
			FileName:     name,
			DeclaredSize: declared,
		},
	}
	if meta.wholeFile() {
		return rec, nil
	}

	rec.SessionID = SessionID(field, meta.clientID)
	rec.Chunk = &IncomingChunk{
		Protocol:   meta.protocol,
		Index:      meta.index,
		Offset:     meta.offset,
		Size:       meta.size,
		TotalParts: meta.totalParts,
		TotalSize:  meta.totalSize,
		Last:       meta.last,
		FileName:   name,
		Extension:  ext,
		MimeType:   hdr.Header.Get("Content-Type"),
	}
	return rec, nil
}

// spool copies a whole-file part into a fresh scratch file.
func (rv *Receiver) spool(src io.Reader, name, declaredMime string) (*FinishedFile, error) {
	_, ext := splitClientName(name)

	dest := filepath.Join(rv.scratchDir, uuid.NewString()+finishedSuffix)
	if ext != "" {
		dest += "." + ext
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}

	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("spool upload: %w", err)
	}

	return &FinishedFile{
		Path:       dest,
		ClientName: name,
		Extension:  ext,
		MimeType:   SniffMimeType(dest, ext, declaredMime),
		Size:       n,
	}, nil
}
