package core

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Protocol identifies the client-side chunking convention of a request.
type Protocol string

const (
	ProtocolSingle         Protocol = "single"
	ProtocolDropzone       Protocol = "dropzone"
	ProtocolContentRange   Protocol = "content-range"
	ProtocolResumable      Protocol = "resumable"
	ProtocolSimpleUploader Protocol = "simple-uploader"
)

// FinishedFile is a fully assembled upload sitting in local scratch space.
// Whoever holds it owns the scratch file until it is committed or removed.
type FinishedFile struct {
	Path       string // absolute scratch path
	ClientName string // original client file name, e.g. "photo.jpg"
	Extension  string // client extension without the dot, e.g. "jpg"
	MimeType   string // sniffed from content
	Size       int64
}

// Open opens the scratch file for reading.
func (f FinishedFile) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// Remove deletes the scratch file. A missing file is not an error.
func (f FinishedFile) Remove() error {
	if f.Path == "" {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// BaseName returns the client name without its extension.
func (f FinishedFile) BaseName() string {
	return strings.TrimSuffix(f.ClientName, filepath.Ext(f.ClientName))
}

// IncomingChunk is one part of a chunked upload as declared by the client.
type IncomingChunk struct {
	Protocol   Protocol
	Index      int   // 0-based part index, -1 when the protocol has none
	Offset     int64 // byte offset in the assembled file
	Size       int64 // bytes in this part
	TotalParts int   // 0 when unknown
	TotalSize  int64 // 0 when unknown
	Last       bool  // explicit last-chunk signal from the client
	Body       io.Reader

	FileName  string
	Extension string
	MimeType  string // client-declared, used only as a sniffing fallback
}

// Progress reports how much of a session has arrived.
type Progress struct {
	SessionID     string    `json:"session_id"`
	Protocol      Protocol  `json:"protocol"`
	BytesReceived int64     `json:"bytes_received"`
	TotalBytes    int64     `json:"total_bytes"`
	PartsReceived int       `json:"parts_received"`
	TotalParts    int       `json:"total_parts"`
	Percent       int       `json:"percent"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AssemblyResult is the outcome of feeding one chunk to the assembler.
// Exactly one of Finished and Pending is set.
type AssemblyResult struct {
	Finished *FinishedFile
	Pending  *Progress
}

// Done reports whether the chunk completed the file.
func (r AssemblyResult) Done() bool {
	return r.Finished != nil
}

// UploadTarget is where a finished file is going to be stored.
type UploadTarget struct {
	Folder   string // normalized folder, may be empty
	FileName string // client base name plus extension
	Path     string // provisional normalized full path
}

// CommitResult is the outcome of a successful commit.
type CommitResult struct {
	Path    string // path actually written by the storage backend
	Disk    string
	Message string // localized success message
	File    FinishedFile
}

// UploadResponse is the body sent back to the client. Pending responses
// carry Done and Status; finished ones carry Message.
type UploadResponse struct {
	Done    *int   `json:"done,omitempty"`
	Status  *bool  `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}

// PendingResponse builds the response for a chunk that did not complete its file.
func PendingResponse(percent int) UploadResponse {
	status := true
	return UploadResponse{Done: &percent, Status: &status}
}

// FinishedResponse builds the response for a committed file.
func FinishedResponse(res CommitResult) UploadResponse {
	return UploadResponse{Message: res.Message, Path: res.Path}
}
