package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "validation error",
			err:         newValidationError("file", "extension %q not allowed", "exe"),
			wantCode:    "VAL001",
			wantMessage: "The file was rejected by the upload rules",
		},
		{
			name:        "wrapped missing upload",
			err:         fmt.Errorf("receive: %w", &MissingUploadError{Field: "file"}),
			wantCode:    "FILE004",
			wantMessage: "No file was selected",
		},
		{
			name:        "session closed",
			err:         fmt.Errorf("assemble abc: %w", ErrSessionClosed),
			wantCode:    "UPL001",
			wantMessage: "This upload has already completed",
		},
		{
			name:        "too many uploads",
			err:         ErrTooManyUploads,
			wantCode:    "UPL002",
			wantMessage: "Too many uploads are being finalized",
		},
		{
			name:        "chunk out of range",
			err:         ErrChunkOutOfRange,
			wantCode:    "UPL006",
			wantMessage: "Chunk does not fit the declared file size",
		},
		{
			name:        "storage write",
			err:         &StorageWriteError{Disk: "public", Path: "a.txt", Err: errors.New("disk full")},
			wantCode:    "STO001",
			wantMessage: "The file could not be saved",
		},
		{
			name:        "context canceled",
			err:         context.Canceled,
			wantCode:    "UPL004",
			wantMessage: "Request was cancelled",
		},
		{
			name:        "untyped pattern fallback",
			err:         errors.New("redis: upload not found"),
			wantCode:    "UPL003",
			wantMessage: "Upload session not found",
		},
		{
			name:        "unknown error",
			err:         errors.New("something odd"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() Code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() Message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}

	want := "No file was selected (Code: FILE004). Please select a file to upload"
	if got := FormatUserError(&MissingUploadError{Field: "file"}); got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("IsUserFacing(nil) = true, want false")
	}
	if !IsUserFacing(ErrSessionClosed) {
		t.Error("IsUserFacing(ErrSessionClosed) = false, want true")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("IsUserFacing(unknown) = true, want false")
	}
}
