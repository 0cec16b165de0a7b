package core

// # Error Codes Reference
//
// User-facing error messages carry a code for support reference. When users
// report a failed upload they can quote the code to support staff.
//
//	VAL001  - Validation: The file was rejected by the upload rules
//	          Action: Check the file type, size and destination folder
//
//	FILE004 - No file: No file was selected
//	          Action: Please select a file to upload
//
//	UPL001  - Session closed: This upload has already completed
//	          Action: Start a new upload to send the file again
//
//	UPL002  - System busy: Too many uploads are being finalized
//	          Action: Please wait a moment and try again
//
//	UPL003  - Session expired: Upload session not found
//	          Action: The upload may have expired. Please start a new upload
//
//	UPL004  - Request cancelled: Request was cancelled
//	          Action: Please try again
//
//	UPL005  - Request timeout: Request timed out
//	          Action: Check your connection and try again
//
//	UPL006  - Bad chunk: Chunk does not fit the declared file size
//	          Action: Restart the upload
//
//	STO001  - Storage: The file could not be saved
//	          Action: Please try again later
//
//	ERR000  - Unknown error: An unexpected error occurred
//	          Action: Please try again or contact support
//
// Typed errors are matched first with errors.As and errors.Is. Anything else
// falls back to case-insensitive substring patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgValidation = UserMessage{
		Message: "The file was rejected by the upload rules",
		Action:  "Check the file type, size and destination folder",
		Code:    "VAL001",
	}
	msgNoFile = UserMessage{
		Message: "No file was selected",
		Action:  "Please select a file to upload",
		Code:    "FILE004",
	}
	msgSessionClosed = UserMessage{
		Message: "This upload has already completed",
		Action:  "Start a new upload to send the file again",
		Code:    "UPL001",
	}
	msgBusy = UserMessage{
		Message: "Too many uploads are being finalized",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
	msgNotFound = UserMessage{
		Message: "Upload session not found",
		Action:  "The upload may have expired. Please start a new upload",
		Code:    "UPL003",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Check your connection and try again",
		Code:    "UPL005",
	}
	msgOutOfRange = UserMessage{
		Message: "Chunk does not fit the declared file size",
		Action:  "Restart the upload",
		Code:    "UPL006",
	}
	msgStorage = UserMessage{
		Message: "The file could not be saved",
		Action:  "Please try again later",
		Code:    "STO001",
	}
)

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors that lost their type on the way, e.g. when
// read back from a remote session store. Specific patterns come first.
var errorPatterns = []errorPattern{
	{pattern: "no file provided", msg: msgNoFile},
	{pattern: "validation failed", msg: msgValidation},
	{pattern: "already completed", msg: msgSessionClosed},
	{pattern: "too many concurrent", msg: msgBusy},
	{pattern: "upload not found", msg: msgNotFound},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "out of range", msg: msgOutOfRange},
	{pattern: "storage write", msg: msgStorage},
}

// MapError converts a technical error into a user-friendly message.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		validation *ValidationError
		missing    *MissingUploadError
		storage    *StorageWriteError
	)
	switch {
	case errors.As(err, &validation):
		return msgValidation
	case errors.As(err, &missing):
		return msgNoFile
	case errors.As(err, &storage):
		return msgStorage
	case errors.Is(err, ErrSessionClosed):
		return msgSessionClosed
	case errors.Is(err, ErrTooManyUploads):
		return msgBusy
	case errors.Is(err, ErrSessionNotFound):
		return msgNotFound
	case errors.Is(err, ErrChunkOutOfRange):
		return msgOutOfRange
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	errLower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errLower, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
