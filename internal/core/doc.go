// Package core provides the business logic for resumable file uploads.
//
// This package is the heart of filedrop, containing all domain logic
// independent of the HTTP router, the storage backend or the session store
// implementation. It can be used by web handlers, CLI tools, or tests
// without modification.
//
// # Architecture
//
// An upload request flows through five stages:
//
//   - Receiver: detects the chunking protocol, pre-validates the request and
//     yields either a [FinishedFile] (single-shot upload) or an [IncomingChunk].
//   - Assembler: writes chunks into a per-session scratch file at their declared
//     offset and reports progress until the file is complete.
//   - PostProcessor: best-effort compression of finished images. Failures are
//     swallowed and never reach the client.
//   - Committer: strict validation, path normalization, lifecycle hooks and the
//     write to the storage backend.
//   - Uploader: the orchestrator that threads one request through the stages
//     and produces either a pending progress response or a final message.
//
// # Chunk Protocols
//
// Five protocol variants are recognised, in this detection order:
//
//	dropzone         dzuuid, dzchunkindex (0-based), dztotalchunkcount
//	content-range    Content-Range: bytes start-end/total header
//	resumable        resumableChunkNumber (1-based), resumableIdentifier
//	simple-uploader  chunkNumber (1-based), identifier
//	single           none of the above
//
// # Concurrency
//
// Chunks of one session may arrive in any order and on concurrent requests.
// All reads and writes of a session's metadata and scratch file happen while
// holding a per-session lock, so exactly one request observes completion and
// finalizes the file. Later chunks for the same id get [ErrSessionClosed].
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - VAL001: Validation errors (size, type, path, dimensions)
//   - FILE004: No file in the request
//   - UPL001-UPL006: Upload session errors (closed, busy, expired, range)
//   - STO001: Storage write errors
package core
