package core

import (
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// chunkMeta is the protocol-independent description of one request's part.
type chunkMeta struct {
	protocol   Protocol
	clientID   string
	index      int
	offset     int64
	size       int64
	totalParts int
	totalSize  int64
	last       bool
	fileName   string
}

// wholeFile reports whether this single part is the entire file, in which
// case no session is needed.
func (m chunkMeta) wholeFile() bool {
	if m.protocol == ProtocolSingle {
		return true
	}
	if m.offset != 0 {
		return false
	}
	return m.totalParts == 1 || (m.totalSize > 0 && m.size == m.totalSize)
}

// detectProtocol picks the chunking convention from the parsed request.
// Order matters: the first match wins.
func detectProtocol(r *http.Request) Protocol {
	switch {
	case r.FormValue("dzuuid") != "":
		return ProtocolDropzone
	case r.Header.Get("Content-Range") != "":
		return ProtocolContentRange
	case r.FormValue("resumableChunkNumber") != "":
		return ProtocolResumable
	case r.FormValue("chunkNumber") != "" && r.FormValue("identifier") != "":
		return ProtocolSimpleUploader
	default:
		return ProtocolSingle
	}
}

// parseChunkMeta reads the part description for the detected protocol.
func parseChunkMeta(r *http.Request, field string, hdr *multipart.FileHeader) (chunkMeta, error) {
	switch p := detectProtocol(r); p {
	case ProtocolDropzone:
		return parseDropzone(r, field, hdr)
	case ProtocolContentRange:
		return parseContentRange(r, field, hdr)
	case ProtocolResumable:
		return parseNumbered(r, field, hdr, resumableFields)
	case ProtocolSimpleUploader:
		return parseNumbered(r, field, hdr, simpleUploaderFields)
	default:
		return chunkMeta{
			protocol: ProtocolSingle,
			index:    -1,
			size:     hdr.Size,
			fileName: hdr.Filename,
		}, nil
	}
}

// formReader accumulates the first error while reading numeric form fields.
type formReader struct {
	r     *http.Request
	field string
	err   error
}

func (f *formReader) str(name string) string {
	return strings.TrimSpace(f.r.FormValue(name))
}

func (f *formReader) int64(name string, required bool) int64 {
	if f.err != nil {
		return 0
	}
	v := f.str(name)
	if v == "" {
		if required {
			f.err = newValidationError(f.field, "missing %s", name)
		}
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		f.err = newValidationError(f.field, "invalid %s %q", name, v)
		return 0
	}
	return n
}

func (f *formReader) fail(format string, args ...any) {
	if f.err == nil {
		f.err = newValidationError(f.field, format, args...)
	}
}

func parseDropzone(r *http.Request, field string, hdr *multipart.FileHeader) (chunkMeta, error) {
	f := &formReader{r: r, field: field}

	id := f.str("dzuuid")
	index := f.int64("dzchunkindex", true)
	total := f.int64("dztotalchunkcount", true)
	chunkSize := f.int64("dzchunksize", false)
	totalSize := f.int64("dztotalfilesize", false)
	offset := f.int64("dzchunkbyteoffset", false)
	hasOffset := f.str("dzchunkbyteoffset") != ""

	switch {
	case f.err != nil:
	case total == 0:
		f.fail("dztotalchunkcount must be positive")
	case index >= total:
		f.fail("dzchunkindex %d out of %d chunks", index, total)
	case !hasOffset && index > 0 && chunkSize == 0:
		f.fail("missing dzchunksize")
	case !hasOffset && overflows(index, chunkSize):
		f.fail("dzchunkindex %d times dzchunksize %d overflows", index, chunkSize)
	}
	if f.err != nil {
		return chunkMeta{}, f.err
	}

	if !hasOffset {
		offset = index * chunkSize
	}

	return chunkMeta{
		protocol:   ProtocolDropzone,
		clientID:   id,
		index:      int(index),
		offset:     offset,
		size:       hdr.Size,
		totalParts: int(total),
		totalSize:  totalSize,
		last:       index == total-1,
		fileName:   hdr.Filename,
	}, nil
}

// numberedFields names the form fields of a 1-based numbered protocol.
type numberedFields struct {
	protocol    Protocol
	number      string
	totalChunks string
	chunkSize   string
	totalSize   string
	identifier  string
	filename    string
}

var (
	resumableFields = numberedFields{
		protocol:    ProtocolResumable,
		number:      "resumableChunkNumber",
		totalChunks: "resumableTotalChunks",
		chunkSize:   "resumableChunkSize",
		totalSize:   "resumableTotalSize",
		identifier:  "resumableIdentifier",
		filename:    "resumableFilename",
	}
	simpleUploaderFields = numberedFields{
		protocol:    ProtocolSimpleUploader,
		number:      "chunkNumber",
		totalChunks: "totalChunks",
		chunkSize:   "chunkSize",
		totalSize:   "totalSize",
		identifier:  "identifier",
		filename:    "filename",
	}
)

func parseNumbered(r *http.Request, field string, hdr *multipart.FileHeader, names numberedFields) (chunkMeta, error) {
	f := &formReader{r: r, field: field}

	number := f.int64(names.number, true)
	chunkSize := f.int64(names.chunkSize, true)
	total := f.int64(names.totalChunks, false)
	totalSize := f.int64(names.totalSize, false)
	id := f.str(names.identifier)

	switch {
	case f.err != nil:
	case id == "":
		f.fail("missing %s", names.identifier)
	case number < 1:
		f.fail("%s must start at 1", names.number)
	case total > 0 && number > total:
		f.fail("%s %d out of %d chunks", names.number, number, total)
	case chunkSize == 0 && number > 1:
		f.fail("%s must be positive", names.chunkSize)
	case overflows(number-1, chunkSize):
		f.fail("%s %d times %s %d overflows", names.number, number, names.chunkSize, chunkSize)
	}
	if f.err != nil {
		return chunkMeta{}, f.err
	}

	name := f.str(names.filename)
	if name == "" {
		name = hdr.Filename
	}

	return chunkMeta{
		protocol:   names.protocol,
		clientID:   id,
		index:      int(number - 1),
		offset:     (number - 1) * chunkSize,
		size:       hdr.Size,
		totalParts: int(total),
		totalSize:  totalSize,
		last:       total > 0 && number == total,
		fileName:   name,
	}, nil
}

// overflows reports whether index*size does not fit in an int64. Both are
// non-negative.
func overflows(index, size int64) bool {
	return size > 0 && index > math.MaxInt64/size
}

var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+|\*)$`)

func parseContentRange(r *http.Request, field string, hdr *multipart.FileHeader) (chunkMeta, error) {
	raw := strings.TrimSpace(r.Header.Get("Content-Range"))
	m := contentRangePattern.FindStringSubmatch(raw)
	if m == nil {
		return chunkMeta{}, newValidationError(field, "malformed Content-Range %q", raw)
	}

	start, err1 := strconv.ParseInt(m[1], 10, 64)
	end, err2 := strconv.ParseInt(m[2], 10, 64)
	var total int64
	var err3 error
	if m[3] != "*" {
		total, err3 = strconv.ParseInt(m[3], 10, 64)
	}
	if err1 != nil || err2 != nil || err3 != nil || end < start {
		return chunkMeta{}, newValidationError(field, "malformed Content-Range %q", raw)
	}
	if size := end - start + 1; size != hdr.Size {
		return chunkMeta{}, newValidationError(field, "Content-Range covers %d bytes but the part carries %d", size, hdr.Size)
	}

	id := r.Header.Get("X-Upload-Id")
	if id == "" {
		id = r.FormValue("uploadId")
	}
	if id == "" {
		id = hdr.Filename + "|" + remoteHost(r)
	}

	return chunkMeta{
		protocol:  ProtocolContentRange,
		clientID:  id,
		index:     -1,
		offset:    start,
		size:      hdr.Size,
		totalSize: total,
		last:      total > 0 && end+1 == total,
		fileName:  hdr.Filename,
	}, nil
}

// remoteHost returns the client address without its port, so the fallback
// session id survives reconnects.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
