package core

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
)

const sniffLen = 512

// SniffMimeType detects the MIME type of the file at p from its content.
// When the content is not recognised it falls back to the client extension,
// then to the client-declared type.
func SniffMimeType(p, ext, declared string) string {
	detected := "application/octet-stream"

	if f, err := os.Open(p); err == nil {
		buf := make([]byte, sniffLen)
		n, _ := io.ReadFull(f, buf)
		f.Close()
		if n > 0 {
			detected = http.DetectContentType(buf[:n])
		}
	}

	if base, _, _ := mime.ParseMediaType(detected); base != "application/octet-stream" && base != "" {
		if base == "text/plain" {
			if byExt := mimeByExtension(ext); byExt != "" && strings.HasPrefix(byExt, "text/") {
				return byExt
			}
		}
		return base
	}

	if byExt := mimeByExtension(ext); byExt != "" {
		return byExt
	}
	if declared != "" {
		if base, _, err := mime.ParseMediaType(declared); err == nil {
			return base
		}
	}
	return "application/octet-stream"
}

func mimeByExtension(ext string) string {
	if ext == "" {
		return ""
	}
	t := mime.TypeByExtension("." + strings.ToLower(ext))
	if t == "" {
		return ""
	}
	base, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return base
}

// splitClientName sanitizes a client-supplied file name down to its base
// name and returns it with its extension (no dot).
func splitClientName(name string) (base, ext string) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return "", ""
	}
	ext = strings.TrimPrefix(path.Ext(name), ".")
	return name, ext
}
