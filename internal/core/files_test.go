package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffMimeType(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o600))
		return p
	}

	assert.Equal(t, "image/png", SniffMimeType(writePNG(t, 2, 2), "jpg", ""), "content beats extension")
	assert.Equal(t, "text/plain", SniffMimeType(write("a.txt", []byte("hello world")), "txt", ""))
	assert.Equal(t, "text/css", SniffMimeType(write("b.css", []byte("body { margin: 0 }")), "css", ""), "text refined by extension")
	assert.Equal(t, "application/pdf", SniffMimeType(write("c.bin", []byte{0x00, 0x01, 0x02}), "", "application/pdf; charset=binary"))
	assert.Equal(t, "application/octet-stream", SniffMimeType(write("d", []byte{0x00, 0x01}), "", ""))
}

func TestSplitClientName(t *testing.T) {
	tests := []struct {
		in       string
		wantName string
		wantExt  string
	}{
		{"photo.jpg", "photo.jpg", "jpg"},
		{"archive.tar.gz", "archive.tar.gz", "gz"},
		{"../../etc/passwd", "passwd", ""},
		{`C:\Users\me\report.pdf`, "report.pdf", "pdf"},
		{"", "", ""},
		{"..", "", ""},
	}

	for _, tt := range tests {
		name, ext := splitClientName(tt.in)
		assert.Equal(t, tt.wantName, name, "name of %q", tt.in)
		assert.Equal(t, tt.wantExt, ext, "ext of %q", tt.in)
	}
}
