package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/filedrop/internal/core"
)

func scratchFile(t *testing.T, name string, data []byte) core.FinishedFile {
	t.Helper()
	p := filepath.Join(t.TempDir(), "scratch.upload")
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return core.FinishedFile{
		Path:       p,
		ClientName: name,
		Extension:  filepath.Ext(name),
		MimeType:   "image/png",
		Size:       int64(len(data)),
	}
}

func TestCandidateName(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    string
	}{
		{"photo.png", 0, "photo.png"},
		{"photo.png", 1, "photo (1).png"},
		{"photo.tar.gz", 2, "photo.tar (2).gz"},
		{"README", 3, "README (3)"},
		{".env", 1, ".env (1)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, candidateName(tt.name, tt.attempt), "%s #%d", tt.name, tt.attempt)
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "a.png", objectKey("", "a.png"))
	assert.Equal(t, "img/a.png", objectKey("img", "a.png"))
	assert.Equal(t, "img/x/a.png", objectKey("/img//x", "a.png"))
}

func TestLocalDiskPutFileAs(t *testing.T) {
	disk, err := NewLocalDisk(t.TempDir(), "public")
	require.NoError(t, err)
	ctx := context.Background()

	first := scratchFile(t, "cat.png", []byte("one"))
	p, err := disk.PutFileAs(ctx, "img/pets", first, "cat.png")
	require.NoError(t, err)
	assert.Equal(t, "img/pets/cat.png", p)

	second := scratchFile(t, "cat.png", []byte("two"))
	p2, err := disk.PutFileAs(ctx, "img/pets", second, "cat.png")
	require.NoError(t, err)
	assert.Equal(t, "img/pets/cat (1).png", p2)

	got, err := os.ReadFile(filepath.Join(disk.Root(), "img", "pets", "cat.png"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	got, err = os.ReadFile(filepath.Join(disk.Root(), "img", "pets", "cat (1).png"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	assert.Equal(t, "public", disk.Disk())
}

func TestLocalDiskRootFolder(t *testing.T) {
	disk, err := NewLocalDisk(t.TempDir(), "public")
	require.NoError(t, err)

	p, err := disk.PutFileAs(context.Background(), "", scratchFile(t, "a.txt", []byte("x")), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", p)
	assert.FileExists(t, filepath.Join(disk.Root(), "a.txt"))
}

func TestLocalDiskRejectsEscape(t *testing.T) {
	disk, err := NewLocalDisk(t.TempDir(), "public")
	require.NoError(t, err)

	_, err = disk.PutFileAs(context.Background(), "../outside", scratchFile(t, "a.txt", []byte("x")), "a.txt")
	assert.ErrorContains(t, err, "escapes storage root")
}

func TestLocalDiskDelete(t *testing.T) {
	disk, err := NewLocalDisk(t.TempDir(), "public")
	require.NoError(t, err)
	ctx := context.Background()

	p, err := disk.PutFileAs(ctx, "docs", scratchFile(t, "a.txt", []byte("x")), "a.txt")
	require.NoError(t, err)

	require.NoError(t, disk.Delete(ctx, p))
	assert.NoFileExists(t, filepath.Join(disk.Root(), "docs", "a.txt"))

	assert.NoError(t, disk.Delete(ctx, p), "deleting a missing file is not an error")
}

func TestLocalDiskCanceledContext(t *testing.T) {
	disk, err := NewLocalDisk(t.TempDir(), "public")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = disk.PutFileAs(ctx, "", scratchFile(t, "a.txt", []byte("x")), "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
}
