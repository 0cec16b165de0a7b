package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/filedrop/internal/core"
)

// LocalDisk stores files below a root directory.
type LocalDisk struct {
	root string
	disk string
}

// NewLocalDisk creates the root directory if needed.
func NewLocalDisk(root, disk string) (*LocalDisk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalDisk{root: abs, disk: disk}, nil
}

// Disk returns the disk identifier.
func (d *LocalDisk) Disk() string { return d.disk }

// Root returns the absolute root directory.
func (d *LocalDisk) Root() string { return d.root }

// PutFileAs copies file to folder/name. An existing file is never
// overwritten: the name gets a " (n)" suffix instead.
func (d *LocalDisk) PutFileAs(ctx context.Context, folder string, file core.FinishedFile, name string) (string, error) {
	dir, err := d.resolve(folder)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create folder: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	for attempt := 0; attempt < maxCollisionAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := candidateName(name, attempt)
		dst, err := os.OpenFile(filepath.Join(dir, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create file: %w", err)
		}

		if err := writeAndClose(dst, src); err != nil {
			os.Remove(dst.Name())
			return "", err
		}
		return objectKey(folder, candidate), nil
	}
	return "", fmt.Errorf("no free name for %q after %d attempts", name, maxCollisionAttempts)
}

// Delete removes a stored file. A missing file is not an error.
func (d *LocalDisk) Delete(_ context.Context, p string) error {
	full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// resolve maps a relative storage path to an absolute one inside root.
func (d *LocalDisk) resolve(p string) (string, error) {
	full := filepath.Join(d.root, filepath.FromSlash(core.NormalizePath(p)))
	if full != d.root && !strings.HasPrefix(full, d.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage root", p)
	}
	return full, nil
}

func writeAndClose(dst *os.File, src io.Reader) error {
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("write file: %w", err)
	}
	return dst.Close()
}
