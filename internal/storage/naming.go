// Package storage implements the durable destinations of committed uploads.
package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/JonMunkholm/filedrop/internal/core"
)

// maxCollisionAttempts bounds the "name (n).ext" probing on collision.
const maxCollisionAttempts = 1000

// candidateName returns name for attempt 0 and "base (n).ext" afterwards.
func candidateName(name string, attempt int) string {
	if attempt == 0 {
		return name
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	return fmt.Sprintf("%s (%d)%s", base, attempt, ext)
}

// objectKey joins folder and name into a normalized slash path.
func objectKey(folder, name string) string {
	if folder == "" {
		return core.NormalizePath(name)
	}
	return core.NormalizePath(folder + "/" + name)
}
