package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"slices"
	"strings"

	// Decoders for the dimension check.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/docker/go-units"
)

// UploadRequest carries what the client declared about an upload.
type UploadRequest struct {
	Field        string
	DeclaredPath string
	FileName     string
	DeclaredSize int64 // 0 when unknown
}

// Validator checks an upload against the configured rules. The non-strict
// pass runs on every request before any bytes are persisted (file is nil);
// the strict pass runs once on the assembled file.
type Validator interface {
	Validate(ctx context.Context, req UploadRequest, file *FinishedFile, strict bool) error
}

// ImageInspector reads the pixel dimensions of an image file.
type ImageInspector interface {
	Dimensions(path string) (width, height int, err error)
}

// Rules configures a RuleValidator. Empty lists allow everything.
type Rules struct {
	MaxFileSize       int64
	AllowedPaths      []string // doublestar patterns matched against the destination path
	AllowedExtensions []string // without dots, case-insensitive
	AllowedMimeTypes  []string // doublestar patterns such as "image/*"
	MaxImageWidth     int
	MaxImageHeight    int
}

// RuleValidator is the default Validator.
type RuleValidator struct {
	rules  Rules
	images ImageInspector
}

// NewRuleValidator checks the rule patterns and returns a validator. A nil
// images inspector disables the dimension check.
func NewRuleValidator(rules Rules, images ImageInspector) (*RuleValidator, error) {
	for _, p := range append(slices.Clone(rules.AllowedPaths), rules.AllowedMimeTypes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	exts := make([]string, len(rules.AllowedExtensions))
	for i, e := range rules.AllowedExtensions {
		exts[i] = strings.ToLower(strings.TrimPrefix(e, "."))
	}
	rules.AllowedExtensions = exts

	return &RuleValidator{rules: rules, images: images}, nil
}

func (v *RuleValidator) Validate(_ context.Context, req UploadRequest, file *FinishedFile, strict bool) error {
	field := req.Field
	if field == "" {
		field = "file"
	}

	if err := v.checkPath(field, req); err != nil {
		return err
	}
	if err := v.checkExtension(field, req.FileName); err != nil {
		return err
	}
	if v.rules.MaxFileSize > 0 && req.DeclaredSize > v.rules.MaxFileSize {
		return newValidationError(field, "declared size %s exceeds limit %s",
			units.HumanSize(float64(req.DeclaredSize)), units.HumanSize(float64(v.rules.MaxFileSize)))
	}

	if !strict {
		return nil
	}
	if file == nil {
		return newValidationError(field, "no assembled file to validate")
	}

	if file.Size == 0 {
		return newValidationError(field, "file is empty")
	}
	if v.rules.MaxFileSize > 0 && file.Size > v.rules.MaxFileSize {
		return newValidationError(field, "file size %s exceeds limit %s",
			units.HumanSize(float64(file.Size)), units.HumanSize(float64(v.rules.MaxFileSize)))
	}
	if err := v.checkMimeType(field, file.MimeType); err != nil {
		return err
	}
	return v.checkDimensions(field, file)
}

func (v *RuleValidator) checkPath(field string, req UploadRequest) error {
	for _, seg := range strings.Split(strings.ReplaceAll(req.DeclaredPath, "\\", "/"), "/") {
		if seg == ".." {
			return newValidationError(field, "path %q escapes the upload root", req.DeclaredPath)
		}
	}
	if strings.ContainsRune(req.DeclaredPath, 0) || strings.ContainsRune(req.FileName, 0) {
		return newValidationError(field, "path contains a NUL byte")
	}

	if len(v.rules.AllowedPaths) == 0 {
		return nil
	}
	target := ResolveTarget(req.DeclaredPath, req.FileName)
	for _, pattern := range v.rules.AllowedPaths {
		if ok, _ := doublestar.Match(pattern, target.Path); ok {
			return nil
		}
	}
	return newValidationError(field, "destination %q is not an allowed path", target.Path)
}

func (v *RuleValidator) checkExtension(field, name string) error {
	if len(v.rules.AllowedExtensions) == 0 {
		return nil
	}
	_, ext := splitClientName(name)
	if slices.Contains(v.rules.AllowedExtensions, strings.ToLower(ext)) {
		return nil
	}
	return newValidationError(field, "extension %q is not allowed", ext)
}

func (v *RuleValidator) checkMimeType(field, mimeType string) error {
	if len(v.rules.AllowedMimeTypes) == 0 {
		return nil
	}
	for _, pattern := range v.rules.AllowedMimeTypes {
		if ok, _ := doublestar.Match(pattern, mimeType); ok {
			return nil
		}
	}
	return newValidationError(field, "MIME type %q is not allowed", mimeType)
}

func (v *RuleValidator) checkDimensions(field string, file *FinishedFile) error {
	if v.images == nil || (v.rules.MaxImageWidth <= 0 && v.rules.MaxImageHeight <= 0) {
		return nil
	}
	if !strings.HasPrefix(file.MimeType, "image/") {
		return nil
	}

	w, h, err := v.images.Dimensions(file.Path)
	if errors.Is(err, image.ErrFormat) {
		return nil
	}
	if err != nil {
		return newValidationError(field, "unreadable image: %v", err)
	}

	if v.rules.MaxImageWidth > 0 && w > v.rules.MaxImageWidth {
		return newValidationError(field, "image width %d exceeds %d", w, v.rules.MaxImageWidth)
	}
	if v.rules.MaxImageHeight > 0 && h > v.rules.MaxImageHeight {
		return newValidationError(field, "image height %d exceeds %d", h, v.rules.MaxImageHeight)
	}
	return nil
}

// DecodeConfigInspector reads dimensions from the image header only.
// Formats without a registered decoder report image.ErrFormat.
type DecodeConfigInspector struct{}

func (DecodeConfigInspector) Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
