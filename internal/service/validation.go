package service

import (
	"slices"
	"strings"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

// UploadPolicy is the allow-list and size cap checked before any upload.
type UploadPolicy struct {
	MaxFileSize  int64
	AllowedTypes []string
}

// DefaultUploadPolicy accepts the stock document and image types up to 100 MB.
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{MaxFileSize: config.DefaultMaxFileSize, AllowedTypes: config.DefaultAllowedTypes()}
}

// UploadPolicyFromConfig builds the policy from sanitized upload config.
func UploadPolicyFromConfig(cfg config.UploadConfig) UploadPolicy {
	return UploadPolicy{MaxFileSize: cfg.MaxFileSize, AllowedTypes: cfg.AllowedTypes}
}

// Validate rejects files whose type is not allow-listed, that are empty, or
// that exceed the size cap.
func (p UploadPolicy) Validate(f model.File) error {
	if strings.TrimSpace(f.Name) == "" {
		return apperrors.ValidationField("name", "file name is required")
	}
	mt := NormalizeType(f.Type)
	if mt == "" || !slices.Contains(p.allowed(), mt) {
		return apperrors.ValidationField("type", "unsupported file type "+quoteType(f.Type)+" for "+f.Name)
	}
	if f.Size <= 0 {
		return apperrors.ValidationField("size", f.Name+" is empty")
	}
	if limit := p.maxSize(); f.Size > limit {
		return apperrors.ValidationField("size",
			f.Name+" is "+model.FormatFileSize(f.Size)+", larger than the "+model.FormatFileSize(limit)+" limit")
	}
	return nil
}

func (p UploadPolicy) allowed() []string {
	if len(p.AllowedTypes) == 0 {
		return config.DefaultAllowedTypes()
	}
	return p.AllowedTypes
}

func (p UploadPolicy) maxSize() int64 {
	if p.MaxFileSize <= 0 {
		return config.DefaultMaxFileSize
	}
	return p.MaxFileSize
}

// NormalizeType lowercases a media type and drops its parameters.
func NormalizeType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func quoteType(t string) string {
	if t == "" {
		return "(unknown)"
	}
	return `"` + t + `"`
}
