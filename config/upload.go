package config

import (
	"strings"
	"time"
)

// DefaultMaxFileSize is the per-document upload cap (100 MB).
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// DefaultAllowedTypes is the MIME allow-list accepted by the analysis backend.
func DefaultAllowedTypes() []string {
	return []string{
		"application/pdf",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain",
		"image/jpeg",
		"image/jpg",
		"image/png",
		"image/gif",
		"image/webp",
		"image/svg+xml",
		"image/bmp",
		"image/tiff",
	}
}

// UploadConfig describes the analysis backend and the checks applied before
// a document is sent to it.
type UploadConfig struct {
	// BackendURL is the base URL of the analysis service.
	BackendURL string `env:"BACKEND_URL" envDefault:"http://127.0.0.1:8000"`

	// Path is the streaming processing endpoint.
	Path string `env:"PATH" envDefault:"/process-document"`

	// FieldName is the multipart form field carrying the file.
	FieldName string `env:"FIELD_NAME" envDefault:"file"`

	// MaxFileSize is the largest accepted document in bytes.
	MaxFileSize int64 `env:"MAX_FILE_SIZE" envDefault:"104857600"`

	// AllowedTypes is the MIME allow-list. Empty means DefaultAllowedTypes.
	AllowedTypes []string `env:"ALLOWED_TYPES"`

	// ConnectTimeout bounds dialing and waiting for response headers.
	// The event stream itself has no deadline.
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to upload configuration values.
func (u *UploadConfig) Sanitize() {
	u.BackendURL = strings.TrimRight(strings.TrimSpace(u.BackendURL), "/")
	u.Path = strings.TrimSpace(u.Path)
	if u.Path == "" {
		u.Path = "/process-document"
	}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	if strings.TrimSpace(u.FieldName) == "" {
		u.FieldName = "file"
	}
	if u.MaxFileSize <= 0 {
		u.MaxFileSize = DefaultMaxFileSize
	}
	if u.ConnectTimeout <= 0 {
		u.ConnectTimeout = 30 * time.Second
	}

	types := make([]string, 0, len(u.AllowedTypes))
	for _, t := range u.AllowedTypes {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			types = append(types, t)
		}
	}
	if len(types) == 0 {
		types = DefaultAllowedTypes()
	}
	u.AllowedTypes = types
}

// Endpoint returns the absolute URL documents are posted to.
func (u UploadConfig) Endpoint() string {
	return u.BackendURL + u.Path
}
