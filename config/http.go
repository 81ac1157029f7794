package config

import "time"

// HTTPConfig contains configuration for the UI-facing HTTP server.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8090"`

	// MaxUploadMemoryMB is how much of a multipart upload is buffered in memory
	// before spilling to temporary files.
	MaxUploadMemoryMB int64 `env:"HTTP_MAX_UPLOAD_MEMORY_MB" envDefault:"32"`

	// KeepAlive is the interval between comment frames on the change feed.
	KeepAlive time.Duration `env:"HTTP_EVENTS_KEEPALIVE" envDefault:"15s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8090"
	}
	if h.MaxUploadMemoryMB < 1 {
		h.MaxUploadMemoryMB = 1
	}
	if h.KeepAlive < time.Second {
		h.KeepAlive = time.Second
	}
}
