package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// Service is what the router needs from the processing supervisor.
type Service interface {
	DocumentService
	InflightCounter
}

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Documents Service
	// MaxUploadMemoryMB bounds the in-memory part of multipart uploads.
	MaxUploadMemoryMB int64
	SpoolDir          string
	KeepAlive         time.Duration
	Logger            *slog.Logger
}

// NewRouter creates the API router. Middleware is applied by the caller.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	docs := &DocumentHandlers{
		Svc:             services.Documents,
		MaxUploadMemory: services.MaxUploadMemoryMB << 20,
		SpoolDir:        services.SpoolDir,
		KeepAlive:       services.KeepAlive,
		Logger:          logger.With("component", "http"),
	}
	registerDocumentRoutes(mux, docs)

	health := healthHandler(services.Documents)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	return mux
}

func registerDocumentRoutes(mux *http.ServeMux, h *DocumentHandlers) {
	mux.HandleFunc("POST /api/documents", h.Submit)
	mux.HandleFunc("GET /api/documents", h.List)
	mux.HandleFunc("GET /api/documents/events", h.Events)
	mux.HandleFunc("GET /api/documents/{id}", h.Get)
	mux.HandleFunc("DELETE /api/documents/{id}", h.Remove)
}
