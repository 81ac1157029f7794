// Package httpx provides HTTP handlers and utilities for the docflow document API.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/stream"
	"github.com/target/docflow/internal/upload"
)

const (
	defaultMaxUploadMemory = 32 << 20
	defaultKeepAlive       = 15 * time.Second
	uploadFieldName        = "file"
)

// DocumentService is the part of the processing supervisor the handlers use.
type DocumentService interface {
	Submit(ctx context.Context, file model.File) (string, error)
	Get(id string) (*model.DocumentJob, error)
	List() []*model.DocumentJob
	Remove(id string) bool
	Changes() (cancel func(), events <-chan model.JobEvent)
}

// DocumentHandlers serves the document submission and progress API.
type DocumentHandlers struct {
	Svc DocumentService
	// MaxUploadMemory bounds how much of a multipart body is held in memory.
	MaxUploadMemory int64
	// SpoolDir holds uploaded files until they are sent on. Empty means os.TempDir.
	SpoolDir string
	// KeepAlive is the interval between comment frames on the change feed.
	KeepAlive time.Duration
	Logger    *slog.Logger
}

func (h *DocumentHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// submission is one entry of the Submit response.
type submission struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Status model.JobStatus `json:"status,omitempty"`
	Error  string          `json:"error,omitempty"`
	Field  string          `json:"field,omitempty"`
}

// Submit accepts one or more "file" parts and starts a job for each.
// Rejected files still produce a Failed job, reported with its error.
func (h *DocumentHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	maxMem := h.MaxUploadMemory
	if maxMem <= 0 {
		maxMem = defaultMaxUploadMemory
	}
	if err := r.ParseMultipartForm(maxMem); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return
	}
	parts := r.MultipartForm.File[uploadFieldName]
	if len(parts) == 0 {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "validation",
			Err:     errors.New(`at least one "file" part is required`),
		})
		return
	}

	out := make([]submission, 0, len(parts))
	for _, fh := range parts {
		file, err := upload.FromMultipart(fh, h.SpoolDir)
		if err != nil {
			h.logger().ErrorContext(r.Context(), "spool upload failed", "file", fh.Filename, "error", err)
			out = append(out, submission{Name: fh.Filename, Error: err.Error()})
			continue
		}

		id, err := h.Svc.Submit(r.Context(), file)
		sub := submission{ID: id, Name: file.Name}
		if err != nil {
			sub.Error = err.Error()
			sub.Field = apperrors.GetField(err)
		}
		if id == "" {
			// Nothing was created, e.g. during shutdown.
			out = append(out, sub)
			continue
		}
		if job, getErr := h.Svc.Get(id); getErr == nil {
			sub.Status = job.Status
		}
		out = append(out, sub)
	}

	WriteJSON(w, http.StatusAccepted, out)
}

// List returns jobs in submission order, optionally windowed with limit and offset.
func (h *DocumentHandlers) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.Svc.List()
	lo, hi := pageBounds(r, len(jobs))
	WriteJSON(w, http.StatusOK, jobs[lo:hi])
}

// Get returns one job.
func (h *DocumentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Remove deletes a job and stops its processing. Unknown ids succeed too.
func (h *DocumentHandlers) Remove(w http.ResponseWriter, r *http.Request) {
	h.Svc.Remove(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// Events streams job changes. Current jobs are sent first, then one "job"
// or "removed" frame per change, with comment frames as keepalives.
func (h *DocumentHandlers) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	// Subscribe before the snapshot so no change falls in between.
	cancel, events := h.Svc.Changes()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w)
	for _, job := range h.Svc.List() {
		if err := enc.Encode(string(model.JobEventUpserted), job); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		h.logger().WarnContext(ctx, "event stream cannot flush", "error", err)
		return
	}

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			err = writeJobEvent(enc, ev)
		case <-ticker.C:
			err = enc.Comment("keepalive")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			h.logger().DebugContext(ctx, "event stream closed", "error", err)
			return
		}
	}
}

func writeJobEvent(enc *stream.Encoder, ev model.JobEvent) error {
	if ev.Kind == model.JobEventRemoved {
		return enc.Encode(string(model.JobEventRemoved), map[string]string{"id": ev.JobID})
	}
	return enc.Encode(string(model.JobEventUpserted), ev.Job)
}
