package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// Script is the scripted response of the fake analysis backend for one
// uploaded file name.
type Script struct {
	// Status overrides the response code. Zero means 200.
	Status int
	// Frames are written verbatim, flushed one at a time.
	Frames []string
	// Delay is slept before each frame.
	Delay time.Duration
	// Hold, when set, keeps the stream open after the last frame until it is
	// closed or the client goes away.
	Hold <-chan struct{}
}

// Backend is an httptest server that mimics the streaming processing
// endpoint: it accepts a multipart upload and replays a Script chosen by
// the uploaded file name.
type Backend struct {
	*httptest.Server
	field string

	mu       sync.Mutex
	scripts  map[string]Script
	uploads  map[string][]byte
	canceled map[string]bool
}

// NewBackend starts a fake backend reading uploads from field.
func NewBackend(t TestingTB, field string, scripts map[string]Script) *Backend {
	b := &Backend{
		field:    field,
		scripts:  scripts,
		uploads:  make(map[string][]byte),
		canceled: make(map[string]bool),
	}
	b.Server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.Close)
	return b
}

// Uploaded returns the body received for name.
func (b *Backend) Uploaded(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.uploads[name]
	return data, ok
}

// Canceled reports whether the client disconnected while name's stream was
// still open.
func (b *Backend) Canceled(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canceled[name]
}

func (b *Backend) handle(w http.ResponseWriter, r *http.Request) {
	file, hdr, err := r.FormFile(b.field)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(file)
	_ = file.Close()

	b.mu.Lock()
	b.uploads[hdr.Filename] = data
	script, ok := b.scripts[hdr.Filename]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "no script for "+hdr.Filename, http.StatusNotFound)
		return
	}

	if script.Status != 0 && script.Status != http.StatusOK {
		http.Error(w, http.StatusText(script.Status), script.Status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for _, f := range script.Frames {
		if script.Delay > 0 {
			select {
			case <-r.Context().Done():
				b.markCanceled(hdr.Filename)
				return
			case <-time.After(script.Delay):
			}
		}
		if _, err := io.WriteString(w, f); err != nil {
			b.markCanceled(hdr.Filename)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if script.Hold != nil {
		select {
		case <-script.Hold:
		case <-r.Context().Done():
			b.markCanceled(hdr.Filename)
		}
	}
}

func (b *Backend) markCanceled(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled[name] = true
}

// StatusFrame renders a status frame on the default event type.
func StatusFrame(status string) string {
	return fmt.Sprintf("data: %s\n\n", mustJSON(map[string]string{"status": status}))
}

// FinalFrame renders a final_result frame carrying payload.
func FinalFrame(payload string) string {
	return "event: final_result\ndata: " + payload + "\n\n"
}

// ErrorFrame renders an error frame.
func ErrorFrame(msg string) string {
	return fmt.Sprintf("event: error\ndata: %s\n\n", mustJSON(map[string]string{"error": msg}))
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
