package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

func stringFile(name, typ, body string) model.File {
	return model.File{
		Name: name,
		Size: int64(len(body)),
		Type: typ,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(body)), nil },
	}
}

func TestHTTP_OpenStreamsMultipartUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/process-document", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		f, hdr, err := r.FormFile("document")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "A.pdf", hdr.Filename)
		assert.Equal(t, "application/pdf", hdr.Header.Get("Content-Type"))
		assert.Equal(t, "%PDF-1.7 body", string(body))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"status\":\"Extracting text...\"}\n\n")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "event: final_result\ndata: {}\n\n")
	}))
	defer srv.Close()

	tr, err := NewHTTP(HTTPOptions{Endpoint: srv.URL + "/process-document", FieldName: "document", ConnectTimeout: time.Second})
	require.NoError(t, err)

	rc, err := tr.Open(context.Background(), stringFile("A.pdf", "application/pdf", "%PDF-1.7 body"))
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"status\":\"Extracting text...\"}\n\nevent: final_result\ndata: {}\n\n", string(data))
}

func TestHTTP_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "unsupported document", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	tr, err := NewHTTP(HTTPOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	rc, err := tr.Open(context.Background(), stringFile("A.pdf", "application/pdf", "x"))
	require.Error(t, err)
	assert.Nil(t, rc)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransport))
	assert.Equal(t, "connection error: backend returned 422: unsupported document", err.Error())
}

func TestHTTP_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tr, err := NewHTTP(HTTPOptions{Endpoint: url, ConnectTimeout: time.Second})
	require.NoError(t, err)

	_, err = tr.Open(context.Background(), stringFile("A.pdf", "application/pdf", "x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeTransport))
	assert.True(t, strings.HasPrefix(err.Error(), "connection error: "))
}

func TestHTTP_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr, err := NewHTTP(HTTPOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = tr.Open(ctx, stringFile("A.pdf", "application/pdf", "x"))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCanceled))
}

func TestHTTP_FileOpenFailureAbortsUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := NewHTTP(HTTPOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	f := model.File{Name: "gone.pdf", Open: func() (io.ReadCloser, error) { return nil, io.ErrUnexpectedEOF }}
	_, err = tr.Open(context.Background(), f)
	require.Error(t, err)
}

func TestNewHTTP_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTP(HTTPOptions{})
	require.Error(t, err)

	_, err = (&HTTP{}).Open(context.Background(), model.File{Name: "x"})
	assert.Error(t, err)
}
