// Package transport opens processing streams against the analysis backend.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
	apperrors "github.com/target/docflow/internal/errors"
)

const maxErrorBodyBytes = 512

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// HTTPOptions configures the HTTP transport.
type HTTPOptions struct {
	// Endpoint is the absolute URL documents are posted to.
	Endpoint string
	// FieldName is the multipart field carrying the file.
	FieldName string
	// ConnectTimeout bounds dialing, TLS and waiting for response headers.
	ConnectTimeout time.Duration
	// Client overrides the HTTP client. Its timeouts are used as-is.
	Client *http.Client
	Logger *slog.Logger
}

// HTTP posts each document as a multipart upload and hands back the
// response body, which carries the event stream.
type HTTP struct {
	endpoint  string
	fieldName string
	client    *http.Client
	logger    *slog.Logger
}

var _ core.Transport = (*HTTP)(nil)

// NewHTTP constructs the transport.
func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("transport endpoint is required")
	}
	field := opts.FieldName
	if field == "" {
		field = "file"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = newStreamingClient(opts.ConnectTimeout)
	}
	return &HTTP{
		endpoint:  endpoint,
		fieldName: field,
		client:    client,
		logger:    logger.With("component", "transport"),
	}, nil
}

// newStreamingClient builds a client without an overall deadline; the event
// stream may legitimately stay open for as long as processing takes.
func newStreamingClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: connectTimeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Open uploads file and returns the streaming response body. Failures to
// connect and non-2xx responses are transport errors.
func (t *HTTP) Open(ctx context.Context, file model.File) (io.ReadCloser, error) {
	if file.Open == nil {
		return nil, apperrors.Internalf("file %q has no content", file.Name)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go t.writeBody(pw, mw, file)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		if ctx.Err() != nil {
			return nil, apperrors.Canceled(context.Cause(ctx))
		}
		return nil, apperrors.Transport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := readSnippet(resp.Body)
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.DebugContext(ctx, "close error response", "error", closeErr)
		}
		if snippet != "" {
			return nil, apperrors.Transportf("backend returned %d: %s", resp.StatusCode, snippet)
		}
		return nil, apperrors.Transportf("backend returned %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (t *HTTP) writeBody(pw *io.PipeWriter, mw *multipart.Writer, file model.File) {
	err := func() error {
		src, err := file.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", file.Name, err)
		}
		defer src.Close()

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			quoteEscaper.Replace(t.fieldName), quoteEscaper.Replace(file.Name)))
		ct := file.Type
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)

		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("create part: %w", err)
		}
		if _, err := io.Copy(part, src); err != nil {
			return fmt.Errorf("copy %s: %w", file.Name, err)
		}
		return mw.Close()
	}()
	// A nil error closes the pipe normally.
	_ = pw.CloseWithError(err)
}

func readSnippet(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBodyBytes))
	return strings.TrimSpace(string(data))
}
