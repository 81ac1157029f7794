package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/adapters/transport"
	"github.com/target/docflow/internal/data"
	"github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/service"
	"github.com/target/docflow/internal/stream"
	"github.com/target/docflow/internal/testutil"
)

const pdfBody = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n"

type apiFixture struct {
	srv     *httptest.Server
	sup     *service.Supervisor
	backend *testutil.Backend
}

func newAPI(t *testing.T, scripts map[string]testutil.Script) *apiFixture {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := testutil.NewBackend(t, "file", scripts)
	tr, err := transport.NewHTTP(transport.HTTPOptions{Endpoint: backend.URL, Logger: quiet})
	require.NoError(t, err)

	notifier := job.NewNotifier(job.NotifierOptions{})
	sup := service.MustNewSupervisor(service.SupervisorOptions{
		Store:     data.NewJobStore(data.JobStoreOptions{Notifier: notifier}),
		Transport: tr,
		Logger:    quiet,
	})

	srv := httptest.NewServer(NewRouter(RouterServices{
		Documents:         sup,
		MaxUploadMemoryMB: 1,
		SpoolDir:          t.TempDir(),
		KeepAlive:         50 * time.Millisecond,
		Logger:            quiet,
	}))
	t.Cleanup(func() {
		notifier.StopAll()
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sup.Close(ctx)
	})
	return &apiFixture{srv: srv, sup: sup, backend: backend}
}

type part struct {
	name string
	body string
}

func (a *apiFixture) submit(t *testing.T, parts ...part) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		w, err := mw.CreateFormFile("file", p.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(a.srv.URL+"/api/documents", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *apiFixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.srv.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *apiFixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.sup.Wait(ctx))
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(r).Decode(&v))
	return v
}

func TestSubmit_CreatesJobsIncludingRejected(t *testing.T) {
	api := newAPI(t, map[string]testutil.Script{
		"contract.pdf": {Frames: []string{
			testutil.StatusFrame("Extracting text..."),
			testutil.FinalFrame(`{"risk":{"level":"Low"}}`),
		}},
	})

	resp := api.submit(t, part{"contract.pdf", pdfBody}, part{"bundle.zip", "PK\x03\x04rest"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	subs := decode[[]submission](t, resp.Body)
	require.Len(t, subs, 2)
	assert.NotEmpty(t, subs[0].ID)
	assert.Empty(t, subs[0].Error)
	assert.Equal(t, "bundle.zip", subs[1].Name)
	assert.Equal(t, model.JobStatusFailed, subs[1].Status)
	assert.Equal(t, "type", subs[1].Field)
	assert.Contains(t, subs[1].Error, "unsupported file type")

	api.wait(t)

	got := api.do(t, http.MethodGet, "/api/documents/"+subs[0].ID)
	require.Equal(t, http.StatusOK, got.StatusCode)
	j := decode[model.DocumentJob](t, got.Body)
	assert.Equal(t, model.JobStatusCompleted, j.Status)
	assert.JSONEq(t, `{"risk":{"level":"Low"}}`, string(j.Result))

	uploaded, ok := api.backend.Uploaded("contract.pdf")
	require.True(t, ok)
	assert.Equal(t, pdfBody, string(uploaded))
	_, ok = api.backend.Uploaded("bundle.zip")
	assert.False(t, ok, "rejected file must not reach the backend")

	list := api.do(t, http.MethodGet, "/api/documents")
	jobs := decode[[]model.DocumentJob](t, list.Body)
	require.Len(t, jobs, 2)
	assert.Equal(t, subs[0].ID, jobs[0].ID)
	assert.Equal(t, subs[1].ID, jobs[1].ID)
}

func TestSubmit_RequiresFilePart(t *testing.T) {
	api := newAPI(t, nil)

	resp := api.submit(t)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp.Body)
	assert.Equal(t, "validation", body["error"])

	resp, err := http.Post(api.srv.URL+"/api/documents", "application/json", bytes.NewBufferString("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGet_UnknownIsNotFound(t *testing.T) {
	api := newAPI(t, nil)

	resp := api.do(t, http.MethodGet, "/api/documents/nope")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[map[string]string](t, resp.Body)
	assert.Equal(t, "not_found", body["error"])
}

func TestRemove_IsIdempotent(t *testing.T) {
	api := newAPI(t, map[string]testutil.Script{
		"a.pdf": {Frames: []string{testutil.FinalFrame(`{}`)}},
	})
	subs := decode[[]submission](t, api.submit(t, part{"a.pdf", pdfBody}).Body)
	api.wait(t)

	path := "/api/documents/" + subs[0].ID
	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, path).StatusCode)
	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, path).StatusCode)
	assert.Equal(t, http.StatusNoContent, api.do(t, http.MethodDelete, "/api/documents/unknown").StatusCode)
	assert.Equal(t, http.StatusNotFound, api.do(t, http.MethodGet, path).StatusCode)
}

func TestList_Paging(t *testing.T) {
	api := newAPI(t, nil)
	// Rejected files never reach the backend and still produce jobs.
	api.submit(t, part{"1.zip", "PK\x03\x04"}, part{"2.zip", "PK\x03\x04"}, part{"3.zip", "PK\x03\x04"})

	jobs := decode[[]model.DocumentJob](t, api.do(t, http.MethodGet, "/api/documents?offset=1&limit=1").Body)
	require.Len(t, jobs, 1)
	assert.Equal(t, "2.zip", jobs[0].Name)

	jobs = decode[[]model.DocumentJob](t, api.do(t, http.MethodGet, "/api/documents?offset=10").Body)
	assert.Empty(t, jobs)
}

func TestEvents_StreamsChanges(t *testing.T) {
	release := make(chan struct{})
	api := newAPI(t, map[string]testutil.Script{
		"a.pdf": {
			Frames: []string{testutil.StatusFrame("Translating...")},
			Hold:   release,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.srv.URL+"/api/documents/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan stream.ParsedFrame, 64)
	go func() {
		defer close(frames)
		for f, err := range stream.NewDecoder(resp.Body).Frames() {
			if err != nil {
				return
			}
			frames <- stream.ParseFrame(f)
		}
	}()

	subs := decode[[]submission](t, api.submit(t, part{"a.pdf", pdfBody}).Body)
	id := subs[0].ID

	next := func(want func(stream.ParsedFrame) bool) stream.ParsedFrame {
		t.Helper()
		for {
			select {
			case f, ok := <-frames:
				require.True(t, ok, "event stream ended early")
				if want(f) {
					return f
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for frame")
			}
		}
	}
	jobFrame := func(check func(model.DocumentJob) bool) func(stream.ParsedFrame) bool {
		return func(f stream.ParsedFrame) bool {
			if f.Event != string(model.JobEventUpserted) {
				return false
			}
			var j model.DocumentJob
			return json.Unmarshal([]byte(f.Data), &j) == nil && j.ID == id && check(j)
		}
	}

	next(jobFrame(func(j model.DocumentJob) bool { return j.CurrentStageIndex == 2 }))
	next(func(f stream.ParsedFrame) bool { return !f.HasData })

	api.do(t, http.MethodDelete, "/api/documents/"+id)
	removed := next(func(f stream.ParsedFrame) bool { return f.Event == string(model.JobEventRemoved) })
	assert.JSONEq(t, `{"id":"`+id+`"}`, removed.Data)

	close(release)
}

func TestEvents_SnapshotFirst(t *testing.T) {
	api := newAPI(t, nil)
	api.submit(t, part{"x.zip", "PK\x03\x04"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.srv.URL+"/api/documents/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	f, err := stream.NewDecoder(resp.Body).Next()
	require.NoError(t, err)
	pf := stream.ParseFrame(f)
	assert.Equal(t, "job", pf.Event)
	assert.Contains(t, pf.Data, `"name":"x.zip"`)
}
