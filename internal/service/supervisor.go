// Package service runs the document processing loops and exposes the
// upstream operations used by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/domain/pipeline"
	apperrors "github.com/target/docflow/internal/errors"
	"github.com/target/docflow/internal/observability/metrics"
	"github.com/target/docflow/internal/observability/statsd"
	"github.com/target/docflow/internal/stream"
)

var (
	// ErrJobRemoved is the cancellation cause of a loop whose job was removed.
	ErrJobRemoved = errors.New("job removed")
	// ErrSupervisorClosed is returned by Submit after Close.
	ErrSupervisorClosed = errors.New("supervisor closed")
	// errShutdown is the cancellation cause used by Close.
	errShutdown = errors.New("supervisor shutting down")
)

const publishTimeout = 5 * time.Second

// SupervisorOptions groups dependencies for Supervisor.
type SupervisorOptions struct {
	Store     core.JobStore       // Required: shared job record
	Transport core.Transport      // Required: opens one stream per document
	Policy    UploadPolicy        // Optional: defaults to DefaultUploadPolicy
	Publisher core.EventPublisher // Optional: external change feed
	Metrics   statsd.Sink         // Optional: lifecycle metrics
	Logger    *slog.Logger        // Optional: structured logger
	Now       func() time.Time    // Optional: clock, for tests
	NewID     func() string       // Optional: job id generator
}

// Supervisor owns one processing loop per submitted document. Loops run
// concurrently and independently; a failure or panic in one loop only ever
// fails that loop's job.
type Supervisor struct {
	store     core.JobStore
	transport core.Transport
	policy    UploadPolicy
	publisher core.EventPublisher
	metrics   statsd.Sink
	logger    *slog.Logger
	router    *stream.Router
	now       func() time.Time
	newID     func() string

	baseCtx  context.Context
	stop     context.CancelCauseFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
	inflight atomic.Int64
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, errors.New("JobStore is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("Transport is required")
	}

	policy := opts.Policy
	if len(policy.AllowedTypes) == 0 && policy.MaxFileSize == 0 {
		policy = DefaultUploadPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "supervisor")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	ctx, stop := context.WithCancelCause(context.Background())
	s := &Supervisor{
		store:     opts.Store,
		transport: opts.Transport,
		policy:    policy,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		logger:    logger,
		now:       now,
		newID:     newID,
		baseCtx:   ctx,
		stop:      stop,
	}
	s.router = stream.NewRouter(stream.RouterOptions{
		Logger:    logger,
		OnDropped: func(err error) { metrics.EmitFrameDropped(s.metrics, err) },
	})
	return s, nil
}

// MustNewSupervisor constructs a Supervisor and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewSupervisor(opts SupervisorOptions) *Supervisor {
	s, err := NewSupervisor(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Supervisor: %v", err))
	}
	return s
}

// Submit registers file as a new job and starts processing it. The loop is
// not bound to ctx: it runs until the stream ends, the job is removed, or
// the supervisor is closed.
//
// A file rejected by the upload policy still becomes a Failed job; its id is
// returned together with the validation error and nothing is uploaded.
func (s *Supervisor) Submit(ctx context.Context, file model.File) (string, error) {
	if s.closed.Load() {
		file.Done()
		return "", ErrSupervisorClosed
	}

	id := s.newID()
	job := pipeline.NewJob(id, file, s.now())
	log := s.logger.With("job_id", id, "file", file.Name)

	if err := s.policy.Validate(file); err != nil {
		file.Done()
		pipeline.Fail(job, err.Error(), false, s.now())
		if upErr := s.store.Upsert(job); upErr != nil {
			return "", fmt.Errorf("store rejected job: %w", upErr)
		}
		log.InfoContext(ctx, "document rejected", "error", err)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: metrics.TransitionFailed,
			Result:     metrics.ResultError,
			Err:        err,
		})
		return id, err
	}

	if err := s.store.Upsert(job); err != nil {
		file.Done()
		return "", fmt.Errorf("store job: %w", err)
	}
	done, err := s.store.Done(id)
	if err != nil {
		// Removed before the loop could start.
		file.Done()
		return id, nil
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: metrics.TransitionSubmitted,
		Result:     metrics.ResultSuccess,
	})
	log.InfoContext(ctx, "document submitted", "size", file.Size, "type", file.Type)

	s.wg.Add(1)
	metrics.EmitInflight(s.metrics, int(s.inflight.Add(1)))
	go s.run(id, file, done, log)
	return id, nil
}

// SubmitAll submits every file. Ids are returned in input order, including
// ids of rejected files; the error joins all rejections.
func (s *Supervisor) SubmitAll(ctx context.Context, files []model.File) ([]string, error) {
	ids := make([]string, 0, len(files))
	var errs []error
	for _, f := range files {
		id, err := s.Submit(ctx, f)
		if id != "" {
			ids = append(ids, id)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return ids, errors.Join(errs...)
}

// Remove deletes a job and cancels its loop. It is idempotent.
func (s *Supervisor) Remove(id string) bool {
	removed := s.store.Remove(id)
	if removed {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: metrics.TransitionRemoved,
			Result:     metrics.ResultSuccess,
		})
		s.logger.Info("job removed", "job_id", id)
	}
	return removed
}

// Get returns the current snapshot of one job.
func (s *Supervisor) Get(id string) (*model.DocumentJob, error) {
	job, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) || errors.Is(err, core.ErrJobRemoved) {
			return nil, apperrors.NotFoundf("job %s not found", id)
		}
		return nil, err
	}
	return job, nil
}

// List returns all jobs in submission order.
func (s *Supervisor) List() []*model.DocumentJob {
	return s.store.List()
}

// Subscribe calls onChange for every job change until the returned function
// is called. Events for slow subscribers may be dropped; re-read List to
// resynchronise.
func (s *Supervisor) Subscribe(onChange func(model.JobEvent)) func() {
	unsub, events := s.store.Subscribe()
	go func() {
		for ev := range events {
			onChange(ev)
		}
	}()
	return unsub
}

// Changes subscribes to job changes. The channel is closed once cancel is
// called or the store stops notifying at shutdown.
func (s *Supervisor) Changes() (cancel func(), events <-chan model.JobEvent) {
	return s.store.Subscribe()
}

// Inflight returns the number of running loops.
func (s *Supervisor) Inflight() int {
	return int(s.inflight.Load())
}

// Wait blocks until every running loop has finished or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels every running loop and waits for them to exit. Jobs still
// processing are marked Failed.
func (s *Supervisor) Close(ctx context.Context) error {
	s.closed.Store(true)
	s.stop(errShutdown)
	return s.Wait(ctx)
}

// RunPublisher forwards job changes to the configured publisher until ctx
// is done. It returns immediately when no publisher is configured.
func (s *Supervisor) RunPublisher(ctx context.Context) error {
	if s.publisher == nil {
		return nil
	}
	unsub, events := s.store.Subscribe()
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := s.publisher.Publish(pubCtx, ev); err != nil {
				s.logger.WarnContext(ctx, "publish job event failed", "job_id", ev.JobID, "error", err)
			}
			cancel()
		}
	}
}

func (s *Supervisor) run(id string, file model.File, done <-chan struct{}, log *slog.Logger) {
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	defer func() {
		cancel(nil)
		file.Done()
		metrics.EmitInflight(s.metrics, int(s.inflight.Add(-1)))
		s.wg.Done()
	}()
	go func() {
		select {
		case <-done:
			cancel(ErrJobRemoved)
		case <-ctx.Done():
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			log.Error("processing loop panicked", "panic", r)
			s.fail(id, apperrors.Internalf("internal error: %v", r), log)
		}
	}()

	err := s.process(ctx, id, file, log)
	if err == nil {
		return
	}
	if errors.Is(context.Cause(ctx), ErrJobRemoved) {
		log.Debug("loop stopped for removed job")
		return
	}
	s.fail(id, err, log)
}

// process runs one document through the stream. It returns nil once a
// terminal message was applied.
func (s *Supervisor) process(ctx context.Context, id string, file model.File, log *slog.Logger) error {
	body, err := s.transport.Open(ctx, file)
	if err != nil {
		return err
	}
	closeBody := sync.OnceValue(body.Close)
	defer func() {
		if cerr := closeBody(); cerr != nil {
			log.Debug("close stream", "error", cerr)
		}
	}()
	// Unblock a pending Read as soon as the loop is canceled.
	stopClose := context.AfterFunc(ctx, func() { _ = closeBody() })
	defer stopClose()

	for frame, readErr := range stream.NewDecoder(body).Frames() {
		if readErr != nil {
			if ctx.Err() != nil {
				return apperrors.Canceled(context.Cause(ctx))
			}
			return apperrors.Transport(readErr)
		}
		msg, ok := s.router.Route(ctx, frame)
		if !ok {
			continue
		}
		terminal, err := s.apply(ctx, id, msg, log)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}
	}

	if ctx.Err() != nil {
		return apperrors.Canceled(context.Cause(ctx))
	}
	return apperrors.Transportf("stream ended before a final result was received")
}

func (s *Supervisor) apply(ctx context.Context, id string, msg stream.Message, log *slog.Logger) (bool, error) {
	if ctx.Err() != nil {
		return false, apperrors.Canceled(context.Cause(ctx))
	}

	var out pipeline.Outcome
	var prevStage int
	job, err := s.store.Update(id, func(j *model.DocumentJob) bool {
		prevStage = j.CurrentStageIndex
		out = pipeline.Apply(j, msg, s.now())
		return out.Changed
	})
	if err != nil {
		return false, apperrors.Canceled(err)
	}

	switch m := msg.(type) {
	case stream.Status:
		switch {
		case out.Unmapped:
			log.DebugContext(ctx, "unmapped status", "status", m.Status)
		case out.Regressed:
			log.DebugContext(ctx, "status behind current stage ignored", "status", m.Status, "stage", job.CurrentStageIndex)
		case job.CurrentStageIndex > prevStage:
			stage := pipeline.Stages()[job.CurrentStageIndex-1].Key
			log.InfoContext(ctx, "stage started", "stage", stage)
			metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
				Transition: metrics.TransitionStage,
				Result:     metrics.ResultSuccess,
				Stage:      stage,
			})
		}
	case stream.FinalResult:
		log.InfoContext(ctx, "document processed")
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: metrics.TransitionCompleted,
			Result:     metrics.ResultSuccess,
			Duration:   s.now().Sub(job.SubmittedAt),
		})
	case stream.ErrorEvent:
		perr := apperrors.Protocol(m.Detail)
		log.WarnContext(ctx, "backend reported failure", "error", perr)
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Transition: metrics.TransitionFailed,
			Result:     metrics.ResultError,
			Duration:   s.now().Sub(job.SubmittedAt),
			Err:        perr,
		})
	}
	return out.Terminal, nil
}

// fail records err as the job's terminal failure. Writes to removed jobs
// are dropped.
func (s *Supervisor) fail(id string, err error, log *slog.Logger) {
	detail := err.Error()
	if errors.Is(err, errShutdown) {
		detail = "processing canceled: service shutting down"
	}
	markStage := !apperrors.IsValidation(err)

	var submitted time.Time
	var changed bool
	_, upErr := s.store.Update(id, func(j *model.DocumentJob) bool {
		submitted = j.SubmittedAt
		changed = pipeline.Fail(j, detail, markStage, s.now())
		return changed
	})
	if upErr != nil {
		log.Debug("failure not recorded", "error", upErr)
		return
	}
	if !changed {
		return
	}

	log.Warn("document failed", "error", err)
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Transition: metrics.TransitionFailed,
		Result:     metrics.ResultError,
		Duration:   s.now().Sub(submitted),
		Err:        err,
	})
}
