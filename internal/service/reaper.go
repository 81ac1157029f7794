package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"

	"github.com/target/docflow/config"
	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/observability/statsd"
)

var _ core.JobRemover = (*Supervisor)(nil)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Jobs    core.JobRemover     // Required: usually the Supervisor
	Config  config.ReaperConfig // Required: retention limits
	Logger  *slog.Logger        // Optional: structured logger
	Metrics statsd.Sink         // Optional: metrics sink (StatsD-compatible)
	Now     func() time.Time    // Optional: clock, for tests
}

// ReaperService removes Completed and Failed jobs once they have been
// finished for longer than the configured max age. Age is measured from the
// job's last update, which for a terminal job is when it finished.
type ReaperService struct {
	jobs    core.JobRemover
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRemover is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ReaperService{
		jobs:    opts.Jobs,
		config:  opts.Config,
		logger:  logger.With("component", "reaper_service"),
		metrics: opts.Metrics,
		now:     now,
	}, nil
}

// Run removes expired jobs at the configured interval until ctx is done.
// It returns immediately when no retention limit is set.
func (s *ReaperService) Run(ctx context.Context) error {
	if !s.config.Enabled() {
		s.logger.DebugContext(ctx, "reaper disabled, keeping finished jobs")
		return nil
	}
	s.logger.InfoContext(ctx, "starting reaper service",
		"interval", s.config.Interval,
		"completed_max_age", s.config.CompletedMaxAge,
		"failed_max_age", s.config.FailedMaxAge,
	)

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// waitWithJitter sleeps up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// RunOnce performs a single sweep and returns how many jobs were removed.
func (s *ReaperService) RunOnce(ctx context.Context) int {
	start := s.now()
	removed := map[model.JobStatus]int{}
	for _, j := range s.jobs.List() {
		if ctx.Err() != nil {
			break
		}
		if !s.expired(j, start) {
			continue
		}
		if s.jobs.Remove(j.ID) {
			removed[j.Status]++
		}
	}

	total := 0
	for status, n := range removed {
		total += n
		s.logger.InfoContext(ctx, "removed expired jobs", "status", status, "count", n)
		if s.metrics != nil {
			s.metrics.Count("reaper.removed", int64(n), map[string]string{"status": string(status)})
		}
	}
	if s.metrics != nil {
		s.metrics.Timing("reaper.sweep", s.now().Sub(start), nil)
	}
	return total
}

func (s *ReaperService) expired(j *model.DocumentJob, now time.Time) bool {
	var maxAge time.Duration
	switch j.Status {
	case model.JobStatusCompleted:
		maxAge = s.config.CompletedMaxAge
	case model.JobStatusFailed:
		maxAge = s.config.FailedMaxAge
	default:
		return false
	}
	return maxAge > 0 && now.Sub(j.UpdatedAt) > maxAge
}
