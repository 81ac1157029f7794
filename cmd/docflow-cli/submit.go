package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/docflow/internal/bootstrap"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/service"
	"github.com/target/docflow/internal/upload"
)

const (
	pollInterval = 500 * time.Millisecond
	closeTimeout = 10 * time.Second
)

type submitOptions struct {
	Query   string
	JSON    bool
	Timeout time.Duration
	Paths   []string
}

func parseSubmitFlags(args []string) (submitOptions, error) {
	var opts submitOptions
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.StringVar(&opts.Query, "query", "", "JMESPath expression applied to each result")
	fs.BoolVar(&opts.JSON, "json", false, "print final jobs as JSON instead of a summary")
	fs.DurationVar(&opts.Timeout, "timeout", 0, "give up after this long (0 waits forever)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.Paths = fs.Args()
	if len(opts.Paths) == 0 {
		return opts, errors.New("submit: at least one file is required")
	}
	if opts.Query != "" {
		if _, err := jmespath.Compile(opts.Query); err != nil {
			return opts, fmt.Errorf("invalid -query: %w", err)
		}
	}
	return opts, nil
}

func runSubmit(cmdCtx *commandContext, args []string) error {
	opts, err := parseSubmitFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var redisClient redis.UniversalClient
	if cmdCtx.Config.Redis.Enabled {
		client, err := bootstrap.ConnectRedis(ctx, cmdCtx.Config.Redis, cmdCtx.Logger)
		if err != nil {
			return err
		}
		redisClient = client
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				cmdCtx.Logger.Warn("redis close failed", "error", cerr)
			}
		}()
	}

	svc, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cmdCtx.Config,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	sup := svc.Supervisor

	var bg sync.WaitGroup
	pubCtx, stopPublisher := context.WithCancel(context.WithoutCancel(ctx))
	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := sup.RunPublisher(pubCtx); err != nil {
			cmdCtx.Logger.Warn("publisher stopped", "error", err)
		}
	}()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sup.Close(closeCtx); err != nil {
			cmdCtx.Logger.Warn("processing loops did not stop", "error", err)
		}
		stopPublisher()
		bg.Wait()
		_ = svc.Metrics.Close()
	}()

	printer := newProgressPrinter(cmdCtx.Out)
	tracker := newTerminalTracker()
	unsub, events := sup.Changes()
	bg.Add(1)
	go func() {
		defer bg.Done()
		for ev := range events {
			printer.event(ev)
			tracker.observe(ev)
		}
	}()
	defer unsub()

	files := make([]model.File, 0, len(opts.Paths))
	var openErrs []error
	for _, path := range opts.Paths {
		f, err := upload.FromPath(path)
		if err != nil {
			fmt.Fprintln(cmdCtx.Out, failColor.Sprintf("skipped %s: %v", path, err))
			openErrs = append(openErrs, err)
			continue
		}
		files = append(files, f)
	}

	// Rejections are already recorded as failed jobs.
	ids, _ := sup.SubmitAll(ctx, files)

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error { return waitTerminal(gctx, sup, tracker, id) })
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("waiting for results: %w", err)
	}

	// Catch up on progress the subscriber missed, then stop following.
	for _, id := range ids {
		if j, err := sup.Get(id); err == nil {
			printer.event(model.JobEvent{Kind: model.JobEventUpserted, JobID: id, Job: j})
		}
	}
	unsub()

	failed, err := report(cmdCtx, sup, ids, opts)
	if err != nil {
		return err
	}
	if total := len(ids) + len(openErrs); failed+len(openErrs) > 0 {
		return fmt.Errorf("%d of %d documents failed", failed+len(openErrs), total)
	}
	return nil
}

func report(cmdCtx *commandContext, sup *service.Supervisor, ids []string, opts submitOptions) (int, error) {
	jobs := make([]*model.DocumentJob, 0, len(ids))
	failed := 0
	for _, id := range ids {
		j, err := sup.Get(id)
		if err != nil {
			return failed, err
		}
		if j.Status == model.JobStatusFailed {
			failed++
		}
		jobs = append(jobs, j)
	}

	if opts.JSON {
		b, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return failed, fmt.Errorf("encode jobs: %w", err)
		}
		fmt.Fprintln(cmdCtx.Out, string(b))
		return failed, nil
	}

	fmt.Fprintln(cmdCtx.Out)
	for _, j := range jobs {
		fmt.Fprintln(cmdCtx.Out, summaryLine(j))
		if opts.Query == "" || j.Status != model.JobStatusCompleted {
			continue
		}
		out, err := project(j.Result, opts.Query)
		if err != nil {
			fmt.Fprintln(cmdCtx.Out, warnColor.Sprint("  "+err.Error()))
			continue
		}
		fmt.Fprintln(cmdCtx.Out, out)
	}
	return failed, nil
}

// terminalTracker closes a per-job channel once a terminal change is seen.
type terminalTracker struct {
	mu   sync.Mutex
	done map[string]chan struct{}
}

func newTerminalTracker() *terminalTracker {
	return &terminalTracker{done: make(map[string]chan struct{})}
}

func (t *terminalTracker) chanFor(id string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.done[id]
	if !ok {
		ch = make(chan struct{})
		t.done[id] = ch
	}
	return ch
}

func (t *terminalTracker) observe(ev model.JobEvent) {
	terminal := ev.Kind == model.JobEventRemoved || (ev.Job != nil && ev.Job.Status.Terminal())
	if !terminal {
		return
	}
	ch := t.chanFor(ev.JobID)
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

type jobGetter interface {
	Get(id string) (*model.DocumentJob, error)
}

// waitTerminal blocks until id is Completed or Failed. Change events can be
// dropped for a slow reader, so the store is polled as well.
func waitTerminal(ctx context.Context, jobs jobGetter, tracker *terminalTracker, id string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	done := tracker.chanFor(id)
	for {
		j, err := jobs.Get(id)
		if err != nil || j.Status.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		case <-ticker.C:
		}
	}
}
