package main

import (
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	redisadapter "github.com/target/docflow/internal/adapters/redis"
	"github.com/target/docflow/internal/bootstrap"
	"github.com/target/docflow/internal/domain/model"
)

type watchOptions struct {
	Channel string
	JobID   string
}

func parseWatchFlags(args []string, defaultChannel string) (watchOptions, error) {
	var opts watchOptions
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.StringVar(&opts.Channel, "channel", defaultChannel, "Redis channel to follow")
	fs.StringVar(&opts.JobID, "job", "", "only show this job id")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("watch: unexpected arguments %v", fs.Args())
	}
	return opts, nil
}

// runWatch prints changes published by other processes until interrupted.
func runWatch(cmdCtx *commandContext, args []string) error {
	opts, err := parseWatchFlags(args, cmdCtx.Config.Redis.Channel)
	if err != nil {
		return err
	}
	if cmdCtx.Config.Redis.Addr == "" {
		return errors.New("watch: REDIS_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := bootstrap.ConnectRedis(ctx, cmdCtx.Config.Redis, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	printer := newProgressPrinter(cmdCtx.Out)
	pub := redisadapter.NewJobPublisher(client, opts.Channel)
	fmt.Fprintln(cmdCtx.Out, faintColor.Sprintf("watching %s", pub.Channel()))

	return pub.Watch(ctx, func(ev model.JobEvent) {
		if opts.JobID != "" && ev.JobID != opts.JobID {
			return
		}
		if ev.Kind == model.JobEventRemoved {
			fmt.Fprintln(cmdCtx.Out, faintColor.Sprintf("removed %s", ev.JobID))
			return
		}
		printer.event(ev)
		if ev.Job != nil && ev.Job.Status.Terminal() {
			fmt.Fprintln(cmdCtx.Out, summaryLine(ev.Job))
		}
	}, func(err error) {
		cmdCtx.Logger.Warn("skipping undecodable message", "error", err)
	})
}
