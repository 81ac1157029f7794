// Package bootstrap wires configuration, adapters and services into a
// running docflow process.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/docflow/config"
	redisadapter "github.com/target/docflow/internal/adapters/redis"
	"github.com/target/docflow/internal/adapters/transport"
	"github.com/target/docflow/internal/core"
	"github.com/target/docflow/internal/data"
	"github.com/target/docflow/internal/domain/job"
	"github.com/target/docflow/internal/domain/model"
	"github.com/target/docflow/internal/observability/statsd"
	"github.com/target/docflow/internal/service"
)

const shutdownWaitTimeout = 10 * time.Second

// ServiceContainer holds the wired services of one process.
type ServiceContainer struct {
	Store      *data.JobStore
	Notifier   *job.DefaultNotifier
	Supervisor *service.Supervisor
	Metrics    *statsd.Client
	Publisher  *redisadapter.JobPublisher
	Reaper     *service.ReaperService
}

// ServiceDeps are the inputs to NewServices.
type ServiceDeps struct {
	Config *config.AppConfig
	// RedisClient enables the change publisher. Optional.
	RedisClient redis.UniversalClient
	// Transport overrides the HTTP upload transport, for tests.
	Transport core.Transport
	Logger    *slog.Logger
}

func buildMetrics(logger *slog.Logger, cfg config.ObservabilityMetricsConfig) *statsd.Client {
	client, err := statsd.NewClient(statsd.Config{
		Enabled:    cfg.IsEnabled(),
		Address:    cfg.StatsdAddress,
		Prefix:     cfg.Prefix,
		Logger:     logger,
		GlobalTags: map[string]string{"host": hostname()},
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		// A disabled client discards everything.
		client, _ = statsd.NewClient(statsd.Config{Logger: logger})
	}
	return client
}

// NewServices wires the job store, transport, publisher, supervisor and reaper.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service config is required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := buildMetrics(logger, cfg.Observability.Metrics)

	notifier := job.NewNotifier(job.NotifierOptions{
		OnDrop: func(ev model.JobEvent) {
			metrics.Count("notifier.dropped", 1, map[string]string{"kind": string(ev.Kind)})
		},
	})
	store := data.NewJobStore(data.JobStoreOptions{Notifier: notifier})

	tr := deps.Transport
	if tr == nil {
		httpTransport, err := transport.NewHTTP(transport.HTTPOptions{
			Endpoint:       cfg.Upload.Endpoint(),
			FieldName:      cfg.Upload.FieldName,
			ConnectTimeout: cfg.Upload.ConnectTimeout,
			Logger:         logger,
		})
		if err != nil {
			return ServiceContainer{}, fmt.Errorf("build transport: %w", err)
		}
		tr = httpTransport
	}

	var publisher *redisadapter.JobPublisher
	opts := service.SupervisorOptions{
		Store:     store,
		Transport: tr,
		Policy:    service.UploadPolicyFromConfig(cfg.Upload),
		Metrics:   metrics,
		Logger:    logger,
	}
	if deps.RedisClient != nil {
		publisher = redisadapter.NewJobPublisher(deps.RedisClient, cfg.Redis.Channel)
		opts.Publisher = publisher
	}

	sup, err := service.NewSupervisor(opts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build supervisor: %w", err)
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Jobs:    sup,
		Config:  cfg.Reaper,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reaper: %w", err)
	}

	return ServiceContainer{
		Store:      store,
		Notifier:   notifier,
		Supervisor: sup,
		Metrics:    metrics,
		Publisher:  publisher,
		Reaper:     reaper,
	}, nil
}

// ServiceOrchestrationConfig is the input to RunServicesWithShutdown.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown serves the API and forwards job changes until
// SIGINT/SIGTERM or the first failure, then shuts everything down.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runServices(ctx, cfg)
}

func runServices(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Services.Supervisor == nil {
		return errors.New("service orchestration config missing supervisor")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := newHTTPServer(&HTTPServerConfig{
		Config:   cfg.Config,
		Services: cfg.Services,
		Logger:   logger,
	})

	// The publisher outlives the signal so failures recorded during
	// shutdown still reach subscribers.
	pubCtx, stopPublisher := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPublisher()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return cfg.Services.Supervisor.RunPublisher(pubCtx)
	})
	if cfg.Services.Reaper != nil {
		g.Go(func() error { return cfg.Services.Reaper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down services...")
		defer stopPublisher()
		return gracefulStop(server, cfg.Services, logger)
	})

	return g.Wait()
}

// gracefulStop closes the API first so no new jobs arrive, then fails
// whatever is still processing.
func gracefulStop(server *http.Server, svc ServiceContainer, logger *slog.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
	defer cancel()

	var errs []error
	if err := ShutdownHTTPServer(ShutdownConfig{
		Context: shutdownCtx,
		Server:  server,
		Logger:  logger,
	}); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}

	if err := svc.Supervisor.Close(shutdownCtx); err != nil {
		logger.Warn("timeout waiting for processing loops to stop", "inflight", svc.Supervisor.Inflight())
		errs = append(errs, fmt.Errorf("close supervisor: %w", err))
	} else {
		logger.Info("supervisor stopped")
	}

	if svc.Metrics != nil {
		if err := svc.Metrics.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StartupInfo lists what the process will talk to, for the startup log line.
func StartupInfo(cfg *config.AppConfig) []any {
	if cfg == nil {
		return nil
	}
	return []any{
		"http_addr", cfg.HTTP.Addr,
		"backend", cfg.Upload.Endpoint(),
		"redis_enabled", cfg.Redis.Enabled,
		"reaper_enabled", cfg.Reaper.Enabled(),
		"metrics_enabled", cfg.Observability.Metrics.IsEnabled(),
		"dev", cfg.IsDev,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
