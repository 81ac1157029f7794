package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/target/docflow/config"
	httpx "github.com/target/docflow/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// newHTTPServer builds the API server without starting it. Request contexts
// are canceled when Shutdown begins so open event streams end.
func newHTTPServer(cfg *HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	router := httpx.NewRouter(httpx.RouterServices{
		Documents:         cfg.Services.Supervisor,
		MaxUploadMemoryMB: appCfg.HTTP.MaxUploadMemoryMB,
		SpoolDir:          os.TempDir(),
		KeepAlive:         appCfg.HTTP.KeepAlive,
		Logger:            logger,
	})

	addr := appCfg.HTTP.Addr
	if addr == "" {
		addr = ":8090"
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	server := &http.Server{
		Addr:              addr,
		Handler:           buildHTTPHandler(logger, router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		// Event streams stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)
	return server
}

// Order: Recover -> Logging -> Router.
func buildHTTPHandler(logger *slog.Logger, router http.Handler) http.Handler {
	h := httpx.Logging(logger)(router)
	return httpx.Recover(logger)(h)
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownWaitTimeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}
