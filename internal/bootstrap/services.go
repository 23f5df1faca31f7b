package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/target/portfolio-ui/config"
	httpx "github.com/target/portfolio-ui/internal/http"
	"github.com/target/portfolio-ui/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Visitors *service.Visitors
	Renderer *httpx.TemplateRenderer
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewServices builds the identity provider factory, the visitor registry and the renderer.
func NewServices(deps *ServiceDeps) (*ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("service deps with config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	factory, err := BuildProviderFactory(AuthDeps{
		Auth:        deps.Config.Auth,
		Redis:       deps.Config.Redis,
		RedisClient: deps.RedisClient,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	renderer, err := NewRenderer(deps.Config.IsDev, logger)
	if err != nil {
		return nil, fmt.Errorf("build renderer: %w", err)
	}

	return &ServiceContainer{
		Visitors: service.NewVisitors(service.VisitorsOptions{
			Factory: factory,
			IdleTTL: deps.Config.Sessions.IdleTTL,
			Logger:  logger,
		}),
		Renderer: renderer,
	}, nil
}

// RunConfig contains dependencies for Run.
type RunConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// Run serves HTTP and sweeps idle visitors until ctx is cancelled or the
// server fails, then shuts everything down.
func Run(ctx context.Context, cfg *RunConfig) error {
	if cfg == nil || cfg.Config == nil || cfg.Services == nil {
		return errors.New("run config is incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cfg.Services.Visitors.RunSweeper(serviceCtx, cfg.Config.Sessions.SweepInterval)
	}()

	errCh := make(chan error, 1)
	server := StartHTTPServer(&HTTPServerConfig{Config: cfg.Config, Services: cfg.Services, Logger: logger}, errCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down services...")
	case runErr = <-errCh:
		logger.Error("service error", "error", runErr)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Config.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	var stopErrs []error
	if err := ShutdownHTTPServer(shutdownCtx, server, logger); err != nil {
		stopErrs = append(stopErrs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := cfg.Services.Visitors.Shutdown(shutdownCtx); err != nil {
		stopErrs = append(stopErrs, fmt.Errorf("shutdown visitors: %w", err))
	}
	wg.Wait()
	logger.Info("visitor sweeper stopped")

	return errors.Join(runErr, errors.Join(stopErrs...))
}
