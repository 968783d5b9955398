package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/kilnhq/kiln/cmd/api/config"
	"github.com/kilnhq/kiln/lib/builds"
	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/instances"
	"github.com/kilnhq/kiln/lib/layer"
	"github.com/kilnhq/kiln/lib/logger"
	kilnotel "github.com/kilnhq/kiln/lib/otel"
	"github.com/kilnhq/kiln/lib/paths"
)

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideLogger provides a structured logger
func ProvideLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return logger.New(level)
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvidePaths provides the data directory layout
func ProvidePaths(cfg *config.Config) (*paths.Paths, error) {
	p := paths.New(cfg.DataDir)
	if err := p.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("ensure data directories: %w", err)
	}
	return p, nil
}

// ProvideMeter provides the OTel meter for the service
func ProvideMeter() metric.Meter {
	return otel.Meter("kiln")
}

// ProvideLayerCache provides the content-addressed layer cache
func ProvideLayerCache(p *paths.Paths) (*layer.Cache, error) {
	return layer.Open(p.LayersDir())
}

// ProvideImageManager provides the image manager
func ProvideImageManager(p *paths.Paths) images.Manager {
	return images.NewManager(p)
}

// ProvideSupervisorMetrics provides supervision metrics
func ProvideSupervisorMetrics(meter metric.Meter) (*kilnotel.SupervisorMetrics, error) {
	return kilnotel.NewSupervisorMetrics(meter)
}

// ProvideBuildMetrics provides build pipeline metrics
func ProvideBuildMetrics(meter metric.Meter) (*builds.Metrics, error) {
	return builds.NewMetrics(meter)
}

// ProvideBuildManager provides the build manager
func ProvideBuildManager(p *paths.Paths, cfg *config.Config, cache *layer.Cache, imageManager images.Manager, log *slog.Logger, metrics *builds.Metrics) builds.Manager {
	return builds.NewManager(p, cfg.BuildConfig(), cache, imageManager, log, metrics)
}

// ProvideInstanceManager provides the instance manager
func ProvideInstanceManager(p *paths.Paths, imageManager images.Manager, metrics *kilnotel.SupervisorMetrics) instances.Manager {
	return instances.NewManager(p, imageManager, metrics)
}
