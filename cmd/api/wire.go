//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"

	"github.com/kilnhq/kiln/cmd/api/api"
	"github.com/kilnhq/kiln/cmd/api/config"
	"github.com/kilnhq/kiln/lib/builds"
	"github.com/kilnhq/kiln/lib/images"
	"github.com/kilnhq/kiln/lib/instances"
	"github.com/kilnhq/kiln/lib/providers"
)

// application struct to hold initialized components
type application struct {
	Ctx             context.Context
	Logger          *slog.Logger
	Config          *config.Config
	BuildManager    builds.Manager
	ImageManager    images.Manager
	InstanceManager instances.Manager
	ApiService      *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideLogger,
		providers.ProvidePaths,
		providers.ProvideMeter,
		providers.ProvideLayerCache,
		providers.ProvideImageManager,
		providers.ProvideSupervisorMetrics,
		providers.ProvideBuildMetrics,
		providers.ProvideBuildManager,
		providers.ProvideInstanceManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}
