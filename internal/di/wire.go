//go:build wireinject
// +build wireinject

package di

import (
	"RegimePulse/pkg/config"
	"RegimePulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisCache,

		// Repositories
		ProvideFeatureStore,
		ProvideOutputStore,
		ProvidePublisher,
		ProvideStateCache,

		// Models and inference
		ProvideArtifactsStore,
		ProvideTimeframes,
		ProvideRegimeService,

		// Ingest
		ProvideKafkaBarsHandler,
		ProvideFeatureStream,
		ProvideBarCollector,
		ProvideBackfillQueue,

		// HTTP
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
