//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"QuantSim/internal/domain/repository"
	"QuantSim/pkg/config"
	"QuantSim/pkg/metrics"
	"QuantSim/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisClient,

		// Ambient
		ProvideLogger,
		ProvideMetrics,
		wire.Bind(new(repository.Metrics), new(*metrics.Recorder)),
		ProvideCache,

		// Repositories
		ProvideMarketDataSource,
		ProvideSinkFactory,
		ProvideAuditStore,
		ProvideEventReader,

		// Engine and calibration settings
		ProvideRunnerConfig,
		ProvideCalibrationSettings,
		ProvideStrategyBuilder,
		ProvideQueue,

		// Use cases
		ProvideBacktestUsecase,
		ProvideCalibrateUsecase,
		ProvideWorkers,
		ProvideAudit,

		// Transport and app
		ProvideHTTPHandler,
		ProvideResources,
		ProvideApp,
	)
	return nil, nil
}
