package di

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"QuantSim/internal/calibration"
	"QuantSim/internal/domain/errs"
	"QuantSim/internal/domain/models"
	"QuantSim/internal/domain/repository"
	"QuantSim/internal/engine"
	"QuantSim/internal/handler/api"
	internalrepo "QuantSim/internal/repository"
	"QuantSim/internal/services/eventlog"
	"QuantSim/internal/services/features"
	"QuantSim/internal/services/ledger"
	"QuantSim/internal/services/risk"
	"QuantSim/internal/strategy"
	"QuantSim/internal/usecase"
	"QuantSim/pkg/cache"
	pkgch "QuantSim/pkg/clickhouse"
	"QuantSim/pkg/config"
	xhttp "QuantSim/pkg/http"
	pkgkafka "QuantSim/pkg/kafka"
	"QuantSim/pkg/logger"
	"QuantSim/pkg/metrics"
	"QuantSim/pkg/queue"
	"QuantSim/pkg/server"
)

func needsClickHouse(cfg *config.Config) bool {
	return cfg.Data.Mode == "clickhouse" || cfg.EventLog.Sink == "clickhouse"
}

func needsProducer(cfg *config.Config) bool {
	return len(cfg.Kafka.Brokers) > 0 && (cfg.EventLog.Sink == "kafka" || cfg.Log.Collector.Enabled)
}

// ProvideClickHouseClient connects and applies the schema, or returns nil
// when neither bars nor events live in ClickHouse.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !needsClickHouse(cfg) {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, errs.Setup("clickhouse client", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, pkgch.Schema(cfg.ClickHouse.Database, cfg.ClickHouse.CandlesTable, cfg.ClickHouse.EventsTable)); err != nil {
		_ = client.Close()
		return nil, errs.Setup("clickhouse schema", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a producer for the event sink and the log
// collector, or returns nil when neither uses Kafka.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !needsProducer(cfg) {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, errs.Setup("kafka producer", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the audit consumer, or nil without brokers.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, errs.Setup("kafka consumer", err)
	}
	consumer.WithConsumerHook(pkgkafka.NoopHook{})
	return consumer, nil
}

// ProvideRedisClient connects to Redis, or returns nil when disabled. The
// client is shared by the job queue and the result cache.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Setup("redis ping", err)
	}
	return client, nil
}

// ProvideLogger builds the application logger. Repeated warnings and errors
// are aggregated and shipped to Kafka when the collector is enabled.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	l, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, errs.Setup("logger", err)
	}
	if cfg.Log.Collector.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.Log.Collector.Interval,
			CountThreshold: cfg.Log.Collector.CountThreshold,
			Topic:          cfg.Log.Collector.Topic,
			Publisher:      producer,
		})
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New()
}

// ProvideCache layers an in-process cache over Redis when it is enabled.
func ProvideCache(cfg *config.Config, rc *redis.Client) cache.Service {
	mem := []cache.MemoryOption{cache.WithMemoryDefaultTTL(cfg.Calibration.CacheTTL)}
	if rc == nil {
		return cache.NewMemoryCache(mem...)
	}
	return cache.NewLayeredCache(cache.NewRedisCacheFromClient(rc, "quantsim:cache"), mem...)
}

// ProvideMarketDataSource selects the bar source for data.mode.
func ProvideMarketDataSource(cfg *config.Config, ch *pkgch.Client, l *logger.Logger) (repository.MarketDataSource, error) {
	switch cfg.Data.Mode {
	case "csv":
		src := internalrepo.NewCSVBarSource(cfg.Data.CSVDir)
		src.SetLogger(l)
		return src, nil
	case "clickhouse":
		if ch == nil {
			return nil, errs.Setupf("data source", "clickhouse client not configured")
		}
		src := internalrepo.NewCHBarSource(ch, cfg.ClickHouse.CandlesTable)
		src.SetLogger(l)
		return src, nil
	case "synthetic":
		s := cfg.Data.Synthetic
		return internalrepo.NewSyntheticSource(internalrepo.SyntheticConfig{
			Seed:       s.Seed,
			StartPrice: s.StartPrice,
			Volatility: s.Volatility,
			Drift:      s.Drift,
			BaseVolume: s.BaseVolume,
		}), nil
	}
	return nil, errs.Setupf("data source", "unknown data.mode %q", cfg.Data.Mode)
}

// ProvideSinkFactory maps event_log.sink onto per-run primary sinks. Every
// run falls back to a local JSON-lines file when the primary fails.
func ProvideSinkFactory(cfg *config.Config, ch *pkgch.Client, producer *pkgkafka.Producer) (engine.SinkFactory, error) {
	fallback := func(runID string) repository.EventSink {
		return eventlog.NewJSONLSink(runPath(cfg.EventLog.FallbackPath, runID))
	}
	switch cfg.EventLog.Sink {
	case "jsonl":
		return func(runID string) (repository.EventSink, repository.EventSink) {
			return eventlog.NewJSONLSink(runPath(cfg.EventLog.Path, runID)), fallback(runID)
		}, nil
	case "clickhouse":
		if ch == nil {
			return nil, errs.Setupf("event sink", "clickhouse client not configured")
		}
		shared := eventlog.Shared(internalrepo.NewCHEventSink(ch, cfg.ClickHouse.EventsTable))
		return func(runID string) (repository.EventSink, repository.EventSink) {
			return shared, fallback(runID)
		}, nil
	case "kafka":
		if producer == nil {
			return nil, errs.Setupf("event sink", "kafka producer not configured")
		}
		shared := eventlog.Shared(internalrepo.NewKafkaEventSink(producer, cfg.EventLog.Topic))
		return func(runID string) (repository.EventSink, repository.EventSink) {
			return shared, fallback(runID)
		}, nil
	case "memory":
		return func(string) (repository.EventSink, repository.EventSink) {
			return eventlog.NewMemorySink(), nil
		}, nil
	}
	return nil, errs.Setupf("event sink", "unknown event_log.sink %q", cfg.EventLog.Sink)
}

// runPath inserts the run id before the extension: events.jsonl -> events-<id>.jsonl.
func runPath(path, runID string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + runID + ext
}

// ProvideRunnerConfig maps engine, risk and ledger settings onto a runner config.
func ProvideRunnerConfig(cfg *config.Config) engine.RunnerConfig {
	tf := repository.NormalizeTimeframe(cfg.Data.Timeframe)
	return engine.RunnerConfig{
		Engine: engine.Config{
			ForceCloseOnFinalize: cfg.Engine.ForceCloseOnFinalize,
			BarsPerYear:          tf.BarsPerYear(),
			Features: features.Config{
				Window:       cfg.Engine.FeatureWindow,
				RegimeWindow: cfg.Engine.RegimeWindow,
			},
		},
		Risk: risk.Config{
			MinRewardRisk:     cfg.Risk.MinRewardRisk,
			MaxConcurrent:     cfg.Risk.MaxConcurrent,
			MaxVPIN:           cfg.Risk.MaxVPIN,
			RiskPerTrade:      cfg.Risk.RiskPerTrade,
			HighVolSizeFactor: cfg.Risk.HighVolSizeFactor,
			MinQuality:        cfg.Risk.MinQuality,
		},
		Ledger: ledger.Config{
			InitialEquity:   cfg.Engine.InitialEquity,
			PartialAtR:      cfg.Ledger.PartialAtR,
			PartialFraction: cfg.Ledger.PartialFraction,
			TrailingPct:     cfg.Ledger.TrailingPct,
		},
		Arbiter:        cfg.Engine.Arbiter,
		FlushThreshold: cfg.EventLog.FlushThreshold,
	}
}

// ProvideCalibrationSettings parses the walk-forward windows and objective knobs.
func ProvideCalibrationSettings(cfg *config.Config) (usecase.CalibrationSettings, error) {
	c := cfg.Calibration
	train, err := calibration.ParsePeriod(c.TrainWindow)
	if err != nil {
		return usecase.CalibrationSettings{}, err
	}
	test, err := calibration.ParsePeriod(c.TestWindow)
	if err != nil {
		return usecase.CalibrationSettings{}, err
	}
	hold, err := calibration.ParsePeriod(c.HoldOutWindow)
	if err != nil {
		return usecase.CalibrationSettings{}, err
	}

	ranges := make(map[string]calibration.Ranges, len(c.Ranges))
	for id, r := range c.Ranges {
		if !strategy.Known(id) {
			return usecase.CalibrationSettings{}, errs.Setupf("calibration", "ranges for unknown strategy %q", id)
		}
		ranges[strategy.Normalize(id)] = calibration.Ranges(r)
	}
	baselines := make(map[string]models.Params, len(c.Baselines))
	for id, p := range c.Baselines {
		baselines[strategy.Normalize(id)] = models.Params(p)
	}

	return usecase.CalibrationSettings{
		Train:   train,
		Test:    test,
		HoldOut: hold,
		Objective: calibration.ObjectiveConfig{
			StabilityPenaltyWeight: c.StabilityPenaltyWeight,
			MinTradesRequired:      c.MinTradesRequired,
		},
		Workers:   c.Workers,
		Symbols:   cfg.Data.Symbols,
		Timeframe: repository.NormalizeTimeframe(cfg.Data.Timeframe),
		Ranges:    ranges,
		Baselines: baselines,
		CacheTTL:  c.CacheTTL,
	}, nil
}

// ProvideStrategyBuilder returns the strategy catalogue constructor.
func ProvideStrategyBuilder() calibration.Builder {
	return strategy.Build
}

// ProvideQueue builds the calibration job queue on Redis, or nil when disabled.
func ProvideQueue(cfg *config.Config, rc *redis.Client, l *logger.Logger) *queue.Queue {
	if rc == nil {
		return nil
	}
	return queue.New(l, queue.NewRedisBroker(rc), &queue.QueueConfig{
		Workers:    cfg.Calibration.Workers,
		RetryLimit: 2,
		ReplyTTL:   cfg.Calibration.ResultTimeout * 2,
	}, queue.WithKeyPrefix(cfg.Calibration.QueueName))
}

// ProvideBacktestUsecase creates the backtest use case.
func ProvideBacktestUsecase(
	src repository.MarketDataSource,
	run engine.RunnerConfig,
	sinks engine.SinkFactory,
	build calibration.Builder,
	l *logger.Logger,
	m repository.Metrics,
) *usecase.BacktestUsecase {
	return usecase.NewBacktestUsecase(src, run, sinks, build, l, m)
}

// ProvideCalibrateUsecase creates the calibration use case. Units go to queue
// workers when calibration.distributed is set.
func ProvideCalibrateUsecase(
	cfg *config.Config,
	src repository.MarketDataSource,
	run engine.RunnerConfig,
	set usecase.CalibrationSettings,
	build calibration.Builder,
	q *queue.Queue,
	c cache.Service,
	l *logger.Logger,
	m repository.Metrics,
) *usecase.CalibrateUsecase {
	opts := []usecase.CalibrateOption{usecase.WithResultCache(c)}
	if cfg.Calibration.Distributed && q != nil {
		opts = append(opts, usecase.WithRemoteExecutor(calibration.NewQueueExecutor(q, cfg.Calibration.ResultTimeout, l)))
	}
	return usecase.NewCalibrateUsecase(src, run, set, build, l, m, opts...)
}

// ProvideWorkers binds the fold job to the queue. Workers load their own data
// per unit and share the result cache with the coordinator.
func ProvideWorkers(
	q *queue.Queue,
	src repository.MarketDataSource,
	run engine.RunnerConfig,
	build calibration.Builder,
	c cache.Service,
	cfg *config.Config,
	l *logger.Logger,
	m repository.Metrics,
) server.Workers {
	var eval calibration.Evaluator = calibration.NewSourceEvaluator(src, run, build, l, engine.WithRunnerMetrics(m), engine.WithRunnerLogger(l))
	ns := cache.HashKey(fmt.Sprintf("worker|%+v", run))
	eval = calibration.NewCachedEvaluator(eval, c, ns, cfg.Calibration.CacheTTL, l)
	return server.Workers{Queue: q, FoldJob: calibration.NewFoldJob(eval)}
}

// ProvideAuditStore picks where audited events land: ClickHouse when
// configured, otherwise the local event log file.
func ProvideAuditStore(cfg *config.Config, ch *pkgch.Client) repository.EventSink {
	if ch != nil {
		return internalrepo.NewCHEventSink(ch, cfg.ClickHouse.EventsTable)
	}
	return eventlog.NewJSONLSink(cfg.EventLog.Path)
}

// ProvideAudit registers the trade-event audit handler on the consumer.
func ProvideAudit(cfg *config.Config, consumer *pkgkafka.Consumer, store repository.EventSink, m repository.Metrics) server.Audit {
	return server.Audit{
		Consumer: consumer,
		Handler:  usecase.NewEventAuditHandler(cfg.EventLog.Topic, store, m),
	}
}

// ProvideEventReader exposes stored run events when they live in ClickHouse.
func ProvideEventReader(cfg *config.Config, ch *pkgch.Client) api.EventReader {
	if ch == nil {
		return nil
	}
	return internalrepo.NewCHEventSink(ch, cfg.ClickHouse.EventsTable)
}

// ProvideHTTPHandler creates the API handler.
func ProvideHTTPHandler(
	l *logger.Logger,
	bt *usecase.BacktestUsecase,
	cal *usecase.CalibrateUsecase,
	events api.EventReader,
) xhttp.Handler {
	return api.NewBacktestEchoHandler(l, bt, cal, events)
}

// ProvideResources lists what App.Close releases, most dependent first.
func ProvideResources(c cache.Service, producer *pkgkafka.Producer, rc *redis.Client, ch *pkgch.Client) server.Resources {
	out := server.Resources{c}
	if producer != nil {
		out = append(out, producer)
	}
	if rc != nil {
		out = append(out, rc)
	}
	if ch != nil {
		out = append(out, ch)
	}
	return out
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	rec *metrics.Recorder,
	bt *usecase.BacktestUsecase,
	cal *usecase.CalibrateUsecase,
	h xhttp.Handler,
	workers server.Workers,
	audit server.Audit,
	res server.Resources,
) *server.App {
	l.Info("application wired", logger.String("config", cfg.String()))
	return server.New(cfg, l, rec, bt, cal, h, workers, audit, res)
}
