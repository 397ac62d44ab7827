package server

import (
	"context"
	"errors"
	"io"

	"QuantSim/internal/domain/errs"
	"QuantSim/internal/usecase"
	"QuantSim/pkg/config"
	xhttp "QuantSim/pkg/http"
	pkgkafka "QuantSim/pkg/kafka"
	applogger "QuantSim/pkg/logger"
	"QuantSim/pkg/metrics"
	"QuantSim/pkg/queue"
)

// Workers holds the calibration job queue. Queue is nil without Redis.
type Workers struct {
	Queue   *queue.Queue
	FoldJob queue.Job
}

// Audit holds the Kafka consumer that copies trade events into storage.
// Consumer is nil without brokers.
type Audit struct {
	Consumer *pkgkafka.Consumer
	Handler  pkgkafka.MessageHandler
}

// Resources are the infrastructure handles closed on shutdown, in order.
type Resources []io.Closer

// App encapsulates the application lifecycle of every command.
type App struct {
	cfg       *config.Config
	log       *applogger.Logger
	metrics   *metrics.Recorder
	backtests *usecase.BacktestUsecase
	calib     *usecase.CalibrateUsecase
	handler   xhttp.Handler
	workers   Workers
	audit     Audit
	resources Resources
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	rec *metrics.Recorder,
	backtests *usecase.BacktestUsecase,
	calib *usecase.CalibrateUsecase,
	handler xhttp.Handler,
	workers Workers,
	audit Audit,
	resources Resources,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		metrics:   rec,
		backtests: backtests,
		calib:     calib,
		handler:   handler,
		workers:   workers,
		audit:     audit,
		resources: resources,
	}
}

func (a *App) Logger() *applogger.Logger { return a.log }

func (a *App) Backtests() *usecase.BacktestUsecase { return a.backtests }

func (a *App) Calibrations() *usecase.CalibrateUsecase { return a.calib }

// Serve runs the HTTP API until ctx is cancelled or the listener fails.
func (a *App) Serve(ctx context.Context) error {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithRateLimit(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(a.cfg.Metrics.Path, a.metrics.Handler(), a.metrics.Registry()))
	}
	srv := xhttp.NewServer(a.log, []xhttp.Handler{a.handler}, opts...)
	if err := srv.Start(); err != nil {
		return err
	}
	a.log.Info("api started", applogger.String("config", a.cfg.String()))

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case runErr = <-srv.Errors():
	}
	if err := srv.Stop(context.WithoutCancel(ctx)); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}
	return runErr
}

// Work consumes calibration units from the queue until ctx is cancelled.
func (a *App) Work(ctx context.Context) error {
	if a.workers.Queue == nil {
		return errs.Setupf("worker", "redis.enabled is required for calibration workers")
	}
	a.workers.Queue.RegisterJob(a.workers.FoldJob)
	if err := a.workers.Queue.Start(ctx); err != nil {
		return errs.Setup("worker", err)
	}
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	stopCtx, cancel := a.stopContext(ctx)
	defer cancel()
	return a.workers.Queue.Stop(stopCtx)
}

// AuditEvents mirrors the trade-event topic into storage until ctx is cancelled.
func (a *App) AuditEvents(ctx context.Context) error {
	if a.audit.Consumer == nil {
		return errs.Setupf("audit", "kafka.brokers is required for the audit consumer")
	}
	a.audit.Consumer.RegisterHandler(a.audit.Handler)
	if err := a.audit.Consumer.Start(ctx); err != nil {
		return errs.Setup("audit", err)
	}
	a.log.Info("audit consumer started", applogger.String("topic", a.audit.Handler.Topic()))
	<-ctx.Done()
	a.log.Info("shutdown signal received")
	stopCtx, cancel := a.stopContext(ctx)
	defer cancel()
	return a.audit.Consumer.Stop(stopCtx)
}

func (a *App) stopContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
}

// Close releases infrastructure clients and flushes collected logs.
func (a *App) Close() error {
	a.log.RemoveCollector()
	var out []error
	for _, c := range a.resources {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
			out = append(out, err)
		}
	}
	return errors.Join(out...)
}
