package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"QuantSim/internal/di"
	"QuantSim/internal/domain/models"
	domrepo "QuantSim/internal/domain/repository"
	"QuantSim/internal/usecase"
	"QuantSim/pkg/config"
	"QuantSim/pkg/server"
	"QuantSim/pkg/util"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

var errUsage = errors.New("usage")

const usage = `usage: quantsim <command> [flags]

commands:
  backtest   replay strategies over historical bars
  calibrate  walk-forward parameter search for a strategy or "all"
  holdout    calibrate, then classify the winner on a later period
  worker     consume calibration units from the Redis queue
  serve      HTTP API and metrics
  audit      copy Kafka trade events into storage
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1], os.Args[2:], os.Stdout)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitUsage)
	default:
		log.Printf("quantsim %s: %v", os.Args[1], err)
		os.Exit(exitFailure)
	}
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	configPath := fs.String("config", "config/config.yaml", "config file path")

	switch cmd {
	case "backtest":
		from, to := fs.String("from", "", "start of the replay (RFC 3339 or YYYY-MM-DD)"), fs.String("to", "", "end of the replay")
		symbols := fs.String("symbols", "", "comma separated symbols, defaults to data.symbols")
		strategies := fs.String("strategies", "", "comma separated strategy ids")
		tf := fs.String("tf", "", "bar timeframe, defaults to data.timeframe")
		mode := fs.String("data", "", "data source override: csv, clickhouse or synthetic")
		warmup := fs.Int("warmup-bars", 100, "bars before -from used only to warm up features")
		runID := fs.String("run-id", "", "run id, random when empty")
		if err := fs.Parse(args); err != nil {
			return usageErr(err)
		}
		start, end, err := parseRange(*from, *to)
		if err != nil {
			return err
		}
		ids := util.SplitList(*strategies)
		if len(ids) == 0 {
			return fmt.Errorf("%w: -strategies is required", errUsage)
		}
		return withApp(*configPath, func(cfg *config.Config) {
			if *mode != "" {
				cfg.Data.Mode = *mode
			}
			if *tf != "" {
				cfg.Data.Timeframe = *tf
			}
		}, func(cfg *config.Config, app *server.App) error {
			timeframe := domrepo.NormalizeTimeframe(cfg.Data.Timeframe)
			rep, err := app.Backtests().Run(ctx, usecase.BacktestRequest{
				RunID:      *runID,
				Symbols:    symbolsOr(*symbols, cfg),
				Strategies: ids,
				From:       start,
				To:         end,
				Timeframe:  timeframe,
				Warmup:     time.Duration(*warmup) * timeframe.Duration(),
			})
			if err != nil && rep.RunID == "" {
				return err
			}
			return errors.Join(err, writeJSON(out, rep))
		})

	case "calibrate":
		id := fs.String("strategy", "all", "strategy id or all")
		from, to := fs.String("from", "", "start of the calibration range"), fs.String("to", "", "end of the calibration range")
		symbols := fs.String("symbols", "", "comma separated symbols, defaults to data.symbols")
		if err := fs.Parse(args); err != nil {
			return usageErr(err)
		}
		start, end, err := parseRange(*from, *to)
		if err != nil {
			return err
		}
		return withApp(*configPath, nil, func(cfg *config.Config, app *server.App) error {
			res, err := app.Calibrations().Calibrate(ctx, usecase.CalibrateRequest{
				Strategy: *id, From: start, To: end, Symbols: symbolsOr(*symbols, cfg),
			})
			if err != nil && len(res.Sweep.Results) == 0 {
				return err
			}
			return errors.Join(err, writeJSON(out, summarize(res)))
		})

	case "holdout":
		id := fs.String("strategy", "", "strategy id")
		from, to := fs.String("from", "", "start of the calibration range"), fs.String("to", "", "end of the calibration range, start of the hold-out")
		hold := fs.String("holdout-end", "", "end of the hold-out period, defaults to -to plus calibration.holdout_window")
		symbols := fs.String("symbols", "", "comma separated symbols, defaults to data.symbols")
		if err := fs.Parse(args); err != nil {
			return usageErr(err)
		}
		start, end, err := parseRange(*from, *to)
		if err != nil {
			return err
		}
		if *id == "" || *id == "all" {
			return fmt.Errorf("%w: -strategy must name one strategy", errUsage)
		}
		var holdEnd time.Time
		if *hold != "" {
			if holdEnd, err = util.ParseTime(*hold); err != nil {
				return fmt.Errorf("%w: -holdout-end: %v", errUsage, err)
			}
		}
		return withApp(*configPath, nil, func(cfg *config.Config, app *server.App) error {
			rep, err := app.Calibrations().HoldOut(ctx, usecase.HoldOutRequest{
				Strategy: *id, From: start, To: end, HoldOutEnd: holdEnd, Symbols: symbolsOr(*symbols, cfg),
			})
			if err != nil {
				return err
			}
			return writeJSON(out, rep)
		})

	case "worker", "serve", "audit":
		if err := fs.Parse(args); err != nil {
			return usageErr(err)
		}
		return withApp(*configPath, nil, func(_ *config.Config, app *server.App) error {
			switch cmd {
			case "worker":
				return app.Work(ctx)
			case "serve":
				return app.Serve(ctx)
			default:
				return app.AuditEvents(ctx)
			}
		})
	}
	return fmt.Errorf("%w: unknown command %q\n\n%s", errUsage, cmd, usage)
}

// withApp loads config, applies overrides, wires the app and closes it after fn.
func withApp(path string, override func(*config.Config), fn func(*config.Config, *server.App) error) error {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return err
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return err
	}
	runErr := fn(cfg, app)
	return errors.Join(runErr, app.Close())
}

func usageErr(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %v", errUsage, err)
}

func parseRange(from, to string) (time.Time, time.Time, error) {
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -from and -to are required", errUsage)
	}
	start, err := util.ParseTime(from)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -from: %v", errUsage, err)
	}
	end, err := util.ParseTime(to)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -to: %v", errUsage, err)
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: -from must be before -to", errUsage)
	}
	return start, end, nil
}

func symbolsOr(flagValue string, cfg *config.Config) []string {
	if s := util.SplitList(strings.ToUpper(flagValue)); len(s) > 0 {
		return s
	}
	return cfg.Data.Symbols
}

type calibrationSummary struct {
	Folds    []models.Fold                         `json:"folds"`
	Best     map[string]models.CalibrationResult   `json:"best"`
	Top      map[string][]models.CalibrationResult `json:"top"`
	Failures map[string]string                     `json:"failures,omitempty"`
}

// summarize keeps the five best parameter sets per strategy.
func summarize(o usecase.CalibrationOutcome) calibrationSummary {
	s := calibrationSummary{
		Folds:    o.Folds,
		Best:     make(map[string]models.CalibrationResult),
		Top:      make(map[string][]models.CalibrationResult),
		Failures: o.Sweep.Failures,
	}
	for _, id := range o.Sweep.Succeeded() {
		results := o.Sweep.Results[id]
		if len(results) == 0 {
			continue
		}
		s.Best[id] = results[0]
		if len(results) > 5 {
			results = results[:5]
		}
		s.Top[id] = results
	}
	return s
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
