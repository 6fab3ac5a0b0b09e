package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"coincapflow/config"
	"coincapflow/internal/metrics"
	"coincapflow/logger"
	"coincapflow/pipeline"
	"coincapflow/reader/coincap"
	"coincapflow/store"
	"coincapflow/writer"
)

const usage = `usage: coincapflow [-config path] [-env path] <init|run|schedule>

  init      create the schema if absent and seed reference data
  run       take one snapshot of every time-series table
  schedule  init once, then run every pipeline.interval until interrupted
`

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.GetLogger()

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to dotenv file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}
	command := flag.Arg(0)

	// Load environment variables from .env if present
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return 1
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		return 1
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Coincapflow.Name,
		"version":     cfg.Coincapflow.Version,
		"environment": config.AppEnvironment(),
		"command":     command,
	}).Info("starting coincapflow")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cw := cfg.Metrics.CloudWatch; cw.Enabled {
		logger.InitCloudWatch(ctx, cw.Region, cw.Namespace, cw.Dashboard)
	}
	if log.ReportEnabled() {
		logger.StartReport(ctx, log, 30*time.Second)
	}
	if addr := cfg.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				log.WithComponent("metrics").WithError(err).Warn("metrics server stopped")
			}
		}()
	}

	switch command {
	case "init", "run", "schedule":
	default:
		flag.Usage()
		return 2
	}

	svc, err := newApp(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to initialize")
		return 1
	}
	defer svc.close()

	switch command {
	case "init":
		err = svc.seed(ctx)
	case "run":
		err = svc.snapshot(ctx)
	case "schedule":
		err = svc.schedule(ctx)
	}

	svc.pushMetrics()

	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"command": command}).Error("command finished with failures")
		return 1
	}
	log.WithFields(logger.Fields{"command": command}).Info("command finished")
	return 0
}

type app struct {
	cfg      *config.Config
	client   *coincap.Client
	store    *store.Store
	settings pipeline.Settings
	opts     []pipeline.Option
	log      *logger.Log
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.GetLogger()

	pg := cfg.Storage.Postgres
	if pg.CreateDatabase {
		created, err := store.EnsureDatabase(ctx, pg)
		if err != nil {
			return nil, fmt.Errorf("ensure database %q: %w", pg.Database, err)
		}
		if created {
			log.WithComponent("store").WithFields(logger.Fields{"database": pg.Database}).Info("database created")
		}
	}

	client, err := coincap.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create coincap client: %w", err)
	}

	st, err := store.Open(ctx, pg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{
		cfg:      cfg,
		client:   client,
		store:    st,
		settings: pipeline.SettingsFromConfig(cfg),
		log:      log,
	}

	if cfg.Storage.S3.Enabled {
		archive, err := writer.NewArchive(ctx, cfg)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create s3 archive: %w", err)
		}
		a.opts = append(a.opts, pipeline.WithArchiver(archive))
	}
	return a, nil
}

func (a *app) close() {
	a.store.Close()
}

// seed creates the schema and seeds the reference tables.
func (a *app) seed(ctx context.Context) error {
	if err := a.store.CreateSchemaIfAbsent(ctx); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	report, err := pipeline.NewSeeder(a.client, a.store, a.settings, a.opts...).Seed(ctx)
	a.logReport("seed", report)
	return err
}

func (a *app) snapshot(ctx context.Context) error {
	report, err := pipeline.NewSnapshotter(a.client, a.store, a.settings, a.opts...).Run(ctx)
	a.logReport("snapshot", report)
	return err
}

// schedule seeds once and then snapshots on interval boundaries until ctx is done.
// A run with failures does not stop the schedule.
func (a *app) schedule(ctx context.Context) error {
	log := a.log.WithComponent("scheduler")
	if err := a.seed(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.WithError(err).Warn("seed finished with failures")
	}

	interval := a.cfg.Pipeline.Interval
	now := time.Now()
	nextTick := now.Truncate(interval).Add(interval)
	timer := time.NewTimer(nextTick.Sub(now))
	defer timer.Stop()

	log.WithFields(logger.Fields{"interval": interval.String(), "next_run": nextTick}).Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped due to context cancellation")
			return nil
		case <-timer.C:
			start := time.Now()
			if err := a.snapshot(ctx); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return nil
				}
				log.WithError(err).Warn("snapshot finished with failures")
			}
			a.pushMetrics()

			if duration := time.Since(start); duration > interval {
				log.WithFields(logger.Fields{
					"duration": duration.String(),
					"interval": interval.String(),
				}).Warn("snapshot took longer than interval")
			}

			nextTick = start.Truncate(interval).Add(interval)
			if !nextTick.After(time.Now()) {
				nextTick = time.Now().Truncate(interval).Add(interval)
			}
			timer.Reset(time.Until(nextTick))
		}
	}
}

// logReport logs each recorded failure with its kind and key.
func (a *app) logReport(procedure string, report *pipeline.Report) {
	if report == nil {
		return
	}
	entry := a.log.WithComponent("pipeline").WithFields(logger.Fields{"procedure": procedure, "run_id": report.RunID})
	logger.LogPerformanceEntry(entry, "pipeline", procedure, report.FinishedAt.Sub(report.StartedAt), logger.Fields{"appended": report.Total()})
	for _, f := range report.Failures {
		entry.WithError(f.Err).WithFields(logger.Fields{
			"kind": string(f.Kind),
			"step": f.Procedure,
			"key":  f.Key,
		}).Warn("procedure failure")
	}
}

func (a *app) pushMetrics() {
	url := a.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metrics.Push(ctx, url, a.cfg.Metrics.Job); err != nil {
		a.log.WithComponent("metrics").WithError(err).Warn("failed to push metrics")
	}
}
