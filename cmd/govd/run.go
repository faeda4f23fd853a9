package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/govcore/internal/config"
	"github.com/fyrsmithlabs/govcore/internal/conflict"
	"github.com/fyrsmithlabs/govcore/internal/deployment"
	"github.com/fyrsmithlabs/govcore/internal/drift"
	"github.com/fyrsmithlabs/govcore/internal/events"
	"github.com/fyrsmithlabs/govcore/internal/governance"
	govhttp "github.com/fyrsmithlabs/govcore/internal/http"
	"github.com/fyrsmithlabs/govcore/internal/logging"
	"github.com/fyrsmithlabs/govcore/internal/metrics"
	"github.com/fyrsmithlabs/govcore/internal/orchestrator"
	"github.com/fyrsmithlabs/govcore/internal/secrets"
	"github.com/fyrsmithlabs/govcore/internal/telemetry"
	"github.com/fyrsmithlabs/govcore/internal/versionctl"
)

// run starts the daemon and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Opens durable storage and connects to NATS when configured
//  4. Builds the governance core and wires the bus into it
//  5. Runs the decision loop, the HTTP server and the config watcher until
//     shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tel, logger, err := initObservability(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn(sctx, "telemetry shutdown", zap.Error(err))
		}
		_ = logger.Sync()
	}()

	if cfg.Server.Token == "" && cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
		logger.Warn(ctx, "mutating routes are unauthenticated on a non-loopback address; set server.token")
	}
	logger.Info(ctx, "starting govd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("data_dir", cfg.DataDir),
		zap.Bool("nats", cfg.NATS.Enabled),
		logging.Secret("server_token", cfg.Server.Token))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	scrubber, err := newScrubber(cfg)
	if err != nil {
		return err
	}

	opts := append(deps.coreOptions(),
		governance.WithLogger(logger),
		governance.WithMetrics(metrics.New(reg)),
		governance.WithRedactor(scrubber))
	core, err := governance.New(coreConfig(cfg), opts...)
	if err != nil {
		return fmt.Errorf("building governance core: %w", err)
	}

	source, err := deps.subscribe(ctx, core)
	if err != nil {
		return err
	}

	srv, err := govhttp.NewServer(core, logger.Named("http"), cfg.Server.Addr(),
		govhttp.WithGatherer(reg),
		govhttp.WithOperatorToken(cfg.Server.Token.Value()),
		govhttp.WithTelemetry(tel),
		govhttp.WithHTTPMetrics(govhttp.NewHTTPMetrics(logger.Underlying())))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(gctx, source) })
	g.Go(srv.Start)
	g.Go(func() error { return watchConfig(gctx, configPath, cfg.Runtime(), core, logger) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()
	logger.Info(context.Background(), "govd stopped")
	return err
}

func initObservability(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, *logging.Logger, error) {
	telCfg := telemetry.NewDefaultConfig()
	if err := cfg.Unmarshal("telemetry", telCfg); err != nil {
		return nil, nil, err
	}
	bootstrap, _ := zap.NewProduction()
	tel, err := telemetry.New(ctx, telCfg, telemetry.WithLogger(bootstrap))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Unmarshal("logging", logCfg); err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing logger: %w", err)
	}
	return tel, logger, nil
}

// newScrubber builds the free-text redactor from the "secrets" section.
func newScrubber(cfg *config.Config) (*secrets.Scrubber, error) {
	sc := secrets.DefaultConfig()
	if err := cfg.Unmarshal("secrets", sc); err != nil {
		return nil, err
	}
	s, err := secrets.New(sc)
	if err != nil {
		return nil, fmt.Errorf("building secret scrubber: %w", err)
	}
	return s, nil
}

// coreConfig maps the file layout onto the component configs.
func coreConfig(cfg *config.Config) governance.Config {
	return governance.Config{
		Interval:          cfg.Cycle.Interval.Duration(),
		EvaluateEvery:     cfg.Cycle.EvaluateEvery,
		QueryMode:         cfg.Cycle.QueryMode,
		PollBudget:        cfg.Cycle.PollBudget.Duration(),
		RecommendationTTL: cfg.Cycle.RecommendationTTL.Duration(),
		IncidentCapacity:  cfg.Cycle.IncidentCapacity,
		ApprovalCapacity:  cfg.Cycle.ApprovalCapacity,
		PreviewCapacity:   cfg.Cycle.PreviewCapacity,
		KeepVersions:      cfg.Versions.KeepLast,
		Conflict: conflict.Config{
			PriorityMargin:  cfg.Conflict.PriorityMargin,
			DisparityMargin: cfg.Conflict.DisparityMargin,
		},
		Orchestrator: orchestrator.Config{
			SafetyThreshold: cfg.Cycle.SafetyThreshold,
			CycleBudget:     cfg.Cycle.Budget.Duration(),
			AuditCapacity:   cfg.Cycle.AuditCapacity,
		},
		Deployment: deployment.Config{
			AutoAdvance:         cfg.Deployment.AutoAdvance,
			AutoRollback:        cfg.Deployment.AutoRollback,
			HardLimitConfidence: cfg.Deployment.HardLimitConfidence,
		},
		Drift: drift.Config{
			Window:     cfg.Drift.Window,
			Baseline:   cfg.Drift.Baseline,
			Thresholds: drift.Thresholds{Warning: cfg.Drift.Warning, Critical: cfg.Drift.Critical},
		},
		Versions: versionctl.Config{MaxArtifactSize: cfg.Versions.MaxArtifactSize},
	}
}

// dependencies holds the infrastructure the core is wired to.
type dependencies struct {
	cfg     *config.Config
	logger  *logging.Logger
	storage *governance.Storage
	nc      *nats.Conn
	bus     *events.Bus
	sub     *events.Subscriber
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	d := &dependencies{cfg: cfg, logger: logger}

	if cfg.DataDir != "" {
		st, err := governance.OpenStorage(cfg.DataDir, cfg.Cycle.AuditCapacity, logger.Underlying().Named("storage"))
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		d.storage = st
	} else {
		logger.Warn(ctx, "no data_dir configured; audit log, phase and versions are memory-only")
	}

	if cfg.NATS.Enabled {
		nc, err := connectNATS(cfg.NATS)
		if err != nil {
			d.Close()
			return nil, err
		}
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL), zap.String("prefix", cfg.NATS.Prefix))
		d.nc = nc
		d.bus = events.NewBus(nc, events.WithPrefix(cfg.NATS.Prefix), events.WithLogger(logger.Underlying().Named("events")))
	}
	return d, nil
}

func connectNATS(cfg config.NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("govd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration()),
	}
	if tok := cfg.Token.Value(); tok != "" {
		opts = append(opts, nats.Token(tok))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}

func (d *dependencies) coreOptions() []governance.Option {
	var opts []governance.Option
	if d.storage != nil {
		opts = append(opts, governance.WithStorage(d.storage))
	}
	if d.bus == nil {
		return append(opts, governance.WithExecutor(logExecutor(d.logger)))
	}
	opts = append(opts, governance.WithPublisher(d.bus))
	if d.cfg.NATS.Remote {
		opts = append(opts,
			governance.WithRetrainer(events.NewRetrainer(d.bus, d.cfg.NATS.RetrainTimeout.Duration())),
			governance.WithExecutor(events.NewExecutor(d.bus, d.cfg.NATS.ExecuteTimeout.Duration())))
	} else {
		opts = append(opts, governance.WithExecutor(logExecutor(d.logger)))
	}
	return opts
}

// subscribe feeds bus traffic into core and returns the snapshot source for
// the decision loop. Without NATS the loop ticks on empty snapshots.
func (d *dependencies) subscribe(ctx context.Context, core *governance.Core) (governance.SnapshotSource, error) {
	if d.bus == nil {
		return nil, nil
	}
	d.sub = events.NewSubscriber(d.bus)
	if err := d.sub.Recommendations(ctx, core); err != nil {
		return nil, err
	}
	if err := d.sub.Observations(ctx, core); err != nil {
		return nil, err
	}
	cache, err := d.sub.Snapshots()
	if err != nil {
		return nil, err
	}
	return cache.Latest, nil
}

// Close releases infrastructure in reverse order of acquisition.
func (d *dependencies) Close() {
	var errs []error
	if d.sub != nil {
		errs = append(errs, d.sub.Close())
	}
	if d.bus != nil {
		errs = append(errs, d.bus.Flush(time.Second))
	}
	if d.nc != nil {
		d.nc.Close()
	}
	if d.storage != nil {
		errs = append(errs, d.storage.Close())
	}
	if err := errors.Join(errs...); err != nil {
		d.logger.Warn(context.Background(), "closing dependencies", zap.Error(err))
	}
}

// logExecutor records authorized commands when no kernel executor is
// attached.
func logExecutor(logger *logging.Logger) governance.Executor {
	l := logger.Named("executor")
	return governance.ExecutorFunc(func(ctx context.Context, cmd governance.Command) error {
		l.Info(ctx, "command authorized",
			zap.Uint64("cycle.id", cmd.CycleID),
			zap.Stringer("action", cmd.Action),
			zap.Bool("manual", cmd.Manual))
		return nil
	})
}

// runtimeTarget is the part of the core that config reloads can change.
type runtimeTarget interface {
	SetQueryMode(ctx context.Context, on bool)
	SetAutoTransitions(ctx context.Context, advance, rollback bool)
}

// watchConfig applies hot-reloadable settings from config file edits. A
// missing config directory disables reloads.
func watchConfig(ctx context.Context, path string, current config.Runtime, core runtimeTarget, logger *logging.Logger) error {
	w, err := config.NewWatcher(path)
	if err != nil {
		logger.Warn(ctx, "config reload disabled", zap.Error(err))
		return nil
	}
	defer w.Close()
	l := logger.Named("config")
	err = w.Run(ctx,
		func(cfg *config.Config) { current = applyRuntime(ctx, core, current, cfg.Runtime(), l) },
		func(err error) { l.Warn(ctx, "config reload failed; keeping previous settings", zap.Error(err)) })
	if err != nil {
		l.Warn(ctx, "config watcher stopped", zap.Error(err))
	}
	return nil
}

// applyRuntime pushes changed settings into core and returns the new state.
func applyRuntime(ctx context.Context, core runtimeTarget, prev, next config.Runtime, logger *logging.Logger) config.Runtime {
	if next == prev {
		return prev
	}
	if next.QueryMode != prev.QueryMode {
		core.SetQueryMode(ctx, next.QueryMode)
	}
	if next.AutoAdvance != prev.AutoAdvance || next.AutoRollback != prev.AutoRollback {
		core.SetAutoTransitions(ctx, next.AutoAdvance, next.AutoRollback)
	}
	logger.Info(ctx, "config reloaded",
		zap.Bool("query_mode", next.QueryMode),
		zap.Bool("auto_advance", next.AutoAdvance),
		zap.Bool("auto_rollback", next.AutoRollback))
	return next
}
