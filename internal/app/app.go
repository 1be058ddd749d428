package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"floodwatch/internal/advisory"
	"floodwatch/internal/alerting"
	"floodwatch/internal/config"
	"floodwatch/internal/httpapi"
	"floodwatch/internal/ingest"
	"floodwatch/internal/logging"
	"floodwatch/internal/metrics"
	"floodwatch/internal/scheduler"
	"floodwatch/internal/service"
	"floodwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  clockwork.Clock
	Out    io.Writer

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &App{
		Config:   cfg,
		Logger:   logging.Component(logger, "app"),
		Clock:    clockwork.NewRealClock(),
		Out:      os.Stdout,
		registry: reg,
		metrics:  metrics.New(reg),
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) newDispatcher() (*advisory.Dispatcher, error) {
	renderer, err := advisory.NewRenderer(a.Config.Advisory, a.Logger)
	if err != nil {
		return nil, err
	}
	return advisory.NewDispatcher(renderer, advisory.DispatcherOptions{
		Backend:  a.Config.Advisory.Backend,
		Fallback: a.Config.Advisory.FallbackMessage,
		Metrics:  a.metrics,
	}, a.Logger), nil
}

func (a *App) openStore(ctx context.Context) (storage.ReadingStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database, a.Clock)
	if err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return nil, nil, fmt.Errorf("database.dsn not configured for driver %q: %w", a.Config.Database.Driver, err)
		}
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) newService(store storage.ReadingStore) (*service.Service, error) {
	dispatcher, err := a.newDispatcher()
	if err != nil {
		return nil, err
	}
	return service.New(a.Config, service.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Notifier:   a.newNotifier(),
		Metrics:    a.metrics,
		Clock:      a.Clock,
	}, a.Logger)
}

func (a *App) openService(ctx context.Context) (*service.Service, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc, err := a.newService(store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}

// ServeOptions configure the serve command.
type ServeOptions struct {
	// Watch also runs the scheduled tier watcher in-process.
	Watch bool
}

// Serve runs the HTTP API, the optional Kafka consumer and, when asked, the watcher.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeStore, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if _, err := svc.Migrate(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("schema bootstrap failed; will retry on first write")
	}

	srv := httpapi.NewServer(svc, httpapi.Options{
		HTTP:     a.Config.HTTP,
		Metrics:  a.metrics,
		Gatherer: a.registry,
	}, a.Logger)

	errCh := make(chan error, 3)
	go func() { errCh <- srv.Start() }()

	if a.Config.Kafka.Enabled {
		consumer := ingest.NewConsumer(a.Config.Kafka, svc, a.Logger)
		defer consumer.Close()
		go func() { errCh <- ignoreCanceled(consumer.Run(ctx)) }()
		a.Logger.Info().Strs("brokers", a.Config.Kafka.Brokers).Str("topic", a.Config.Kafka.Topic).Msg("kafka consumer started")
	}

	if opts.Watch {
		go func() { errCh <- ignoreCanceled(a.newScheduler().Run(ctx, svc.Tick)) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		if runErr != nil {
			a.Logger.Error().Err(runErr).Msg("component terminated with error")
		}
	}
	cancel()

	timeout := a.Config.HTTP.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown incomplete")
	}

	a.Logger.Info().Msg("server stopped")
	return runErr
}

// Watch runs the scheduled assess-and-alert loop until interrupted.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closeStore, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Str("min_tier", a.Config.Alerting.MinTier).
		Bool("alerting", a.Config.Alerting.Enabled).
		Msg("starting watcher")
	if err := ignoreCanceled(a.newScheduler().Run(ctx, svc.Tick)); err != nil {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("watcher stopped")
	return nil
}

// Migrate creates the readings table when missing.
func (a *App) Migrate(ctx context.Context) error {
	svc, closeStore, err := a.openService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	created, err := svc.Migrate(ctx)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(a.Out, "table %q created\n", a.Config.Database.Table)
	} else {
		fmt.Fprintf(a.Out, "table %q already present\n", a.Config.Database.Table)
	}
	return nil
}

func (a *App) newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Clock, a.Logger)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ExportOptions hold parameters for exporting stored readings.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// AssessOptions configure the assess command.
type AssessOptions struct {
	Question string
	JSON     bool
}

// BackfillOptions configure a CSV import.
type BackfillOptions struct {
	File    string
	DryRun  bool
	Publish bool
}

// SimulateOptions describe a synthetic two-reading window.
type SimulateOptions struct {
	Level    float64
	Previous float64
	Step     time.Duration
	Location string
}
