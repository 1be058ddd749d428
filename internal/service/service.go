package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"floodwatch/internal/advisory"
	"floodwatch/internal/alerting"
	"floodwatch/internal/config"
	"floodwatch/internal/logging"
	"floodwatch/internal/metrics"
	"floodwatch/internal/risk"
	"floodwatch/internal/storage"
	"floodwatch/internal/trend"
)

var (
	levelFloor   = decimal.Zero
	levelCeiling = decimal.NewFromInt(100)
)

// Deps are the collaborators a Service is wired with.
type Deps struct {
	Store      storage.ReadingStore
	Dispatcher *advisory.Dispatcher
	Notifier   alerting.Notifier
	Metrics    *metrics.Metrics
	Clock      clockwork.Clock
}

// IngestResult reports side effects of a successful ingest.
type IngestResult struct {
	Reading      storage.Reading
	TableCreated bool
}

// Service orchestrates ingestion, assessment, advisory rendering and alerting.
type Service struct {
	store      storage.ReadingStore
	analyzer   *trend.Analyzer
	classifier *risk.Classifier
	dispatcher *advisory.Dispatcher
	notifier   alerting.Notifier
	metrics    *metrics.Metrics
	clock      clockwork.Clock
	logger     zerolog.Logger

	lookback   time.Duration
	windowSize int
	alertsOn   bool
	minTier    risk.Tier
	locker     storage.AdvisoryLocker
	lockKey    int64

	mu       sync.Mutex
	lastTier risk.Tier
	observed bool
}

// New constructs the service from configuration and its collaborators.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("service: %w", storage.ErrNotConfigured)
	}
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	minTier := risk.Prepare
	if cfg.Alerting.MinTier != "" {
		parsed, err := risk.ParseTier(cfg.Alerting.MinTier)
		if err != nil {
			return nil, fmt.Errorf("alerting.min_tier: %w", err)
		}
		minTier = parsed
	}

	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = advisory.NewDispatcher(advisory.TemplateRenderer{}, advisory.DispatcherOptions{
			Fallback: cfg.Advisory.FallbackMessage,
			Metrics:  deps.Metrics,
		}, logger)
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		store: deps.Store,
		analyzer: trend.NewAnalyzer(trend.Options{
			StabilityHorizon: cfg.Analysis.StabilityHorizon,
			NoiseThreshold:   decimal.NewFromFloat(cfg.Analysis.NoiseThreshold),
		}),
		classifier: risk.NewClassifier(risk.Options{
			Thresholds:        thresholdsFrom(cfg.Risk),
			ProjectionHorizon: cfg.Risk.ProjectionHorizon,
		}),
		dispatcher: dispatcher,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		clock:      clock,
		logger:     logging.Component(logger, "service"),
		lookback:   cfg.Analysis.Lookback,
		windowSize: cfg.Analysis.WindowSize,
		alertsOn:   cfg.Alerting.Enabled,
		minTier:    minTier,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}, nil
}

func thresholdsFrom(cfg config.RiskConfig) risk.Thresholds {
	if cfg.PrepareLevel == 0 && cfg.EvacuateLevel == 0 && cfg.FloodLevel == 0 {
		return risk.DefaultThresholds()
	}
	return risk.Thresholds{
		Prepare:  decimal.NewFromFloat(cfg.PrepareLevel),
		Evacuate: decimal.NewFromFloat(cfg.EvacuateLevel),
		Flood:    decimal.NewFromFloat(cfg.FloodLevel),
	}
}

// Ingest validates and stores one reading. A reading under an existing
// timestamp replaces it. Invalid payloads never reach the store.
func (s *Service) Ingest(ctx context.Context, payload storage.ReadingPayload) (IngestResult, error) {
	reading, err := payload.Reading()
	if err != nil {
		s.metrics.IngestResult("invalid")
		return IngestResult{}, err
	}
	return s.persist(ctx, reading)
}

// IngestReading stores an already-parsed reading.
func (s *Service) IngestReading(ctx context.Context, reading storage.Reading) (IngestResult, error) {
	return s.persist(ctx, reading)
}

func (s *Service) persist(ctx context.Context, reading storage.Reading) (IngestResult, error) {
	reading.Timestamp = storage.NormalizeTimestamp(reading.Timestamp)
	if reading.Level.LessThan(levelFloor) || reading.Level.GreaterThan(levelCeiling) {
		s.logger.Warn().
			Time("date", reading.Timestamp).
			Str("level", reading.Level.String()).
			Msg("water level outside 0-100 range; storing as reported")
	}

	created, err := s.store.EnsureSchema(ctx)
	if err != nil {
		s.metrics.IngestResult("error")
		return IngestResult{}, fmt.Errorf("ensure schema: %w", err)
	}
	if created {
		s.logger.Info().Msg("readings table created")
	}

	if err := s.store.UpsertReading(ctx, reading); err != nil {
		if errors.Is(err, storage.ErrValidation) {
			s.metrics.IngestResult("invalid")
		} else {
			s.metrics.IngestResult("error")
		}
		return IngestResult{}, fmt.Errorf("upsert reading: %w", err)
	}

	s.metrics.IngestResult("stored")
	s.logger.Debug().
		Time("date", reading.Timestamp).
		Str("level", reading.Level.String()).
		Str("location", reading.Location).
		Msg("reading stored")
	return IngestResult{Reading: reading, TableCreated: created}, nil
}

// Latest returns the newest reading inside the lookback window, or storage.ErrNoData.
func (s *Service) Latest(ctx context.Context) (storage.Reading, error) {
	return s.store.Latest(ctx, s.lookback)
}

// Month returns the readings of the current calendar month.
func (s *Service) Month(ctx context.Context) ([]storage.Reading, error) {
	return s.store.RangeByMonth(ctx)
}

// LastHours returns readings from the last n hours.
func (s *Service) LastHours(ctx context.Context, hours int) ([]storage.Reading, error) {
	return s.store.RangeByHours(ctx, hours)
}

// All returns every stored reading.
func (s *Service) All(ctx context.Context) ([]storage.Reading, error) {
	return s.store.ListAll(ctx)
}

// Between returns readings in [from, to).
func (s *Service) Between(ctx context.Context, from, to time.Time) ([]storage.Reading, error) {
	return s.store.ListBetween(ctx, from, to)
}

// Count returns the number of stored readings.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountReadings(ctx)
}

// Migrate creates the readings table when absent and reports whether it did.
func (s *Service) Migrate(ctx context.Context) (bool, error) {
	return s.store.EnsureSchema(ctx)
}

// Ping checks store reachability.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Assess classifies the recent window. No data is a valid Safe assessment.
func (s *Service) Assess(ctx context.Context) (risk.Assessment, error) {
	if _, err := s.store.EnsureSchema(ctx); err != nil {
		return risk.Assessment{}, fmt.Errorf("ensure schema: %w", err)
	}
	window, err := s.store.WindowSince(ctx, s.lookback, s.windowSize)
	if err != nil {
		return risk.Assessment{}, fmt.Errorf("load window: %w", err)
	}
	return s.AssessWindow(window), nil
}

// AssessWindow classifies an ascending window without touching the store.
func (s *Service) AssessWindow(window []storage.Reading) risk.Assessment {
	now := s.clock.Now().UTC()
	if len(window) == 0 {
		a := risk.NoData(now)
		s.metrics.Assessment(a.Tier.String(), 0, false)
		return a
	}

	verdict := s.analyzer.Analyze(window)
	a := s.classifier.Classify(window[len(window)-1], verdict)
	a.Window = window
	a.AssessedAt = now

	level, _ := a.Latest.Level.Float64()
	s.metrics.Assessment(a.Tier.String(), level, true)
	return a
}

// Advise assesses the current window and renders it, optionally answering
// question. The returned text is always safe to show; on failure it is the
// fallback message and err says why.
func (s *Service) Advise(ctx context.Context, question string) (string, risk.Assessment, error) {
	a, err := s.Assess(ctx)
	if err != nil {
		return s.dispatcher.Fallback(), risk.Assessment{}, err
	}
	text, err := s.dispatcher.Advise(ctx, advisory.Request{Assessment: a, Question: question})
	return text, a, err
}

// Tick runs one watch step: assess, remember the tier, and alert on a change
// into a tier at or above the configured minimum.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	a, err := s.Assess(ctx)
	if err != nil {
		return err
	}

	previous, changed := s.observe(a.Tier)
	event := s.logger.Info()
	if !changed {
		event = s.logger.Debug()
	}
	event.Time("tick", at).
		Str("tier", a.Tier.String()).
		Str("previous", previous.String()).
		Str("outlook", string(a.Outlook)).
		Msg("assessment recorded")

	if !changed || a.Tier < s.minTier {
		return nil
	}
	return s.Alert(ctx, a, previous, false)
}

// LastTier returns the tier observed by the most recent Tick.
func (s *Service) LastTier() (risk.Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTier, s.observed
}

// observe records tier and reports the tier it replaces. The first
// observation compares against Safe.
func (s *Service) observe(tier risk.Tier) (risk.Tier, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := risk.Safe
	if s.observed {
		previous = s.lastTier
	}
	s.lastTier, s.observed = tier, true
	return previous, tier != previous
}

// Alert renders advice for a and sends it through the notifier.
func (s *Service) Alert(ctx context.Context, a risk.Assessment, previous risk.Tier, simulated bool) error {
	if !s.alertsOn || s.notifier == nil {
		s.logger.Debug().Str("tier", a.Tier.String()).Msg("alerting disabled; notification skipped")
		return nil
	}

	text, err := s.dispatcher.Advise(ctx, advisory.Request{Assessment: a})
	if err != nil {
		// send the deterministic guidance instead of the user-facing fallback
		text = advisory.Guidance(a)
	}

	note := alerting.Notification{
		Tier:      a.Tier,
		Previous:  previous,
		Outlook:   a.Outlook,
		Advisory:  text,
		Simulated: simulated,
	}
	if a.Latest != nil {
		note.Level = a.Latest.Level
		note.Location = a.Latest.Location
		note.Timestamp = a.Latest.Timestamp
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("dispatch alert: %w", err)
	}
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
