// Package scanner runs the spike detection loop over the tracked universe.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rewired-gh/spikewatch/internal/dedup"
	"github.com/rewired-gh/spikewatch/internal/logger"
	"github.com/rewired-gh/spikewatch/internal/mexc"
	"github.com/rewired-gh/spikewatch/internal/models"
	"github.com/rewired-gh/spikewatch/internal/observability"
	"github.com/rewired-gh/spikewatch/internal/storage"
	"github.com/rewired-gh/spikewatch/internal/universe"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// MarketData fetches candle windows.
type MarketData interface {
	RecentCandles(ctx context.Context, inst models.Instrument, window time.Duration, count int) ([]models.CandleWindow, error)
}

// Notifier delivers alerts and operator notices.
type Notifier interface {
	SendAlert(ctx context.Context, alert models.Alert) error
	SendNotice(ctx context.Context, text string) error
	SendError(ctx context.Context, err error) error
	SendRecovery(ctx context.Context, failures int) error
}

// Config holds detection thresholds and scan loop tuning.
type Config struct {
	Window              time.Duration
	Predicate           Predicate
	MinPriceChangePct   float64 // absolute percent, 0 = disabled
	TickInterval        time.Duration
	FetchTimeout        time.Duration
	Concurrency         int
	MaxPerTick          int // 0 = whole universe
	RefreshEveryTicks   int
	NotifyAfterFailures int
	InitialRefreshMax   time.Duration // backoff budget for the first refresh
}

// Deps are the collaborators a Scanner drives. Notifier may be nil.
type Deps struct {
	Market   MarketData
	Universe *universe.Filter
	Dedup    *dedup.Deduplicator
	Store    storage.Store
	Notifier Notifier
	Metrics  *observability.Metrics
	Clock    Clock
}

// TickResult summarizes one pass over the universe.
type TickResult struct {
	Polled int
	Failed int
	Spikes int
	Sent   int
}

// Scanner owns scan loop state. Commands may be called concurrently with Run.
type Scanner struct {
	cfg      Config
	market   MarketData
	universe *universe.Filter
	dedup    *dedup.Deduplicator
	store    storage.Store
	notifier Notifier
	metrics  *observability.Metrics
	clock    Clock
	log      *logger.Logger

	ticks    atomic.Int64
	lastTick atomic.Pointer[time.Time]

	lastRefreshErr atomic.Pointer[string]

	// refreshMu serializes refreshes and guards the fields below
	refreshMu       sync.Mutex
	failures        int
	failureNotified bool
	emptyNotified   bool

	// cmdMu serializes exclusion changes against the emission decision
	cmdMu sync.Mutex
}

// New creates a Scanner.
func New(cfg Config, deps Deps) *Scanner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.RefreshEveryTicks < 1 {
		cfg.RefreshEveryTicks = 1
	}
	if cfg.NotifyAfterFailures < 1 {
		cfg.NotifyAfterFailures = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}

	return &Scanner{
		cfg:      cfg,
		market:   deps.Market,
		universe: deps.Universe,
		dedup:    deps.Dedup,
		store:    deps.Store,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		log:      logger.With("scanner"),
	}
}

// Restore loads the persisted denylist and pause list into memory.
func (s *Scanner) Restore(ctx context.Context) error {
	denied, err := s.store.Get(ctx, storage.Denylist)
	if err != nil {
		return fmt.Errorf("failed to load denylist: %w", err)
	}
	for _, inst := range denied {
		s.universe.Deny(inst)
	}

	paused, err := s.store.Get(ctx, storage.PauseList)
	if err != nil {
		return fmt.Errorf("failed to load pause list: %w", err)
	}
	for _, inst := range paused {
		s.dedup.Pause(inst)
	}

	s.log.Info("Restored %d denylisted and %d paused instruments", len(denied), len(paused))
	return nil
}

// Run refreshes the universe, then ticks until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.log.Info("Starting scan loop (window: %v, v_low: %.0f, v_high: %.0f, min_growth: %.2f, interval: %v)",
		s.cfg.Window, s.cfg.Predicate.VLow, s.cfg.Predicate.VHigh, s.cfg.Predicate.MinGrowth, s.cfg.TickInterval)

	s.initialRefresh(ctx)

	for {
		if ctx.Err() != nil {
			s.log.Info("Scan loop stopped")
			return nil
		}

		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("Tick failed: %v", err)
		}

		n := s.ticks.Load()
		if s.universe.Len() == 0 || n%int64(s.cfg.RefreshEveryTicks) == 0 {
			s.refresh(ctx)
		}

		select {
		case <-ctx.Done():
			s.log.Info("Scan loop stopped")
			return nil
		case <-s.clock.After(s.cfg.TickInterval):
		}
	}
}

func (s *Scanner) initialRefresh(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.cfg.InitialRefreshMax
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 2 * time.Minute
	}

	operation := func() error {
		err := s.refresh(ctx)
		if errors.Is(err, universe.ErrUniverseEmpty) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		s.log.Warn("Initial refresh failed, retrying in %v: %v", next, err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		s.log.Error("Initial refresh gave up: %v", err)
	}
}

// refresh re-lists the universe and handles operator notifications for failures.
func (s *Scanner) refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	set, err := s.universe.Refresh(ctx)
	now := s.clock.Now()
	s.metrics.ObserveRefresh(now, len(set), err)

	switch {
	case err == nil:
		s.lastRefreshErr.Store(nil)
		if s.failureNotified {
			s.notifyRecovery(ctx, s.failures)
		}
		s.failures = 0
		s.failureNotified = false
		s.emptyNotified = false
		return nil

	case errors.Is(err, universe.ErrUniverseEmpty):
		s.setRefreshErr(err)
		s.log.Warn("Refresh produced an empty universe: %v", err)
		if !s.emptyNotified {
			s.emptyNotified = true
			s.notice(ctx, fmt.Sprintf("Universe is empty after filtering (%v). Scanning idles until a refresh succeeds.", err))
		}
		return err

	default:
		if ctx.Err() != nil {
			return err
		}
		s.setRefreshErr(err)
		s.failures++
		s.log.Error("Refresh failed (%d consecutive): %v", s.failures, err)
		if s.failures >= s.cfg.NotifyAfterFailures && !s.failureNotified {
			s.failureNotified = true
			s.notifyError(ctx, err)
		}
		return err
	}
}

// Tick performs one pass over a snapshot of the universe.
// The returned error is non-nil only when ctx was cancelled mid-pass.
func (s *Scanner) Tick(ctx context.Context) (TickResult, error) {
	started := s.clock.Now()
	bucket := dedup.BucketKey(started, s.cfg.Window)

	insts := s.universe.Snapshot()
	n := len(insts)
	if s.cfg.MaxPerTick > 0 && n > s.cfg.MaxPerTick {
		n = s.cfg.MaxPerTick
	}
	insts = lo.Samples(insts, n)

	var (
		mu         sync.Mutex
		res        TickResult
		candidates []models.SpikeEvent
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, inst := range insts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ev, ok, err := s.evaluate(gctx, inst, bucket, started)

			mu.Lock()
			defer mu.Unlock()
			res.Polled++
			if err != nil {
				res.Failed++
				return nil
			}
			if ok {
				res.Spikes++
				candidates = append(candidates, ev)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for _, ev := range candidates {
		if s.emit(ctx, ev) {
			res.Sent++
		}
	}

	finished := s.clock.Now()
	s.ticks.Add(1)
	s.lastTick.Store(&finished)
	s.metrics.ObserveTick(started, finished)

	s.log.Debug("Tick %d: polled=%d failed=%d spikes=%d sent=%d in %v",
		s.ticks.Load(), res.Polled, res.Failed, res.Spikes, res.Sent, finished.Sub(started))
	return res, nil
}

// evaluate fetches two windows for inst and applies the predicate.
func (s *Scanner) evaluate(ctx context.Context, inst models.Instrument, bucket string, now time.Time) (models.SpikeEvent, bool, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	s.metrics.InstrumentsPolled.Inc()
	candles, err := s.market.RecentCandles(fctx, inst, s.cfg.Window, 2)
	if err == nil && len(candles) < 2 {
		err = &mexc.FetchError{Op: "recent_candles", Kind: mexc.KindInsufficient}
	}
	if err != nil {
		kind := "other"
		var fe *mexc.FetchError
		if errors.As(err, &fe) {
			kind = string(fe.Kind)
		}
		s.metrics.FetchErrors.WithLabelValues(kind).Inc()
		s.log.Debug("Skipping %s: %v", inst, err)
		return models.SpikeEvent{}, false, err
	}

	prev, curr := candles[len(candles)-2], candles[len(candles)-1]
	if !s.cfg.Predicate.Fires(prev.Volume, curr.Volume) {
		return models.SpikeEvent{}, false, nil
	}

	s.metrics.SpikesDetected.Inc()
	priceChange := PercentChange(prev.Close, curr.Close)
	if s.cfg.MinPriceChangePct > 0 && math.Abs(priceChange) < s.cfg.MinPriceChangePct {
		s.metrics.AlertsSuppressed.WithLabelValues("price_change").Inc()
		return models.SpikeEvent{}, false, nil
	}

	return models.SpikeEvent{
		Instrument:      inst,
		BucketKey:       bucket,
		PrevVolume:      prev.Volume,
		CurrVolume:      curr.Volume,
		PrevPrice:       prev.Close,
		CurrPrice:       curr.Close,
		VolumeChangePct: PercentChange(prev.Volume, curr.Volume),
		PriceChangePct:  priceChange,
		DetectedAt:      now,
	}, true, nil
}

// emit passes ev through exclusion and dedup checks, then delivers and records it.
func (s *Scanner) emit(ctx context.Context, ev models.SpikeEvent) bool {
	if reason, ok := s.admit(ev); !ok {
		s.metrics.AlertsSuppressed.WithLabelValues(reason).Inc()
		return false
	}

	alert := models.Alert{
		SpikeEvent: ev,
		TradeURL:   mexc.TradeURL(ev.Instrument),
		Actions: []models.Action{
			{Kind: models.ActionPause, Instrument: ev.Instrument},
			{Kind: models.ActionBlacklist, Instrument: ev.Instrument},
		},
	}

	delivered := true
	if s.notifier != nil {
		if err := s.notifier.SendAlert(ctx, alert); err != nil {
			delivered = false
			s.metrics.DeliveryErrors.Inc()
			s.log.Error("Failed to deliver alert for %s: %v", ev.Instrument, err)
		}
	}
	if delivered {
		s.metrics.AlertsSent.Inc()
		s.log.Info("Alert %s: volume %.0f -> %.0f (%+.1f%%), price %+.2f%%",
			ev.Instrument, ev.PrevVolume, ev.CurrVolume, ev.VolumeChangePct, ev.PriceChangePct)
	}

	rec := &models.AlertRecord{
		Instrument:      ev.Instrument,
		BucketKey:       ev.BucketKey,
		PrevVolume:      ev.PrevVolume,
		CurrVolume:      ev.CurrVolume,
		PrevPrice:       ev.PrevPrice,
		CurrPrice:       ev.CurrPrice,
		VolumeChangePct: ev.VolumeChangePct,
		PriceChangePct:  ev.PriceChangePct,
		Delivered:       delivered,
		CreatedAt:       ev.DetectedAt,
	}
	if err := s.store.AddAlert(ctx, rec); err != nil {
		s.log.Warn("Failed to persist alert for %s: %v", ev.Instrument, err)
	}
	return delivered
}

// admit decides whether ev may be delivered and records the emission if so.
func (s *Scanner) admit(ev models.SpikeEvent) (string, bool) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.universe.Contains(ev.Instrument) {
		return "untracked", false
	}
	if s.dedup.IsPaused(ev.Instrument) {
		return "paused", false
	}
	if !s.dedup.TryEmit(ev.Instrument, ev.BucketKey) {
		return "duplicate", false
	}
	return "", true
}

func (s *Scanner) setRefreshErr(err error) {
	msg := err.Error()
	s.lastRefreshErr.Store(&msg)
}

func (s *Scanner) notice(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendNotice(ctx, text); err != nil {
		s.log.Warn("Failed to send notice: %v", err)
	}
}

func (s *Scanner) notifyError(ctx context.Context, err error) {
	if s.notifier == nil {
		return
	}
	if sendErr := s.notifier.SendError(ctx, err); sendErr != nil {
		s.log.Warn("Failed to send error notification: %v", sendErr)
	}
}

func (s *Scanner) notifyRecovery(ctx context.Context, failures int) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SendRecovery(ctx, failures); err != nil {
		s.log.Warn("Failed to send recovery notification: %v", err)
	}
}
