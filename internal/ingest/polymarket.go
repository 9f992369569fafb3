package ingest

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/feed/polymarket"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// StatusKeyPolymarket is the system_status row the runner maintains.
const StatusKeyPolymarket = "polymarket_wss"

// Notifier receives fire-and-forget broadcasts of real-time detections.
// Implementations must not block the caller on delivery.
type Notifier interface {
	BroadcastInstantMover(ctx context.Context, venue domain.Source, mover *InstantMover)
}

// PolymarketStream is the WebSocket client surface the runner drives. One
// value is one connection; after the events channel closes the stream is
// discarded.
type PolymarketStream interface {
	Connect(ctx context.Context, assetIDs []string) error
	Events() <-chan *polymarket.Events
	Err() error
	SubscriptionCount() int
	SubscriptionTarget() int
	SubscriptionInProgress() bool
	Close() error
}

// PolymarketRunnerConfig tunes the streaming session loop.
type PolymarketRunnerConfig struct {
	BatchSize            int
	BatchInterval        time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	SubscriptionRefresh  time.Duration
	PollInterval         time.Duration
	MaxMarkets           int
}

// PolymarketRunner owns the real-time ingestion path for one venue: metadata
// sync, subscription universe, gated snapshot flushing, volume accumulation,
// instant mover detection and degradation to REST polling.
type PolymarketRunner struct {
	cfg      PolymarketRunnerConfig
	gate     Gate
	detector *InstantDetector
	dial     func() PolymarketStream
	rest     *polymarket.RESTClient
	markets  storage.MarketStore
	snaps    storage.SnapshotStore
	volumes  storage.VolumeStore
	status   storage.StatusStore
	notifier Notifier
	metrics  *observability.Metrics
	logger   *log.Logger
}

// PolymarketDeps bundles the runner's collaborators.
type PolymarketDeps struct {
	Dial     func() PolymarketStream
	REST     *polymarket.RESTClient
	Markets  storage.MarketStore
	Snaps    storage.SnapshotStore
	Volumes  storage.VolumeStore
	Status   storage.StatusStore
	Notifier Notifier
	Metrics  *observability.Metrics
	Logger   *log.Logger
}

// NewPolymarketRunner wires a runner. Notifier may be nil.
func NewPolymarketRunner(cfg PolymarketRunnerConfig, gate Gate, detector *InstantDetector, deps PolymarketDeps) *PolymarketRunner {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(nil, "")
	}
	return &PolymarketRunner{
		cfg:      cfg,
		gate:     gate,
		detector: detector,
		dial:     deps.Dial,
		rest:     deps.REST,
		markets:  deps.Markets,
		snaps:    deps.Snaps,
		volumes:  deps.Volumes,
		status:   deps.Status,
		notifier: deps.Notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

const venuePolymarket = "polymarket"

// assetState is the per-asset ephemeral session state: the internal token id,
// the write gate's view of the last persisted snapshot, and the live price
// cache feeding instant detection. Never persisted.
type assetState struct {
	tokenID   uuid.UUID
	gate      GateState
	livePrice *float64
}

var errSubscriptionRefresh = errors.New("subscription refresh")

// Run drives the session loop until ctx is cancelled. After
// MaxReconnectAttempts consecutive failures it degrades to REST polling for
// the remainder of the process lifetime.
func (r *PolymarketRunner) Run(ctx context.Context) error {
	if _, err := SyncPolymarketMarkets(ctx, r.rest, r.markets, r.cfg.MaxMarkets, r.logger); err != nil {
		r.logger.Printf("[polymarket] initial metadata sync failed: %v", err)
	}

	consecutiveFailures := 0
	for ctx.Err() == nil {
		state, assetIDs, err := r.loadState(ctx)
		if err != nil {
			r.logger.Printf("[polymarket] loading subscription state failed: %v", err)
			sleepCtx(ctx, r.cfg.ReconnectDelay)
			continue
		}
		if len(assetIDs) == 0 {
			r.logger.Printf("[polymarket] no active assets to subscribe, retrying in 30s")
			sleepCtx(ctx, 30*time.Second)
			continue
		}

		err = r.runSession(ctx, state, assetIDs)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errSubscriptionRefresh) {
			consecutiveFailures = 0
			continue
		}

		consecutiveFailures++
		r.metrics.Reconnects.WithLabelValues(venuePolymarket).Inc()
		r.metrics.ConnectionState.WithLabelValues(venuePolymarket).Set(0)
		r.writeStatus(ctx, map[string]any{
			"state":      "error",
			"connected":  false,
			"last_error": errString(err),
		})
		r.logger.Printf("[polymarket] session ended (%d/%d failures): %v",
			consecutiveFailures, r.cfg.MaxReconnectAttempts, err)

		if consecutiveFailures >= r.cfg.MaxReconnectAttempts {
			r.logger.Printf("[polymarket] max reconnect attempts reached, degrading to polling")
			return r.pollLoop(ctx)
		}
		sleepCtx(ctx, r.cfg.ReconnectDelay)
	}
	return ctx.Err()
}

// loadState builds the subscription universe from the database. Assets come
// back most recently active first so the first subscription chunks are the
// likeliest to emit events immediately.
func (r *PolymarketRunner) loadState(ctx context.Context) (map[string]*assetState, []string, error) {
	tokens, err := r.markets.ActiveTokens(ctx, domain.SourcePolymarket)
	if err != nil {
		return nil, nil, err
	}

	state := make(map[string]*assetState, len(tokens))
	assetIDs := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok.SourceTokenID == "" {
			continue
		}
		state[tok.SourceTokenID] = &assetState{
			tokenID: tok.TokenID,
			gate: GateState{
				LastPrice:   tok.LastPrice,
				LastWritten: tok.LastWrittenAt,
				LastSpread:  tok.LastSpread,
			},
			livePrice: tok.LastPrice,
		}
		assetIDs = append(assetIDs, tok.SourceTokenID)
	}
	return state, assetIDs, nil
}

// runSession owns one WebSocket connection from dial to teardown. It returns
// errSubscriptionRefresh when the periodic refresh (or a resolution/new
// market event) wants a rebuilt universe, the stream error otherwise.
func (r *PolymarketRunner) runSession(ctx context.Context, state map[string]*assetState, assetIDs []string) error {
	stream := r.dial()
	defer stream.Close()

	if err := stream.Connect(ctx, assetIDs); err != nil {
		return err
	}

	r.metrics.ConnectionState.WithLabelValues(venuePolymarket).Set(1)
	r.metrics.SubscriptionGoal.WithLabelValues(venuePolymarket).Set(float64(len(assetIDs)))
	r.writeStatus(ctx, map[string]any{
		"state":               "subscribing",
		"connected":           true,
		"subscription_count":  stream.SubscriptionCount(),
		"subscription_target": len(assetIDs),
	})

	pendingPrices := make(map[string]float64)
	pendingSpreads := make(map[string]float64)
	acc := NewVolumeAccumulator()

	var messages, insertedWindow, skippedWindow int64
	windowStart := time.Now()

	flushTicker := time.NewTicker(r.cfg.BatchInterval)
	defer flushTicker.Stop()
	refreshTimer := time.NewTimer(r.cfg.SubscriptionRefresh)
	defer refreshTimer.Stop()

	refreshWanted := false
	refreshReason := ""

	flush := func() {
		if len(pendingPrices) == 0 {
			acc.Drain()
			return
		}
		inserted, skipped := r.flush(ctx, state, pendingPrices, pendingSpreads, acc.Drain())
		insertedWindow += int64(inserted)
		skippedWindow += int64(skipped)
		pendingPrices = make(map[string]float64)
		pendingSpreads = make(map[string]float64)

		elapsedMin := time.Since(windowStart).Minutes()
		if elapsedMin <= 0 {
			elapsedMin = 1.0 / 60
		}
		streamState := "streaming"
		if stream.SubscriptionInProgress() {
			streamState = "subscribing"
		}
		r.metrics.SubscriptionCount.WithLabelValues(venuePolymarket).Set(float64(stream.SubscriptionCount()))
		r.writeStatus(ctx, map[string]any{
			"state":                     streamState,
			"connected":                 true,
			"messages_received":         messages,
			"snapshot_inserted_window":  insertedWindow,
			"snapshot_skipped_window":   skippedWindow,
			"snapshot_inserted_per_min": float64(insertedWindow) / elapsedMin,
			"snapshot_skipped_per_min":  float64(skippedWindow) / elapsedMin,
			"subscription_count":        stream.SubscriptionCount(),
			"subscription_target":       stream.SubscriptionTarget(),
		})
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case <-refreshTimer.C:
			refreshWanted = true
			if refreshReason == "" {
				refreshReason = "periodic"
			}

		case <-flushTicker.C:
			flush()
			if refreshWanted {
				r.logger.Printf("[polymarket] refreshing subscriptions (%s)", refreshReason)
				return errSubscriptionRefresh
			}

		case events, ok := <-stream.Events():
			if !ok {
				flush()
				if err := stream.Err(); err != nil {
					return err
				}
				return errors.New("stream closed")
			}
			messages++
			r.metrics.MessagesReceived.WithLabelValues(venuePolymarket).Inc()
			r.handleEvents(ctx, events, state, pendingPrices, pendingSpreads, acc, &refreshWanted, &refreshReason)

			if len(pendingPrices) >= r.cfg.BatchSize {
				flush()
				if refreshWanted {
					r.logger.Printf("[polymarket] refreshing subscriptions (%s)", refreshReason)
					return errSubscriptionRefresh
				}
			}
			r.metrics.PendingUpdates.WithLabelValues(venuePolymarket).Set(float64(len(pendingPrices)))
		}
	}
}

func (r *PolymarketRunner) handleEvents(ctx context.Context, events *polymarket.Events, state map[string]*assetState, pendingPrices, pendingSpreads map[string]float64, acc *VolumeAccumulator, refreshWanted *bool, refreshReason *string) {
	now := time.Now().UTC()

	for _, pu := range events.Prices {
		r.metrics.EventsDecoded.WithLabelValues(venuePolymarket, "price_change").Inc()
		st := state[pu.AssetID]
		if st == nil {
			continue
		}
		if st.livePrice != nil {
			r.maybeBroadcast(ctx, st.tokenID, *st.livePrice, pu.Price, nil, now)
		}
		price := pu.Price
		st.livePrice = &price
		pendingPrices[pu.AssetID] = price
	}

	for _, te := range events.Trades {
		r.metrics.EventsDecoded.WithLabelValues(venuePolymarket, "trade").Inc()
		r.metrics.TradesAccumulated.WithLabelValues(venuePolymarket).Inc()
		st := state[te.AssetID]
		if st == nil {
			continue
		}
		notional := te.Size * te.Price
		acc.Add(te.AssetID, notional)
		if notional > 0 {
			if err := r.volumes.AccumulateTradeVolume(ctx, st.tokenID, notional, te.Ts); err != nil {
				r.logger.Printf("[polymarket] accumulate trade volume: %v", err)
			}
		}
		if st.livePrice != nil {
			r.maybeBroadcast(ctx, st.tokenID, *st.livePrice, te.Price, &notional, now)
		}
		price := te.Price
		st.livePrice = &price
		pendingPrices[te.AssetID] = price
	}

	for _, su := range events.Spreads {
		r.metrics.EventsDecoded.WithLabelValues(venuePolymarket, "spread").Inc()
		if _, ok := state[su.AssetID]; ok {
			pendingSpreads[su.AssetID] = su.Spread
		}
	}

	for _, res := range events.Resolved {
		r.metrics.EventsDecoded.WithLabelValues(venuePolymarket, "market_resolved").Inc()
		outcome := normalizeOutcome(res.Outcome)
		if err := r.markets.MarkResolved(ctx, domain.SourcePolymarket, res.MarketSourceID, outcome, res.Ts); err != nil {
			r.logger.Printf("[polymarket] mark resolved %s: %v", res.MarketSourceID, err)
		} else {
			r.logger.Printf("[polymarket] market resolved: %s -> %s", res.MarketSourceID, outcome)
		}
		// Resubscription waits for the refresh window; immediate reconnects
		// on event bursts cause subscription churn.
		*refreshWanted = true
		if *refreshReason == "" {
			*refreshReason = "market_resolved"
		}
	}

	for _, nm := range events.NewMarkets {
		r.metrics.EventsDecoded.WithLabelValues(venuePolymarket, "new_market").Inc()
		r.logger.Printf("[polymarket] new market %s with %d assets", nm.MarketSourceID, len(nm.AssetIDs))
		if _, err := SyncPolymarketMarkets(ctx, r.rest, r.markets, r.cfg.MaxMarkets, r.logger); err != nil {
			r.logger.Printf("[polymarket] metadata sync after new market: %v", err)
		}
		*refreshWanted = true
		if *refreshReason == "" {
			*refreshReason = "new_market"
		}
	}

	for range events.Unknown {
		r.metrics.UnknownEvents.WithLabelValues(venuePolymarket).Inc()
	}
}

func (r *PolymarketRunner) maybeBroadcast(ctx context.Context, tokenID uuid.UUID, oldPrice, newPrice float64, volume *float64, now time.Time) {
	if r.detector == nil {
		return
	}
	mover := r.detector.Check(tokenID, oldPrice, newPrice, volume, now)
	if mover == nil {
		return
	}
	r.metrics.InstantMovers.WithLabelValues(venuePolymarket).Inc()
	r.logger.Printf("[polymarket] instant mover: token=%s %.4f -> %.4f (%+.2fpp)",
		tokenID, oldPrice, newPrice, mover.MovePP)
	if r.notifier != nil {
		r.notifier.BroadcastInstantMover(ctx, domain.SourcePolymarket, mover)
	}
}

// flush applies the write gate to the deduplicated pending updates and
// persists survivors in one batch.
func (r *PolymarketRunner) flush(ctx context.Context, state map[string]*assetState, pendingPrices, pendingSpreads map[string]float64, volumes map[string]float64) (inserted, skipped int) {
	start := time.Now()
	now := start.UTC()

	var batch []*domain.Snapshot
	for assetID, price := range pendingPrices {
		st := state[assetID]
		if st == nil {
			continue
		}

		obs := Observation{Price: price, BatchVolume: volumes[assetID], Now: now}
		if s, ok := pendingSpreads[assetID]; ok {
			spread := s
			obs.Spread = &spread
		}

		if !r.gate.ShouldWrite(st.gate, obs) {
			skipped++
			continue
		}

		snap := &domain.Snapshot{TokenID: st.tokenID, Ts: now, Price: price, Spread: obs.Spread}
		batch = append(batch, snap)

		p := price
		t := now
		st.gate.LastPrice = &p
		st.gate.LastWritten = &t
		if obs.Spread != nil {
			st.gate.LastSpread = obs.Spread
		}
	}

	if len(batch) > 0 {
		n, err := r.snaps.InsertBatch(ctx, batch)
		if err != nil {
			r.logger.Printf("[polymarket] snapshot batch insert failed: %v", err)
		} else {
			inserted = int(n)
		}
	}

	r.metrics.SnapshotsInserted.WithLabelValues(venuePolymarket).Add(float64(inserted))
	r.metrics.SnapshotsSkipped.WithLabelValues(venuePolymarket).Add(float64(skipped))
	r.metrics.FlushDuration.WithLabelValues(venuePolymarket).Observe(time.Since(start).Seconds())
	return inserted, skipped
}

// pollLoop is the degraded mode: periodic metadata sync plus bulk price
// fetches through the same write gate. Runs until ctx is cancelled.
func (r *PolymarketRunner) pollLoop(ctx context.Context) error {
	r.writeStatus(ctx, map[string]any{"state": "polling_fallback", "connected": false})

	for ctx.Err() == nil {
		if _, err := SyncPolymarketMarkets(ctx, r.rest, r.markets, r.cfg.MaxMarkets, r.logger); err != nil {
			r.logger.Printf("[polymarket] polling sync failed: %v", err)
		}

		state, assetIDs, err := r.loadState(ctx)
		if err != nil {
			r.logger.Printf("[polymarket] polling state load failed: %v", err)
		} else if len(assetIDs) > 0 {
			prices, err := r.rest.FetchPrices(ctx, assetIDs)
			if err != nil {
				r.logger.Printf("[polymarket] polling price fetch failed: %v", err)
			} else {
				pending := make(map[string]float64, len(prices))
				for assetID, tp := range prices {
					pending[assetID] = tp.Price
				}
				inserted, skipped := r.flush(ctx, state, pending, nil, nil)
				r.logger.Printf("[polymarket] polling cycle: %d inserted, %d skipped", inserted, skipped)
			}
		}

		r.writeStatus(ctx, map[string]any{"state": "polling_fallback", "connected": false})
		sleepCtx(ctx, r.cfg.PollInterval)
	}
	return ctx.Err()
}

func (r *PolymarketRunner) writeStatus(ctx context.Context, fields map[string]any) {
	fields["last_updated"] = time.Now().UTC().Format(time.RFC3339)
	if err := r.status.UpsertStatus(ctx, StatusKeyPolymarket, fields); err != nil {
		r.logger.Printf("[polymarket] status update failed: %v", err)
	}
}

func normalizeOutcome(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "YES", "TRUE", "1":
		return domain.OutcomeYes
	case "NO", "FALSE", "0":
		return domain.OutcomeNo
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
