package ingest

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/feed/kalshi"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// StatusKeyKalshi is the system_status row the runner maintains.
const StatusKeyKalshi = "kalshi_wss"

const venueKalshi = "kalshi"

// KalshiStream is the authenticated WebSocket surface the runner drives.
// Single connection per value, same lifecycle as PolymarketStream.
type KalshiStream interface {
	Connect(ctx context.Context, tickers []string) error
	Events() <-chan kalshi.Event
	Err() error
	Close() error
}

// KalshiRunnerConfig tunes the Kalshi session loop. Kalshi's universe is far
// smaller than Polymarket's so the batch interval and failure ceiling are
// tighter.
type KalshiRunnerConfig struct {
	BatchSize            int
	BatchInterval        time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	SubscriptionRefresh  time.Duration
	PollInterval         time.Duration
	MaxMarkets           int
}

// KalshiRunner mirrors PolymarketRunner for the Kalshi venue: trades and
// order book deltas in, gated snapshots and accumulated volume out.
type KalshiRunner struct {
	cfg      KalshiRunnerConfig
	gate     Gate
	detector *InstantDetector
	dial     func() KalshiStream
	rest     *kalshi.RESTClient
	markets  storage.MarketStore
	snaps    storage.SnapshotStore
	volumes  storage.VolumeStore
	status   storage.StatusStore
	notifier Notifier
	metrics  *observability.Metrics
	logger   *log.Logger
}

// KalshiDeps bundles the runner's collaborators.
type KalshiDeps struct {
	Dial     func() KalshiStream
	REST     *kalshi.RESTClient
	Markets  storage.MarketStore
	Snaps    storage.SnapshotStore
	Volumes  storage.VolumeStore
	Status   storage.StatusStore
	Notifier Notifier
	Metrics  *observability.Metrics
	Logger   *log.Logger
}

// NewKalshiRunner wires a runner. Notifier may be nil.
func NewKalshiRunner(cfg KalshiRunnerConfig, gate Gate, detector *InstantDetector, deps KalshiDeps) *KalshiRunner {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(nil, "")
	}
	return &KalshiRunner{
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

// Run drives the session loop until ctx is cancelled, degrading to REST
// polling after MaxReconnectAttempts consecutive failures.
func (r *KalshiRunner) Run(ctx context.Context) error {
	if _, err := SyncKalshiMarkets(ctx, r.rest, r.markets, r.cfg.MaxMarkets, r.logger); err != nil {
		r.logger.Printf("[kalshi] initial metadata sync failed: %v", err)
	}

	consecutiveFailures := 0
	for ctx.Err() == nil {
		state, tickers, err := r.loadState(ctx)
		if err != nil {
			r.logger.Printf("[kalshi] loading subscription state failed: %v", err)
			sleepCtx(ctx, r.cfg.ReconnectDelay)
			continue
		}
		if len(tickers) == 0 {
			r.logger.Printf("[kalshi] no active tickers to subscribe, retrying in 30s")
			sleepCtx(ctx, 30*time.Second)
			continue
		}

		err = r.runSession(ctx, state, tickers)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errSubscriptionRefresh) {
			consecutiveFailures = 0
			continue
		}

		consecutiveFailures++
		r.metrics.Reconnects.WithLabelValues(venueKalshi).Inc()
		r.metrics.ConnectionState.WithLabelValues(venueKalshi).Set(0)
		r.writeStatus(ctx, map[string]any{
			"state":      "error",
			"connected":  false,
			"last_error": errString(err),
		})
		r.logger.Printf("[kalshi] session ended (%d/%d failures): %v",
			consecutiveFailures, r.cfg.MaxReconnectAttempts, err)

		if consecutiveFailures >= r.cfg.MaxReconnectAttempts {
			r.logger.Printf("[kalshi] max reconnect attempts reached, degrading to polling")
			return r.pollLoop(ctx)
		}
		sleepCtx(ctx, r.cfg.ReconnectDelay)
	}
	return ctx.Err()
}

// loadState maps market tickers to YES-token session state. Kalshi streams
// are keyed by ticker; the source token id is the ticker itself.
func (r *KalshiRunner) loadState(ctx context.Context) (map[string]*assetState, []string, error) {
	tokens, err := r.markets.ActiveTokens(ctx, domain.SourceKalshi)
	if err != nil {
		return nil, nil, err
	}

	state := make(map[string]*assetState, len(tokens))
	tickers := make([]string, 0, len(tokens))
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
		tickers = append(tickers, tok.SourceTokenID)
	}
	return state, tickers, nil
}

func (r *KalshiRunner) runSession(ctx context.Context, state map[string]*assetState, tickers []string) error {
	stream := r.dial()
	defer stream.Close()

	if err := stream.Connect(ctx, tickers); err != nil {
		return err
	}

	r.metrics.ConnectionState.WithLabelValues(venueKalshi).Set(1)
	r.metrics.SubscriptionGoal.WithLabelValues(venueKalshi).Set(float64(len(tickers)))
	r.metrics.SubscriptionCount.WithLabelValues(venueKalshi).Set(float64(len(tickers)))
	r.writeStatus(ctx, map[string]any{
		"state":               "streaming",
		"connected":           true,
		"subscription_target": len(tickers),
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
		r.writeStatus(ctx, map[string]any{
			"state":                     "streaming",
			"connected":                 true,
			"messages_received":         messages,
			"snapshot_inserted_window":  insertedWindow,
			"snapshot_skipped_window":   skippedWindow,
			"snapshot_inserted_per_min": float64(insertedWindow) / elapsedMin,
			"snapshot_skipped_per_min":  float64(skippedWindow) / elapsedMin,
			"subscription_target":       len(tickers),
		})
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()

		case <-refreshTimer.C:
			flush()
			r.logger.Printf("[kalshi] refreshing subscriptions (periodic)")
			return errSubscriptionRefresh

		case <-flushTicker.C:
			flush()

		case ev, ok := <-stream.Events():
			if !ok {
				flush()
				if err := stream.Err(); err != nil {
					return err
				}
				return errors.New("stream closed")
			}
			messages++
			r.metrics.MessagesReceived.WithLabelValues(venueKalshi).Inc()
			r.handleEvent(ctx, ev, state, pendingPrices, pendingSpreads, acc)

			if len(pendingPrices) >= r.cfg.BatchSize {
				flush()
			}
			r.metrics.PendingUpdates.WithLabelValues(venueKalshi).Set(float64(len(pendingPrices)))
		}
	}
}

func (r *KalshiRunner) handleEvent(ctx context.Context, ev kalshi.Event, state map[string]*assetState, pendingPrices, pendingSpreads map[string]float64, acc *VolumeAccumulator) {
	now := time.Now().UTC()

	switch m := ev.(type) {
	case *kalshi.Trade:
		r.metrics.EventsDecoded.WithLabelValues(venueKalshi, "trade").Inc()
		r.metrics.TradesAccumulated.WithLabelValues(venueKalshi).Inc()
		st := state[m.Ticker]
		if st == nil {
			return
		}
		price := m.PriceDecimal()
		notional := m.Notional()
		acc.Add(m.Ticker, notional)
		if notional > 0 {
			if err := r.volumes.AccumulateTradeVolume(ctx, st.tokenID, notional, m.Ts); err != nil {
				r.logger.Printf("[kalshi] accumulate trade volume: %v", err)
			}
		}
		if st.livePrice != nil {
			r.checkInstant(ctx, st, *st.livePrice, price, &notional, now)
		}
		p := price
		st.livePrice = &p
		pendingPrices[m.Ticker] = price

	case *kalshi.BookDelta:
		r.metrics.EventsDecoded.WithLabelValues(venueKalshi, "orderbook").Inc()
		st := state[m.Ticker]
		if st == nil {
			return
		}
		mid, ok := m.MidPrice()
		if !ok {
			return
		}
		bid, ask, _ := m.BestQuotes()
		pendingSpreads[m.Ticker] = ask - bid
		if st.livePrice != nil {
			r.checkInstant(ctx, st, *st.livePrice, mid, nil, now)
		}
		p := mid
		st.livePrice = &p
		pendingPrices[m.Ticker] = mid

	case *kalshi.Subscribed:
		r.logger.Printf("[kalshi] subscribed to %s (sid=%d)", m.Channel, m.SID)

	case *kalshi.ErrorMsg:
		r.logger.Printf("[kalshi] server error: %v", m)

	default:
		r.metrics.UnknownEvents.WithLabelValues(venueKalshi).Inc()
	}
}

func (r *KalshiRunner) checkInstant(ctx context.Context, st *assetState, oldPrice, newPrice float64, volume *float64, now time.Time) {
	if r.detector == nil {
		return
	}
	mover := r.detector.Check(st.tokenID, oldPrice, newPrice, volume, now)
	if mover == nil {
		return
	}
	r.metrics.InstantMovers.WithLabelValues(venueKalshi).Inc()
	r.logger.Printf("[kalshi] instant mover: token=%s %.4f -> %.4f (%+.2fpp)",
		st.tokenID, oldPrice, newPrice, mover.MovePP)
	if r.notifier != nil {
		r.notifier.BroadcastInstantMover(ctx, domain.SourceKalshi, mover)
	}
}

func (r *KalshiRunner) flush(ctx context.Context, state map[string]*assetState, pendingPrices, pendingSpreads map[string]float64, volumes map[string]float64) (inserted, skipped int) {
	start := time.Now()
	now := start.UTC()

	var batch []*domain.Snapshot
	for ticker, price := range pendingPrices {
		st := state[ticker]
		if st == nil {
			continue
		}

		obs := Observation{Price: price, BatchVolume: volumes[ticker], Now: now}
		if s, ok := pendingSpreads[ticker]; ok {
			spread := s
			obs.Spread = &spread
		}

		if !r.gate.ShouldWrite(st.gate, obs) {
			skipped++
			continue
		}

		batch = append(batch, &domain.Snapshot{TokenID: st.tokenID, Ts: now, Price: price, Spread: obs.Spread})

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
			r.logger.Printf("[kalshi] snapshot batch insert failed: %v", err)
		} else {
			inserted = int(n)
		}
	}

	r.metrics.SnapshotsInserted.WithLabelValues(venueKalshi).Add(float64(inserted))
	r.metrics.SnapshotsSkipped.WithLabelValues(venueKalshi).Add(float64(skipped))
	r.metrics.FlushDuration.WithLabelValues(venueKalshi).Observe(time.Since(start).Seconds())
	return inserted, skipped
}

// pollLoop resyncs metadata and writes mid prices from the REST markets feed
// through the write gate. Runs until ctx is cancelled.
func (r *KalshiRunner) pollLoop(ctx context.Context) error {
	r.writeStatus(ctx, map[string]any{"state": "polling_fallback", "connected": false})

	for ctx.Err() == nil {
		markets, err := r.rest.FetchOpenMarkets(ctx, r.cfg.MaxMarkets)
		if err != nil {
			r.logger.Printf("[kalshi] polling market fetch failed: %v", err)
		} else {
			if _, err := SyncKalshiMarkets(ctx, r.rest, r.markets, r.cfg.MaxMarkets, r.logger); err != nil {
				r.logger.Printf("[kalshi] polling sync failed: %v", err)
			}
			state, _, err := r.loadState(ctx)
			if err != nil {
				r.logger.Printf("[kalshi] polling state load failed: %v", err)
			} else {
				pendingPrices := make(map[string]float64, len(markets))
				pendingSpreads := make(map[string]float64)
				for _, m := range markets {
					pendingPrices[m.Ticker] = m.MidPrice()
					if spread, ok := m.Spread(); ok {
						pendingSpreads[m.Ticker] = spread
					}
				}
				inserted, skipped := r.flush(ctx, state, pendingPrices, pendingSpreads, nil)
				r.logger.Printf("[kalshi] polling cycle: %d inserted, %d skipped", inserted, skipped)
			}
		}

		r.writeStatus(ctx, map[string]any{"state": "polling_fallback", "connected": false})
		sleepCtx(ctx, r.cfg.PollInterval)
	}
	return ctx.Err()
}

func (r *KalshiRunner) writeStatus(ctx context.Context, fields map[string]any) {
	fields["last_updated"] = time.Now().UTC().Format(time.RFC3339)
	if err := r.status.UpsertStatus(ctx, StatusKeyKalshi, fields); err != nil {
		r.logger.Printf("[kalshi] status update failed: %v", err)
	}
}
