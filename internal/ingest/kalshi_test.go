package ingest

import (
	"context"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/feed/kalshi"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage/memory"
)

type fakeKalshiStream struct {
	events  chan kalshi.Event
	err     error
	failure bool
}

func newFakeKalshiStream() *fakeKalshiStream {
	return &fakeKalshiStream{events: make(chan kalshi.Event, 16)}
}

func (f *fakeKalshiStream) Connect(_ context.Context, _ []string) error {
	if f.failure {
		return f.err
	}
	return nil
}

func (f *fakeKalshiStream) Events() <-chan kalshi.Event { return f.events }
func (f *fakeKalshiStream) Err() error                  { return f.err }
func (f *fakeKalshiStream) Close() error                { return nil }

func seedKalshiToken(t *testing.T, markets *memory.MarketStore, ticker string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	marketID, err := markets.UpsertMarket(ctx, &domain.Market{
		Source:   domain.SourceKalshi,
		SourceID: ticker,
		Title:    "Highest temperature in NYC today - 85 or above",
		Status:   domain.MarketStatusActive,
	})
	require.NoError(t, err)
	tokenID, err := markets.UpsertToken(ctx, &domain.Token{
		MarketID:      marketID,
		Outcome:       domain.OutcomeYes,
		SourceTokenID: ticker,
	})
	require.NoError(t, err)
	return tokenID
}

// emptyKalshiServer answers market list requests with an empty page.
func emptyKalshiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"markets":[],"cursor":""}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newKalshiRunner(t *testing.T, db *memory.DB, baseURL string, dial func() KalshiStream) *KalshiRunner {
	t.Helper()
	cfg := KalshiRunnerConfig{
		BatchSize:            50,
		BatchInterval:        20 * time.Millisecond,
		ReconnectDelay:       time.Millisecond,
		MaxReconnectAttempts: 2,
		SubscriptionRefresh:  time.Hour,
		PollInterval:         20 * time.Millisecond,
		MaxMarkets:           100,
	}
	gate := Gate{MinInterval: time.Millisecond, ForceDeltaPP: 0.5}
	detector := NewInstantDetector(InstantConfig{ThresholdPP: 5.0, Debounce: time.Second})
	metrics := observability.NewMetrics(prometheus.NewRegistry(), "test")

	return NewKalshiRunner(cfg, gate, detector, KalshiDeps{
		Dial:    dial,
		REST:    kalshi.NewRESTClient(baseURL, log.New(testWriter{t}, "", 0)),
		Markets: memory.NewMarketStore(db),
		Snaps:   memory.NewSnapshotStore(db),
		Volumes: memory.NewVolumeStore(db),
		Status:  memory.NewStatusStore(db),
		Metrics: metrics,
		Logger:  log.New(testWriter{t}, "", 0),
	})
}

func TestKalshiRunner_TradesAndBooksBecomeSnapshots(t *testing.T) {
	db := memory.NewDB()
	markets := memory.NewMarketStore(db)
	snaps := memory.NewSnapshotStore(db)
	tokenID := seedKalshiToken(t, markets, "KXHIGHNY-25SEP01-B85")

	srv := emptyKalshiServer(t)
	stream := newFakeKalshiStream()
	r := newKalshiRunner(t, db, srv.URL, func() KalshiStream { return stream })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	now := time.Now().UTC()
	stream.events <- &kalshi.Trade{
		Ticker:     "KXHIGHNY-25SEP01-B85",
		TradeID:    "t1",
		PriceCents: 37,
		Count:      200,
		TakerSide:  "yes",
		Ts:         now,
	}

	require.Eventually(t, func() bool {
		snap, err := snaps.Latest(context.Background(), tokenID)
		return err == nil && snap != nil && snap.Price == 0.37
	}, 2*time.Second, 10*time.Millisecond)

	// A book delta moves the mid and carries a spread.
	stream.events <- &kalshi.BookDelta{
		Ticker:  "KXHIGHNY-25SEP01-B85",
		YesBids: []kalshi.Level{{PriceCents: 45, Size: 100}},
		YesAsks: []kalshi.Level{{PriceCents: 49, Size: 80}},
		Ts:      now,
	}

	require.Eventually(t, func() bool {
		snap, err := snaps.Latest(context.Background(), tokenID)
		if err != nil || snap == nil || math.Abs(snap.Price-0.47) > 1e-9 {
			return false
		}
		return snap.Spread != nil && math.Abs(*snap.Spread-0.04) < 1e-9
	}, 2*time.Second, 10*time.Millisecond)
}

func TestKalshiRunner_FallsBackToPolling(t *testing.T) {
	db := memory.NewDB()
	markets := memory.NewMarketStore(db)
	snaps := memory.NewSnapshotStore(db)
	status := memory.NewStatusStore(db)
	tokenID := seedKalshiToken(t, markets, "KXFED-26MAR-C")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"markets":[{"ticker":"KXFED-26MAR-C","event_ticker":"KXFED-26MAR","title":"Fed cuts in March","status":"active","yes_bid":58,"yes_ask":62,"last_price":60}],"cursor":""}`))
	}))
	defer srv.Close()

	dead := &fakeKalshiStream{failure: true, err: context.DeadlineExceeded}
	r := newKalshiRunner(t, db, srv.URL, func() KalshiStream { return dead })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		snap, _ := snaps.Latest(context.Background(), tokenID)
		return snap != nil && snap.Price == 0.60
	}, 3*time.Second, 10*time.Millisecond)

	raw, err := status.GetStatus(context.Background(), StatusKeyKalshi)
	require.NoError(t, err)
	require.Contains(t, string(raw), "polling_fallback")
}
