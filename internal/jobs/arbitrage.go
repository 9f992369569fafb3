package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// ArbitrageJob scans linked cross-venue pairs for hedges whose combined cost
// sits below $1. Both legs settle to the same real-world outcome, so buying
// YES on one venue and NO on the other locks the margin in.
type ArbitrageJob struct {
	cfg     config.ArbitrageConfig
	store   storage.ArbitrageStore
	metrics *observability.Metrics
	logger  *log.Logger
}

func NewArbitrageJob(cfg config.ArbitrageConfig, store storage.ArbitrageStore, metrics *observability.Metrics, logger *log.Logger) *ArbitrageJob {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil, "")
	}
	return &ArbitrageJob{cfg: cfg, store: store, metrics: metrics, logger: logger}
}

func (j *ArbitrageJob) Name() string { return "arbitrage" }

func (j *ArbitrageJob) Run(ctx context.Context) error {
	pairs, err := j.store.ActivePairs(ctx)
	if err != nil {
		return fmt.Errorf("active pairs: %w", err)
	}

	now := time.Now().UTC()
	recorded := 0
	for _, pair := range pairs {
		opp := j.evaluate(pair, now)
		if opp == nil {
			continue
		}
		if err := j.store.RecordOpportunity(ctx, opp); err != nil {
			j.logger.Printf("[arbitrage] record opportunity: %v", err)
			continue
		}
		recorded++
		j.metrics.ArbOpps.Inc()
		j.logger.Printf("[arbitrage] %s: %s cost=%.3f margin=%.3f (%.2f%%)",
			pair.PolymarketTitle, opp.ArbitrageType, opp.TotalCost, opp.ProfitMargin, opp.ProfitPercentage)
	}

	swept, err := j.store.ExpireOld(ctx, now)
	if err != nil {
		j.logger.Printf("[arbitrage] expire sweep: %v", err)
	} else if swept > 0 {
		j.logger.Printf("[arbitrage] expired %d stale opportunities", swept)
	}

	if recorded > 0 {
		j.logger.Printf("[arbitrage] recorded %d opportunities across %d pairs", recorded, len(pairs))
	}
	return nil
}

// evaluate prices both hedge directions and returns the cheaper one when its
// margin clears the minimum, nil otherwise.
func (j *ArbitrageJob) evaluate(pair *domain.MarketPair, now time.Time) *domain.ArbitrageOpportunity {
	if pair.PolymarketYesPrice == nil || pair.KalshiYesPrice == nil {
		return nil
	}
	a := *pair.PolymarketYesPrice
	b := *pair.KalshiYesPrice
	if a <= 0 || a >= 1 || b <= 0 || b >= 1 {
		return nil
	}
	if !j.volumeOK(pair.PolymarketVolume) || !j.volumeOK(pair.KalshiVolume) {
		return nil
	}

	// YES_NO buys Polymarket YES at a and Kalshi NO at 1-b; NO_YES is the
	// mirror. Exactly one side can be under $1.
	yesNoCost := a + (1 - b)
	noYesCost := (1 - a) + b

	arbType := domain.ArbitrageTypeYesNo
	cost := yesNoCost
	if noYesCost < yesNoCost {
		arbType = domain.ArbitrageTypeNoYes
		cost = noYesCost
	}

	margin := 1 - cost
	if margin < j.cfg.MinMargin {
		return nil
	}

	return &domain.ArbitrageOpportunity{
		PairID:             pair.PairID,
		ArbitrageType:      arbType,
		PolymarketYesPrice: a,
		PolymarketNoPrice:  1 - a,
		KalshiYesPrice:     b,
		KalshiNoPrice:      1 - b,
		TotalCost:          cost,
		ProfitMargin:       margin,
		ProfitPercentage:   margin / cost * 100,
		PolymarketVolume:   pair.PolymarketVolume,
		KalshiVolume:       pair.KalshiVolume,
		DetectedAt:         now,
		ExpiresAt:          now.Add(j.cfg.Expiry),
	}
}

// volumeOK treats unknown volume as acceptable; only a known-thin market is
// rejected.
func (j *ArbitrageJob) volumeOK(volume *float64) bool {
	return volume == nil || *volume >= j.cfg.MinVolume
}
