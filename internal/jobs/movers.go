// Package jobs holds the periodic analytics and maintenance cycles driven by
// the scheduler: mover cache generations, alerts, arbitrage scanning, volume
// spike detection, volatility baselines, OHLC rollups, and retention.
package jobs

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/analytics"
	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// MoversJob rebuilds the windowed mover cache. Each cycle produces one
// generation per window: raw moves from snapshots, quality-filtered, scored
// against per-token volatility baselines, ranked, truncated to the top N.
type MoversJob struct {
	cfg    config.MoversConfig
	snaps  storage.SnapshotStore
	cache  storage.AnalyticsStore
	stats  storage.StatsStore
	scorer *analytics.ZScoreScorer
	logger *log.Logger
}

func NewMoversJob(cfg config.MoversConfig, snaps storage.SnapshotStore, cache storage.AnalyticsStore, stats storage.StatsStore, scorer *analytics.ZScoreScorer, logger *log.Logger) *MoversJob {
	if logger == nil {
		logger = log.Default()
	}
	return &MoversJob{cfg: cfg, snaps: snaps, cache: cache, stats: stats, scorer: scorer, logger: logger}
}

func (j *MoversJob) Name() string { return "movers" }

// Run builds one cache generation across all configured windows. All rows
// share as_of_ts so readers switch generations atomically.
func (j *MoversJob) Run(ctx context.Context) error {
	baselines, err := j.stats.StatsMap(ctx)
	if err != nil {
		return fmt.Errorf("load baselines: %w", err)
	}

	asOf := time.Now().UTC()
	var generation []*domain.MoverCacheRow

	for _, windowSec := range j.cfg.WindowsSeconds {
		window := time.Duration(windowSec) * time.Second
		rows, err := j.snaps.MoversWindow(ctx, window)
		if err != nil {
			return fmt.Errorf("movers window %ds: %w", windowSec, err)
		}

		ranked, err := j.rankWindow(rows, baselines, windowSec, asOf)
		if err != nil {
			// A manifest mismatch poisons every window of the cycle; leave
			// the previous generation in place.
			return fmt.Errorf("rank window %ds: %w", windowSec, err)
		}
		generation = append(generation, ranked...)
	}

	if len(generation) == 0 {
		j.logger.Printf("[movers] no qualifying movers this cycle")
		return nil
	}
	if err := j.cache.InsertMoverRows(ctx, generation); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	j.logger.Printf("[movers] cached %d rows across %d windows", len(generation), len(j.cfg.WindowsSeconds))
	return nil
}

func (j *MoversJob) rankWindow(rows []*domain.MoverRow, baselines map[uuid.UUID]*domain.MarketStats, windowSec int, asOf time.Time) ([]*domain.MoverCacheRow, error) {
	type candidate struct {
		row     *domain.MoverRow
		quality float64
		score   float64
	}

	var candidates []candidate
	var inputs []analytics.ZScoreInput
	var inputStats []*domain.MarketStats

	for _, row := range rows {
		absMove := math.Abs(row.MovePP)
		quality := analytics.QualityScore(absMove, row.LatestVolume)
		if quality < j.cfg.MinQuality {
			continue
		}
		candidates = append(candidates, candidate{row: row, quality: quality})
		inputs = append(inputs, analytics.ZScoreInput{
			PriceNow:      row.LatestPrice,
			PriceThen:     row.OldPrice,
			Volume:        row.LatestVolume,
			WindowMinutes: float64(windowSec) / 60,
		})
		inputStats = append(inputStats, baselines[row.TokenID])
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scores, err := j.scorer.ScoreBatch(inputs, inputStats)
	if err != nil {
		return nil, err
	}

	var kept []candidate
	for i := range candidates {
		candidates[i].score = scores[i]
		if scores[i] >= j.scorer.MinZ() {
			kept = append(kept, candidates[i])
		}
	}

	sort.Slice(kept, func(i, k int) bool { return kept[i].score > kept[k].score })
	if j.cfg.TopN > 0 && len(kept) > j.cfg.TopN {
		kept = kept[:j.cfg.TopN]
	}

	out := make([]*domain.MoverCacheRow, 0, len(kept))
	for rank, c := range kept {
		out = append(out, &domain.MoverCacheRow{
			AsOfTs:        asOf,
			WindowSeconds: windowSec,
			TokenID:       c.row.TokenID,
			PriceNow:      c.row.LatestPrice,
			PriceThen:     c.row.OldPrice,
			MovePP:        c.row.MovePP,
			AbsMovePP:     math.Abs(c.row.MovePP),
			Rank:          rank + 1,
			QualityScore:  c.quality,
			Volume24h:     c.row.LatestVolume,
		})
	}
	return out, nil
}
