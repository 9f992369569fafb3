package jobs

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// StatsJob recomputes per-token volatility baselines from hourly snapshot
// closes. The baselines feed z-score normalization; a token with too little
// history keeps HasSufficientData false and scores against the default.
type StatsJob struct {
	cfg    config.StatsConfig
	stats  storage.StatsStore
	logger *log.Logger
}

func NewStatsJob(cfg config.StatsConfig, stats storage.StatsStore, logger *log.Logger) *StatsJob {
	if logger == nil {
		logger = log.Default()
	}
	return &StatsJob{cfg: cfg, stats: stats, logger: logger}
}

func (j *StatsJob) Name() string { return "stats" }

func (j *StatsJob) Run(ctx context.Context) error {
	lookback := time.Duration(j.cfg.LookbackDays) * 24 * time.Hour
	tokens, err := j.stats.TokensWithSnapshots(ctx, lookback)
	if err != nil {
		return fmt.Errorf("tokens with snapshots: %w", err)
	}

	updated := 0
	for _, tokenID := range tokens {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		samples, err := j.stats.HourlyCloses(ctx, tokenID, lookback)
		if err != nil {
			j.logger.Printf("[stats] hourly closes for %s: %v", tokenID, err)
			continue
		}

		st := computeBaseline(tokenID, samples, j.cfg.MinSamples)
		if st == nil {
			continue
		}
		if err := j.stats.UpsertStats(ctx, st); err != nil {
			j.logger.Printf("[stats] upsert for %s: %v", tokenID, err)
			continue
		}
		updated++
	}

	j.logger.Printf("[stats] refreshed %d of %d token baselines", updated, len(tokens))
	return nil
}

// computeBaseline folds hourly closes into move, log-odds and volume
// moments. Returns nil when there are no usable hour-over-hour transitions.
func computeBaseline(tokenID uuid.UUID, samples []*domain.HourlySample, minSamples int) *domain.MarketStats {
	var moves, logOddsDeltas, volumes []float64
	for _, s := range samples {
		if s.PrevClose == nil {
			continue
		}
		moves = append(moves, math.Abs(s.Close-*s.PrevClose)*100)
		logOddsDeltas = append(logOddsDeltas, math.Abs(logit(s.Close)-logit(*s.PrevClose)))
		if s.Volume24h != nil {
			volumes = append(volumes, *s.Volume24h)
		}
	}
	if len(moves) == 0 {
		return nil
	}

	avgMove, stdMove := meanStddev(moves)
	avgLO, stdLO := meanStddev(logOddsDeltas)
	avgVol, stdVol := meanStddev(volumes)

	maxMove := 0.0
	for _, m := range moves {
		if m > maxMove {
			maxMove = m
		}
	}

	return &domain.MarketStats{
		TokenID:           tokenID,
		AvgMovePP:         avgMove,
		StddevMovePP:      stdMove,
		MaxMovePP:         maxMove,
		AvgLogOdds:        avgLO,
		StddevLogOdds:     stdLO,
		AvgVolume:         avgVol,
		StddevVolume:      stdVol,
		SampleCount:       len(moves),
		HasSufficientData: len(moves) >= minSamples,
		LastUpdated:       time.Now().UTC(),
	}
}

func meanStddev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	if len(values) < 2 {
		return mean, 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(values)-1))
}

func logit(p float64) float64 {
	const eps = 0.001
	clamped := math.Max(eps, math.Min(1-eps, p))
	return math.Log(clamped / (1 - clamped))
}
