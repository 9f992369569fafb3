package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// RollupJob maintains the OHLC candle tables. 1m candles come straight from
// snapshots; 5m and 1h derive from 1m. Every pass re-covers a trailing
// window, so late snapshots and reruns converge on the same candles.
type RollupJob struct {
	cfg     config.RollupsConfig
	candles storage.CandleStore
	logger  *log.Logger
}

func NewRollupJob(cfg config.RollupsConfig, candles storage.CandleStore, logger *log.Logger) *RollupJob {
	if logger == nil {
		logger = log.Default()
	}
	return &RollupJob{cfg: cfg, candles: candles, logger: logger}
}

func (j *RollupJob) Name() string { return "rollups" }

func (j *RollupJob) Run(ctx context.Context) error {
	now := time.Now().UTC()

	n1m, err := j.candles.Rollup1m(ctx, now.Add(-j.cfg.Lookback1m))
	if err != nil {
		return fmt.Errorf("rollup 1m: %w", err)
	}
	n5m, err := j.candles.Rollup5m(ctx, now.Add(-j.cfg.Lookback1h))
	if err != nil {
		return fmt.Errorf("rollup 5m: %w", err)
	}
	n1h, err := j.candles.Rollup1h(ctx, now.Add(-j.cfg.Lookback1h))
	if err != nil {
		return fmt.Errorf("rollup 1h: %w", err)
	}

	if n1m+n5m+n1h > 0 {
		j.logger.Printf("[rollups] upserted 1m=%d 5m=%d 1h=%d", n1m, n5m, n1h)
	}
	return nil
}
