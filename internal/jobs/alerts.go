package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// alertWindow is the move window alert checks run against. One hour balances
// catching sustained moves against settlement noise in the last minutes.
const alertWindowSeconds = 3600

// AlertNotifier receives fired alerts for out-of-band delivery.
type AlertNotifier interface {
	BroadcastAlert(ctx context.Context, a *domain.Alert, title string)
}

// AlertsJob scans the hourly move window and inserts price_move and combined
// alerts. Thresholds widen as markets approach their close, where large
// swings are expected rather than informative.
type AlertsJob struct {
	cfg      config.AlertsConfig
	signals  config.SignalsConfig
	snaps    storage.SnapshotStore
	store    storage.AnalyticsStore
	volumes  storage.VolumeStore
	notifier AlertNotifier
	metrics  *observability.Metrics
	logger   *log.Logger
}

func NewAlertsJob(cfg config.AlertsConfig, signals config.SignalsConfig, snaps storage.SnapshotStore, store storage.AnalyticsStore, volumes storage.VolumeStore, notifier AlertNotifier, metrics *observability.Metrics, logger *log.Logger) *AlertsJob {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil, "")
	}
	return &AlertsJob{cfg: cfg, signals: signals, snaps: snaps, store: store, volumes: volumes, notifier: notifier, metrics: metrics, logger: logger}
}

func (j *AlertsJob) Name() string { return "alerts" }

func (j *AlertsJob) Run(ctx context.Context) error {
	rows, err := j.snaps.MoversWindow(ctx, alertWindowSeconds*time.Second)
	if err != nil {
		return fmt.Errorf("movers window: %w", err)
	}

	now := time.Now().UTC()
	fired := 0
	for _, row := range rows {
		if row.Spread != nil && *row.Spread > j.cfg.MaxSpread {
			continue
		}
		if row.LatestVolume < j.cfg.MinVolume {
			continue
		}

		spikeRatio := j.recentSpikeRatio(ctx, row.TokenID)
		absMove := math.Abs(row.MovePP)
		threshold := j.threshold(row.EndDate, now)

		if j.shouldFirePriceMove(absMove, threshold, spikeRatio) {
			if j.insert(ctx, row, threshold, spikeRatio, domain.AlertTypePriceMove,
				fmt.Sprintf("moved %+.1fpp in 1h (threshold %.0fpp)", row.MovePP, threshold)) {
				fired++
			}
			continue
		}

		// Moderate move plus moderate spike fires at half strength.
		if absMove >= j.cfg.CombinedMovePP && spikeRatio != nil && *spikeRatio >= j.cfg.CombinedSpikeRatio {
			if j.insert(ctx, row, j.cfg.CombinedMovePP, spikeRatio, domain.AlertTypeCombined,
				fmt.Sprintf("moved %+.1fpp with %.1fx volume", row.MovePP, *spikeRatio)) {
				fired++
			}
		}
	}

	if fired > 0 {
		j.logger.Printf("[alerts] fired %d alerts over %d candidates", fired, len(rows))
	}
	return nil
}

// threshold picks the move threshold by time to market close: markets within
// 48h widen to the closing threshold, within 6h to the imminent one.
func (j *AlertsJob) threshold(endDate *time.Time, now time.Time) float64 {
	if endDate == nil {
		return j.cfg.ThresholdPP
	}
	until := endDate.Sub(now)
	switch {
	case until <= 6*time.Hour:
		return j.cfg.ImminentThresholdPP
	case until <= 48*time.Hour:
		return j.cfg.ClosingThresholdPP
	default:
		return j.cfg.ThresholdPP
	}
}

// shouldFirePriceMove applies the hold zone: a move that barely clears the
// threshold only fires when the edge itself is wide enough, or a concurrent
// volume spike vouches for it.
func (j *AlertsJob) shouldFirePriceMove(absMove, threshold float64, spikeRatio *float64) bool {
	if absMove < threshold {
		return false
	}
	if !j.signals.HoldZoneEnabled {
		return true
	}
	if absMove-threshold >= j.signals.HoldZoneMovePP {
		return true
	}
	return spikeRatio != nil && *spikeRatio-j.cfg.SpikeRatio >= j.signals.HoldZoneSpike
}

func (j *AlertsJob) recentSpikeRatio(ctx context.Context, tokenID uuid.UUID) *float64 {
	spike, err := j.volumes.RecentSpikeForToken(ctx, tokenID, j.cfg.Lookback)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			j.logger.Printf("[alerts] spike lookup: %v", err)
		}
		return nil
	}
	ratio := spike.SpikeRatio
	return &ratio
}

func (j *AlertsJob) insert(ctx context.Context, row *domain.MoverRow, threshold float64, spikeRatio *float64, alertType, reason string) bool {
	_, err := j.store.RecentAlertForToken(ctx, row.TokenID, alertWindowSeconds, alertType, j.cfg.Lookback)
	if err == nil {
		return false // already alerted within the lookback
	}
	if !errors.Is(err, storage.ErrNotFound) {
		j.logger.Printf("[alerts] dedup lookup: %v", err)
		return false
	}

	alert := &domain.Alert{
		TokenID:          row.TokenID,
		WindowSeconds:    alertWindowSeconds,
		MovePP:           row.MovePP,
		ThresholdPP:      threshold,
		Reason:           reason,
		AlertType:        alertType,
		VolumeSpikeRatio: spikeRatio,
		CreatedAt:        time.Now().UTC(),
	}
	if err := j.store.InsertAlert(ctx, alert); err != nil {
		j.logger.Printf("[alerts] insert: %v", err)
		return false
	}
	j.metrics.AlertsFired.WithLabelValues(alertType).Inc()
	if j.notifier != nil {
		j.notifier.BroadcastAlert(ctx, alert, row.Title)
	}
	return true
}
