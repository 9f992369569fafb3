package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/analytics"
	"github.com/officialn8/prediction-market-movers-sub000/internal/config"
	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/observability"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// spikeWatermark is the ratio growth required to re-record a spike for a
// token that already spiked within the lookback.
const spikeWatermark = 1.2

// SpikesJob detects tokens whose recent volume runs well above their own
// 7-day baseline and records them with a severity band. Spikes past the
// alert ratio also insert a volume_spike alert.
type SpikesJob struct {
	cfg      config.SpikesConfig
	volumes  storage.VolumeStore
	snaps    storage.SnapshotStore
	store    storage.AnalyticsStore
	notifier AlertNotifier
	metrics  *observability.Metrics
	logger   *log.Logger
}

func NewSpikesJob(cfg config.SpikesConfig, volumes storage.VolumeStore, snaps storage.SnapshotStore, store storage.AnalyticsStore, notifier AlertNotifier, metrics *observability.Metrics, logger *log.Logger) *SpikesJob {
	if logger == nil {
		logger = log.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(nil, "")
	}
	return &SpikesJob{cfg: cfg, volumes: volumes, snaps: snaps, store: store, notifier: notifier, metrics: metrics, logger: logger}
}

func (j *SpikesJob) Name() string { return "spikes" }

func (j *SpikesJob) Run(ctx context.Context) error {
	candidates, err := j.volumes.SpikeCandidates(ctx, j.cfg.MinRatio, j.cfg.MinVolume)
	if err != nil {
		return fmt.Errorf("spike candidates: %w", err)
	}

	now := time.Now().UTC()
	recorded := 0
	for _, c := range candidates {
		if !j.clearsWatermark(ctx, c) {
			continue
		}

		spike := &domain.VolumeSpike{
			TokenID:       c.TokenID,
			CurrentVolume: c.CurrentVolume,
			AvgVolume:     c.AvgVolume,
			SpikeRatio:    c.SpikeRatio,
			CurrentPrice:  c.CurrentPrice,
			PriceChange1h: j.priceChange1h(ctx, c, now),
			Severity:      analytics.ClassifySpike(c.SpikeRatio),
			CreatedAt:     now,
		}
		if err := j.volumes.InsertSpike(ctx, spike); err != nil {
			j.logger.Printf("[spikes] insert: %v", err)
			continue
		}
		recorded++
		j.metrics.SpikesFound.Inc()
		j.logger.Printf("[spikes] %s %s: %.1fx volume (%s)", c.Title, c.Outcome, c.SpikeRatio, spike.Severity)

		if c.SpikeRatio >= j.cfg.AlertRatio {
			j.alert(ctx, c, now)
		}
	}

	if recorded > 0 {
		j.logger.Printf("[spikes] recorded %d of %d candidates", recorded, len(candidates))
	}
	return nil
}

// clearsWatermark suppresses repeats: within the lookback a token only spikes
// again when the ratio grew past the previous one by the watermark factor.
func (j *SpikesJob) clearsWatermark(ctx context.Context, c *domain.SpikeCandidate) bool {
	last, err := j.volumes.RecentSpikeForToken(ctx, c.TokenID, j.cfg.Lookback)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			j.logger.Printf("[spikes] watermark lookup: %v", err)
			return false
		}
		return true
	}
	return c.SpikeRatio > last.SpikeRatio*spikeWatermark
}

func (j *SpikesJob) priceChange1h(ctx context.Context, c *domain.SpikeCandidate, now time.Time) *float64 {
	if c.CurrentPrice == nil {
		return nil
	}
	prev, err := j.snaps.AtOrBefore(ctx, c.TokenID, now.Add(-time.Hour))
	if err != nil {
		return nil
	}
	change := analytics.MovePP(*c.CurrentPrice, prev.Price)
	return &change
}

func (j *SpikesJob) alert(ctx context.Context, c *domain.SpikeCandidate, now time.Time) {
	last, err := j.store.RecentAlertForToken(ctx, c.TokenID, 0, domain.AlertTypeVolumeSpike, j.cfg.Lookback)
	if err == nil {
		if last.VolumeSpikeRatio != nil && c.SpikeRatio <= *last.VolumeSpikeRatio*spikeWatermark {
			return
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		j.logger.Printf("[spikes] alert dedup lookup: %v", err)
		return
	}

	ratio := c.SpikeRatio
	alert := &domain.Alert{
		TokenID:          c.TokenID,
		WindowSeconds:    0,
		MovePP:           0,
		ThresholdPP:      0,
		Reason:           fmt.Sprintf("volume %.1fx above 7d average", ratio),
		AlertType:        domain.AlertTypeVolumeSpike,
		VolumeSpikeRatio: &ratio,
		CreatedAt:        now,
	}
	if err := j.store.InsertAlert(ctx, alert); err != nil {
		j.logger.Printf("[spikes] alert insert: %v", err)
		return
	}
	j.metrics.AlertsFired.WithLabelValues(domain.AlertTypeVolumeSpike).Inc()
	if j.notifier != nil {
		j.notifier.BroadcastAlert(ctx, alert, c.Title)
	}
}
