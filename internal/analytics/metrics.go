// Package analytics provides the scoring and detection math shared by the
// mover cache, alerting, and spike detection paths.
package analytics

import "math"

// MovePP is the movement between two prices in percentage points.
// 0.50 -> 0.60 is +10.00pp.
func MovePP(priceNow, priceThen float64) float64 {
	return (priceNow - priceThen) * 100
}

// PctChange is the relative change against the old price, in percent.
// Returns false when the old price is non-positive.
func PctChange(priceNow, priceThen float64) (float64, bool) {
	if priceThen <= 0 {
		return 0, false
	}
	return (priceNow - priceThen) / priceThen * 100, true
}

// QualityScore weighs an absolute move by liquidity: absMovePP * ln(1+volume).
// Zero volume scores zero, so illiquid micro-markets never dominate rankings.
func QualityScore(absMovePP, volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	return absMovePP * math.Log1p(volume)
}

// SpikeRatio is current volume relative to a historical average.
// Returns false when either input is unusable.
func SpikeRatio(currentVolume, avgVolume float64) (float64, bool) {
	if avgVolume <= 0 || currentVolume < 0 {
		return 0, false
	}
	return currentVolume / avgVolume, true
}

// Volume spike severity thresholds (ratio of current to average volume).
const (
	spikeLowRatio     = 1.5
	spikeMediumRatio  = 3.0
	spikeHighRatio    = 5.0
	spikeExtremeRatio = 10.0
)

// ClassifySpike maps a spike ratio onto a severity band.
func ClassifySpike(ratio float64) string {
	switch {
	case ratio < spikeLowRatio:
		return "none"
	case ratio < spikeMediumRatio:
		return "low"
	case ratio < spikeHighRatio:
		return "medium"
	case ratio < spikeExtremeRatio:
		return "high"
	default:
		return "extreme"
	}
}

// CompositeScore combines move magnitude, liquidity, and an optional spike
// bonus into one ranking value. The spike bonus is capped at 5x so extreme
// volume anomalies cannot drown out everything else.
func CompositeScore(absMovePP, volume float64, spikeRatio *float64, weightMove, weightVolume, weightSpike float64) float64 {
	if volume <= 0 {
		return 0
	}
	score := absMovePP * weightMove * math.Log1p(volume) * weightVolume
	if spikeRatio != nil && *spikeRatio > spikeLowRatio {
		bonus := 1.0 + (*spikeRatio-1.0)*weightSpike
		if bonus > 5.0 {
			bonus = 5.0
		}
		score *= bonus
	}
	return score
}

// PricePoint is one (price, unix seconds) observation for velocity calculation.
type PricePoint struct {
	Price float64
	TsSec float64
}

// PriceVelocity is the rate of change in pp per minute between the first and
// last observation. Returns false with fewer than two points or zero elapsed.
func PriceVelocity(points []PricePoint) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}
	first, last := points[0], points[len(points)-1]
	minutes := (last.TsSec - first.TsSec) / 60.0
	if minutes <= 0 {
		return 0, false
	}
	return (last.Price - first.Price) * 100 / minutes, true
}

// SignificanceResult is the outcome of the unified significance check.
type SignificanceResult struct {
	Significant bool
	Reason      string
	PriceMove   bool
	VolumeSpike bool
	Combined    bool
}

// IsSignificantEvent decides whether a market event warrants an alert.
// Any of three criteria qualifies: a large move with decent volume, a strong
// volume spike, or a moderate move coinciding with a moderate spike (both at
// half of their normal thresholds).
func IsSignificantEvent(absMovePP, volume float64, spikeRatio *float64, minMovePP, minVolume, minSpikeRatio float64) SignificanceResult {
	var res SignificanceResult

	if absMovePP >= minMovePP && volume >= minVolume {
		res.PriceMove = true
	}
	if spikeRatio != nil && *spikeRatio >= minSpikeRatio && volume >= minVolume {
		res.VolumeSpike = true
	}
	if !res.PriceMove && !res.VolumeSpike &&
		absMovePP >= minMovePP*0.5 &&
		spikeRatio != nil && *spikeRatio >= minSpikeRatio*0.5 &&
		volume >= minVolume {
		res.Combined = true
	}

	res.Significant = res.PriceMove || res.VolumeSpike || res.Combined
	switch {
	case res.Combined:
		res.Reason = "combo_move_and_spike"
	case res.PriceMove && res.VolumeSpike:
		res.Reason = "price_move+volume_spike"
	case res.PriceMove:
		res.Reason = "price_move"
	case res.VolumeSpike:
		res.Reason = "volume_spike"
	default:
		res.Reason = "none"
	}
	return res
}
