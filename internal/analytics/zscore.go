package analytics

import (
	"math"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

const (
	// zEpsilon floors stddev denominators so freshly-seeded baselines cannot
	// explode a z value.
	zEpsilon = 1e-6

	// logOddsEpsilon keeps probabilities away from 0/1 before the logit.
	logOddsEpsilon = 0.001
)

// Fallback baseline applied when a token has no usable MarketStats row yet.
var defaultBaseline = domain.MarketStats{
	AvgMovePP:     2.0,
	StddevMovePP:  3.0,
	AvgLogOdds:    0.2,
	StddevLogOdds: 0.5,
	AvgVolume:     10000,
	StddevVolume:  20000,
}

// ZScoreWeights tune how the blended z components contribute to the score.
type ZScoreWeights struct {
	PriceZ   float64
	VolumeZ  float64
	Velocity float64
}

// DefaultZScoreWeights mirror the cache job's canonical scorer.
func DefaultZScoreWeights() ZScoreWeights {
	return ZScoreWeights{PriceZ: 1.0, VolumeZ: 0.5, Velocity: 0.3}
}

// ZScoreInput is one candidate move to normalize.
type ZScoreInput struct {
	PriceNow      float64
	PriceThen     float64
	Volume        float64
	WindowMinutes float64
}

// ZScoreScorer normalizes raw moves against each token's own volatility
// baseline, so a 5pp move in a historically stable market can outrank a 10pp
// move in a historically volatile one. Before scoring, every live feature row
// is validated against the training manifest; a mismatch aborts the batch.
type ZScoreScorer struct {
	weights    ZScoreWeights
	minZ       float64
	useLogOdds bool
	manifest   *FeatureManifest
}

// NewZScoreScorer builds a scorer bound to a feature manifest.
func NewZScoreScorer(weights ZScoreWeights, minZ float64, useLogOdds bool, manifest *FeatureManifest) *ZScoreScorer {
	return &ZScoreScorer{weights: weights, minZ: minZ, useLogOdds: useLogOdds, manifest: manifest}
}

// MinZ is the minimum blended z for a candidate to survive ranking.
func (s *ZScoreScorer) MinZ() float64 { return s.minZ }

// DefaultMoverManifest is the built-in v1 contract for mover scoring inputs.
// The deployed manifest file must match it column-for-column.
func DefaultMoverManifest() *FeatureManifest {
	return &FeatureManifest{
		Model:   "mover_zscore",
		Version: 1,
		Features: []ManifestFeature{
			{Name: "abs_move_pp", Dtype: "float"},
			{Name: "log_odds_delta", Dtype: "float"},
			{Name: "volume", Dtype: "float"},
			{Name: "window_minutes", Dtype: "float"},
		},
	}
}

// featureRow materializes the live feature vector for manifest validation.
func (s *ZScoreScorer) featureRow(in ZScoreInput) FeatureRow {
	return FeatureRow{
		{Name: "abs_move_pp", Value: math.Abs(MovePP(in.PriceNow, in.PriceThen))},
		{Name: "log_odds_delta", Value: math.Abs(logOdds(in.PriceNow) - logOdds(in.PriceThen))},
		{Name: "volume", Value: in.Volume},
		{Name: "window_minutes", Value: in.WindowMinutes},
	}
}

// ScoreBatch validates the whole batch against the manifest, then scores each
// input against its baseline. Stats lookup falls back to a conservative
// default baseline for tokens without sufficient history.
func (s *ZScoreScorer) ScoreBatch(inputs []ZScoreInput, stats []*domain.MarketStats) ([]float64, error) {
	rows := make([]FeatureRow, len(inputs))
	for i, in := range inputs {
		rows[i] = s.featureRow(in)
	}
	if err := s.manifest.ValidateRows(rows); err != nil {
		return nil, err
	}

	scores := make([]float64, len(inputs))
	for i, in := range inputs {
		var st *domain.MarketStats
		if i < len(stats) {
			st = stats[i]
		}
		scores[i] = s.score(in, st)
	}
	return scores, nil
}

func (s *ZScoreScorer) score(in ZScoreInput, st *domain.MarketStats) float64 {
	if st == nil || !st.HasSufficientData {
		st = &defaultBaseline
	}

	absMove := math.Abs(MovePP(in.PriceNow, in.PriceThen))
	priceZ := (absMove - st.AvgMovePP) / math.Max(st.StddevMovePP, zEpsilon)

	base := priceZ
	if s.useLogOdds {
		loDelta := math.Abs(logOdds(in.PriceNow) - logOdds(in.PriceThen))
		loZ := (loDelta - st.AvgLogOdds) / math.Max(st.StddevLogOdds, zEpsilon)
		base = (priceZ + loZ) / 2
	}

	score := base * s.weights.PriceZ

	if in.Volume > 0 {
		volZ := (in.Volume - st.AvgVolume) / math.Max(st.StddevVolume, zEpsilon)
		if volZ > 0 {
			score += volZ * s.weights.VolumeZ
		}
	}

	if in.WindowMinutes > 0 {
		score += (absMove / in.WindowMinutes) * s.weights.Velocity
	}

	return score
}

func logOdds(p float64) float64 {
	clamped := math.Max(logOddsEpsilon, math.Min(1-logOddsEpsilon, p))
	return math.Log(clamped / (1 - clamped))
}
