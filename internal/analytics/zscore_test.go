package analytics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

func newTestScorer(useLogOdds bool) *ZScoreScorer {
	return NewZScoreScorer(DefaultZScoreWeights(), 1.5, useLogOdds, DefaultMoverManifest())
}

func TestScoreBatch_DefaultBaseline(t *testing.T) {
	s := newTestScorer(false)

	// 10pp move against the default 2.0/3.0 baseline: priceZ = (10-2)/3.
	in := ZScoreInput{PriceNow: 0.60, PriceThen: 0.50}
	scores, err := s.ScoreBatch([]ZScoreInput{in}, []*domain.MarketStats{nil})
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.InDelta(t, 8.0/3.0, scores[0], 1e-9)
}

func TestScoreBatch_PerTokenBaseline(t *testing.T) {
	s := newTestScorer(false)

	stable := &domain.MarketStats{
		AvgMovePP: 0.5, StddevMovePP: 0.5,
		AvgVolume: 10000, StddevVolume: 20000,
		HasSufficientData: true,
	}
	volatile := &domain.MarketStats{
		AvgMovePP: 8.0, StddevMovePP: 6.0,
		AvgVolume: 10000, StddevVolume: 20000,
		HasSufficientData: true,
	}

	// Identical 5pp moves; the stable market must outrank the volatile one.
	in := ZScoreInput{PriceNow: 0.55, PriceThen: 0.50}
	scores, err := s.ScoreBatch([]ZScoreInput{in, in}, []*domain.MarketStats{stable, volatile})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
}

func TestScoreBatch_InsufficientDataFallsBack(t *testing.T) {
	s := newTestScorer(false)

	thin := &domain.MarketStats{
		AvgMovePP: 0.1, StddevMovePP: 0.1,
		HasSufficientData: false,
	}
	in := ZScoreInput{PriceNow: 0.60, PriceThen: 0.50}

	withThin, err := s.ScoreBatch([]ZScoreInput{in}, []*domain.MarketStats{thin})
	require.NoError(t, err)
	withNil, err := s.ScoreBatch([]ZScoreInput{in}, []*domain.MarketStats{nil})
	require.NoError(t, err)
	assert.Equal(t, withNil[0], withThin[0])
}

func TestScoreBatch_VolumeOnlyBoosts(t *testing.T) {
	s := newTestScorer(false)

	base := ZScoreInput{PriceNow: 0.60, PriceThen: 0.50}
	belowAvg := base
	belowAvg.Volume = 100 // far under the default 10000 average
	aboveAvg := base
	aboveAvg.Volume = 100000

	scores, err := s.ScoreBatch(
		[]ZScoreInput{base, belowAvg, aboveAvg},
		[]*domain.MarketStats{nil, nil, nil},
	)
	require.NoError(t, err)

	// Negative volume z never penalizes the move.
	assert.Equal(t, scores[0], scores[1])
	assert.Greater(t, scores[2], scores[0])
}

func TestScoreBatch_VelocityFavorsShortWindows(t *testing.T) {
	s := newTestScorer(false)

	fast := ZScoreInput{PriceNow: 0.60, PriceThen: 0.50, WindowMinutes: 5}
	slow := ZScoreInput{PriceNow: 0.60, PriceThen: 0.50, WindowMinutes: 1440}

	scores, err := s.ScoreBatch([]ZScoreInput{fast, slow}, []*domain.MarketStats{nil, nil})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
}

func TestScoreBatch_LogOddsBlend(t *testing.T) {
	s := newTestScorer(true)

	// A 0.90 -> 0.95 move is small in pp but large in log-odds; blending
	// should lift it relative to the pure-pp score.
	in := ZScoreInput{PriceNow: 0.95, PriceThen: 0.90}
	blended, err := s.ScoreBatch([]ZScoreInput{in}, []*domain.MarketStats{nil})
	require.NoError(t, err)

	plain := newTestScorer(false)
	pure, err := plain.ScoreBatch([]ZScoreInput{in}, []*domain.MarketStats{nil})
	require.NoError(t, err)

	assert.Greater(t, blended[0], pure[0])
}

func TestLogOddsClampsExtremes(t *testing.T) {
	assert.False(t, math.IsInf(logOdds(0), -1))
	assert.False(t, math.IsInf(logOdds(1), 1))
	assert.InDelta(t, 0, logOdds(0.5), 1e-12)
	assert.InDelta(t, -logOdds(0.2), logOdds(0.8), 1e-12)
}
