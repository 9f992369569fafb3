package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
	"github.com/officialn8/prediction-market-movers-sub000/internal/feed/kalshi"
	"github.com/officialn8/prediction-market-movers-sub000/internal/feed/polymarket"
	"github.com/officialn8/prediction-market-movers-sub000/internal/storage"
)

// SyncResult tallies one metadata sync pass. Failed counts markets that were
// skipped because of a per-item error; a sync with failures is still a
// success overall.
type SyncResult struct {
	Markets int
	Tokens  int
	Failed  int
}

// SyncPolymarketMarkets pulls active markets from the Gamma API and upserts
// markets and tokens. A market that fails to persist is logged and skipped.
func SyncPolymarketMarkets(ctx context.Context, rest *polymarket.RESTClient, store storage.MarketStore, maxMarkets int, logger *log.Logger) (SyncResult, error) {
	var res SyncResult

	markets, err := rest.FetchActiveMarkets(ctx, maxMarkets)
	if err != nil {
		return res, fmt.Errorf("fetch polymarket markets: %w", err)
	}

	for _, fm := range markets {
		status := domain.MarketStatusActive
		if fm.Closed {
			status = domain.MarketStatusClosed
		}

		m := &domain.Market{
			Source:   domain.SourcePolymarket,
			SourceID: fm.ConditionID,
			Title:    fm.Title,
			Status:   status,
			EndDate:  fm.EndDate,
		}
		if fm.Category != "" {
			m.Category = &fm.Category
		}
		url := fm.URL()
		m.URL = &url

		marketID, err := store.UpsertMarket(ctx, m)
		if err != nil {
			logger.Printf("[polymarket-sync] skipping market %s: %v", fm.ConditionID, err)
			res.Failed++
			continue
		}
		res.Markets++

		for _, ft := range fm.Tokens {
			_, err := store.UpsertToken(ctx, &domain.Token{
				MarketID:      marketID,
				Outcome:       ft.Outcome,
				SourceTokenID: ft.TokenID,
			})
			if err != nil {
				logger.Printf("[polymarket-sync] skipping token %s of %s: %v", ft.TokenID, fm.ConditionID, err)
				res.Failed++
				continue
			}
			res.Tokens++
		}
	}

	logger.Printf("[polymarket-sync] upserted %d markets / %d tokens (%d failed)",
		res.Markets, res.Tokens, res.Failed)
	return res, nil
}

// SyncKalshiMarkets pulls open markets from the trade API and upserts them.
// Each market gets a single YES token keyed by the market ticker, which is
// also the streaming subscription key.
func SyncKalshiMarkets(ctx context.Context, rest *kalshi.RESTClient, store storage.MarketStore, maxMarkets int, logger *log.Logger) (SyncResult, error) {
	var res SyncResult

	markets, err := rest.FetchOpenMarkets(ctx, maxMarkets)
	if err != nil {
		return res, fmt.Errorf("fetch kalshi markets: %w", err)
	}

	for _, km := range markets {
		if km.Ticker == "" {
			res.Failed++
			continue
		}

		title := km.Title
		if km.Subtitle != "" {
			title = km.Title + " - " + km.Subtitle
		}

		m := &domain.Market{
			Source:   domain.SourceKalshi,
			SourceID: km.Ticker,
			Title:    title,
			Status:   normalizeKalshiStatus(km.Status),
			EndDate:  km.CloseAt(),
		}
		if km.EventTicker != "" {
			m.Category = &km.EventTicker
		}
		url := km.URL()
		m.URL = &url

		marketID, err := store.UpsertMarket(ctx, m)
		if err != nil {
			logger.Printf("[kalshi-sync] skipping market %s: %v", km.Ticker, err)
			res.Failed++
			continue
		}
		res.Markets++

		_, err = store.UpsertToken(ctx, &domain.Token{
			MarketID:      marketID,
			Outcome:       domain.OutcomeYes,
			SourceTokenID: km.Ticker,
		})
		if err != nil {
			logger.Printf("[kalshi-sync] skipping token for %s: %v", km.Ticker, err)
			res.Failed++
			continue
		}
		res.Tokens++
	}

	logger.Printf("[kalshi-sync] upserted %d markets / %d tokens (%d failed)",
		res.Markets, res.Tokens, res.Failed)
	return res, nil
}

func normalizeKalshiStatus(status string) string {
	switch status {
	case "active", "open":
		return domain.MarketStatusActive
	case "settled", "finalized":
		return domain.MarketStatusResolved
	case "closed":
		return domain.MarketStatusClosed
	default:
		return domain.MarketStatusActive
	}
}
