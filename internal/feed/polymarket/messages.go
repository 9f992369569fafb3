// Package polymarket streams CLOB market data over WebSocket with a REST
// polling fallback against the Gamma API.
package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/officialn8/prediction-market-movers-sub000/internal/domain"
)

// Events is one decoded WebSocket payload grouped by canonical event type.
// Unknown holds event_type values we do not handle; callers log them at low
// severity and move on.
type Events struct {
	Prices     []domain.PriceUpdate
	Trades     []domain.TradeEvent
	Spreads    []domain.SpreadUpdate
	Books      []domain.BookUpdate
	Resolved   []domain.MarketResolved
	NewMarkets []domain.NewMarket
	Unknown    []string
}

// Empty reports whether the payload decoded to nothing actionable.
func (e *Events) Empty() bool {
	return len(e.Prices) == 0 && len(e.Trades) == 0 && len(e.Spreads) == 0 &&
		len(e.Books) == 0 && len(e.Resolved) == 0 && len(e.NewMarkets) == 0
}

// wireEvent covers every field any market-channel event may carry. Prices and
// sizes arrive as strings, timestamps as epoch milliseconds (string or number).
type wireEvent struct {
	EventType    string            `json:"event_type"`
	AssetID      string            `json:"asset_id"`
	Market       string            `json:"market"`
	Price        string            `json:"price"`
	Size         string            `json:"size"`
	Side         string            `json:"side"`
	Timestamp    json.RawMessage   `json:"timestamp"`
	PriceChanges []wirePriceChange `json:"price_changes"`
	Bids         []wireLevel       `json:"bids"`
	Asks         []wireLevel       `json:"asks"`
	BestBid      string            `json:"best_bid"`
	BestAsk      string            `json:"best_ask"`
	Outcome      string            `json:"outcome"`
	AssetsIDs    []string          `json:"assets_ids"`
}

type wirePriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ParseMessage decodes a market-channel payload. The server sends either a
// single event object or an array of them; both shapes are accepted. Malformed
// JSON is an error for the whole payload, a malformed individual event is
// skipped.
func ParseMessage(data []byte, fallbackTs time.Time) (*Events, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &Events{}, nil
	}

	var raws []json.RawMessage
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
	} else {
		raws = []json.RawMessage{data}
	}

	out := &Events{}
	for _, raw := range raws {
		var ev wireEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		decodeEvent(out, &ev, fallbackTs)
	}
	return out, nil
}

func decodeEvent(out *Events, ev *wireEvent, fallbackTs time.Time) {
	ts := tsFromMillis(ev.Timestamp, fallbackTs)

	switch ev.EventType {
	case "price_change":
		// Batched format carries a price_changes array with a shared
		// timestamp; the legacy format is one asset per event.
		if len(ev.PriceChanges) > 0 {
			for _, pc := range ev.PriceChanges {
				price, err := strconv.ParseFloat(pc.Price, 64)
				if err != nil || pc.AssetID == "" {
					continue
				}
				out.Prices = append(out.Prices, domain.PriceUpdate{
					AssetID: pc.AssetID,
					Price:   price,
					Ts:      ts,
				})
				if spread, ok := spreadFromQuotes(pc.BestBid, pc.BestAsk); ok {
					spread.AssetID = pc.AssetID
					spread.Ts = ts
					out.Spreads = append(out.Spreads, spread)
				}
			}
			return
		}
		price, err := strconv.ParseFloat(ev.Price, 64)
		if err != nil || ev.AssetID == "" {
			return
		}
		out.Prices = append(out.Prices, domain.PriceUpdate{
			AssetID: ev.AssetID,
			Price:   price,
			Ts:      ts,
		})

	case "last_trade_price":
		price, err := strconv.ParseFloat(ev.Price, 64)
		if err != nil || ev.AssetID == "" {
			return
		}
		size, err := strconv.ParseFloat(ev.Size, 64)
		if err != nil {
			size = 0
		}
		side := ev.Side
		if side != domain.TradeSideBuy && side != domain.TradeSideSell {
			side = domain.TradeSideBuy
		}
		out.Trades = append(out.Trades, domain.TradeEvent{
			AssetID: ev.AssetID,
			Price:   price,
			Size:    size,
			Side:    side,
			Ts:      ts,
		})

	case "book":
		if ev.AssetID == "" {
			return
		}
		book := domain.BookUpdate{AssetID: ev.AssetID, Ts: ts}
		for _, lvl := range ev.Bids {
			if l, ok := parseLevel(lvl); ok {
				book.Bids = append(book.Bids, l)
			}
		}
		for _, lvl := range ev.Asks {
			if l, ok := parseLevel(lvl); ok {
				book.Asks = append(book.Asks, l)
			}
		}
		out.Books = append(out.Books, book)
		if spread, ok := spreadFromBook(&book); ok {
			out.Spreads = append(out.Spreads, spread)
		}

	case "market_resolved":
		if ev.Market == "" {
			return
		}
		out.Resolved = append(out.Resolved, domain.MarketResolved{
			MarketSourceID: ev.Market,
			Outcome:        ev.Outcome,
			Ts:             ts,
		})

	case "new_market":
		if ev.Market == "" {
			return
		}
		out.NewMarkets = append(out.NewMarkets, domain.NewMarket{
			MarketSourceID: ev.Market,
			AssetIDs:       ev.AssetsIDs,
			Ts:             ts,
		})

	case "":
		// Acknowledgments and other non-event objects have no event_type.

	default:
		out.Unknown = append(out.Unknown, ev.EventType)
	}
}

func parseLevel(lvl wireLevel) (domain.BookLevel, bool) {
	price, err := strconv.ParseFloat(lvl.Price, 64)
	if err != nil {
		return domain.BookLevel{}, false
	}
	size, err := strconv.ParseFloat(lvl.Size, 64)
	if err != nil {
		return domain.BookLevel{}, false
	}
	return domain.BookLevel{Price: price, Size: size}, true
}

func spreadFromQuotes(bidStr, askStr string) (domain.SpreadUpdate, bool) {
	bid, errB := strconv.ParseFloat(bidStr, 64)
	ask, errA := strconv.ParseFloat(askStr, 64)
	if errB != nil || errA != nil || bid <= 0 || ask <= 0 || ask < bid {
		return domain.SpreadUpdate{}, false
	}
	return domain.SpreadUpdate{BestBid: bid, BestAsk: ask, Spread: ask - bid}, true
}

// spreadFromBook derives the top-of-book spread. Levels are not trusted to
// arrive sorted.
func spreadFromBook(book *domain.BookUpdate) (domain.SpreadUpdate, bool) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return domain.SpreadUpdate{}, false
	}
	bestBid := book.Bids[0].Price
	for _, l := range book.Bids[1:] {
		if l.Price > bestBid {
			bestBid = l.Price
		}
	}
	bestAsk := book.Asks[0].Price
	for _, l := range book.Asks[1:] {
		if l.Price < bestAsk {
			bestAsk = l.Price
		}
	}
	if bestAsk < bestBid {
		return domain.SpreadUpdate{}, false
	}
	return domain.SpreadUpdate{
		AssetID: book.AssetID,
		BestBid: bestBid,
		BestAsk: bestAsk,
		Spread:  bestAsk - bestBid,
		Ts:      book.Ts,
	}, true
}

// tsFromMillis decodes an epoch-milliseconds timestamp that may be quoted or
// bare. Anything unparseable falls back to receive time.
func tsFromMillis(raw json.RawMessage, fallback time.Time) time.Time {
	if len(raw) == 0 {
		return fallback
	}
	s := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

// IsControlText reports whether a text payload is an application-level
// keepalive or acknowledgment rather than JSON. These are discarded.
func IsControlText(data []byte) bool {
	s := string(bytes.TrimSpace(data))
	if s == "" {
		return true
	}
	switch {
	case bytes.Contains([]byte(s), []byte("PONG")):
		return true
	case s == "PING", s == "OK", s == "SUBSCRIBED", s == "UNSUBSCRIBED":
		return true
	case s == "INVALID OPERATION":
		return true
	}
	return false
}
