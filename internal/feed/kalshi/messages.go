package kalshi

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is one decoded trade-API WebSocket message. Concrete types are
// Trade, BookDelta, Subscribed and ErrorMsg.
type Event interface {
	kalshiEvent()
}

// Trade is an executed trade. Prices are venue cents (1-99).
type Trade struct {
	Ticker     string
	TradeID    string
	PriceCents int
	Count      int
	TakerSide  string // "yes" or "no"
	Ts         time.Time
}

func (Trade) kalshiEvent() {}

// PriceDecimal converts the cents price to a probability in [0,1].
func (t Trade) PriceDecimal() float64 {
	return float64(t.PriceCents) / 100
}

// Notional is the trade value in dollars: contracts times price.
func (t Trade) Notional() float64 {
	return float64(t.Count) * float64(t.PriceCents) / 100
}

// Level is one order book level, price in cents.
type Level struct {
	PriceCents int `json:"price"`
	Size       int `json:"size"`
}

// BookDelta is an order book update for the YES side of a market.
type BookDelta struct {
	Ticker  string
	Seq     int64
	YesBids []Level
	YesAsks []Level
	Ts      time.Time
}

func (BookDelta) kalshiEvent() {}

// BestQuotes returns the top-of-book bid/ask in dollars. Levels are not
// trusted to arrive sorted. ok is false when either side is empty.
func (b BookDelta) BestQuotes() (bid, ask float64, ok bool) {
	if len(b.YesBids) == 0 || len(b.YesAsks) == 0 {
		return 0, 0, false
	}
	bidCents := b.YesBids[0].PriceCents
	for _, l := range b.YesBids[1:] {
		if l.PriceCents > bidCents {
			bidCents = l.PriceCents
		}
	}
	askCents := b.YesAsks[0].PriceCents
	for _, l := range b.YesAsks[1:] {
		if l.PriceCents < askCents {
			askCents = l.PriceCents
		}
	}
	if askCents < bidCents {
		return 0, 0, false
	}
	return float64(bidCents) / 100, float64(askCents) / 100, true
}

// MidPrice returns the mid of the best quotes. ok is false without a two
// sided book.
func (b BookDelta) MidPrice() (float64, bool) {
	bid, ask, ok := b.BestQuotes()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Subscribed confirms a channel subscription.
type Subscribed struct {
	Channel string
	SID     int64
}

func (Subscribed) kalshiEvent() {}

// ErrorMsg is a venue-reported error.
type ErrorMsg struct {
	Code    int
	Message string
}

func (ErrorMsg) kalshiEvent() {}

func (e ErrorMsg) Error() string {
	return fmt.Sprintf("kalshi ws error %d: %s", e.Code, e.Message)
}

type wireMessage struct {
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Msg  json.RawMessage `json:"msg"`
}

type wireTrade struct {
	MarketTicker string `json:"market_ticker"`
	TradeID      string `json:"trade_id"`
	YesPrice     int    `json:"yes_price"`
	Count        int    `json:"count"`
	TakerSide    string `json:"taker_side"`
	CreatedTime  string `json:"created_time"`
}

type wireBook struct {
	MarketTicker string `json:"market_ticker"`
	Seq          int64  `json:"seq"`
	Yes          struct {
		Bids []Level `json:"bids"`
		Asks []Level `json:"asks"`
	} `json:"yes"`
}

type wireSubscribed struct {
	Channel string `json:"channel"`
	SID     int64  `json:"sid"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ParseMessage decodes one WebSocket payload. Unknown message types return
// (nil, ""), types we know but cannot decode return the type name so callers
// can log it.
func ParseMessage(data []byte, fallbackTs time.Time) (Event, string) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, "invalid-json"
	}

	switch wm.Type {
	case "trade":
		var wt wireTrade
		if err := json.Unmarshal(wm.Msg, &wt); err != nil || wt.MarketTicker == "" {
			return nil, wm.Type
		}
		ts := fallbackTs
		if wt.CreatedTime != "" {
			if t, err := time.Parse(time.RFC3339, wt.CreatedTime); err == nil {
				ts = t.UTC()
			}
		}
		return Trade{
			Ticker:     wt.MarketTicker,
			TradeID:    wt.TradeID,
			PriceCents: wt.YesPrice,
			Count:      wt.Count,
			TakerSide:  wt.TakerSide,
			Ts:         ts,
		}, ""

	case "orderbook_snapshot", "orderbook_delta":
		var wb wireBook
		if err := json.Unmarshal(wm.Msg, &wb); err != nil || wb.MarketTicker == "" {
			return nil, wm.Type
		}
		return BookDelta{
			Ticker:  wb.MarketTicker,
			Seq:     wb.Seq,
			YesBids: wb.Yes.Bids,
			YesAsks: wb.Yes.Asks,
			Ts:      fallbackTs,
		}, ""

	case "subscribed":
		var ws wireSubscribed
		if err := json.Unmarshal(wm.Msg, &ws); err != nil {
			return nil, wm.Type
		}
		return Subscribed{Channel: ws.Channel, SID: ws.SID}, ""

	case "error":
		var we wireError
		if err := json.Unmarshal(wm.Msg, &we); err != nil {
			return nil, wm.Type
		}
		return ErrorMsg{Code: we.Code, Message: we.Message}, ""

	case "":
		return nil, ""

	default:
		return nil, wm.Type
	}
}
