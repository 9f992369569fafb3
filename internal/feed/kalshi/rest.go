package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const defaultRESTURL = "https://api.elections.kalshi.com/trade-api/v2"

// Market is a venue market as reported by the public REST API. Prices are
// cents (1-99).
type Market struct {
	Ticker       string `json:"ticker"`
	EventTicker  string `json:"event_ticker"`
	Title        string `json:"title"`
	Subtitle     string `json:"subtitle"`
	Status       string `json:"status"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	LastPrice    int    `json:"last_price"`
	Volume       int64  `json:"volume"`
	Volume24h    int64  `json:"volume_24h"`
	OpenInterest int64  `json:"open_interest"`
	CloseTime    string `json:"close_time"`
	Result       string `json:"result"`
}

// MidPrice derives a probability in [0,1] from the quotes, falling back to
// the last trade and finally 0.5 when the book is empty.
func (m *Market) MidPrice() float64 {
	if m.YesBid > 0 && m.YesAsk > 0 && m.YesAsk < 100 {
		return float64(m.YesBid+m.YesAsk) / 2 / 100
	}
	if m.LastPrice > 0 {
		return float64(m.LastPrice) / 100
	}
	return 0.5
}

// Spread returns the bid/ask distance in dollars; ok is false without a two
// sided book.
func (m *Market) Spread() (float64, bool) {
	if m.YesBid > 0 && m.YesAsk > 0 && m.YesAsk < 100 {
		return float64(m.YesAsk-m.YesBid) / 100, true
	}
	return 0, false
}

// CloseAt parses the close time; nil when absent or unparseable.
func (m *Market) CloseAt() *time.Time {
	if m.CloseTime == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, m.CloseTime)
	if err != nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// URL returns the public market page, derived from the series part of the
// ticker.
func (m *Market) URL() string {
	series, _, _ := strings.Cut(m.Ticker, "-")
	if series == "" {
		return "https://kalshi.com"
	}
	return "https://kalshi.com/markets/" + strings.ToLower(series)
}

// RESTClient reads public market data. No authentication needed.
type RESTClient struct {
	baseURL string
	hc      *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewRESTClient creates a client; an empty baseURL selects production.
func NewRESTClient(baseURL string, logger *log.Logger) *RESTClient {
	if baseURL == "" {
		baseURL = defaultRESTURL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		logger:  logger,
	}
}

type marketsPage struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// FetchOpenMarkets pages through /markets with cursor pagination until
// maxMarkets are collected or the cursor runs out.
func (c *RESTClient) FetchOpenMarkets(ctx context.Context, maxMarkets int) ([]*Market, error) {
	var markets []*Market
	cursor := ""

	for len(markets) < maxMarkets {
		q := url.Values{}
		q.Set("limit", "200")
		q.Set("status", "open")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page marketsPage
		if err := c.getJSON(ctx, "/markets?"+q.Encode(), &page); err != nil {
			if len(markets) > 0 {
				c.logger.Printf("[kalshi-rest] page failed, returning partial: %v", err)
				break
			}
			return nil, err
		}
		if len(page.Markets) == 0 {
			break
		}

		for i := range page.Markets {
			markets = append(markets, &page.Markets[i])
		}
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	if len(markets) > maxMarkets {
		markets = markets[:maxMarkets]
	}
	return markets, nil
}

// FetchMarket reads a single market by ticker.
func (c *RESTClient) FetchMarket(ctx context.Context, ticker string) (*Market, error) {
	var resp struct {
		Market Market `json:"market"`
	}
	if err := c.getJSON(ctx, "/markets/"+url.PathEscape(ticker), &resp); err != nil {
		return nil, err
	}
	if resp.Market.Ticker == "" {
		return nil, fmt.Errorf("market %s: empty response", ticker)
	}
	return &resp.Market, nil
}

func (c *RESTClient) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
