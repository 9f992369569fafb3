package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultGammaURL = "https://gamma-api.polymarket.com"
	defaultClobURL  = "https://clob.polymarket.com"

	marketsPageSize = 100
)

// Market is a normalized Gamma API market. ConditionID is the venue market
// identifier used everywhere downstream.
type Market struct {
	ConditionID string
	Title       string
	Slug        string
	Category    string
	EndDate     *time.Time
	Active      bool
	Closed      bool
	Volume24h   float64
	Tokens      []MarketToken
}

// MarketToken is one outcome leg with the CLOB asset id used for streaming.
type MarketToken struct {
	TokenID string
	Outcome string // normalized to YES/NO
	Price   float64
}

// URL returns the public market page.
func (m *Market) URL() string {
	return "https://polymarket.com/event/" + m.Slug
}

// RESTClient talks to the Gamma API for market metadata and the CLOB API for
// bulk prices. Requests are rate limited to stay under venue limits.
type RESTClient struct {
	gammaURL string
	clobURL  string
	hc       *http.Client
	limiter  *rate.Limiter
	logger   *log.Logger
}

// NewRESTClient creates a client against the given base URLs; empty strings
// select the production endpoints.
func NewRESTClient(gammaURL, clobURL string, logger *log.Logger) *RESTClient {
	if gammaURL == "" {
		gammaURL = defaultGammaURL
	}
	if clobURL == "" {
		clobURL = defaultClobURL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &RESTClient{
		gammaURL: strings.TrimRight(gammaURL, "/"),
		clobURL:  strings.TrimRight(clobURL, "/"),
		hc:       &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
		logger:   logger,
	}
}

// FetchActiveMarkets pages through /markets until maxMarkets are collected or
// the venue runs out. A market that fails to parse is skipped, not fatal to
// the page.
func (c *RESTClient) FetchActiveMarkets(ctx context.Context, maxMarkets int) ([]*Market, error) {
	var markets []*Market
	offset := 0

	for len(markets) < maxMarkets {
		url := fmt.Sprintf("%s/markets?limit=%d&offset=%d&active=true&closed=false",
			c.gammaURL, marketsPageSize, offset)

		var page []json.RawMessage
		if err := c.getJSON(ctx, url, &page); err != nil {
			if len(markets) > 0 {
				c.logger.Printf("[polymarket-rest] page at offset %d failed, returning partial: %v", offset, err)
				break
			}
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for _, raw := range page {
			m, err := parseGammaMarket(raw)
			if err != nil {
				c.logger.Printf("[polymarket-rest] skipping market: %v", err)
				continue
			}
			if m != nil {
				markets = append(markets, m)
			}
		}

		if len(page) < marketsPageSize {
			break
		}
		offset += marketsPageSize
	}

	if len(markets) > maxMarkets {
		markets = markets[:maxMarkets]
	}
	return markets, nil
}

// TokenPrice is one asset's quoted price from the CLOB prices endpoint.
type TokenPrice struct {
	TokenID string
	Price   float64
}

// FetchPrices posts token ids to the CLOB bulk price endpoint in batches of
// 50. Partial results are returned on mid-loop failure.
func (c *RESTClient) FetchPrices(ctx context.Context, tokenIDs []string) (map[string]TokenPrice, error) {
	prices := make(map[string]TokenPrice, len(tokenIDs))

	const batchSize = 50
	for i := 0; i < len(tokenIDs); i += batchSize {
		end := i + batchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		batch := tokenIDs[i:end]

		payload := make([]map[string]string, 0, len(batch))
		for _, id := range batch {
			payload = append(payload, map[string]string{"token_id": id, "side": "BUY"})
		}

		// Response shape: {"<token_id>": {"BUY": "0.55"}, ...}
		var resp map[string]map[string]string
		if err := c.postJSON(ctx, c.clobURL+"/prices", payload, &resp); err != nil {
			if len(prices) > 0 {
				c.logger.Printf("[polymarket-rest] price batch failed, returning partial: %v", err)
				return prices, nil
			}
			return nil, err
		}

		for tokenID, sides := range resp {
			p, err := strconv.ParseFloat(sides["BUY"], 64)
			if err != nil {
				continue
			}
			prices[tokenID] = TokenPrice{TokenID: tokenID, Price: p}
		}
	}

	return prices, nil
}

func (c *RESTClient) getJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *RESTClient) postJSON(ctx context.Context, url string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// gammaMarket covers both snake_case and camelCase field spellings the Gamma
// API mixes. Array-valued fields frequently arrive as JSON-encoded strings.
type gammaMarket struct {
	ConditionID   string          `json:"condition_id"`
	ConditionIDCC string          `json:"conditionId"`
	Question      string          `json:"question"`
	Title         string          `json:"title"`
	Slug          string          `json:"slug"`
	Category      string          `json:"category"`
	EndDateISO    string          `json:"end_date_iso"`
	EndDate       string          `json:"endDate"`
	Active        *bool           `json:"active"`
	Closed        bool            `json:"closed"`
	Volume24h     json.RawMessage `json:"volume24hr"`
	Outcomes      json.RawMessage `json:"outcomes"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	ClobTokenIDs  json.RawMessage `json:"clobTokenIds"`
	Tags          json.RawMessage `json:"tags"`
}

func parseGammaMarket(raw json.RawMessage) (*Market, error) {
	var gm gammaMarket
	if err := json.Unmarshal(raw, &gm); err != nil {
		return nil, fmt.Errorf("decode market: %w", err)
	}

	conditionID := gm.ConditionID
	if conditionID == "" {
		conditionID = gm.ConditionIDCC
	}
	if conditionID == "" {
		// Ancillary rows (e.g. bare events) have no condition id; not an error.
		return nil, nil
	}

	outcomes := decodeStringArray(gm.Outcomes)
	priceStrs := decodeStringArray(gm.OutcomePrices)
	tokenIDs := decodeStringArray(gm.ClobTokenIDs)

	var tokens []MarketToken
	for i, outcome := range outcomes {
		if i >= len(tokenIDs) || tokenIDs[i] == "" {
			continue
		}
		price := 0.5
		if i < len(priceStrs) {
			if p, err := strconv.ParseFloat(priceStrs[i], 64); err == nil {
				price = p
			}
		}
		normalized := "NO"
		switch strings.ToLower(outcome) {
		case "yes", "true", "1":
			normalized = "YES"
		}
		tokens = append(tokens, MarketToken{TokenID: tokenIDs[i], Outcome: normalized, Price: price})
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	title := gm.Question
	if title == "" {
		title = gm.Title
	}
	slug := gm.Slug
	if slug == "" {
		slug = conditionID
	}

	m := &Market{
		ConditionID: conditionID,
		Title:       title,
		Slug:        slug,
		Category:    firstTagLabel(gm.Tags, gm.Category),
		Active:      gm.Active == nil || *gm.Active,
		Closed:      gm.Closed,
		Volume24h:   decodeLooseFloat(gm.Volume24h),
		Tokens:      tokens,
	}

	if endRaw := firstNonEmpty(gm.EndDateISO, gm.EndDate); endRaw != "" {
		if t, err := time.Parse(time.RFC3339, endRaw); err == nil {
			utc := t.UTC()
			m.EndDate = &utc
		}
	}

	return m, nil
}

// decodeStringArray accepts a JSON array or a string containing a JSON array,
// which is how the Gamma API serializes outcomes and token ids.
func decodeStringArray(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil
	}
	return arr
}

func decodeLooseFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	f, _ = strconv.ParseFloat(s, 64)
	return f
}

func firstTagLabel(tags json.RawMessage, fallback string) string {
	var objs []struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(tags, &objs); err == nil && len(objs) > 0 && objs[0].Label != "" {
		return objs[0].Label
	}
	var strs []string
	if err := json.Unmarshal(tags, &strs); err == nil && len(strs) > 0 {
		return strs[0]
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
