package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchActiveMarkets(t *testing.T) {
	var offsets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		offsets = append(offsets, r.URL.Query().Get("offset"))

		if r.URL.Query().Get("offset") != "0" {
			w.Write([]byte(`[]`))
			return
		}
		// Gamma serializes array fields as JSON-encoded strings.
		w.Write([]byte(`[
			{
				"condition_id": "0xabc",
				"question": "Will it rain tomorrow?",
				"slug": "will-it-rain",
				"outcomes": "[\"Yes\", \"No\"]",
				"outcomePrices": "[\"0.62\", \"0.38\"]",
				"clobTokenIds": "[\"111\", \"222\"]",
				"tags": [{"label": "Weather"}],
				"volume24hr": "1500.5",
				"end_date_iso": "2026-06-01T00:00:00Z"
			},
			{"slug": "no-condition-id"},
			{
				"condition_id": "0xdef",
				"question": "Tokenless market",
				"outcomes": "[]"
			}
		]`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, srv.URL, nil)
	markets, err := client.FetchActiveMarkets(context.Background(), 500)
	require.NoError(t, err)

	// Rows without condition id or tokens are skipped, not fatal.
	require.Len(t, markets, 1)
	m := markets[0]
	assert.Equal(t, "0xabc", m.ConditionID)
	assert.Equal(t, "Will it rain tomorrow?", m.Title)
	assert.Equal(t, "Weather", m.Category)
	assert.Equal(t, 1500.5, m.Volume24h)
	require.NotNil(t, m.EndDate)

	require.Len(t, m.Tokens, 2)
	assert.Equal(t, MarketToken{TokenID: "111", Outcome: "YES", Price: 0.62}, m.Tokens[0])
	assert.Equal(t, MarketToken{TokenID: "222", Outcome: "NO", Price: 0.38}, m.Tokens[1])

	assert.Equal(t, "https://polymarket.com/event/will-it-rain", m.URL())

	// A short page ends pagination.
	assert.Equal(t, []string{"0"}, offsets)
}

func TestFetchPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/prices", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var payload []map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload, 2)
		assert.Equal(t, "BUY", payload[0]["side"])

		w.Write([]byte(`{"111": {"BUY": "0.55"}, "222": {"BUY": "bogus"}}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, srv.URL, nil)
	prices, err := client.FetchPrices(context.Background(), []string{"111", "222"})
	require.NoError(t, err)

	// Unparseable quotes are dropped.
	require.Len(t, prices, 1)
	assert.Equal(t, 0.55, prices["111"].Price)
}

func TestFetchActiveMarkets_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, srv.URL, nil)
	_, err := client.FetchActiveMarkets(context.Background(), 100)
	require.Error(t, err)
}
