package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "cryptolens/config"
	"cryptolens/logger"
	"cryptolens/provider"
)

const coinResponse = `{
	"id": "bitcoin",
	"symbol": "btc",
	"name": "Bitcoin",
	"description": {"en": "The first cryptocurrency."},
	"categories": ["Layer 1"],
	"links": {"homepage": ["https://bitcoin.org"]},
	"market_data": {
		"current_price": {"usd": 65000.5},
		"market_cap": {"usd": 1280000000000},
		"market_cap_rank": 1,
		"total_volume": {"usd": 30000000000},
		"high_24h": {"usd": 66000},
		"low_24h": {"usd": 64000},
		"price_change_24h": 500.5,
		"price_change_percentage_24h": 0.78,
		"ath": {"usd": 73750},
		"atl": {"usd": 67.81},
		"circulating_supply": 19700000,
		"total_supply": 21000000,
		"max_supply": 21000000
	},
	"community_data": {
		"twitter_followers": 6500000,
		"reddit_subscribers": 4800000
	},
	"last_updated": "2025-06-01T12:00:00Z"
}`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(appconfig.ProviderConfig{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, logger.GetLogger())
}

func TestFetchMarketFields(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bitcoin" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(coinResponse))
	}))

	payload, err := c.Fetch(context.Background(), "market", map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Fields["price"] != 65000.5 {
		t.Errorf("unexpected price: %v", payload.Fields["price"])
	}
	if payload.Fields["market_cap_rank"] != 1.0 {
		t.Errorf("unexpected rank: %v", payload.Fields["market_cap_rank"])
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !payload.AsOf.Equal(want) {
		t.Errorf("expected as_of %s, got %s", want, payload.AsOf)
	}
}

func TestFetchSupplyFields(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(coinResponse))
	}))

	payload, err := c.Fetch(context.Background(), "supply", map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Fields["circulating_supply"] != 19700000.0 {
		t.Errorf("unexpected circulating supply: %v", payload.Fields["circulating_supply"])
	}
	pct, ok := payload.Fields["circulating_percent"].(float64)
	if !ok || pct < 93 || pct > 94 {
		t.Errorf("unexpected circulating percent: %v", payload.Fields["circulating_percent"])
	}
}

func TestFetchBasicFields(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(coinResponse))
	}))

	payload, err := c.Fetch(context.Background(), "basic", map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Fields["name"] != "Bitcoin" || payload.Fields["symbol"] != "BTC" {
		t.Errorf("unexpected identity fields: %v", payload.Fields)
	}
	if payload.Fields["primary_category"] != "Layer 1" {
		t.Errorf("unexpected category: %v", payload.Fields["primary_category"])
	}
}

func TestFetchSymbolLookupViaSearch(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			w.Write([]byte(`{"coins": [{"id": "pepecoin", "symbol": "PEPE"}]}`))
		case "/coins/pepecoin":
			w.Write([]byte(coinResponse))
		default:
			http.NotFound(w, r)
		}
	}))

	if _, err := c.Fetch(context.Background(), "market", map[string]string{"symbol": "PEPE"}); err != nil {
		t.Fatalf("search-based lookup failed: %v", err)
	}

	// The id is cached so a second fetch must not search again.
	if id, ok := c.idCache["PEPE"]; !ok || id != "pepecoin" {
		t.Fatalf("expected cached id, got %v", c.idCache)
	}
}

func TestFetchUpstreamErrorClassified(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.Fetch(context.Background(), "market", map[string]string{"symbol": "BTC"})
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %T", err)
	}
	if perr.Kind != provider.ErrorKindRateLimited {
		t.Fatalf("expected rate_limited, got %s", perr.Kind)
	}
}
