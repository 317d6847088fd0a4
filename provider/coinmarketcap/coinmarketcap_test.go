package coinmarketcap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appconfig "cryptolens/config"
	"cryptolens/logger"
)

const quotesResponseBody = `{
	"data": {
		"BTC": [{
			"cmc_rank": 1,
			"circulating_supply": 19700000,
			"total_supply": 21000000,
			"max_supply": 21000000,
			"quote": {
				"USD": {
					"price": 65010.25,
					"market_cap": 1281000000000,
					"fully_diluted_market_cap": 1365000000000,
					"volume_24h": 31000000000,
					"percent_change_24h": 0.81,
					"last_updated": "2025-06-01T12:00:00.000Z"
				}
			}
		}]
	}
}`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(appconfig.ProviderConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, logger.GetLogger())
}

func TestFetchMarketFields(t *testing.T) {
	var gotKey string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-CMC_PRO_API_KEY")
		w.Write([]byte(quotesResponseBody))
	}))

	payload, err := c.Fetch(context.Background(), "market", map[string]string{"symbol": "btc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header not sent, got %q", gotKey)
	}
	if payload.Fields["price"] != 65010.25 {
		t.Errorf("unexpected price: %v", payload.Fields["price"])
	}
	if payload.Fields["price_change_percentage_24h"] != 0.81 {
		t.Errorf("unexpected 24h change: %v", payload.Fields["price_change_percentage_24h"])
	}
	want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if !payload.AsOf.Equal(want) {
		t.Errorf("expected as_of %s, got %s", want, payload.AsOf)
	}
}

func TestFetchSupplyFields(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(quotesResponseBody))
	}))

	payload, err := c.Fetch(context.Background(), "supply", map[string]string{"symbol": "BTC"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Fields["max_supply"] != 21000000.0 {
		t.Errorf("unexpected max supply: %v", payload.Fields["max_supply"])
	}
}

func TestFetchUnknownSymbol(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {}}`))
	}))

	if _, err := c.Fetch(context.Background(), "market", map[string]string{"symbol": "GHOST"}); err == nil {
		t.Fatal("unknown symbol must return an error")
	}
}

func TestFetchUnsupportedGroup(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(quotesResponseBody))
	}))

	if _, err := c.Fetch(context.Background(), "social", map[string]string{"symbol": "BTC"}); err == nil {
		t.Fatal("unsupported group must be rejected")
	}
}
