// Package coinmarketcap adapts the CoinMarketCap Pro API. It serves the
// market and supply field-groups and is normally used as a verification or
// fallback source behind CoinGecko.
package coinmarketcap

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	appconfig "cryptolens/config"
	"cryptolens/logger"
	"cryptolens/provider"
)

const Name = "coinmarketcap"

const defaultBaseURL = "https://pro-api.coinmarketcap.com/v1"

type Client struct {
	baseURL string
	apiKey  string
	http    *provider.Client
	log     *logger.Log
}

func New(cfg appconfig.ProviderConfig, log *logger.Log) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    provider.NewClient(cfg.Timeout, cfg.RequestsPerMinute, cfg.Burst),
		log:     log,
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) Groups() []string {
	return []string{"market", "supply"}
}

type quotesResponse struct {
	Data map[string][]struct {
		CMCRank           *float64 `json:"cmc_rank"`
		CirculatingSupply *float64 `json:"circulating_supply"`
		TotalSupply       *float64 `json:"total_supply"`
		MaxSupply         *float64 `json:"max_supply"`
		Quote             map[string]struct {
			Price                 float64  `json:"price"`
			MarketCap             *float64 `json:"market_cap"`
			FullyDilutedMarketCap *float64 `json:"fully_diluted_market_cap"`
			Volume24h             *float64 `json:"volume_24h"`
			PercentChange24h      *float64 `json:"percent_change_24h"`
			LastUpdated           string   `json:"last_updated"`
		} `json:"quote"`
	} `json:"data"`
}

func (c *Client) Fetch(ctx context.Context, group string, params map[string]string) (*provider.Payload, error) {
	symbol := strings.ToUpper(params["symbol"])
	vs := strings.ToUpper(params["vs_currency"])
	if vs == "" {
		vs = "USD"
	}

	endpoint := "/cryptocurrency/quotes/latest"
	query := url.Values{"symbol": {symbol}, "convert": {vs}}

	var resp quotesResponse
	headers := map[string]string{"X-CMC_PRO_API_KEY": c.apiKey}
	if err := c.http.GetJSON(ctx, c.baseURL+endpoint+"?"+query.Encode(), headers, &resp); err != nil {
		return nil, err
	}

	entries, ok := resp.Data[symbol]
	if !ok || len(entries) == 0 {
		return nil, provider.NewMalformedError(fmt.Sprintf("symbol '%s' not found", symbol))
	}
	entry := entries[0]
	quote, ok := entry.Quote[vs]
	if !ok {
		return nil, provider.NewMalformedError(fmt.Sprintf("no %s quote for '%s'", vs, symbol))
	}

	var fields map[string]interface{}
	switch group {
	case "market":
		fields = map[string]interface{}{"price": quote.Price}
		if entry.CMCRank != nil {
			fields["market_cap_rank"] = *entry.CMCRank
		}
		if quote.MarketCap != nil {
			fields["market_cap"] = *quote.MarketCap
		}
		if quote.FullyDilutedMarketCap != nil {
			fields["fully_diluted_valuation"] = *quote.FullyDilutedMarketCap
		}
		if quote.Volume24h != nil {
			fields["total_volume_24h"] = *quote.Volume24h
		}
		if quote.PercentChange24h != nil {
			fields["price_change_percentage_24h"] = *quote.PercentChange24h
		}
	case "supply":
		fields = map[string]interface{}{}
		if entry.CirculatingSupply != nil {
			fields["circulating_supply"] = *entry.CirculatingSupply
		}
		if entry.TotalSupply != nil {
			fields["total_supply"] = *entry.TotalSupply
		}
		if entry.MaxSupply != nil {
			fields["max_supply"] = *entry.MaxSupply
			if entry.CirculatingSupply != nil && *entry.MaxSupply > 0 {
				fields["circulating_percent"] = *entry.CirculatingSupply / *entry.MaxSupply * 100
			}
		}
	default:
		return nil, provider.NewMalformedError(fmt.Sprintf("unsupported field-group '%s'", group))
	}

	asOf := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, quote.LastUpdated); err == nil {
		asOf = t.UTC()
	}

	return &provider.Payload{Fields: fields, Endpoint: endpoint, AsOf: asOf}, nil
}
