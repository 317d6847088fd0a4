// Package coingecko adapts the CoinGecko REST API. It serves the basic,
// market, supply and social field-groups of token queries and is typically
// the primary source in those chains.
package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	appconfig "cryptolens/config"
	"cryptolens/logger"
	"cryptolens/provider"
)

const Name = "coingecko"

const defaultBaseURL = "https://api.coingecko.com/api/v3"

// Well-known symbols resolve without a search round-trip.
var knownIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
	"AVAX": "avalanche-2",
	"LINK": "chainlink",
}

type Client struct {
	baseURL string
	apiKey  string
	http    *provider.Client
	log     *logger.Log

	mu      sync.Mutex
	idCache map[string]string
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
		idCache: make(map[string]string),
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) Groups() []string {
	return []string{"basic", "market", "supply", "social"}
}

// coinDocument is the subset of /coins/{id} the adapter consumes.
type coinDocument struct {
	ID          string            `json:"id"`
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name"`
	Description map[string]string `json:"description"`
	Categories  []string          `json:"categories"`
	Platform    string            `json:"asset_platform_id"`
	Links       struct {
		Homepage       []string `json:"homepage"`
		BlockchainSite []string `json:"blockchain_site"`
	} `json:"links"`
	MarketData struct {
		CurrentPrice             map[string]float64 `json:"current_price"`
		MarketCap                map[string]float64 `json:"market_cap"`
		MarketCapRank            *float64           `json:"market_cap_rank"`
		FullyDilutedValuation    map[string]float64 `json:"fully_diluted_valuation"`
		TotalVolume              map[string]float64 `json:"total_volume"`
		High24h                  map[string]float64 `json:"high_24h"`
		Low24h                   map[string]float64 `json:"low_24h"`
		PriceChange24h           *float64           `json:"price_change_24h"`
		PriceChangePercentage24h *float64           `json:"price_change_percentage_24h"`
		ATH                      map[string]float64 `json:"ath"`
		ATL                      map[string]float64 `json:"atl"`
		CirculatingSupply        *float64           `json:"circulating_supply"`
		TotalSupply              *float64           `json:"total_supply"`
		MaxSupply                *float64           `json:"max_supply"`
	} `json:"market_data"`
	CommunityData struct {
		TwitterFollowers     *float64 `json:"twitter_followers"`
		RedditSubscribers    *float64 `json:"reddit_subscribers"`
		TelegramChannelUsers *float64 `json:"telegram_channel_user_count"`
	} `json:"community_data"`
	LastUpdated string `json:"last_updated"`
}

func (c *Client) Fetch(ctx context.Context, group string, params map[string]string) (*provider.Payload, error) {
	symbol := strings.ToUpper(params["symbol"])
	vs := params["vs_currency"]
	if vs == "" {
		vs = "usd"
	}

	coinID, err := c.coinID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	endpoint := "/coins/" + coinID
	query := url.Values{
		"localization":   {"false"},
		"tickers":        {"false"},
		"market_data":    {"true"},
		"community_data": {"true"},
		"developer_data": {"false"},
		"sparkline":      {"false"},
	}

	var doc coinDocument
	if err := c.http.GetJSON(ctx, c.baseURL+endpoint+"?"+query.Encode(), c.headers(), &doc); err != nil {
		return nil, err
	}

	var fields map[string]interface{}
	switch group {
	case "basic":
		fields = c.basicFields(&doc)
	case "market":
		fields = c.marketFields(&doc, vs)
	case "supply":
		fields = c.supplyFields(&doc)
	case "social":
		fields = c.socialFields(&doc)
	default:
		return nil, provider.NewMalformedError(fmt.Sprintf("unsupported field-group '%s'", group))
	}

	asOf := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, doc.LastUpdated); err == nil {
		asOf = t.UTC()
	}

	return &provider.Payload{Fields: fields, Endpoint: endpoint, AsOf: asOf}, nil
}

func (c *Client) basicFields(doc *coinDocument) map[string]interface{} {
	description := doc.Description["en"]
	if len(description) > 500 {
		description = description[:500]
	}
	var homepage interface{}
	if len(doc.Links.Homepage) > 0 && doc.Links.Homepage[0] != "" {
		homepage = doc.Links.Homepage[0]
	}
	var category interface{}
	if len(doc.Categories) > 0 {
		category = doc.Categories[0]
	}
	return map[string]interface{}{
		"id":               doc.ID,
		"symbol":           strings.ToUpper(doc.Symbol),
		"name":             doc.Name,
		"description":      description,
		"homepage":         homepage,
		"chain":            doc.Platform,
		"primary_category": category,
	}
}

func (c *Client) marketFields(doc *coinDocument, vs string) map[string]interface{} {
	md := &doc.MarketData
	fields := map[string]interface{}{
		"price":            md.CurrentPrice[vs],
		"market_cap":       md.MarketCap[vs],
		"total_volume_24h": md.TotalVolume[vs],
		"high_24h":         md.High24h[vs],
		"low_24h":          md.Low24h[vs],
		"ath":              md.ATH[vs],
		"atl":              md.ATL[vs],
	}
	if md.MarketCapRank != nil {
		fields["market_cap_rank"] = *md.MarketCapRank
	}
	if v, ok := md.FullyDilutedValuation[vs]; ok {
		fields["fully_diluted_valuation"] = v
	}
	if md.PriceChange24h != nil {
		fields["price_change_24h"] = *md.PriceChange24h
	}
	if md.PriceChangePercentage24h != nil {
		fields["price_change_percentage_24h"] = *md.PriceChangePercentage24h
	}
	return fields
}

func (c *Client) supplyFields(doc *coinDocument) map[string]interface{} {
	md := &doc.MarketData
	fields := map[string]interface{}{}
	if md.CirculatingSupply != nil {
		fields["circulating_supply"] = *md.CirculatingSupply
	}
	if md.TotalSupply != nil {
		fields["total_supply"] = *md.TotalSupply
	}
	if md.MaxSupply != nil {
		fields["max_supply"] = *md.MaxSupply
		if md.CirculatingSupply != nil && *md.MaxSupply > 0 {
			fields["circulating_percent"] = *md.CirculatingSupply / *md.MaxSupply * 100
		}
	}
	return fields
}

func (c *Client) socialFields(doc *coinDocument) map[string]interface{} {
	cd := &doc.CommunityData
	fields := map[string]interface{}{}
	if cd.TwitterFollowers != nil {
		fields["twitter_followers"] = *cd.TwitterFollowers
	}
	if cd.RedditSubscribers != nil {
		fields["reddit_subscribers"] = *cd.RedditSubscribers
	}
	if cd.TelegramChannelUsers != nil {
		fields["telegram_members"] = *cd.TelegramChannelUsers
	}
	return fields
}

// coinID maps a ticker symbol to the CoinGecko coin id, caching the result.
func (c *Client) coinID(ctx context.Context, symbol string) (string, error) {
	if id, ok := knownIDs[symbol]; ok {
		return id, nil
	}

	c.mu.Lock()
	id, ok := c.idCache[symbol]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var result struct {
		Coins []struct {
			ID     string `json:"id"`
			Symbol string `json:"symbol"`
		} `json:"coins"`
	}
	searchURL := c.baseURL + "/search?query=" + url.QueryEscape(symbol)
	if err := c.http.GetJSON(ctx, searchURL, c.headers(), &result); err != nil {
		return "", err
	}

	for _, coin := range result.Coins {
		if strings.EqualFold(coin.Symbol, symbol) {
			c.mu.Lock()
			c.idCache[symbol] = coin.ID
			c.mu.Unlock()
			return coin.ID, nil
		}
	}
	return "", provider.NewMalformedError(fmt.Sprintf("symbol '%s' not found", symbol))
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-cg-demo-api-key": c.apiKey}
}
