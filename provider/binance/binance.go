// Package binance adapts Binance spot and futures endpoints through the
// go-binance SDK. It serves the market group from the spot 24hr ticker and
// the derivatives groups (funding_rate, open_interest, long_short_ratio)
// from the futures API.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	spot "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	futures "github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	appconfig "cryptolens/config"
	"cryptolens/logger"
	"cryptolens/provider"
)

const Name = "binance"

type Client struct {
	spot    *spot.Client
	futures *futures.Client
	limiter *rate.Limiter
	log     *logger.Log
}

func New(cfg appconfig.ProviderConfig, log *logger.Log) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	spotClient := spot.NewClient("", "")
	spotClient.HTTPClient = httpClient
	fut := futures.NewClient("", "")
	fut.HTTPClient = httpClient

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), burst)
	}

	return &Client{spot: spotClient, futures: fut, limiter: limiter, log: log}
}

func (c *Client) Name() string { return Name }

func (c *Client) Groups() []string {
	return []string{"market", "funding_rate", "open_interest", "long_short_ratio"}
}

func (c *Client) Fetch(ctx context.Context, group string, params map[string]string) (*provider.Payload, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, provider.NewTimeoutError(err)
		}
	}

	pair := tradingPair(params)
	switch group {
	case "market":
		return c.fetchMarket(ctx, pair)
	case "funding_rate":
		return c.fetchFundingRate(ctx, pair)
	case "open_interest":
		return c.fetchOpenInterest(ctx, pair)
	case "long_short_ratio":
		return c.fetchLongShortRatio(ctx, pair)
	}
	return nil, provider.NewMalformedError(fmt.Sprintf("unsupported field-group '%s'", group))
}

func (c *Client) fetchMarket(ctx context.Context, pair string) (*provider.Payload, error) {
	stats, err := c.spot.NewListPriceChangeStatsService().Symbol(pair).Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(stats) == 0 {
		return nil, provider.NewMalformedError(fmt.Sprintf("no ticker for '%s'", pair))
	}
	s := stats[0]

	fields := map[string]interface{}{}
	if err := putFloat(fields, "price", s.LastPrice); err != nil {
		return nil, err
	}
	putFloatQuiet(fields, "high_24h", s.HighPrice)
	putFloatQuiet(fields, "low_24h", s.LowPrice)
	putFloatQuiet(fields, "total_volume_24h", s.QuoteVolume)
	putFloatQuiet(fields, "price_change_24h", s.PriceChange)
	putFloatQuiet(fields, "price_change_percentage_24h", s.PriceChangePercent)

	return &provider.Payload{
		Fields:   fields,
		Endpoint: "/api/v3/ticker/24hr",
		AsOf:     time.UnixMilli(s.CloseTime).UTC(),
	}, nil
}

func (c *Client) fetchFundingRate(ctx context.Context, pair string) (*provider.Payload, error) {
	indexes, err := c.futures.NewPremiumIndexService().Symbol(pair).Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(indexes) == 0 {
		return nil, provider.NewMalformedError(fmt.Sprintf("no premium index for '%s'", pair))
	}
	idx := indexes[0]

	funding, err := strconv.ParseFloat(idx.LastFundingRate, 64)
	if err != nil {
		return nil, provider.NewMalformedError("unparseable funding rate")
	}

	fields := map[string]interface{}{
		"funding_rate": funding,
		// Funding settles every 8 hours; annualize to a percentage.
		"funding_rate_annual": funding * 3 * 365 * 100,
		"next_funding_time":   time.UnixMilli(idx.NextFundingTime).UTC().Format(time.RFC3339),
	}
	putFloatQuiet(fields, "mark_price", idx.MarkPrice)
	putFloatQuiet(fields, "index_price", idx.IndexPrice)

	return &provider.Payload{
		Fields:   fields,
		Endpoint: "/fapi/v1/premiumIndex",
		AsOf:     time.UnixMilli(idx.Time).UTC(),
	}, nil
}

func (c *Client) fetchOpenInterest(ctx context.Context, pair string) (*provider.Payload, error) {
	oi, err := c.futures.NewGetOpenInterestService().Symbol(pair).Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}

	fields := map[string]interface{}{}
	if err := putFloat(fields, "open_interest", oi.OpenInterest); err != nil {
		return nil, err
	}

	return &provider.Payload{
		Fields:   fields,
		Endpoint: "/fapi/v1/openInterest",
		AsOf:     time.UnixMilli(oi.Time).UTC(),
	}, nil
}

func (c *Client) fetchLongShortRatio(ctx context.Context, pair string) (*provider.Payload, error) {
	ratios, err := c.futures.NewLongShortRatioService().Symbol(pair).Period("5m").Limit(1).Do(ctx)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(ratios) == 0 {
		return nil, provider.NewMalformedError(fmt.Sprintf("no long/short data for '%s'", pair))
	}
	r := ratios[0]

	fields := map[string]interface{}{"ratio_type": "accounts"}
	if err := putFloat(fields, "long_short_ratio", r.LongShortRatio); err != nil {
		return nil, err
	}
	putFloatQuiet(fields, "long_ratio", r.LongAccount)
	putFloatQuiet(fields, "short_ratio", r.ShortAccount)

	return &provider.Payload{
		Fields:   fields,
		Endpoint: "/futures/data/globalLongShortAccountRatio",
		AsOf:     time.UnixMilli(r.Timestamp).UTC(),
	}, nil
}

// tradingPair builds the Binance pair symbol from the request parameters,
// quoting in USDT unless the caller asks otherwise.
func tradingPair(params map[string]string) string {
	symbol := strings.ToUpper(params["symbol"])
	quote := strings.ToUpper(params["quote"])
	if quote == "" || quote == "USD" {
		quote = "USDT"
	}
	return symbol + quote
}

func putFloat(fields map[string]interface{}, key, raw string) error {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return provider.NewMalformedError(fmt.Sprintf("unparseable %s", key))
	}
	fields[key] = v
	return nil
}

func putFloatQuiet(fields map[string]interface{}, key, raw string) {
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		fields[key] = v
	}
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return provider.NewTimeoutError(err)
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == -1003 {
			return provider.NewRateLimitedError(429)
		}
		return provider.NewHTTPError(400, apiErr.Message)
	}
	return &provider.Error{Kind: provider.ErrorKindHTTP, Retryable: true, Message: "transport error", Cause: err}
}
