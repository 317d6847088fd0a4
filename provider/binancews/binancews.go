// Package binancews keeps a live view of Binance spot tickers over
// websocket streams. Because the data is already in memory, the adapter can
// answer market queries without an outbound request, which makes it a cheap
// primary for symbols it subscribes to.
package binancews

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "cryptolens/config"
	"cryptolens/logger"
	"cryptolens/provider"
)

const Name = "binance_ws"

const defaultStreamURL = "wss://stream.binance.com:9443/ws"

// maxSnapshotAge bounds how old a buffered ticker may be before the adapter
// reports itself unable to serve, forcing the chain to fall back.
const maxSnapshotAge = 2 * time.Minute

type snapshot struct {
	fields  map[string]interface{}
	asOf    time.Time
	updated time.Time
}

// Feed subscribes to the 24hr ticker stream for the configured symbols and
// serves the market field-group from the latest event per symbol.
type Feed struct {
	streamURL      string
	symbols        []string
	reconnectDelay time.Duration
	log            *logger.Log

	mu      sync.RWMutex
	tickers map[string]snapshot
	running bool

	wg sync.WaitGroup
}

func New(cfg appconfig.ProviderConfig, log *logger.Log) *Feed {
	streamURL := cfg.BaseURL
	if streamURL == "" {
		streamURL = defaultStreamURL
	}
	return &Feed{
		streamURL:      strings.TrimRight(streamURL, "/"),
		symbols:        cfg.Symbols,
		reconnectDelay: 5 * time.Second,
		log:            log,
		tickers:        make(map[string]snapshot),
	}
}

func (f *Feed) Name() string { return Name }

func (f *Feed) Groups() []string { return []string{"market"} }

// Start launches one stream worker per configured symbol. Workers reconnect
// until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return fmt.Errorf("binance websocket feed already running")
	}
	if len(f.symbols) == 0 {
		f.mu.Unlock()
		return fmt.Errorf("no symbols configured for binance websocket feed")
	}
	f.running = true
	f.mu.Unlock()

	for _, symbol := range f.symbols {
		pair := strings.ToUpper(symbol) + "USDT"
		f.wg.Add(1)
		go f.streamSymbol(ctx, pair)
	}

	f.log.WithComponent("binance_ws").WithFields(logger.Fields{
		"symbols": f.symbols,
	}).Info("binance websocket feed started")
	return nil
}

// Stop blocks until all stream workers have exited. Callers cancel the
// context passed to Start first.
func (f *Feed) Stop() {
	f.wg.Wait()
	f.log.WithComponent("binance_ws").Info("binance websocket feed stopped")
}

// tickerEvent is the 24hr rolling window ticker stream payload.
type tickerEvent struct {
	Event              string `json:"e"`
	EventTime          int64  `json:"E"`
	Symbol             string `json:"s"`
	LastPrice          string `json:"c"`
	HighPrice          string `json:"h"`
	LowPrice           string `json:"l"`
	PriceChange        string `json:"p"`
	PriceChangePercent string `json:"P"`
	QuoteVolume        string `json:"q"`
}

func (f *Feed) streamSymbol(ctx context.Context, pair string) {
	defer f.wg.Done()

	endpoint := fmt.Sprintf("%s/%s@ticker", f.streamURL, strings.ToLower(pair))
	log := f.log.WithComponent("binance_ws").WithFields(logger.Fields{
		"symbol":   pair,
		"endpoint": endpoint,
	})

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect to binance ticker stream")
			select {
			case <-time.After(f.reconnectDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		closeOnDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-closeOnDone:
			}
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				close(closeOnDone)
				if ctx.Err() == nil {
					log.WithError(err).Warn("binance ticker stream error, reconnecting")
				}
				break
			}
			f.handleMessage(raw)
		}

		select {
		case <-time.After(f.reconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (f *Feed) handleMessage(raw []byte) {
	var evt tickerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		f.log.WithComponent("binance_ws").WithError(err).Debug("failed to decode ticker payload")
		return
	}
	if evt.Symbol == "" {
		return
	}

	price, err := strconv.ParseFloat(evt.LastPrice, 64)
	if err != nil {
		return
	}

	fields := map[string]interface{}{"price": price}
	if v, err := strconv.ParseFloat(evt.HighPrice, 64); err == nil {
		fields["high_24h"] = v
	}
	if v, err := strconv.ParseFloat(evt.LowPrice, 64); err == nil {
		fields["low_24h"] = v
	}
	if v, err := strconv.ParseFloat(evt.QuoteVolume, 64); err == nil {
		fields["total_volume_24h"] = v
	}
	if v, err := strconv.ParseFloat(evt.PriceChange, 64); err == nil {
		fields["price_change_24h"] = v
	}
	if v, err := strconv.ParseFloat(evt.PriceChangePercent, 64); err == nil {
		fields["price_change_percentage_24h"] = v
	}

	asOf := time.UnixMilli(evt.EventTime).UTC()
	if evt.EventTime == 0 {
		asOf = time.Now().UTC()
	}

	f.mu.Lock()
	f.tickers[strings.ToUpper(evt.Symbol)] = snapshot{
		fields:  fields,
		asOf:    asOf,
		updated: time.Now().UTC(),
	}
	f.mu.Unlock()
}

// Fetch serves the market group from the buffered ticker. It never performs
// an outbound request; missing or stale buffers are reported as errors so
// the fallback chain can move on.
func (f *Feed) Fetch(ctx context.Context, group string, params map[string]string) (*provider.Payload, error) {
	if group != "market" {
		return nil, provider.NewMalformedError(fmt.Sprintf("unsupported field-group '%s'", group))
	}

	pair := strings.ToUpper(params["symbol"]) + "USDT"

	f.mu.RLock()
	snap, ok := f.tickers[pair]
	f.mu.RUnlock()

	if !ok {
		return nil, provider.NewMalformedError(fmt.Sprintf("no buffered ticker for '%s'", pair))
	}
	if time.Since(snap.updated) > maxSnapshotAge {
		return nil, provider.NewMalformedError(fmt.Sprintf("buffered ticker for '%s' is stale", pair))
	}

	fields := make(map[string]interface{}, len(snap.fields))
	for k, v := range snap.fields {
		fields[k] = v
	}

	return &provider.Payload{
		Fields:   fields,
		Endpoint: "ws:" + strings.ToLower(pair) + "@ticker",
		AsOf:     snap.asOf,
	}, nil
}
