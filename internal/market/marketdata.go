package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"hl-grid-bot/internal/hl/rest"
	"hl-grid-bot/internal/hl/ws"

	"go.uber.org/zap"
)

type PerpContext struct {
	Index       int
	SzDecimals  int
	MaxLeverage int
	MarkPrice   float64
	OraclePrice float64
}

// MarketData keeps live mids and a rolling candle window per tracked asset.
// Mids stream over the allMids subscription with a REST fallback; candles
// come from per-asset candle subscriptions seeded by a snapshot backfill.
type MarketData struct {
	rest *rest.Client
	ws   *ws.Client
	log  *zap.Logger

	mu               sync.RWMutex
	midPrices        map[string]float64
	perpCtx          map[string]PerpContext
	candles          map[string][]Candle
	lastCtxRefresh   time.Time
	ctxRefreshWindow time.Duration

	candleAssets   []string
	candleInterval string
	candleWindow   int
}

func New(restClient *rest.Client, wsClient *ws.Client, log *zap.Logger) *MarketData {
	return &MarketData{
		rest:             restClient,
		ws:               wsClient,
		log:              log,
		midPrices:        make(map[string]float64),
		perpCtx:          make(map[string]PerpContext),
		candles:          make(map[string][]Candle),
		ctxRefreshWindow: 30 * time.Second,
		candleWindow:     30,
		candleInterval:   "1m",
	}
}

// TrackCandles registers the assets whose candle feeds to subscribe and
// backfill. Must be called before Start.
func (m *MarketData) TrackCandles(assets []string, interval string, window int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candleAssets = append([]string(nil), assets...)
	if interval != "" {
		m.candleInterval = interval
	}
	if window > 0 {
		m.candleWindow = window
	}
}

func (m *MarketData) Start(ctx context.Context) error {
	if err := m.RefreshContexts(ctx); err != nil {
		return err
	}
	if err := m.Backfill(ctx); err != nil {
		m.log.Warn("candle backfill failed", zap.Error(err))
	}
	if m.ws == nil {
		return nil
	}
	if err := m.ws.Connect(ctx); err != nil {
		return err
	}
	sub := map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	if err := m.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	m.subscribeCandles(ctx)
	go func() {
		_ = m.ws.Run(ctx, m.handleMessage)
	}()
	return nil
}

func (m *MarketData) subscribeCandles(ctx context.Context) {
	m.mu.RLock()
	assets := append([]string(nil), m.candleAssets...)
	interval := m.candleInterval
	m.mu.RUnlock()
	for _, asset := range assets {
		sub := map[string]any{
			"method": "subscribe",
			"subscription": map[string]any{
				"type":     "candle",
				"coin":     asset,
				"interval": interval,
			},
		}
		if err := m.ws.Subscribe(ctx, sub); err != nil {
			m.log.Warn("candle subscribe failed", zap.String("asset", asset), zap.Error(err))
		}
	}
}

// Backfill seeds each tracked asset's candle window from a REST snapshot so
// the volatility gate has history immediately after startup.
func (m *MarketData) Backfill(ctx context.Context) error {
	if m.rest == nil {
		return nil
	}
	m.mu.RLock()
	assets := append([]string(nil), m.candleAssets...)
	interval := m.candleInterval
	window := m.candleWindow
	m.mu.RUnlock()

	now := time.Now().UTC()
	start := now.Add(-time.Duration(window+2) * intervalDuration(interval))
	for _, asset := range assets {
		resp, err := m.rest.InfoAny(ctx, rest.NewCandleSnapshotRequest(asset, interval, start, now))
		if err != nil {
			return fmt.Errorf("candle snapshot %s: %w", asset, err)
		}
		candles, err := parseCandleSnapshot(asset, interval, resp)
		if err != nil {
			return fmt.Errorf("candle snapshot %s: %w", asset, err)
		}
		m.mu.Lock()
		if len(candles) > window {
			candles = candles[len(candles)-window:]
		}
		m.candles[asset] = candles
		m.mu.Unlock()
	}
	return nil
}

func (m *MarketData) RefreshContexts(ctx context.Context) error {
	if m.rest == nil {
		return nil
	}
	if !m.shouldRefresh() {
		return nil
	}
	resp, err := m.rest.InfoAny(ctx, rest.InfoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return err
	}
	perpCtx, err := parsePerpContexts(resp)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.perpCtx = perpCtx
	m.lastCtxRefresh = time.Now().UTC()
	m.mu.Unlock()
	return nil
}

func (m *MarketData) shouldRefresh() bool {
	m.mu.RLock()
	last := m.lastCtxRefresh
	window := m.ctxRefreshWindow
	m.mu.RUnlock()
	if last.IsZero() {
		return true
	}
	return time.Since(last) >= window
}

func (m *MarketData) Mid(ctx context.Context, asset string) (float64, error) {
	m.mu.RLock()
	price, ok := m.midPrices[asset]
	m.mu.RUnlock()
	if ok {
		return price, nil
	}
	resp, err := m.rest.Info(ctx, rest.InfoRequest{Type: "allMids"})
	if err != nil {
		return 0, err
	}
	m.updateMids(resp)
	m.mu.RLock()
	price, ok = m.midPrices[asset]
	m.mu.RUnlock()
	if !ok {
		return 0, errors.New("mid price not found")
	}
	return price, nil
}

func (m *MarketData) PerpContext(asset string) (PerpContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.perpCtx[asset]
	return ctx, ok
}

func (m *MarketData) PerpAssetID(asset string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctx, ok := m.perpCtx[asset]
	if !ok {
		return 0, false
	}
	return ctx.Index, true
}

// Candles returns a copy of the rolling window for an asset, oldest first.
func (m *MarketData) Candles(asset string) []Candle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Candle(nil), m.candles[asset]...)
}

func (m *MarketData) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		m.log.Debug("ws decode error", zap.Error(err))
		return
	}
	m.updateMids(payload)
	m.updateCandle(payload)
}

func (m *MarketData) updateMids(payload map[string]any) {
	var mids map[string]any
	if data, ok := payload["data"].(map[string]any); ok {
		if raw, ok := data["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		if raw, ok := payload["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		// /info allMids returns a flat map of symbol -> mid.
		if _, hasData := payload["data"]; !hasData {
			mids = payload
		}
	}
	if mids == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for asset, v := range mids {
		if f, ok := floatFromAny(v); ok {
			m.midPrices[asset] = f
		}
	}
}

// updateCandle folds a streamed candle into the window. The feed re-sends
// the open candle as it updates; a matching start time replaces in place.
func (m *MarketData) updateCandle(payload map[string]any) {
	candle, ok := parseCandleMessage(payload)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	window := m.candles[candle.Asset]
	if n := len(window); n > 0 && window[n-1].Start.Equal(candle.Start) {
		window[n-1] = candle
	} else {
		window = append(window, candle)
		if len(window) > m.candleWindow {
			window = window[len(window)-m.candleWindow:]
		}
	}
	m.candles[candle.Asset] = window
}

func intervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
