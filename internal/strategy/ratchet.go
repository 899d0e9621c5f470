package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/state"

	"go.uber.org/zap"
)

const ratchetKeyPrefix = "ratchet:"

type ratchetRecord struct {
	HighestPnl float64 `json:"highest_pnl"`
}

// RatchetEngine locks in profit per open position with a monotonically
// tightening trailing stop. High-water marks are written through the store
// after every mutation so a restart never loses them.
type RatchetEngine struct {
	store state.Store
	log   *zap.Logger

	mu    sync.Mutex
	highs map[string]float64
}

func NewRatchetEngine(store state.Store, log *zap.Logger) *RatchetEngine {
	return &RatchetEngine{store: store, log: log, highs: make(map[string]float64)}
}

// Restore loads the persisted high-water mark for a symbol into memory.
// Called once per instrument at startup.
func (e *RatchetEngine) Restore(ctx context.Context, symbol string) error {
	if e.store == nil {
		return nil
	}
	raw, ok, err := e.store.Get(ctx, ratchetKeyPrefix+symbol)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var rec ratchetRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &rec); err != nil {
		return fmt.Errorf("corrupt ratchet record for %s: %w", symbol, err)
	}
	e.mu.Lock()
	e.highs[symbol] = rec.HighestPnl
	e.mu.Unlock()
	return nil
}

// HighWaterMark reports the tracked high for a symbol, if any.
func (e *RatchetEngine) HighWaterMark(symbol string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	high, ok := e.highs[symbol]
	return high, ok
}

// Clear drops the ratchet state for a symbol, memory and store both.
func (e *RatchetEngine) Clear(ctx context.Context, symbol string) {
	e.mu.Lock()
	_, had := e.highs[symbol]
	delete(e.highs, symbol)
	e.mu.Unlock()
	if !had || e.store == nil {
		return
	}
	if err := e.store.Delete(ctx, ratchetKeyPrefix+symbol); err != nil && e.log != nil {
		e.log.Warn("ratchet state delete failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// Evaluate runs one tick for one position. A nil position garbage-collects
// any stale state. The returned intent, if any, closes the full size.
func (e *RatchetEngine) Evaluate(ctx context.Context, cfg config.RatchetConfig, symbol string, pos *Position) *OrderIntent {
	if pos == nil || pos.Size == 0 {
		e.Clear(ctx, symbol)
		return nil
	}
	pnl := pos.UnrealizedPnl

	// Hard stop first; it short-circuits the ratchet entirely.
	if roe, ok := positionROE(pos); ok {
		maxLoss := cfg.StopLossPct * float64(pos.Leverage) * 100
		if maxLoss > cfg.MaxROELossPct {
			maxLoss = cfg.MaxROELossPct
		}
		if roe < -maxLoss {
			e.Clear(ctx, symbol)
			return &OrderIntent{
				Symbol:     symbol,
				Side:       pos.Side.Opposite(),
				Size:       pos.Size,
				Kind:       KindReduce,
				ReduceOnly: true,
				Reason:     fmt.Sprintf("stop loss: ROE %.1f%% below -%.1f%%", roe, maxLoss),
			}
		}
	}

	e.mu.Lock()
	high, tracked := e.highs[symbol]
	e.mu.Unlock()

	if !tracked {
		if pnl > cfg.ActivationUSD {
			e.setHigh(ctx, symbol, pnl)
		}
		return nil
	}

	if pnl > high {
		high = pnl
		e.setHigh(ctx, symbol, pnl)
	}

	pullback := cfg.Pullback
	if roe, ok := positionROE(pos); ok && roe > cfg.HighProfitROE {
		pullback = cfg.TightPullback
	}
	cutoff := high * (1 - pullback)
	if cutoff < cfg.FloorUSD {
		cutoff = cfg.FloorUSD
	}
	if pnl < cutoff {
		e.Clear(ctx, symbol)
		return &OrderIntent{
			Symbol:     symbol,
			Side:       pos.Side.Opposite(),
			Size:       pos.Size,
			Kind:       KindReduce,
			ReduceOnly: true,
			Reason:     fmt.Sprintf("banking: pnl %.2f fell below cutoff %.2f (high %.2f)", pnl, cutoff, high),
		}
	}
	return nil
}

func (e *RatchetEngine) setHigh(ctx context.Context, symbol string, pnl float64) {
	e.mu.Lock()
	e.highs[symbol] = pnl
	e.mu.Unlock()
	if e.store == nil {
		return
	}
	raw, err := json.Marshal(ratchetRecord{HighestPnl: pnl})
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, ratchetKeyPrefix+symbol, string(raw)); err != nil && e.log != nil {
		e.log.Warn("ratchet state persist failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// positionROE reports return on equity in percent. Zero or unusable margin
// disables ROE-based checks for the tick.
func positionROE(pos *Position) (float64, bool) {
	if pos.Leverage <= 0 {
		return 0, false
	}
	margin := math.Abs(pos.Size) * pos.EntryPrice / float64(pos.Leverage)
	if margin <= 0 || math.IsNaN(margin) || math.IsInf(margin, 0) {
		return 0, false
	}
	return pos.UnrealizedPnl / margin * 100, true
}
