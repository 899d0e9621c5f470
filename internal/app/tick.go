package app

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/exec"
	"hl-grid-bot/internal/hl/exchange"
	"hl-grid-bot/internal/journal"
	"hl-grid-bot/internal/market"
	"hl-grid-bot/internal/reconcile"
	"hl-grid-bot/internal/strategy"

	"go.uber.org/zap"
)

// tick runs one evaluation pass over every instrument. Failures are logged
// and counted but never escape: the next tick re-derives everything from
// fresh exchange state.
func (a *App) tick(ctx context.Context) {
	snap, err := a.account.Fetch(ctx)
	if err != nil {
		a.metrics.TickErrors.Inc()
		a.log.Warn("account fetch failed", zap.Error(err))
		return
	}
	now := time.Now().UTC()
	for _, inst := range a.instruments {
		if err := a.tickInstrument(ctx, inst, snap, now); err != nil {
			a.metrics.TickErrors.Inc()
			a.log.Warn("instrument tick failed", zap.String("symbol", inst.cfg.Symbol), zap.Error(err))
		}
	}
}

func (a *App) tickInstrument(ctx context.Context, inst *instrument, snap *account.Snapshot, now time.Time) error {
	symbol := inst.cfg.Symbol
	mid, err := a.market.Mid(ctx, symbol)
	if err != nil {
		// No price is no signal this tick, not a fault.
		a.log.Debug("no mid price", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	acctPos, havePos := snap.Position(symbol)
	var pos *strategy.Position
	if havePos {
		pos = strategyPosition(symbol, acctPos, mid)
	}
	live := snap.OrdersFor(symbol)
	prevPhase := inst.lifecycle.Phase
	phase := inst.lifecycle.Observe(pos != nil, hasEntryOrders(live))
	if prevPhase == strategy.PhaseInPosition && pos == nil {
		// The position fully closed since the last tick. The old center is
		// a dead reference; a fresh one is established from this tick's
		// price.
		inst.gridState.Reset()
	}

	bars := barsFrom(a.market.Candles(symbol))
	decision := inst.gate.Evaluate(inst.gateState, bars, now)
	if decision.Flush {
		a.metrics.GatePauses.Inc()
		a.log.Warn("volatility pause",
			zap.String("symbol", symbol),
			zap.Float64("range_pct", decision.RangePct),
			zap.Time("paused_until", inst.gateState.PausedUntil))
	}
	if decision.Resumed {
		a.metrics.GateResumes.Inc()
		inst.gridState.Reset()
		a.ratchet.Clear(ctx, symbol)
		a.log.Info("volatility pause lifted", zap.String("symbol", symbol))
	}

	intents := a.collectIntents(ctx, inst, decision, mid, pos)
	for range intents {
		a.metrics.IntentsEmitted.Inc()
	}

	plan := a.planner.Plan(intents, live, pos)
	if !plan.Empty() {
		a.applyPlan(ctx, inst, plan, pos, mid, now)
	}
	a.journalSnapshot(inst, phase, decision, mid, pos, len(live), now)
	return nil
}

// collectIntents runs the decision engines in priority order: gatekeeper
// mode first, then ratchet, then grid. A flush preempts everything else for
// the tick, and a full-size exit from any engine suppresses the standing
// cover.
func (a *App) collectIntents(ctx context.Context, inst *instrument, decision strategy.GateDecision, mid float64, pos *strategy.Position) []strategy.OrderIntent {
	symbol := inst.cfg.Symbol
	if decision.Flush {
		if pos == nil {
			return nil
		}
		a.metrics.PositionsFlushed.Inc()
		return []strategy.OrderIntent{{
			Symbol:     symbol,
			Side:       pos.Side.Opposite(),
			Size:       pos.Size,
			Kind:       strategy.KindReduce,
			ReduceOnly: true,
			Reason:     "volatility flush",
		}}
	}

	var intents []strategy.OrderIntent
	exiting := false
	if intent := a.ratchet.Evaluate(ctx, inst.cfg.Ratchet, symbol, pos); intent != nil {
		intents = append(intents, *intent)
		exiting = true
	}
	if decision.Mode == strategy.ModeSafe {
		if intent := inst.grid.Evaluate(inst.gridState, mid, pos); intent != nil {
			intents = append(intents, *intent)
			if intent.Kind == strategy.KindStop {
				exiting = true
			}
		}
	}
	if pos != nil && !exiting {
		intents = append(intents, coverIntent(inst.cfg, pos))
	}
	return intents
}

// coverIntent is the standing take-profit for an open position, one grid
// step beyond the entry price. It is re-emitted every tick so the
// reconciler keeps exactly one live cover at all times.
func coverIntent(cfg config.InstrumentConfig, pos *strategy.Position) strategy.OrderIntent {
	price := pos.EntryPrice * (1 + cfg.Grid.StepPct)
	if pos.Side == strategy.SideShort {
		price = pos.EntryPrice * (1 - cfg.Grid.StepPct)
	}
	return strategy.OrderIntent{
		Symbol:     pos.Symbol,
		Side:       pos.Side.Opposite(),
		Price:      price,
		Size:       pos.Size,
		Kind:       strategy.KindTakeProfit,
		ReduceOnly: true,
		Reason:     "take profit one step from entry",
	}
}

// applyPlan executes a reconciliation plan in priority order: immediate
// risk exits first, then cancels, then new placements. Per-order failures
// are logged and skipped; the next tick re-plans from live state.
func (a *App) applyPlan(ctx context.Context, inst *instrument, plan reconcile.Plan, pos *strategy.Position, mid float64, now time.Time) {
	perpCtx, ok := a.market.PerpContext(inst.cfg.Symbol)
	if !ok {
		a.log.Warn("perp context missing, plan skipped", zap.String("symbol", inst.cfg.Symbol))
		return
	}
	for _, intent := range plan.Immediate {
		a.executeImmediate(ctx, inst, perpCtx, intent, pos, mid, now)
	}
	for _, order := range plan.Cancels {
		if err := a.executor.CancelOrder(ctx, exec.Cancel{Asset: perpCtx.Index, OrderID: order.OrderID}); err != nil {
			a.log.Warn("cancel failed",
				zap.String("symbol", inst.cfg.Symbol),
				zap.Int64("order_id", order.OrderID),
				zap.Error(err))
			continue
		}
		a.metrics.OrdersCancelled.Inc()
	}
	for _, intent := range plan.Places {
		a.placeIntent(ctx, inst, perpCtx, intent, now)
	}
}

// executeImmediate converts a REDUCE/STOP intent into an aggressive IOC
// limit bounded by the configured slippage, so exiting risk never waits.
func (a *App) executeImmediate(ctx context.Context, inst *instrument, perpCtx market.PerpContext, intent strategy.OrderIntent, pos *strategy.Position, mid float64, now time.Time) {
	limit := mid * (1 - a.cfg.Reconciler.SlippagePct)
	if intent.Side == strategy.SideLong {
		limit = mid * (1 + a.cfg.Reconciler.SlippagePct)
	}
	order := exec.Order{
		Asset:         perpCtx.Index,
		IsBuy:         intent.Side == strategy.SideLong,
		Size:          roundDown(intent.Size, perpCtx.SzDecimals),
		LimitPrice:    normalizeLimitPrice(limit, perpCtx.SzDecimals),
		ReduceOnly:    intent.ReduceOnly,
		Tif:           exchange.TifIoc,
		ClientOrderID: clientOrderID(intent, now),
	}
	if order.Size <= 0 || order.LimitPrice <= 0 {
		a.log.Warn("skipping degenerate exit order", zap.String("symbol", intent.Symbol), zap.String("reason", intent.Reason))
		return
	}
	if _, err := a.executor.PlaceOrder(ctx, order); err != nil {
		a.recordOrderError(intent, err)
		return
	}
	a.metrics.OrdersPlaced.Inc()
	a.recordTrade(ctx, intent, pos, now)
}

func (a *App) placeIntent(ctx context.Context, inst *instrument, perpCtx market.PerpContext, intent strategy.OrderIntent, now time.Time) {
	order := exec.Order{
		Asset:         perpCtx.Index,
		IsBuy:         intent.Side == strategy.SideLong,
		Size:          roundDown(intent.Size, perpCtx.SzDecimals),
		ReduceOnly:    intent.ReduceOnly,
		ClientOrderID: clientOrderID(intent, now),
	}
	price := normalizeLimitPrice(intent.Price, perpCtx.SzDecimals)
	switch intent.Kind {
	case strategy.KindTakeProfit:
		order.TriggerPrice = price
		order.LimitPrice = price
		order.Tpsl = exchange.TpslTakeProfit
		order.MarketTrigger = true
	default:
		order.LimitPrice = price
		order.Tif = exchange.TifGtc
	}
	if order.Size <= 0 || price <= 0 {
		a.log.Warn("skipping degenerate order", zap.String("symbol", intent.Symbol), zap.String("reason", intent.Reason))
		return
	}
	if _, err := a.executor.PlaceOrder(ctx, order); err != nil {
		a.recordOrderError(intent, err)
		return
	}
	a.metrics.OrdersPlaced.Inc()
	if intent.Kind == strategy.KindEntry {
		a.recordTrade(ctx, intent, nil, now)
	}
}

func (a *App) recordOrderError(intent strategy.OrderIntent, err error) {
	var reject *exchange.RejectError
	if errors.As(err, &reject) {
		a.metrics.OrdersRejected.Inc()
		a.log.Warn("order rejected",
			zap.String("symbol", intent.Symbol),
			zap.String("kind", string(intent.Kind)),
			zap.String("rejection", reject.Reason))
		return
	}
	a.metrics.OrdersFailed.Inc()
	a.log.Warn("order failed",
		zap.String("symbol", intent.Symbol),
		zap.String("kind", string(intent.Kind)),
		zap.Error(err))
}

// recordTrade emits the structured trade event to the journal and the
// alert channel. Entries are OPEN; exits are CLOSE or CLOSE_PARTIAL with
// the unrealized pnl at decision time.
func (a *App) recordTrade(ctx context.Context, intent strategy.OrderIntent, pos *strategy.Position, now time.Time) {
	operation := "OPEN"
	direction := string(intent.Side)
	pnl := 0.0
	hasPnl := false
	if intent.RiskReducing() && pos != nil {
		operation = "CLOSE"
		if intent.Size < pos.Size-1e-9 {
			operation = "CLOSE_PARTIAL"
		}
		direction = string(pos.Side)
		pnl = pos.UnrealizedPnl
		hasPnl = true
	}
	a.journal.EnqueueEvent(journal.TradeEvent{
		Time:      now,
		Operation: operation,
		Symbol:    intent.Symbol,
		Direction: direction,
		Reason:    intent.Reason,
		Pnl:       pnl,
		HasPnl:    hasPnl,
	})
	if err := a.alerts.NotifyTrade(ctx, operation, intent.Symbol, direction, intent.Reason, pnl); err != nil {
		a.log.Warn("alert send failed", zap.Error(err))
	}
}

func (a *App) journalSnapshot(inst *instrument, phase strategy.Phase, decision strategy.GateDecision, mid float64, pos *strategy.Position, openOrders int, now time.Time) {
	snap := journal.PositionSnapshot{
		Time:       now,
		Symbol:     inst.cfg.Symbol,
		Phase:      string(phase),
		GateMode:   string(decision.Mode),
		MidPrice:   mid,
		RangePct:   decision.RangePct,
		OpenOrders: openOrders,
	}
	snap.CenterPrice = inst.gridState.CenterPrice
	if pos != nil {
		size := pos.Size
		if pos.Side == strategy.SideShort {
			size = -size
		}
		snap.PositionSize = size
		snap.EntryPrice = pos.EntryPrice
		snap.UnrealizedPnl = pos.UnrealizedPnl
	}
	if high, ok := a.ratchet.HighWaterMark(inst.cfg.Symbol); ok {
		snap.HighestPnl = high
	}
	a.journal.EnqueueSnapshot(snap)
}

// strategyPosition converts the exchange's signed-size convention into the
// engines' absolute-size-plus-side one.
func strategyPosition(symbol string, acct account.Position, mark float64) *strategy.Position {
	if acct.Size == 0 {
		return nil
	}
	side := strategy.SideLong
	size := acct.Size
	if size < 0 {
		side = strategy.SideShort
		size = -size
	}
	return &strategy.Position{
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    acct.EntryPrice,
		MarkPrice:     mark,
		UnrealizedPnl: acct.UnrealizedPnl,
		Leverage:      acct.Leverage,
	}
}

func hasEntryOrders(orders []account.LiveOrder) bool {
	for _, order := range orders {
		if !order.ReduceOnly && !order.IsTrigger {
			return true
		}
	}
	return false
}

func barsFrom(candles []market.Candle) []strategy.Bar {
	bars := make([]strategy.Bar, 0, len(candles))
	for _, c := range candles {
		bars = append(bars, strategy.Bar{High: c.High, Low: c.Low})
	}
	return bars
}

func clientOrderID(intent strategy.OrderIntent, now time.Time) string {
	return string(intent.Kind) + "-" + intent.Symbol + "-" + now.Format("20060102T150405.000Z")
}

func roundDown(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Floor(value)
	}
	factor := math.Pow10(decimals)
	return math.Floor(value*factor) / factor
}

func roundTo(value float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(value)
	}
	factor := math.Pow10(decimals)
	return math.Round(value*factor) / factor
}

// normalizeLimitPrice applies the exchange's perp price rules: at most 5
// significant figures and at most 6 - szDecimals decimal places.
func normalizeLimitPrice(price float64, szDecimals int) float64 {
	if price <= 0 {
		return 0
	}
	if sig, err := strconv.ParseFloat(strconv.FormatFloat(price, 'g', 5, 64), 64); err == nil {
		price = sig
	}
	decimals := 6
	if szDecimals >= 0 {
		decimals -= szDecimals
		if decimals < 0 {
			decimals = 0
		}
	}
	return roundTo(price, decimals)
}
