package strategy

import (
	"fmt"
	"math"

	"hl-grid-bot/internal/config"
)

// GridState tracks which price bands have fired since the center was set.
// It lives in memory only: the center re-derives from the entry price after
// a restart and the triggered set rebuilds as price moves.
type GridState struct {
	CenterPrice     float64
	TriggeredLevels map[int]struct{}
	HighestLevel    int
}

func NewGridState() *GridState {
	return &GridState{TriggeredLevels: make(map[int]struct{})}
}

func (g *GridState) Reset() {
	g.CenterPrice = 0
	g.HighestLevel = 0
	g.TriggeredLevels = make(map[int]struct{})
}

// GridTracker converts price displacement from the grid center into
// discrete, hysteresis-protected trade intents.
type GridTracker struct {
	cfg config.InstrumentConfig
}

func NewGridTracker(cfg config.InstrumentConfig) *GridTracker {
	return &GridTracker{cfg: cfg}
}

// hysteresisSteps is the distance, in step-widths, a triggered level must
// fall behind the current level before it becomes re-triggerable.
const hysteresisSteps = 2

// Evaluate runs one tick of the tracker. A nil return means no action.
// Malformed prices (zero, negative, NaN) are treated as no data this tick.
func (t *GridTracker) Evaluate(state *GridState, price float64, pos *Position) *OrderIntent {
	if state == nil || price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil
	}
	if state.CenterPrice == 0 {
		if pos != nil && pos.EntryPrice > 0 {
			// Restart with a live position: the entry price is the center.
			state.CenterPrice = pos.EntryPrice
		} else {
			state.CenterPrice = price
			return nil
		}
	}

	step := state.CenterPrice * t.cfg.Grid.StepPct
	displacement := (price - state.CenterPrice) / step
	level := int(math.Floor(displacement))

	if math.Abs(float64(level))*t.cfg.Grid.StepPct > t.cfg.Grid.MaxRangePct {
		defer state.Reset()
		if pos == nil || pos.Size == 0 {
			return nil
		}
		return &OrderIntent{
			Symbol:     t.cfg.Symbol,
			Side:       pos.Side.Opposite(),
			Size:       pos.Size,
			Kind:       KindStop,
			ReduceOnly: true,
			Reason:     fmt.Sprintf("range broken at level %d", level),
		}
	}

	// Distance is measured against the exact displacement, not the floored
	// level, so a level only re-arms once price has clearly retreated from
	// its band.
	for idx := range state.TriggeredLevels {
		if math.Abs(float64(idx)-displacement) >= hysteresisSteps {
			delete(state.TriggeredLevels, idx)
		}
	}

	if level == 0 {
		return nil
	}
	if _, fired := state.TriggeredLevels[level]; fired {
		return nil
	}
	state.TriggeredLevels[level] = struct{}{}
	if abs(level) > abs(state.HighestLevel) {
		state.HighestLevel = level
	}

	side := SideShort
	if level < 0 {
		side = SideLong
	}
	size := t.bulletSize(price)
	if size <= 0 {
		return nil
	}
	return &OrderIntent{
		Symbol: t.cfg.Symbol,
		Side:   side,
		Price:  price,
		Size:   size,
		Kind:   KindEntry,
		Reason: fmt.Sprintf("grid level %d", level),
	}
}

// bulletSize spreads the levered allocation evenly across the grid levels
// on one side of the center.
func (t *GridTracker) bulletSize(price float64) float64 {
	levels := t.cfg.Grid.MaxRangePct / t.cfg.Grid.StepPct
	if levels < 1 {
		levels = 1
	}
	bulletUSD := t.cfg.AllocationUSD * float64(t.cfg.Leverage) / levels
	return bulletUSD / price
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
