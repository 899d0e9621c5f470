package strategy

import (
	"time"

	"hl-grid-bot/internal/config"
)

// GateDecision is the outcome of one gatekeeper tick. Flush means the
// instrument's exposure must be closed before the pause timer starts.
// Resumed means per-instrument grid/ratchet state must be cleared so a
// fresh center and high-water mark are established.
type GateDecision struct {
	Mode     Mode
	Flush    bool
	Resumed  bool
	RangePct float64
	HasRange bool
}

// Gatekeeper pauses and resumes trading on recent price-range volatility.
// Defensive deployments stand down when the market turns violent;
// opportunistic ones only wake up when it does.
type Gatekeeper struct {
	cfg config.GatekeeperConfig
}

func NewGatekeeper(cfg config.GatekeeperConfig) *Gatekeeper {
	return &Gatekeeper{cfg: cfg}
}

func (g *Gatekeeper) Evaluate(gs *GateState, bars []Bar, now time.Time) GateDecision {
	if gs.Mode == "" {
		gs.Mode = ModeSafe
	}
	rangePct, hasRange := rangeOverWindow(bars, g.cfg.LookbackBars)
	decision := GateDecision{RangePct: rangePct, HasRange: hasRange}

	if g.cfg.Policy == config.PolicyOpportunistic {
		decision.Mode, decision.Resumed = g.evaluateOpportunistic(gs, rangePct, hasRange, now)
		return decision
	}

	switch gs.Mode {
	case ModePaused:
		if !now.Before(gs.PausedUntil) {
			gs.Mode = ModeSafe
			gs.PausedUntil = time.Time{}
			decision.Resumed = true
		}
	default:
		// A data gap fails open: a missing candle window must not
		// deadlock the instrument.
		if hasRange && rangePct > g.cfg.ThresholdPct {
			gs.Mode = ModePaused
			gs.PausedUntil = now.Add(g.cfg.PauseDuration)
			decision.Flush = true
		}
	}
	decision.Mode = gs.Mode
	return decision
}

// evaluateOpportunistic inverts the policy: the instrument is dormant until
// the market moves enough to be worth trading. Dormancy carries no flush --
// any position that remains open keeps being managed by the ratchet.
// Waking up reports Resumed so the caller clears grid and ratchet state
// before trading against a stale center.
func (g *Gatekeeper) evaluateOpportunistic(gs *GateState, rangePct float64, hasRange bool, now time.Time) (Mode, bool) {
	active := hasRange && rangePct >= g.cfg.ThresholdPct
	switch gs.Mode {
	case ModeSafe:
		if !active {
			gs.Mode = ModePaused
			gs.PausedUntil = now.Add(g.cfg.PauseDuration)
		}
	default:
		if active && !now.Before(gs.PausedUntil) {
			gs.Mode = ModeSafe
			gs.PausedUntil = time.Time{}
			return gs.Mode, true
		}
		gs.Mode = ModePaused
	}
	return gs.Mode, false
}

func rangeOverWindow(bars []Bar, lookback int) (float64, bool) {
	if lookback <= 0 || len(bars) < lookback {
		return 0, false
	}
	window := bars[len(bars)-lookback:]
	high := window[0].High
	low := window[0].Low
	for _, bar := range window[1:] {
		if bar.High > high {
			high = bar.High
		}
		if bar.Low < low {
			low = bar.Low
		}
	}
	if low <= 0 {
		return 0, false
	}
	return (high - low) / low, true
}
