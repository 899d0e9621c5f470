package strategy

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// IntentKind is the tagged order classification carried by every intent.
// The exchange adapter decodes it to wire format exactly once.
type IntentKind string

const (
	KindEntry      IntentKind = "ENTRY"
	KindTakeProfit IntentKind = "TAKE_PROFIT"
	KindStop       IntentKind = "STOP"
	KindReduce     IntentKind = "REDUCE"
)

// OrderIntent is produced fresh each tick by the decision engines and never
// persisted. Price 0 means execute at market.
type OrderIntent struct {
	Symbol     string
	Side       Side
	Price      float64
	Size       float64
	Kind       IntentKind
	ReduceOnly bool
	Reason     string
}

func (i OrderIntent) RiskReducing() bool {
	switch i.Kind {
	case KindStop, KindReduce, KindTakeProfit:
		return true
	default:
		return false
	}
}

// Position is the per-tick snapshot of an open perp position as the
// exchange reports it. Size is absolute; direction lives in Side.
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnl float64
	Leverage      int
}

// Bar is the slice of a candle the gatekeeper needs.
type Bar struct {
	High float64
	Low  float64
}

// Mode is the gatekeeper trading mode for one instrument.
type Mode string

const (
	ModeSafe   Mode = "SAFE"
	ModePaused Mode = "PAUSED"
)

// GateState is memory-only; a restart defaults back to SAFE.
type GateState struct {
	Mode        Mode
	PausedUntil time.Time
}
