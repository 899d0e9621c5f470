package strategy

import "sync"

// Phase is the instrument lifecycle, re-derived every tick from what the
// exchange reports rather than from any persisted order bookkeeping.
type Phase string

const (
	PhaseFlat         Phase = "FLAT"
	PhasePendingEntry Phase = "PENDING_ENTRY"
	PhaseInPosition   Phase = "IN_POSITION"
)

type Lifecycle struct {
	mu    sync.Mutex
	Phase Phase
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{Phase: PhaseFlat}
}

// Observe advances the lifecycle from a position/order snapshot and returns
// the new phase.
func (l *Lifecycle) Observe(hasPosition, hasEntryOrders bool) Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Phase = nextPhase(l.Phase, hasPosition, hasEntryOrders)
	return l.Phase
}

func nextPhase(current Phase, hasPosition, hasEntryOrders bool) Phase {
	if hasPosition {
		return PhaseInPosition
	}
	switch current {
	case PhaseInPosition:
		return PhaseFlat
	case PhasePendingEntry:
		if !hasEntryOrders {
			return PhaseFlat
		}
		return PhasePendingEntry
	default:
		if hasEntryOrders {
			return PhasePendingEntry
		}
		return PhaseFlat
	}
}
