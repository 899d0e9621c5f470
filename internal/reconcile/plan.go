package reconcile

import (
	"math"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/strategy"
)

// Plan is the minimal action set for one instrument tick. Execution order
// is Immediate, then Cancels, then Places, so risk-reducing actions are
// never starved by risk-increasing ones.
type Plan struct {
	Immediate []strategy.OrderIntent
	Cancels   []account.LiveOrder
	Places    []strategy.OrderIntent
}

func (p Plan) Empty() bool {
	return len(p.Immediate) == 0 && len(p.Cancels) == 0 && len(p.Places) == 0
}

// Planner diffs desired intents against live exchange orders. It is pure:
// same inputs, same plan. Applying a plan and re-planning against the
// resulting order set yields an empty plan, which is what makes the tick
// loop idempotent and crash-safe.
type Planner struct {
	cfg config.ReconcilerConfig
}

func NewPlanner(cfg config.ReconcilerConfig) *Planner {
	return &Planner{cfg: cfg}
}

func (p *Planner) Plan(intents []strategy.OrderIntent, live []account.LiveOrder, pos *strategy.Position) Plan {
	var plan Plan
	keep := make(map[int64]bool)
	stale := make(map[int64]bool)

	for _, intent := range intents {
		switch intent.Kind {
		case strategy.KindReduce, strategy.KindStop:
			// Exiting risk is never folded into tolerance checks.
			plan.Immediate = append(plan.Immediate, intent)
		case strategy.KindEntry:
			if !p.matchEntry(intent, live, keep) {
				p.markStaleEntries(intent, live, keep, stale)
				plan.Places = append(plan.Places, intent)
			}
		case strategy.KindTakeProfit:
			if pos == nil {
				continue
			}
			if !p.matchCover(intent, live, pos, keep) {
				plan.Places = append(plan.Places, intent)
			}
		}
	}

	plan.Cancels = p.cleanup(live, pos, keep, stale)
	return plan
}

// matchEntry reports whether a live plain order already satisfies the
// intent within the price tolerance band. At most one live order is kept
// per intent; everything else falls to cleanup.
func (p *Planner) matchEntry(intent strategy.OrderIntent, live []account.LiveOrder, keep map[int64]bool) bool {
	wantBuy := intent.Side == strategy.SideLong
	for _, order := range live {
		if keep[order.OrderID] || order.ReduceOnly || order.IsTrigger {
			continue
		}
		if order.IsBuy != wantBuy {
			continue
		}
		if intent.Price > 0 && !withinTolerance(order.Price, intent.Price, p.cfg.PriceTolerancePct) {
			continue
		}
		keep[order.OrderID] = true
		return true
	}
	return false
}

// markStaleEntries flags same-side plain orders at a price outside the
// tolerance band for cancellation before the replacement is placed.
func (p *Planner) markStaleEntries(intent strategy.OrderIntent, live []account.LiveOrder, keep, stale map[int64]bool) {
	wantBuy := intent.Side == strategy.SideLong
	for _, order := range live {
		if keep[order.OrderID] || order.ReduceOnly || order.IsTrigger {
			continue
		}
		if order.IsBuy == wantBuy {
			stale[order.OrderID] = true
		}
	}
}

// matchCover reports whether a live reduce-only or trigger order already
// covers the position: right side, size at least the cover ratio of the
// position, price within tolerance of the intended cover price.
func (p *Planner) matchCover(intent strategy.OrderIntent, live []account.LiveOrder, pos *strategy.Position, keep map[int64]bool) bool {
	wantBuy := intent.Side == strategy.SideLong
	needSize := pos.Size * p.cfg.CoverSizeRatio
	for _, order := range live {
		if keep[order.OrderID] {
			continue
		}
		if !order.ReduceOnly && !order.IsTrigger {
			continue
		}
		if order.IsBuy != wantBuy {
			continue
		}
		if order.Size < needSize {
			continue
		}
		price := order.Price
		if order.IsTrigger && order.TriggerPx > 0 {
			price = order.TriggerPx
		}
		if intent.Price > 0 && !withinTolerance(price, intent.Price, p.cfg.PriceTolerancePct) {
			continue
		}
		keep[order.OrderID] = true
		return true
	}
	return false
}

// cleanup enforces the lifecycle invariant: flat means zero reduce-only or
// trigger orders remain, in-position means zero plain entry orders remain.
// Duplicate covers beyond the single kept one are cancelled the same way.
func (p *Planner) cleanup(live []account.LiveOrder, pos *strategy.Position, keep, stale map[int64]bool) []account.LiveOrder {
	var cancels []account.LiveOrder
	for _, order := range live {
		if keep[order.OrderID] {
			continue
		}
		if stale[order.OrderID] {
			cancels = append(cancels, order)
			continue
		}
		protective := order.ReduceOnly || order.IsTrigger
		if pos == nil {
			// A resting unmatched entry is a legitimate pending fill;
			// only protective orders are orphans here.
			if protective {
				cancels = append(cancels, order)
			}
			continue
		}
		// In-position, anything unkept is either a stale entry or a
		// duplicate or mis-sized cover.
		cancels = append(cancels, order)
	}
	return cancels
}

func withinTolerance(got, want, tolerancePct float64) bool {
	if want <= 0 {
		return false
	}
	return math.Abs(got-want) <= want*tolerancePct
}
