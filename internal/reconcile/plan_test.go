package reconcile

import (
	"testing"

	"hl-grid-bot/internal/account"
	"hl-grid-bot/internal/config"
	"hl-grid-bot/internal/strategy"
)

func planner() *Planner {
	return NewPlanner(config.ReconcilerConfig{
		PriceTolerancePct: 0.0005,
		CoverSizeRatio:    0.99,
	})
}

func entryIntent(side strategy.Side, price, size float64) strategy.OrderIntent {
	return strategy.OrderIntent{
		Symbol: "SUI",
		Side:   side,
		Price:  price,
		Size:   size,
		Kind:   strategy.KindEntry,
	}
}

func coverIntent(side strategy.Side, price, size float64) strategy.OrderIntent {
	return strategy.OrderIntent{
		Symbol:     "SUI",
		Side:       side,
		Price:      price,
		Size:       size,
		Kind:       strategy.KindTakeProfit,
		ReduceOnly: true,
	}
}

func TestPlanEntryPlacedWhenNoLiveOrders(t *testing.T) {
	p := planner()
	plan := p.Plan([]strategy.OrderIntent{entryIntent(strategy.SideLong, 100, 5)}, nil, nil)
	if len(plan.Places) != 1 || len(plan.Cancels) != 0 || len(plan.Immediate) != 0 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
}

func TestPlanEntryMatchesWithinTolerance(t *testing.T) {
	p := planner()
	live := []account.LiveOrder{
		{OrderID: 1, Symbol: "SUI", IsBuy: true, Price: 100.04, Size: 5},
	}
	// 100.04 is within 0.05% of 100.
	plan := p.Plan([]strategy.OrderIntent{entryIntent(strategy.SideLong, 100, 5)}, live, nil)
	if !plan.Empty() {
		t.Fatalf("expected empty plan, got %+v", plan)
	}
}

func TestPlanEntryReplacesStalePrice(t *testing.T) {
	p := planner()
	live := []account.LiveOrder{
		{OrderID: 1, Symbol: "SUI", IsBuy: true, Price: 98, Size: 5},
	}
	plan := p.Plan([]strategy.OrderIntent{entryIntent(strategy.SideLong, 100, 5)}, live, nil)
	if len(plan.Cancels) != 1 || plan.Cancels[0].OrderID != 1 {
		t.Fatalf("expected stale order cancelled, got %+v", plan)
	}
	if len(plan.Places) != 1 {
		t.Fatalf("expected replacement placed, got %+v", plan)
	}
}

func TestPlanEntryIgnoresOppositeSide(t *testing.T) {
	p := planner()
	live := []account.LiveOrder{
		{OrderID: 1, Symbol: "SUI", IsBuy: false, Price: 100, Size: 5},
	}
	plan := p.Plan([]strategy.OrderIntent{entryIntent(strategy.SideLong, 100, 5)}, live, nil)
	if len(plan.Places) != 1 {
		t.Fatalf("expected entry placed, got %+v", plan)
	}
	if len(plan.Cancels) != 0 {
		t.Fatalf("opposite-side order must not be touched, got %+v", plan.Cancels)
	}
}

func TestPlanReduceGoesImmediate(t *testing.T) {
	p := planner()
	pos := &strategy.Position{Symbol: "SUI", Side: strategy.SideLong, Size: 10, EntryPrice: 100}
	intents := []strategy.OrderIntent{
		{Symbol: "SUI", Side: strategy.SideShort, Size: 10, Kind: strategy.KindReduce, ReduceOnly: true},
		entryIntent(strategy.SideLong, 99, 5),
	}
	plan := p.Plan(intents, nil, pos)
	if len(plan.Immediate) != 1 || plan.Immediate[0].Kind != strategy.KindReduce {
		t.Fatalf("expected immediate reduce, got %+v", plan)
	}
	if len(plan.Places) != 1 {
		t.Fatalf("entry still planned after the reduce, got %+v", plan)
	}
}

func TestPlanCoverKeptWhenSufficient(t *testing.T) {
	p := planner()
	pos := &strategy.Position{Symbol: "SUI", Side: strategy.SideLong, Size: 10, EntryPrice: 100}
	live := []account.LiveOrder{
		{OrderID: 7, Symbol: "SUI", IsBuy: false, Size: 9.95, ReduceOnly: true, IsTrigger: true, TriggerPx: 101.02},
	}
	// 9.95 >= 0.99*10 and 101.02 within 0.05% of 101.
	plan := p.Plan([]strategy.OrderIntent{coverIntent(strategy.SideShort, 101, 10)}, live, pos)
	if !plan.Empty() {
		t.Fatalf("expected cover kept, got %+v", plan)
	}
}

func TestPlanCoverReplacedWhenUndersized(t *testing.T) {
	p := planner()
	pos := &strategy.Position{Symbol: "SUI", Side: strategy.SideLong, Size: 10, EntryPrice: 100}
	live := []account.LiveOrder{
		{OrderID: 7, Symbol: "SUI", IsBuy: false, Size: 5, ReduceOnly: true, IsTrigger: true, TriggerPx: 101},
	}
	plan := p.Plan([]strategy.OrderIntent{coverIntent(strategy.SideShort, 101, 10)}, live, pos)
	if len(plan.Cancels) != 1 || plan.Cancels[0].OrderID != 7 {
		t.Fatalf("expected undersized cover cancelled, got %+v", plan)
	}
	if len(plan.Places) != 1 {
		t.Fatalf("expected replacement cover, got %+v", plan)
	}
}

func TestPlanDuplicateCoversReducedToOne(t *testing.T) {
	p := planner()
	pos := &strategy.Position{Symbol: "SUI", Side: strategy.SideLong, Size: 10, EntryPrice: 100}
	live := []account.LiveOrder{
		{OrderID: 7, Symbol: "SUI", IsBuy: false, Size: 10, ReduceOnly: true, IsTrigger: true, TriggerPx: 101},
		{OrderID: 8, Symbol: "SUI", IsBuy: false, Size: 10, ReduceOnly: true, IsTrigger: true, TriggerPx: 101},
	}
	plan := p.Plan([]strategy.OrderIntent{coverIntent(strategy.SideShort, 101, 10)}, live, pos)
	if len(plan.Cancels) != 1 {
		t.Fatalf("expected exactly one duplicate cancelled, got %+v", plan.Cancels)
	}
	if len(plan.Places) != 0 {
		t.Fatalf("kept cover must not be replaced, got %+v", plan.Places)
	}
}

func TestPlanFlatCancelsOrphanedProtectiveOrders(t *testing.T) {
	p := planner()
	live := []account.LiveOrder{
		{OrderID: 7, Symbol: "SUI", IsBuy: false, Size: 10, ReduceOnly: true, IsTrigger: true, TriggerPx: 101},
		{OrderID: 9, Symbol: "SUI", IsBuy: true, Price: 99, Size: 5},
	}
	plan := p.Plan(nil, live, nil)
	if len(plan.Cancels) != 1 || plan.Cancels[0].OrderID != 7 {
		t.Fatalf("expected only the orphaned trigger cancelled, got %+v", plan.Cancels)
	}
}

func TestPlanInPositionCancelsPlainEntries(t *testing.T) {
	p := planner()
	pos := &strategy.Position{Symbol: "SUI", Side: strategy.SideLong, Size: 10, EntryPrice: 100}
	live := []account.LiveOrder{
		{OrderID: 9, Symbol: "SUI", IsBuy: true, Price: 99, Size: 5},
	}
	plan := p.Plan(nil, live, pos)
	if len(plan.Cancels) != 1 || plan.Cancels[0].OrderID != 9 {
		t.Fatalf("expected plain entry cancelled while in position, got %+v", plan.Cancels)
	}
}

func TestPlanIdempotence(t *testing.T) {
	p := planner()
	pos := &strategy.Position{Symbol: "SUI", Side: strategy.SideLong, Size: 10, EntryPrice: 100}
	intents := []strategy.OrderIntent{coverIntent(strategy.SideShort, 101, 10)}
	live := []account.LiveOrder{
		{OrderID: 7, Symbol: "SUI", IsBuy: false, Size: 10, ReduceOnly: true, IsTrigger: true, TriggerPx: 101},
	}
	first := p.Plan(intents, live, pos)
	second := p.Plan(intents, live, pos)
	if !first.Empty() || !second.Empty() {
		t.Fatalf("expected both passes empty, got %+v then %+v", first, second)
	}
}
