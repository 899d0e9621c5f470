package strategy

import (
	"context"
	"testing"

	"hl-grid-bot/internal/config"

	"go.uber.org/zap"
)

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func (s *memStore) Close() error { return nil }

func ratchetConfig() config.RatchetConfig {
	return config.RatchetConfig{
		StopLossPct:   0.05,
		ActivationUSD: 0.50,
		Pullback:      0.20,
		HighProfitROE: 10,
		TightPullback: 0.10,
		FloorUSD:      0.20,
		MaxROELossPct: 50,
	}
}

func longPosition(size, entry, pnl float64, lev int) *Position {
	return &Position{Symbol: "SUI", Side: SideLong, Size: size, EntryPrice: entry, UnrealizedPnl: pnl, Leverage: lev}
}

func TestRatchetDormantBelowActivation(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	if intent := engine.Evaluate(ctx, ratchetConfig(), "SUI", longPosition(10, 100, 0.40, 10)); intent != nil {
		t.Fatalf("expected no intent below activation, got %+v", intent)
	}
	if _, ok := engine.HighWaterMark("SUI"); ok {
		t.Fatalf("high-water mark must not exist below activation")
	}
}

func TestRatchetActivatesAndTracksHigh(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	cfg := ratchetConfig()

	engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 0.80, 10))
	if high, ok := engine.HighWaterMark("SUI"); !ok || high != 0.80 {
		t.Fatalf("expected high 0.80, got %f ok=%v", high, ok)
	}

	engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 1.50, 10))
	if high, _ := engine.HighWaterMark("SUI"); high != 1.50 {
		t.Fatalf("expected high 1.50, got %f", high)
	}

	// Highs never decrease.
	engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 1.30, 10))
	if high, _ := engine.HighWaterMark("SUI"); high != 1.50 {
		t.Fatalf("high must be monotone, got %f", high)
	}
}

func TestRatchetBanksOnPullback(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	cfg := ratchetConfig()

	engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 2.00, 10))
	// cutoff = 2.00 * 0.80 = 1.60
	intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 1.50, 10))
	if intent == nil || intent.Kind != KindReduce {
		t.Fatalf("expected banking reduce, got %+v", intent)
	}
	if intent.Side != SideShort || !intent.ReduceOnly || intent.Size != 10 {
		t.Fatalf("reduce must close the full long, got %+v", intent)
	}
	if _, ok := engine.HighWaterMark("SUI"); ok {
		t.Fatalf("banking must clear the high-water mark")
	}
}

func TestRatchetTightPullbackOnHighROE(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	cfg := ratchetConfig()

	// margin = 10*100/10 = 100; pnl 20 -> ROE 20% > 10%.
	engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 20, 10))
	// tight cutoff = 20 * 0.90 = 18; pnl 18.5 survives, 17 banks.
	if intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 18.5, 10)); intent != nil {
		t.Fatalf("expected hold at 18.5, got %+v", intent)
	}
	if intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 17, 10)); intent == nil {
		t.Fatalf("expected tight-pullback bank at 17")
	}
}

func TestRatchetFloorClampsCutoff(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	cfg := ratchetConfig()

	// high 0.55, pullback cutoff 0.44 but floor is 0.20 so 0.44 holds.
	engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 0.55, 10))
	if intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 0.45, 10)); intent != nil {
		t.Fatalf("expected hold above cutoff, got %+v", intent)
	}
	// Raise the floor above the percentage cutoff.
	cfg.FloorUSD = 0.50
	if intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 0.45, 10)); intent == nil {
		t.Fatalf("expected floor-triggered bank at 0.45")
	}
}

func TestRatchetHardStop(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	cfg := ratchetConfig()

	// lev 10, stop 0.05 -> maxLoss 50% ROE. margin = 100, pnl -51 -> ROE -51%.
	intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, -51, 10))
	if intent == nil || intent.Kind != KindReduce || !intent.ReduceOnly {
		t.Fatalf("expected hard stop, got %+v", intent)
	}
	// -49% survives.
	if intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, -49, 10)); intent != nil {
		t.Fatalf("expected hold at -49%%, got %+v", intent)
	}
}

func TestRatchetMaxROELossCapsHardStop(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	cfg := ratchetConfig()
	cfg.StopLossPct = 0.10 // raw stop would be 100% ROE at lev 10

	// Cap at 50% still applies: -60% ROE must stop.
	if intent := engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, -60, 10)); intent == nil {
		t.Fatalf("expected capped hard stop at -60%% ROE")
	}
}

func TestRatchetZeroMarginSkipsROEChecks(t *testing.T) {
	ctx := context.Background()
	engine := NewRatchetEngine(newMemStore(), zap.NewNop())
	cfg := ratchetConfig()

	pos := &Position{Symbol: "SUI", Side: SideLong, Size: 10, EntryPrice: 0, UnrealizedPnl: -500, Leverage: 10}
	if intent := engine.Evaluate(ctx, cfg, "SUI", pos); intent != nil {
		t.Fatalf("unusable margin must disable ROE stops, got %+v", intent)
	}
}

func TestRatchetClearsOnFlat(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	engine := NewRatchetEngine(store, zap.NewNop())
	cfg := ratchetConfig()

	engine.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 2.00, 10))
	if len(store.data) != 1 {
		t.Fatalf("expected persisted high, store has %d keys", len(store.data))
	}
	engine.Evaluate(ctx, cfg, "SUI", nil)
	if _, ok := engine.HighWaterMark("SUI"); ok {
		t.Fatalf("flat position must clear ratchet state")
	}
	if len(store.data) != 0 {
		t.Fatalf("flat position must clear persisted state")
	}
}

func TestRatchetRestore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cfg := ratchetConfig()

	first := NewRatchetEngine(store, zap.NewNop())
	first.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 3.00, 10))

	second := NewRatchetEngine(store, zap.NewNop())
	if err := second.Restore(ctx, "SUI"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if high, ok := second.HighWaterMark("SUI"); !ok || high != 3.00 {
		t.Fatalf("expected restored high 3.00, got %f ok=%v", high, ok)
	}
	// Restored high enforces the cutoff immediately.
	if intent := second.Evaluate(ctx, cfg, "SUI", longPosition(10, 100, 2.00, 10)); intent == nil {
		t.Fatalf("expected bank against restored high")
	}
}

func TestRatchetRestoreCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.data["ratchet:SUI"] = "{not json"
	engine := NewRatchetEngine(store, zap.NewNop())
	if err := engine.Restore(ctx, "SUI"); err == nil {
		t.Fatalf("expected error for corrupt record")
	}
}
