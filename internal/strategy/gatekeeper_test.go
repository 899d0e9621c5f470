package strategy

import (
	"testing"
	"time"

	"hl-grid-bot/internal/config"
)

func gateConfig(policy string) config.GatekeeperConfig {
	return config.GatekeeperConfig{
		Policy:        policy,
		LookbackBars:  15,
		ThresholdPct:  0.01,
		PauseDuration: 15 * time.Minute,
	}
}

func flatBars(n int, price float64) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{High: price, Low: price}
	}
	return bars
}

func wideBars(n int) []Bar {
	bars := flatBars(n, 100)
	bars[n-1] = Bar{High: 102, Low: 100}
	return bars
}

func TestGatekeeperDefensiveStaysSafeOnQuietMarket(t *testing.T) {
	gate := NewGatekeeper(gateConfig(config.PolicyDefensive))
	gs := &GateState{}
	decision := gate.Evaluate(gs, flatBars(15, 100), time.Now())
	if decision.Mode != ModeSafe || decision.Flush {
		t.Fatalf("expected SAFE without flush, got %+v", decision)
	}
}

func TestGatekeeperDefensivePausesAndFlushes(t *testing.T) {
	gate := NewGatekeeper(gateConfig(config.PolicyDefensive))
	gs := &GateState{}
	now := time.Now()
	decision := gate.Evaluate(gs, wideBars(15), now)
	if decision.Mode != ModePaused || !decision.Flush {
		t.Fatalf("expected PAUSED with flush, got %+v", decision)
	}
	if gs.PausedUntil != now.Add(15*time.Minute) {
		t.Fatalf("wrong pause deadline: %v", gs.PausedUntil)
	}
	// While the timer runs, no second flush even if volatility persists.
	decision = gate.Evaluate(gs, wideBars(15), now.Add(time.Minute))
	if decision.Mode != ModePaused || decision.Flush {
		t.Fatalf("expected quiet PAUSED, got %+v", decision)
	}
}

func TestGatekeeperDefensiveResumesAfterPause(t *testing.T) {
	gate := NewGatekeeper(gateConfig(config.PolicyDefensive))
	gs := &GateState{}
	now := time.Now()
	gate.Evaluate(gs, wideBars(15), now)
	decision := gate.Evaluate(gs, flatBars(15, 100), now.Add(15*time.Minute))
	if decision.Mode != ModeSafe || !decision.Resumed {
		t.Fatalf("expected SAFE with resume signal, got %+v", decision)
	}
	if !gs.PausedUntil.IsZero() {
		t.Fatalf("resume must clear the deadline")
	}
}

func TestGatekeeperDefensiveFailsOpenOnShortHistory(t *testing.T) {
	gate := NewGatekeeper(gateConfig(config.PolicyDefensive))
	gs := &GateState{}
	decision := gate.Evaluate(gs, wideBars(5), time.Now())
	if decision.Mode != ModeSafe || decision.HasRange {
		t.Fatalf("short history must fail open, got %+v", decision)
	}
}

func TestGatekeeperOpportunisticDormantUntilVolatile(t *testing.T) {
	gate := NewGatekeeper(gateConfig(config.PolicyOpportunistic))
	gs := &GateState{}
	now := time.Now()

	decision := gate.Evaluate(gs, flatBars(15, 100), now)
	if decision.Mode != ModePaused || decision.Flush {
		t.Fatalf("quiet market must be dormant without flush, got %+v", decision)
	}

	// Volatility before the timer elapses keeps it dormant.
	decision = gate.Evaluate(gs, wideBars(15), now.Add(time.Minute))
	if decision.Mode != ModePaused {
		t.Fatalf("expected dormant before deadline, got %+v", decision)
	}

	decision = gate.Evaluate(gs, wideBars(15), now.Add(16*time.Minute))
	if decision.Mode != ModeSafe {
		t.Fatalf("expected active after deadline, got %+v", decision)
	}
	if !decision.Resumed {
		t.Fatalf("waking from dormancy must report Resumed, got %+v", decision)
	}
	if !gs.PausedUntil.IsZero() {
		t.Fatalf("expected pause deadline cleared, got %v", gs.PausedUntil)
	}

	// Staying active is not another resume.
	decision = gate.Evaluate(gs, wideBars(15), now.Add(17*time.Minute))
	if decision.Mode != ModeSafe || decision.Resumed {
		t.Fatalf("expected steady active without resume, got %+v", decision)
	}
}

func TestGatekeeperOpportunisticStaysDormantOnShortHistory(t *testing.T) {
	gate := NewGatekeeper(gateConfig(config.PolicyOpportunistic))
	gs := &GateState{Mode: ModePaused}
	decision := gate.Evaluate(gs, wideBars(5), time.Now())
	if decision.Mode != ModePaused {
		t.Fatalf("missing history must keep opportunistic dormant, got %+v", decision)
	}
}

func TestRangeOverWindow(t *testing.T) {
	bars := flatBars(15, 100)
	bars[3] = Bar{High: 103, Low: 100}
	bars[10] = Bar{High: 101, Low: 99}
	rangePct, ok := rangeOverWindow(bars, 15)
	if !ok {
		t.Fatalf("expected a range")
	}
	want := (103.0 - 99.0) / 99.0
	if rangePct != want {
		t.Fatalf("range = %f, want %f", rangePct, want)
	}
	if _, ok := rangeOverWindow(bars, 16); ok {
		t.Fatalf("insufficient bars must report no range")
	}
}
