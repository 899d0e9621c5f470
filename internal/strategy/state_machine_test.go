package strategy

import "testing"

func TestLifecycleTransitions(t *testing.T) {
	cases := []struct {
		name           string
		from           Phase
		hasPosition    bool
		hasEntryOrders bool
		want           Phase
	}{
		{"flat stays flat", PhaseFlat, false, false, PhaseFlat},
		{"flat with orders pends", PhaseFlat, false, true, PhasePendingEntry},
		{"pending fills", PhasePendingEntry, true, false, PhaseInPosition},
		{"pending with live orders holds", PhasePendingEntry, false, true, PhasePendingEntry},
		{"pending without orders decays", PhasePendingEntry, false, false, PhaseFlat},
		{"position closes", PhaseInPosition, false, false, PhaseFlat},
		{"position holds", PhaseInPosition, true, true, PhaseInPosition},
		{"flat with surprise position", PhaseFlat, true, false, PhaseInPosition},
	}
	for _, tc := range cases {
		if got := nextPhase(tc.from, tc.hasPosition, tc.hasEntryOrders); got != tc.want {
			t.Fatalf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestLifecycleObserve(t *testing.T) {
	lc := NewLifecycle()
	if phase := lc.Observe(false, true); phase != PhasePendingEntry {
		t.Fatalf("got %s", phase)
	}
	if phase := lc.Observe(true, false); phase != PhaseInPosition {
		t.Fatalf("got %s", phase)
	}
	if phase := lc.Observe(false, false); phase != PhaseFlat {
		t.Fatalf("got %s", phase)
	}
}
