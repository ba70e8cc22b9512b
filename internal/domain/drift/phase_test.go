package drift

import "testing"

func TestCanTransitionForwardOnly(t *testing.T) {
	cases := []struct {
		name string
		from Phase
		to   Phase
		want bool
	}{
		{"queued to scouting", PhaseQueued, PhaseScouting, true},
		{"scouting to analyzing", PhaseScouting, PhaseAnalyzing, true},
		{"queued skips to verifying", PhaseQueued, PhaseVerifying, true},
		{"verifying to completed", PhaseVerifying, PhaseCompleted, true},
		{"analyzing back to scouting", PhaseAnalyzing, PhaseScouting, false},
		{"completed to anything", PhaseCompleted, PhaseFailed, false},
		{"failed to queued", PhaseFailed, PhaseQueued, false},
		{"same phase", PhaseAnalyzing, PhaseAnalyzing, false},
		{"unknown from", Phase("weird"), PhaseScouting, false},
		{"unknown to", PhaseScouting, Phase("weird"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestFailedReachableFromEveryNonTerminalPhase(t *testing.T) {
	for _, from := range []Phase{PhaseQueued, PhaseScouting, PhaseAnalyzing, PhaseGenerating, PhaseVerifying} {
		if !CanTransition(from, PhaseFailed) {
			t.Fatalf("CanTransition(%s, failed) = false", from)
		}
	}
}

func TestTerminalPhases(t *testing.T) {
	if !PhaseCompleted.Terminal() || !PhaseFailed.Terminal() {
		t.Fatal("completed and failed must be terminal")
	}
	for _, p := range []Phase{PhaseQueued, PhaseScouting, PhaseAnalyzing, PhaseGenerating, PhaseVerifying} {
		if p.Terminal() {
			t.Fatalf("%s must not be terminal", p)
		}
	}
}

func TestResultValid(t *testing.T) {
	for _, r := range []Result{ResultPending, ResultClean, ResultDriftDetected, ResultMissingDocs, ResultError} {
		if !r.Valid() {
			t.Fatalf("Result(%s).Valid() = false", r)
		}
	}
	if Result("partial").Valid() {
		t.Fatal("unknown result must be invalid")
	}
}
