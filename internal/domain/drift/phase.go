package drift

// Phase is the processing state of one drift analysis run. Only the analysis
// worker advances phases; transitions never move backward.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseScouting   Phase = "scouting"
	PhaseAnalyzing  Phase = "analyzing"
	PhaseGenerating Phase = "generating"
	PhaseVerifying  Phase = "verifying"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Result is the classified outcome of a run. It starts as pending and is set
// exactly once, at or before the transition into completed, or to error when
// the run aborts.
type Result string

const (
	ResultPending       Result = "pending"
	ResultClean         Result = "clean"
	ResultDriftDetected Result = "drift_detected"
	ResultMissingDocs   Result = "missing_docs"
	ResultError         Result = "error"
)

var phaseOrder = map[Phase]int{
	PhaseQueued:     0,
	PhaseScouting:   1,
	PhaseAnalyzing:  2,
	PhaseGenerating: 3,
	PhaseVerifying:  4,
	PhaseCompleted:  5,
}

func (p Phase) Valid() bool {
	if p == PhaseFailed {
		return true
	}
	_, ok := phaseOrder[p]
	return ok
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

func (r Result) Valid() bool {
	switch r {
	case ResultPending, ResultClean, ResultDriftDetected, ResultMissingDocs, ResultError:
		return true
	}
	return false
}

// CanTransition reports whether a run may move from one phase to another.
// Failed is reachable from any non-terminal phase; otherwise phases only move
// forward along the pipeline order.
func CanTransition(from Phase, to Phase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == PhaseFailed {
		return true
	}

	fromIdx, ok := phaseOrder[from]
	if !ok {
		return false
	}
	toIdx, ok := phaseOrder[to]
	if !ok {
		return false
	}
	return toIdx > fromIdx
}
