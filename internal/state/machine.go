package state

// Phase is a named pipeline state. Transitions are restricted to the
// table below; Reflecting may loop back to Synthesizing while the
// reflection pass bound allows it.
type Phase int

const (
	PhaseRouting Phase = iota
	PhaseResearching
	PhaseAnalyzing
	PhaseSynthesizing
	PhaseReflecting
	PhaseResponding
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseRouting:
		return "routing"
	case PhaseResearching:
		return "researching"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseSynthesizing:
		return "synthesizing"
	case PhaseReflecting:
		return "reflecting"
	case PhaseResponding:
		return "responding"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

var transitions = map[Phase][]Phase{
	PhaseRouting:      {PhaseResearching, PhaseResponding},
	PhaseResearching:  {PhaseAnalyzing, PhaseResponding},
	PhaseAnalyzing:    {PhaseSynthesizing, PhaseResponding},
	PhaseSynthesizing: {PhaseReflecting, PhaseResponding},
	PhaseReflecting:   {PhaseSynthesizing, PhaseResponding},
	PhaseResponding:   {PhaseDone},
	PhaseDone:         {},
}

// CanTransition reports whether from -> to is a legal pipeline move.
// The Reflecting -> Synthesizing edge is additionally guarded by the
// reflection pass counter.
func (s *State) CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next != to {
			continue
		}
		if from == PhaseReflecting && to == PhaseSynthesizing {
			return s.ReflectionPasses() < s.maxPasses
		}
		return true
	}
	return false
}
