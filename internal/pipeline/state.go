package pipeline

import "fmt"

// State is a step of one assessment session.
type State string

const (
	StateCreated                 State = "created"
	StateValidating              State = "validating"
	StateValid                   State = "valid"
	StateIngesting               State = "ingesting"
	StateAnalyzingClinical       State = "analyzing_clinical"
	StateAnalyzingAnthropometric State = "analyzing_anthropometric"
	StateAnalyzingConcurrent     State = "analyzing_concurrent"
	StateAnalyzingBiochemical    State = "analyzing_biochemical"
	StateAnalyzingDietary        State = "analyzing_dietary"
	StateDetectingConflicts      State = "detecting_conflicts"
	StateClear                   State = "clear"
	StateSynthesizing            State = "synthesizing"
	StateCompleted               State = "completed"
	StateAborted                 State = "aborted"
	StateErrored                 State = "errored"
)

var allowedTransitions = map[State]map[State]struct{}{
	StateCreated: {
		StateValidating: {},
		StateErrored:    {},
	},
	StateValidating: {
		StateValid:   {},
		StateAborted: {},
		StateErrored: {},
	},
	StateValid: {
		StateIngesting:           {},
		StateAnalyzingClinical:   {},
		StateAnalyzingConcurrent: {},
		StateErrored:             {},
	},
	StateIngesting: {
		StateAnalyzingClinical:   {},
		StateAnalyzingConcurrent: {},
		StateErrored:             {},
	},
	StateAnalyzingClinical: {
		StateAnalyzingAnthropometric: {},
		StateErrored:                 {},
	},
	StateAnalyzingAnthropometric: {
		StateAnalyzingBiochemical: {},
		StateErrored:              {},
	},
	StateAnalyzingBiochemical: {
		StateAnalyzingDietary:   {},
		StateDetectingConflicts: {},
		StateErrored:            {},
	},
	StateAnalyzingDietary: {
		StateDetectingConflicts: {},
		StateErrored:            {},
	},
	StateAnalyzingConcurrent: {
		StateAnalyzingBiochemical: {},
		StateErrored:              {},
	},
	StateDetectingConflicts: {
		StateClear:   {},
		StateAborted: {},
		StateErrored: {},
	},
	StateClear: {
		StateSynthesizing: {},
		StateErrored:      {},
	},
	StateSynthesizing: {
		StateCompleted: {},
		StateErrored:   {},
	},
	StateCompleted: {},
	StateAborted:   {},
	StateErrored:   {},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	next, ok := allowedTransitions[s]
	return ok && len(next) == 0
}

func ValidateTransition(from, to State) error {
	if _, ok := allowedTransitions[from]; !ok {
		return fmt.Errorf("invalid session state: %q", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("invalid session state: %q", to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid session transition: %s -> %s", from, to)
	}
	return nil
}
