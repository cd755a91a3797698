package executor

import "fmt"

// State is a TradeIntent's position in the execution state machine.
type State int

const (
	Building State = iota
	Signed
	RelaySubmitted
	PublicSubmitted
	Failed
)

func (s State) String() string {
	switch s {
	case Building:
		return "Building"
	case Signed:
		return "Signed"
	case RelaySubmitted:
		return "RelaySubmitted"
	case PublicSubmitted:
		return "PublicSubmitted"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

var stateTransitions = map[State][]State{
	Building: {Signed, Failed},
	Signed:   {RelaySubmitted, PublicSubmitted, Failed},
}

func (s State) CanTransitionTo(t State) bool {
	for _, allowed := range stateTransitions[s] {
		if t == allowed {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == RelaySubmitted || s == PublicSubmitted || s == Failed
}
