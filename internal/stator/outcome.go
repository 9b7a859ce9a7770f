package stator

// OutcomeKind is what a handler asks the engine to do with its entity.
type OutcomeKind int

const (
	// OutcomeNoChange keeps the entity in its state and counts a failed
	// attempt. It is retried after the state's TryInterval.
	OutcomeNoChange OutcomeKind = iota
	// OutcomeDefer keeps the entity in its state without counting a failed
	// attempt. It is retried after the state's TryInterval.
	OutcomeDefer
	// OutcomeTransition moves the entity to Outcome.To.
	OutcomeTransition
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNoChange:
		return "no_change"
	case OutcomeDefer:
		return "defer"
	case OutcomeTransition:
		return "transition"
	default:
		return "unknown"
	}
}

// Outcome is the result of one handler invocation.
type Outcome struct {
	Kind OutcomeKind
	To   StateName
}

var (
	// NoChange is the "try again later, this counts as a failure" outcome.
	NoChange = Outcome{Kind: OutcomeNoChange}
	// Defer is the "try again later, nothing went wrong" outcome.
	Defer = Outcome{Kind: OutcomeDefer}
)

// TransitionTo returns an outcome moving the entity to state.
func TransitionTo(state StateName) Outcome {
	return Outcome{Kind: OutcomeTransition, To: state}
}
