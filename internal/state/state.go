// Package state implements the widget lifecycle state machine as a
// pure transition function over a fixed state and action alphabet.
package state

// State is the widget/session lifecycle state.
type State string

const (
	Uninitialized  State = "UNINITIALIZED"
	Initializing   State = "INITIALIZING"
	Ready          State = "READY"
	Calculating    State = "CALCULATING"
	QuoteAvailable State = "QUOTE_AVAILABLE"
	Errored        State = "ERROR"
	Destroyed      State = "DESTROYED"
)

// Action is a lifecycle transition trigger.
type Action string

const (
	Initialize        Action = "INITIALIZE"
	MarkReady         Action = "READY"
	CalculateQuote    Action = "CALCULATE_QUOTE"
	QuoteReady        Action = "QUOTE_READY"
	SelectProtection  Action = "SELECT_PROTECTION"
	DeclineProtection Action = "DECLINE_PROTECTION"
	Fail              Action = "ERROR"
	Destroy           Action = "DESTROY"
)

// Reduce applies action to state and returns the next state. Illegal
// transitions are no-ops returning the state unchanged, never an
// error: out-of-order host calls must degrade, not crash. Destroyed
// absorbs every action.
func Reduce(s State, a Action) State {
	switch s {
	case Uninitialized:
		if a == Initialize {
			return Initializing
		}
	case Initializing:
		switch a {
		case MarkReady:
			return Ready
		case Fail:
			return Errored
		}
	case Ready:
		switch a {
		case CalculateQuote:
			return Calculating
		case Fail:
			return Errored
		}
	case Calculating:
		switch a {
		case QuoteReady:
			return QuoteAvailable
		case Fail:
			return Errored
		}
	case QuoteAvailable:
		switch a {
		case SelectProtection, DeclineProtection:
			return Ready
		case Fail:
			return Errored
		}
	case Errored:
		if a == Destroy {
			return Destroyed
		}
	case Destroyed:
		return Destroyed
	}
	return s
}

// Active reports whether the state still accepts lifecycle work.
func Active(s State) bool {
	return s != Errored && s != Destroyed
}
