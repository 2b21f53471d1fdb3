package state

import "testing"

func TestReduce_LegalTransitions(t *testing.T) {
	cases := []struct {
		name   string
		from   State
		action Action
		want   State
	}{
		{"initialize", Uninitialized, Initialize, Initializing},
		{"ready", Initializing, MarkReady, Ready},
		{"init failure", Initializing, Fail, Errored},
		{"calculate", Ready, CalculateQuote, Calculating},
		{"ready failure", Ready, Fail, Errored},
		{"quote ready", Calculating, QuoteReady, QuoteAvailable},
		{"calc failure", Calculating, Fail, Errored},
		{"select", QuoteAvailable, SelectProtection, Ready},
		{"decline", QuoteAvailable, DeclineProtection, Ready},
		{"quote failure", QuoteAvailable, Fail, Errored},
		{"destroy from error", Errored, Destroy, Destroyed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Reduce(tc.from, tc.action); got != tc.want {
				t.Fatalf("Reduce(%s, %s) = %s, want %s", tc.from, tc.action, got, tc.want)
			}
		})
	}
}

func TestReduce_IllegalActionsAreNoOps(t *testing.T) {
	allActions := []Action{Initialize, MarkReady, CalculateQuote, QuoteReady, SelectProtection, DeclineProtection, Fail, Destroy}

	legal := map[State]map[Action]bool{
		Uninitialized:  {Initialize: true},
		Initializing:   {MarkReady: true, Fail: true},
		Ready:          {CalculateQuote: true, Fail: true},
		Calculating:    {QuoteReady: true, Fail: true},
		QuoteAvailable: {SelectProtection: true, DeclineProtection: true, Fail: true},
		Errored:        {Destroy: true},
		Destroyed:      {},
	}

	for from, allowed := range legal {
		for _, action := range allActions {
			if allowed[action] {
				continue
			}
			if got := Reduce(from, action); got != from {
				t.Fatalf("Reduce(%s, %s) = %s, want unchanged %s", from, action, got, from)
			}
		}
	}
}

func TestReduce_DeclineInReadyStaysReady(t *testing.T) {
	if got := Reduce(Ready, DeclineProtection); got != Ready {
		t.Fatalf("Reduce(READY, DECLINE_PROTECTION) = %s, want READY", got)
	}
}

func TestReduce_DestroyedAbsorbsEverything(t *testing.T) {
	for _, action := range []Action{Initialize, MarkReady, CalculateQuote, QuoteReady, SelectProtection, DeclineProtection, Fail, Destroy} {
		if got := Reduce(Destroyed, action); got != Destroyed {
			t.Fatalf("Reduce(DESTROYED, %s) = %s, want DESTROYED", action, got)
		}
	}
}

func TestReduce_NoUndefinedStates(t *testing.T) {
	known := map[State]bool{
		Uninitialized: true, Initializing: true, Ready: true,
		Calculating: true, QuoteAvailable: true, Errored: true, Destroyed: true,
	}
	actions := []Action{Initialize, MarkReady, CalculateQuote, QuoteReady, SelectProtection, DeclineProtection, Fail, Destroy}

	// Walk every action from every reachable state a few steps deep.
	frontier := []State{Uninitialized}
	for depth := 0; depth < 4; depth++ {
		var next []State
		for _, s := range frontier {
			for _, a := range actions {
				got := Reduce(s, a)
				if !known[got] {
					t.Fatalf("Reduce(%s, %s) produced undefined state %q", s, a, got)
				}
				next = append(next, got)
			}
		}
		frontier = next
	}
}
