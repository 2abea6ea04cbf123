package machine

import (
	"errors"
	"testing"
)

func TestTransitionFollowsTable(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{Initial, Next, LoadingModel},
		{LoadingModel, Next, AwaitingUpload},
		{AwaitingUpload, Next, Ready},
		{Ready, Next, Classifying},
		{Classifying, Next, Complete},
		{Complete, Next, AwaitingUpload},
		{LoadError, Next, LoadingModel},
		{LoadingModel, Fail, LoadError},
		{Classifying, Fail, AwaitingUpload},
	}

	for _, tc := range cases {
		got, err := Transition(tc.from, tc.event)
		if err != nil {
			t.Fatalf("%s on %s: unexpected error: %v", tc.from, tc.event, err)
		}
		if got != tc.want {
			t.Fatalf("%s on %s: expected %s, got %s", tc.from, tc.event, tc.want, got)
		}
	}
}

func TestFlagsMatchTable(t *testing.T) {
	expected := map[State]Flags{
		Initial:        {},
		LoadingModel:   {},
		AwaitingUpload: {},
		Ready:          {ShowImage: true},
		Classifying:    {ShowImage: true},
		Complete:       {ShowImage: true, ShowResults: true},
		LoadError:      {},
	}
	for _, s := range States() {
		if got := s.Flags(); got != expected[s] {
			t.Fatalf("%s: expected flags %+v, got %+v", s, expected[s], got)
		}
		if s != Complete && s.Flags().ShowResults {
			t.Fatalf("%s must not show results", s)
		}
	}
}

func TestTransitionNeverLeavesKnownStates(t *testing.T) {
	known := make(map[State]bool)
	for _, s := range States() {
		known[s] = true
	}
	for _, s := range append(States(), State(42)) {
		for _, e := range []Event{Next, Fail, Event(9)} {
			got, _ := Transition(s, e)
			if !known[got] {
				t.Fatalf("%s on %s produced unknown state %s", s, e, got)
			}
		}
	}
}

func TestTransitionIsIdempotent(t *testing.T) {
	for _, s := range States() {
		first, firstErr := Transition(s, Next)
		for i := 0; i < 3; i++ {
			got, err := Transition(s, Next)
			if got != first || (err == nil) != (firstErr == nil) {
				t.Fatalf("%s: repeated call diverged: %s/%v vs %s/%v", s, first, firstErr, got, err)
			}
		}
	}
}

func TestUnknownPairFallsBackToInitial(t *testing.T) {
	got, err := Transition(Ready, Fail)
	if got != Initial {
		t.Fatalf("expected fallback to %s, got %s", Initial, got)
	}
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	var trErr *TransitionError
	if !errors.As(err, &trErr) || trErr.State != Ready || trErr.Event != Fail {
		t.Fatalf("expected TransitionError for ready/fail, got %#v", err)
	}

	got, err = Transition(State(99), Next)
	if got != Initial || err == nil {
		t.Fatalf("expected unknown state to fall back with error, got %s/%v", got, err)
	}
}

func TestSequenceMatchesScenarios(t *testing.T) {
	s := Initial
	steps := []State{LoadingModel, AwaitingUpload, Ready, Classifying, Complete, AwaitingUpload}
	for _, want := range steps {
		next, err := Transition(s, Next)
		if err != nil {
			t.Fatalf("unexpected error from %s: %v", s, err)
		}
		if next != want {
			t.Fatalf("expected %s after %s, got %s", want, s, next)
		}
		s = next
	}
	if flags := LoadingModel.Flags(); flags.ShowImage {
		t.Fatal("loadingModel must not show the image")
	}
}

func TestParseStateRoundTrip(t *testing.T) {
	for _, s := range States() {
		parsed, err := ParseState(s.String())
		if err != nil || parsed != s {
			t.Fatalf("ParseState(%q) = %s, %v", s.String(), parsed, err)
		}
	}
	if _, err := ParseState("finished"); err == nil {
		t.Fatal("expected error for unknown name")
	}
}
