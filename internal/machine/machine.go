// Package machine holds the finite-state machine that drives the identify
// flow: load model, await upload, classify, show results, reset.
package machine

import (
	"errors"
	"fmt"
)

// State is one step of the identify flow.
type State int

const (
	Initial State = iota
	LoadingModel
	AwaitingUpload
	Ready
	Classifying
	Complete
	LoadError
)

// Event triggers a transition.
type Event int

const (
	Next Event = iota
	Fail
)

// ErrInvalidTransition is reported when the table has no entry for a
// (state, event) pair.
var ErrInvalidTransition = errors.New("invalid transition")

// TransitionError describes a rejected (state, event) pair.
type TransitionError struct {
	State State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: no %q transition from state %q", ErrInvalidTransition, e.Event, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Flags are the display switches derived from a state.
type Flags struct {
	ShowImage   bool
	ShowResults bool
}

// States lists every state in declaration order.
func States() []State {
	return []State{Initial, LoadingModel, AwaitingUpload, Ready, Classifying, Complete, LoadError}
}

// Transition returns the state that follows current on event. Pairs missing
// from the table fall back to Initial and are reported as a *TransitionError.
func Transition(current State, event Event) (State, error) {
	switch event {
	case Next:
		switch current {
		case Initial:
			return LoadingModel, nil
		case LoadingModel:
			return AwaitingUpload, nil
		case AwaitingUpload:
			return Ready, nil
		case Ready:
			return Classifying, nil
		case Classifying:
			return Complete, nil
		case Complete:
			return AwaitingUpload, nil
		case LoadError:
			return LoadingModel, nil
		}
	case Fail:
		switch current {
		case LoadingModel:
			return LoadError, nil
		case Classifying:
			return AwaitingUpload, nil
		}
	}
	return Initial, &TransitionError{State: current, Event: event}
}

// Flags reports which display elements are visible in s.
func (s State) Flags() Flags {
	switch s {
	case Ready, Classifying:
		return Flags{ShowImage: true}
	case Complete:
		return Flags{ShowImage: true, ShowResults: true}
	default:
		return Flags{}
	}
}

// Busy reports whether an asynchronous operation is outstanding in s.
func (s State) Busy() bool {
	return s == LoadingModel || s == Classifying
}

func (s State) String() string {
	switch s {
	case Initial:
		return "initial"
	case LoadingModel:
		return "loadingModel"
	case AwaitingUpload:
		return "awaitingUpload"
	case Ready:
		return "ready"
	case Classifying:
		return "classifying"
	case Complete:
		return "complete"
	case LoadError:
		return "loadError"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState resolves a state name.
func ParseState(name string) (State, error) {
	for _, s := range States() {
		if s.String() == name {
			return s, nil
		}
	}
	return Initial, fmt.Errorf("unknown state %q", name)
}

func (e Event) String() string {
	switch e {
	case Next:
		return "next"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}
