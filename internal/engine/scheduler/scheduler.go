package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/yndnr/rxcheckpoint/internal/infra/event"
)

var (
	// ErrInvalidTransition is returned for Pause while not running or
	// Continue while not paused.
	ErrInvalidTransition = errors.New("scheduler: invalid state transition")

	// ErrClosed is returned by operations on a closed scheduler.
	ErrClosed = errors.New("scheduler: closed")
)

// State is a pause protocol state.
type State int32

const (
	StateRunning State = iota
	StatePausing
	StatePaused
	StateContinuing
	StateContinued
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePausing:
		return "pausing"
	case StatePaused:
		return "paused"
	case StateContinuing:
		return "continuing"
	case StateContinued:
		return "continued"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Transition is the payload of scheduler events.
type Transition struct {
	From State
	To   State
}

// Events holds the callback lists of the pause protocol.
type Events struct {
	Pausing    event.List[Transition]
	Paused     event.List[Transition]
	Continuing event.List[Transition]
	Continued  event.List[Transition]
}

func (e *Events) emit(from, to State) {
	t := Transition{From: from, To: to}
	switch to {
	case StatePausing:
		e.Pausing.Emit(t)
	case StatePaused:
		e.Paused.Emit(t)
	case StateContinuing:
		e.Continuing.Emit(t)
	case StateContinued:
		e.Continued.Emit(t)
	}
}

// Scheduler is the contract the orchestrator relies on.
type Scheduler interface {
	// Pause stops dispatching and waits for executing tasks to finish.
	Pause(ctx context.Context) error

	// Continue resumes dispatching.
	Continue(ctx context.Context) error

	// State returns the current protocol state.
	State() State

	// Events returns the protocol callback lists.
	Events() *Events
}

// Task is a unit of work run by a scheduler.
type Task func(ctx context.Context)
