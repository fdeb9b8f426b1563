package engine

import (
	"github.com/yndnr/rxcheckpoint/internal/core/domain"
	"github.com/yndnr/rxcheckpoint/internal/infra/event"
)

// FailureEvent reports one entity that could not be saved or loaded.
// Handlers run on checkpoint or recovery workers, possibly concurrently.
type FailureEvent struct {
	ID   string
	Kind domain.Kind
	Err  error

	// Entity is the live entity on save and the invalid placeholder on load.
	Entity *domain.Entity

	// Handled absorbs the failure. Set it from the handler.
	Handled bool
}

// Events holds the engine lifecycle callback lists. Handlers run
// synchronously on the goroutine that caused the event.
type Events struct {
	// Created fires for new instances.
	Created event.List[*domain.Entity]
	// Deleted fires for removed instances.
	Deleted event.List[*domain.Entity]
	// Defined fires for new definitions.
	Defined event.List[*domain.Entity]
	// Undefined fires for removed definitions.
	Undefined event.List[*domain.Entity]

	SaveFailed event.List[*FailureEvent]
	LoadFailed event.List[*FailureEvent]
}

func (ev *Events) added(e *domain.Entity) {
	if e.Kind.IsDefinition() {
		ev.Defined.Emit(e)
	} else {
		ev.Created.Emit(e)
	}
}

func (ev *Events) removed(e *domain.Entity) {
	if e.Kind.IsDefinition() {
		ev.Undefined.Emit(e)
	} else {
		ev.Deleted.Emit(e)
	}
}
