// Package engine hosts the entities of one reactive query engine and
// orchestrates their checkpoints and recoveries.
//
// An Engine owns an entity registry, a template registry and a quiescence
// gate. Every entity-mutating operation runs inside a gate scope, so a
// checkpoint can pause the scheduler, rotate the gate, wait for in-flight
// mutations of the old generation and then clone the registry: mutations
// that completed before the pause are in the checkpoint, later ones are
// picked up by the next one.
//
// Checkpoint flow:
//
//	Pause -> Rotate+Wait -> Clone -> encode entities (bounded pool)
//	      -> templates -> deletions -> Commit | Rollback -> Continue
//
// Recovery restores templates first, then every category in dependency
// order, binding instances through the InstanceFactory.
//
// Per-entity failures are reported on the SaveFailed and LoadFailed event
// lists. A handler that sets Handled absorbs the failure; the remaining ones
// are returned as a single *domain.AggregateError once every entity was
// attempted. A checkpoint commits only when no failure is left unhandled.
package engine
