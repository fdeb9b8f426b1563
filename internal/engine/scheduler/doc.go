// Package scheduler defines the pause/continue protocol between the
// checkpoint orchestrator and the task scheduler that drives entities, and
// provides a worker-pool implementation of it.
//
// State machine:
//
//	Running -> Pausing -> Paused -> Continuing -> Continued -> Running
//
// Pause returns once the tasks that were executing when it was called have
// finished; queued tasks wait until Continue. Each transition is announced
// on the corresponding event list before Pause or Continue returns.
package scheduler
