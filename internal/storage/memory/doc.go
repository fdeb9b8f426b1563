// Package memory provides the in-memory checkpoint store.
//
// Committed states are immutable and published by swapping a pointer in a
// sharded map, so readers opened before a commit keep the state they
// opened while new readers see the latest one.
//
// The store is the reference implementation of the storage contract and
// the default backend for tests and for engines that do not need durable
// checkpoints.
package memory
