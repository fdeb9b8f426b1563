// Package storage defines the checkpoint store contract and its durable
// implementations.
//
// A store keeps, per checkpoint id, exactly one committed state: a set of
// (category, key) items with opaque byte values. Writers stage changes and
// publish them atomically on Commit:
//
//	StartNew  full checkpoint, replaces the committed state
//	Update    differential checkpoint, applies puts and deletes on top of it
//
// At most one writer may be open per id. Readers obtained from
// TryReadCurrent observe one committed state for their whole life, no matter
// how many commits happen meanwhile.
//
// Backends:
//
//   - memory (subpackage): immutable states published through a sharded map
//   - BadgerStore: one Badger transaction per commit, readers hold a read txn
//   - SQLiteStore: one SQL transaction per commit
//   - filestore (subpackage): snapshot files for full checkpoints plus a
//     write-ahead log of differential commits, optionally encrypted
package storage
