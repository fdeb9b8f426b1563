// Package registry holds the live entities of an engine.
//
// Entities are partitioned by kind. Each partition is an InvertedCollection:
// a sharded map whose slots are either live or tombstoned, so that Clone can
// report the live table and the keys removed since the last baseline as two
// disjoint sets, plus an index from bound runtime instances back to their
// identifiers. Identifiers are unique across all partitions.
package registry
