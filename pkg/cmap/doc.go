// Package cmap provides a generic map split into shards, each behind its own
// RWMutex, so that writers to different keys rarely contend.
//
// String keys are hashed with murmur3; integer keys go through the murmur3
// finalizer. Compute and DeleteIf run their callbacks under the shard lock,
// which makes read-modify-write of one key atomic. All, Range, Keys and
// Values visit shards one after another; Snapshot holds every shard at once
// and is the only way to see a single instant.
//
//	m := cmap.New[string, *Entry](cmap.WithShards(64))
//	m.Set("rx://subscriptions/1", e)
//	e, ok := m.Get("rx://subscriptions/1")
package cmap
