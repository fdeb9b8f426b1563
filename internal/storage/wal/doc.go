// Package wal journals differential checkpoint commits.
//
// A full checkpoint is written as a snapshot file. Every differential commit
// on top of it is appended here as a single frame, so a commit is either
// replayed completely or not at all. Loading a checkpoint reads the newest
// snapshot and replays the frames whose sequence is greater than the
// snapshot's.
//
// Format:
//
//	wal-<segment-id>.log
//	[magic:8 "RXCKWAL\x01"]
//	[Entry]*
//	[checksum:32 SHA-256 of all bytes above] (absent for the active segment)
//
// Entry wire format:
//
//	[Length:4][CRC32:4][Type:1][Payload:Length-5]
//
// Where:
//   - Length = CRC32 + Type + Payload (big-endian uint32)
//   - CRC32 covers Type+Payload (IEEE)
//   - Payload is JSON; item changes may be an encrypted blob
//
// A torn frame at the tail of a segment fails its CRC and ends replay of
// that segment.
package wal
