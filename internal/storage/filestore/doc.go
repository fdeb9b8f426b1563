// Package filestore implements storage.Store on plain files.
//
// Every checkpoint id owns a directory under the store root:
//
//	<root>/<base64url(id)>/snapshots/snapshot-<seq>-<ns>.snap
//	<root>/<base64url(id)>/wal/wal-<segment>.log
//
// A full commit writes a snapshot of the new state. A differential commit
// appends one entry to the write-ahead log and is folded into a snapshot
// once the log outgrows Config.WALMaxBytes. Loading reads the newest valid
// snapshot and replays the log entries committed after it.
//
// With encryption enabled, snapshots and log bodies are sealed with
// separate subkeys derived from one master key. A passphrase master key
// uses a salt kept in <root>/salt.
package filestore
