// Package snapshot stores full checkpoint states as single files and owns
// the key material used to encrypt them at rest.
//
// A file is named snapshot-<sequence>-<ulid>.snap and holds
//
//	"RXCKSNAP"
//	[len:4][header JSON]
//	[len:4][items JSON, sealed with the cipher when one is configured]
//	[SHA-256 of everything above]
//
// Files are written under a temporary name and renamed once synced. Load
// takes the newest file whose trailer verifies.
package snapshot
