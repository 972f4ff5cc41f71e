// Package embedcache persists per-example feature matrices produced by a
// frozen base model so repeated epochs avoid recomputation.
//
// Storage is abstracted behind a small Store interface with a local
// filesystem backend and an object-storage backend. Writes are atomic:
// readers in concurrent processes may see entries appear mid-run but never
// observe a partially written payload.
package embedcache

import (
	"errors"
)

// ErrNotFound is returned by Get when the named entry does not exist.
// Implementations return errors satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("embedding not found")

// Store is a pluggable backend for immutable embedding blobs.
type Store interface {
	// Exists reports whether the named entry is present.
	Exists(name string) (bool, error)
	// Get returns the entry's full contents, or ErrNotFound.
	Get(name string) ([]byte, error)
	// Put writes the entry atomically. Entries are immutable once written;
	// re-putting an existing name is allowed and replaces it wholesale.
	Put(name string, data []byte) error
}
