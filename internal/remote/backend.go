package remote

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the named object does not exist.
var ErrNotFound = errors.New("remote object not found")

// Backend stores opaque named objects for the sync client. All operations
// stream through io.Reader/io.Writer so large bundles are never held twice.
type Backend interface {
	// Put stores the size bytes read from r under name, replacing any
	// previous object. Readers never observe a partially written object.
	Put(ctx context.Context, name string, r io.Reader, size int64) error

	// Get writes the object stored under name to w. Returns ErrNotFound when
	// there is none.
	Get(ctx context.Context, name string, w io.Writer) error

	// Exists reports whether an object is stored under name.
	Exists(ctx context.Context, name string) (bool, error)

	// ValidateSetup verifies that the backend is reachable and usable with
	// the configured credentials.
	ValidateSetup(ctx context.Context) error
}
