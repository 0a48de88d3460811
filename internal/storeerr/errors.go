// Package storeerr defines the sentinel error taxonomy shared by every Store
// implementation (embedded, remote) and mapped onto HTTP status codes by the
// httpapi package.
package storeerr

import "errors"

var (
	// ErrDuplicateHash is returned when Store is called with content whose
	// hash already exists.
	ErrDuplicateHash = errors.New("duplicate content hash")

	// ErrNotFound is returned when a memory, tag, or hash lookup finds
	// nothing.
	ErrNotFound = errors.New("memory not found")

	// ErrInvalidArgument is returned for malformed input: empty content,
	// an unparsable time expression, a negative limit, and so on.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEmbeddingFailure is returned when the embedding provider cannot
	// produce a vector for the given text.
	ErrEmbeddingFailure = errors.New("embedding generation failed")

	// ErrStorageBusy is returned when the embedded database could not
	// acquire a write lock within its retry budget.
	ErrStorageBusy = errors.New("storage busy")

	// ErrUnsupportedRemote is returned by the remote Store client for
	// operations the HTTP surface does not expose for safety reasons
	// (global delete-by-tag, duplicate cleanup, and similar bulk ops).
	ErrUnsupportedRemote = errors.New("operation not supported over the remote client")

	// ErrInternal wraps unexpected failures that do not fit another
	// category (I/O errors, JSON corruption, and so on).
	ErrInternal = errors.New("internal error")
)
