// Package store defines the Store contract implemented by the embedded
// SQLite backend (sqlitestore) and the HTTP-backed client (remotestore), and
// the query/result types shared by both.
package store

import (
	"context"
	"time"

	"github.com/scrypster/mnemo/pkg/memory"
)

// ListOptions bounds and sorts a List call. Normalize clamps it to sane
// values so callers never need to hand-validate pagination input.
type ListOptions struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Tag        string `json:"tag,omitempty"`
	MemoryType string `json:"memory_type,omitempty"`
}

// Normalize clamps Page/Limit into a valid range, mirroring the
// defaulting/clamping pattern used for every options struct in this stack.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
}

// Offset returns the zero-based row offset implied by Page/Limit.
func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// SearchOptions configures a Retrieve (semantic) or Recall (hybrid/time)
// query.
type SearchOptions struct {
	Query    string     `json:"query"`
	Limit    int        `json:"limit,omitempty"`
	MinScore float64    `json:"min_score,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
}

// Normalize clamps Limit and MinScore into valid ranges.
func (o *SearchOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Limit > 200 {
		o.Limit = 200
	}
	if o.MinScore < 0 {
		o.MinScore = 0
	}
}

// PaginatedResult wraps a page of items with the metadata needed to fetch
// the next page.
type PaginatedResult[T any] struct {
	Items    []T  `json:"items"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// Stats summarizes the store's contents and on-disk footprint.
type Stats struct {
	TotalMemories   int    `json:"total_memories"`
	UniqueTags      int    `json:"unique_tags"`
	DatabaseSizeRaw int64  `json:"database_size_raw"`
	DatabaseSize    string `json:"database_size"` // human-readable, via go-humanize
	Backend         string `json:"backend"`
}

// Store is the contract every backend (embedded SQLite, HTTP remote) must
// satisfy. Bulk-destructive operations that the remote client cannot safely
// expose return storeerr.ErrUnsupportedRemote from that implementation.
type Store interface {
	// Store creates a new memory; content whose hash is already stored is
	// rejected with storeerr.ErrDuplicateHash.
	Store(ctx context.Context, m *memory.Memory) error
	// GetByHash fetches a single memory by its content hash.
	GetByHash(ctx context.Context, hash string) (*memory.Memory, error)
	// List returns a page of memories, most recent first.
	List(ctx context.Context, opts ListOptions) (*PaginatedResult[memory.Memory], error)
	// Retrieve performs a semantic (vector) search, hybridized with
	// full-text search via reciprocal rank fusion.
	Retrieve(ctx context.Context, opts SearchOptions) ([]memory.QueryResult, error)
	// Recall performs a time-window and/or tag-filtered search. Query is
	// used only when no window or tags are given; it is then answered by
	// Retrieve.
	Recall(ctx context.Context, opts SearchOptions) ([]memory.QueryResult, error)
	// SearchByTag returns memories matching any of the given tags.
	SearchByTag(ctx context.Context, tags []string) ([]memory.Memory, error)
	// UpdateMetadata merges patch into the memory's existing metadata.
	UpdateMetadata(ctx context.Context, hash string, patch map[string]any) error
	// Delete removes a single memory by content hash.
	Delete(ctx context.Context, hash string) error
	// DeleteByTag removes every memory carrying the given tag.
	DeleteByTag(ctx context.Context, tag string) (int, error)
	// DeleteByAllTags removes memories carrying every one of the given
	// tags simultaneously.
	DeleteByAllTags(ctx context.Context, tags []string) (int, error)
	// DeleteByTimeRange removes memories created within [start, end).
	DeleteByTimeRange(ctx context.Context, start, end time.Time) (int, error)
	// CleanupDuplicates removes all but the oldest memory for any content
	// hash stored more than once, returning the count removed.
	CleanupDuplicates(ctx context.Context) (int, error)
	// Stats reports aggregate counts and storage footprint.
	Stats(ctx context.Context) (Stats, error)
	// Close releases resources held by the store.
	Close() error
}
