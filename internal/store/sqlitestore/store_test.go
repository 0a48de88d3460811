package sqlitestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/internal/storeerr"
	"github.com/scrypster/mnemo/pkg/memory"
)

// stubEmbedder produces a short deterministic vector from the text length so
// vector search has something non-trivial to rank without pulling in the
// portable backend's token hashing.
type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r % 7)
	}
	return vec, nil
}
func (stubEmbedder) Dimension() int { return 4 }

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:", "", stubEmbedder{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStore_StoreAndGetByHash(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &memory.Memory{Content: "remember the milk", Tags: []string{"todo"}, MemoryType: "note"}
	if err := st.Store(ctx, m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ContentHash == "" {
		t.Fatal("expected content hash to be set after Store")
	}

	got, err := st.GetByHash(ctx, m.ContentHash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Content != "remember the milk" {
		t.Fatalf("unexpected content: %q", got.Content)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "todo" {
		t.Fatalf("unexpected tags: %v", got.Tags)
	}
}

func TestStore_GetByHash_NotFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetByHash(context.Background(), "nonexistent")
	if err != storeerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DuplicateContentRejected(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m1 := &memory.Memory{Content: "same content", MemoryType: "note"}
	if err := st.Store(ctx, m1); err != nil {
		t.Fatal(err)
	}

	m2 := &memory.Memory{Content: "same content", MemoryType: "note", Tags: []string{"updated"}}
	err := st.Store(ctx, m2)
	if !errors.Is(err, storeerr.ErrDuplicateHash) {
		t.Fatalf("expected ErrDuplicateHash for a repeat Store of identical content, got %v", err)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalMemories != 1 {
		t.Fatalf("expected exactly 1 memory, got %d", stats.TotalMemories)
	}

	// The original row must be untouched: tags from the rejected second
	// Store call must not have leaked in.
	got, err := st.GetByHash(ctx, m1.ContentHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 0 {
		t.Fatalf("expected the original memory's tags to be unchanged, got %v", got.Tags)
	}
}

func TestStore_EmptyContentRejected(t *testing.T) {
	st := openTestStore(t)
	err := st.Store(context.Background(), &memory.Memory{Content: "   "})
	if err == nil {
		t.Fatal("expected an error for empty content")
	}
}

func TestList_PaginatesAndFiltersByTag(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tags := []string{"a"}
		if i == 1 {
			tags = []string{"b"}
		}
		if err := st.Store(ctx, &memory.Memory{Content: itoaContent(i), Tags: tags, MemoryType: "note"}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := st.List(ctx, store.ListOptions{Page: 1, Limit: 10, Tag: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if result.Total != 2 {
		t.Fatalf("expected 2 memories tagged 'a', got %d", result.Total)
	}
}

func itoaContent(i int) string {
	return "content number " + string(rune('0'+i))
}

func TestUpdateMetadata_MergesIntoExisting(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &memory.Memory{Content: "has metadata", Metadata: map[string]any{"a": "1"}}
	if err := st.Store(ctx, m); err != nil {
		t.Fatal(err)
	}

	if err := st.UpdateMetadata(ctx, m.ContentHash, map[string]any{"b": "2"}); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetByHash(ctx, m.ContentHash)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata["a"] != "1" || got.Metadata["b"] != "2" {
		t.Fatalf("expected merged metadata, got %v", got.Metadata)
	}
}

func TestUpdateMetadata_RewritesTagsColumn(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &memory.Memory{Content: "retaggable", Tags: []string{"old"}}
	if err := st.Store(ctx, m); err != nil {
		t.Fatal(err)
	}

	if err := st.UpdateMetadata(ctx, m.ContentHash, map[string]any{"tags": []any{"new", "fresh"}}); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetByHash(ctx, m.ContentHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "new" || got.Tags[1] != "fresh" {
		t.Fatalf("expected tags to be replaced with [new fresh], got %v", got.Tags)
	}
	if _, ok := got.Metadata["tags"]; ok {
		t.Fatal("expected 'tags' to be stripped out of the metadata blob, not merged into it")
	}
}

func TestUpdateMetadata_RewritesMemoryTypeColumn(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &memory.Memory{Content: "reclassifiable", MemoryType: "note"}
	if err := st.Store(ctx, m); err != nil {
		t.Fatal(err)
	}

	if err := st.UpdateMetadata(ctx, m.ContentHash, map[string]any{"memory_type": "decision"}); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetByHash(ctx, m.ContentHash)
	if err != nil {
		t.Fatal(err)
	}
	if got.MemoryType != "decision" {
		t.Fatalf("expected memory_type to be updated to 'decision', got %q", got.MemoryType)
	}
}

func TestUpdateMetadata_RejectsNonListTags(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &memory.Memory{Content: "bad tags patch"}
	if err := st.Store(ctx, m); err != nil {
		t.Fatal(err)
	}

	err := st.UpdateMetadata(ctx, m.ContentHash, map[string]any{"tags": "not-a-list"})
	if !errors.Is(err, storeerr.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for a non-list tags patch, got %v", err)
	}
}

func TestDelete_RemovesMemory(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &memory.Memory{Content: "to be deleted"}
	if err := st.Store(ctx, m); err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(ctx, m.ContentHash); err != nil {
		t.Fatal(err)
	}
	if _, err := st.GetByHash(ctx, m.ContentHash); err != storeerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDelete_NonexistentReturnsNotFound(t *testing.T) {
	st := openTestStore(t)
	if err := st.Delete(context.Background(), "missing"); err != storeerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRetrieve_FindsStoredMemoryByKeyword(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Store(ctx, &memory.Memory{Content: "the quick brown fox jumps"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Store(ctx, &memory.Memory{Content: "completely unrelated subject matter"}); err != nil {
		t.Fatal(err)
	}

	results, err := st.Retrieve(ctx, store.SearchOptions{Query: "fox jumps", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
	if results[0].Memory.Content != "the quick brown fox jumps" {
		t.Fatalf("expected the keyword-matching memory to rank first, got %q", results[0].Memory.Content)
	}
}

func TestRetrieve_RelevanceScoreReflectsCosineSimilarity(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Store(ctx, &memory.Memory{Content: "a detailed note about quarterly revenue"}); err != nil {
		t.Fatal(err)
	}

	results, err := st.Retrieve(ctx, store.SearchOptions{Query: "a detailed note about quarterly revenue", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search result")
	}
	if results[0].RelevanceScore == nil || *results[0].RelevanceScore <= 0.3 {
		t.Fatalf("expected a near-identical query to score well above 0.3, got %v", results[0].RelevanceScore)
	}
}

func TestRecall_FiltersByTimeRange(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	m := &memory.Memory{Content: "time-bounded memory"}
	if err := st.Store(ctx, m); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	results, err := st.Recall(ctx, store.SearchOptions{Start: &past, End: &future, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result within the time window, got %d", len(results))
	}

	longAgo := now.Add(-48 * time.Hour)
	yesterday := now.Add(-24 * time.Hour)
	results2, err := st.Recall(ctx, store.SearchOptions{Start: &longAgo, End: &yesterday, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(results2) != 0 {
		t.Fatalf("expected 0 results outside the time window, got %d", len(results2))
	}
}

func TestSearchByTag_MatchesAnyTag(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Store(ctx, &memory.Memory{Content: "first", Tags: []string{"work"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Store(ctx, &memory.Memory{Content: "second", Tags: []string{"personal"}}); err != nil {
		t.Fatal(err)
	}

	results, err := st.SearchByTag(ctx, []string{"work", "personal"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results matching either tag, got %d", len(results))
	}
}

func TestCleanupDuplicates_NoOpOnUniqueHashes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.Store(ctx, &memory.Memory{Content: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := st.Store(ctx, &memory.Memory{Content: "b"}); err != nil {
		t.Fatal(err)
	}

	n, err := st.CleanupDuplicates(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no duplicates removed, got %d", n)
	}
}
