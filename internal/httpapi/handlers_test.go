package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scrypster/mnemo/internal/eventbus"
	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/pkg/memory"
)

// memStore is a minimal in-memory store.Store for handler-level tests.
type memStore struct {
	byHash map[string]memory.Memory
}

func newMemStore() *memStore { return &memStore{byHash: map[string]memory.Memory{}} }

func (s *memStore) Store(ctx context.Context, m *memory.Memory) error {
	if m.Content == "" {
		return nil
	}
	m.ContentHash = "hash-" + m.Content
	s.byHash[m.ContentHash] = *m
	return nil
}
func (s *memStore) GetByHash(ctx context.Context, hash string) (*memory.Memory, error) {
	m, ok := s.byHash[hash]
	if !ok {
		return nil, notFoundErr{}
	}
	return &m, nil
}
func (s *memStore) List(ctx context.Context, opts store.ListOptions) (*store.PaginatedResult[memory.Memory], error) {
	var items []memory.Memory
	for _, m := range s.byHash {
		items = append(items, m)
	}
	return &store.PaginatedResult[memory.Memory]{Items: items, Total: len(items)}, nil
}
func (s *memStore) Retrieve(ctx context.Context, opts store.SearchOptions) ([]memory.QueryResult, error) {
	return nil, nil
}
func (s *memStore) Recall(ctx context.Context, opts store.SearchOptions) ([]memory.QueryResult, error) {
	return nil, nil
}
func (s *memStore) SearchByTag(ctx context.Context, tags []string) ([]memory.Memory, error) {
	return nil, nil
}
func (s *memStore) UpdateMetadata(ctx context.Context, hash string, patch map[string]any) error {
	m, ok := s.byHash[hash]
	if !ok {
		return notFoundErr{}
	}
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	for k, v := range patch {
		m.Metadata[k] = v
	}
	s.byHash[hash] = m
	return nil
}
func (s *memStore) Delete(ctx context.Context, hash string) error {
	delete(s.byHash, hash)
	return nil
}
func (s *memStore) DeleteByTag(ctx context.Context, tag string) (int, error)        { return 0, nil }
func (s *memStore) DeleteByAllTags(ctx context.Context, tags []string) (int, error) { return 0, nil }
func (s *memStore) DeleteByTimeRange(ctx context.Context, start, end time.Time) (int, error) {
	return 0, nil
}
func (s *memStore) CleanupDuplicates(ctx context.Context) (int, error) { return 0, nil }
func (s *memStore) Stats(ctx context.Context) (store.Stats, error) {
	return store.Stats{TotalMemories: len(s.byHash)}, nil
}
func (s *memStore) Close() error { return nil }

type notFoundErr struct{}

func (notFoundErr) Error() string { return "memory not found" }

func (notFoundErr) Is(target error) bool {
	return target.Error() == "memory not found"
}

var _ store.Store = (*memStore)(nil)

func newTestHandlers() *apiHandlers {
	bus := eventbus.New(time.Hour)
	go bus.Run()
	return &apiHandlers{store: newMemStore(), bus: bus}
}

func TestCreateMemory_RequiresContent(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	h.createMemory(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCreateMemory_StoresAndReturns201(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/api/memories", bytes.NewBufferString(`{"content":"hello"}`))
	rec := httptest.NewRecorder()

	h.createMemory(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var m memory.Memory
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.ContentHash == "" {
		t.Fatal("expected a content hash to be assigned")
	}
}

func TestHealth_ReportsMnemoService(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	h.health(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["service"] != "mnemo" {
		t.Fatalf(`expected service "mnemo", got %q`, body["service"])
	}
}

func TestListMemories_ReturnsStoredItems(t *testing.T) {
	h := newTestHandlers()
	h.store.Store(context.Background(), &memory.Memory{Content: "a"})
	h.store.Store(context.Background(), &memory.Memory{Content: "b"})

	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	rec := httptest.NewRecorder()
	h.listMemories(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result store.PaginatedResult[memory.Memory]
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result.Total != 2 {
		t.Fatalf("expected 2 memories, got %d", result.Total)
	}
}

func TestStats_ReflectsStoreContents(t *testing.T) {
	h := newTestHandlers()
	h.store.Store(context.Background(), &memory.Memory{Content: "x"})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	h.stats(rec, req)

	var s store.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.TotalMemories != 1 {
		t.Fatalf("expected 1 memory, got %d", s.TotalMemories)
	}
}

func TestMemoryItem_DeleteByHash(t *testing.T) {
	h := newTestHandlers()
	m := &memory.Memory{Content: "gone soon"}
	h.store.Store(context.Background(), m)

	req := httptest.NewRequest(http.MethodDelete, "/api/memories/"+m.ContentHash, nil)
	req.SetPathValue("hash", m.ContentHash)
	rec := httptest.NewRecorder()
	h.memoryItem(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	_, err := h.store.GetByHash(context.Background(), m.ContentHash)
	if err == nil {
		t.Fatal("expected memory to be deleted")
	}
}

func TestRecall_AppliesNaturalLanguageTimeExpression(t *testing.T) {
	h := newTestHandlers()
	body := `{"query":"standup notes from yesterday"}`
	req := httptest.NewRequest(http.MethodPost, "/api/search/recall", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()

	h.recall(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAtoiOr_FallsBackOnInvalidInput(t *testing.T) {
	if got := atoiOr("", 5); got != 5 {
		t.Fatalf("expected fallback 5 for empty string, got %d", got)
	}
	if got := atoiOr("notanumber", 5); got != 5 {
		t.Fatalf("expected fallback 5 for invalid input, got %d", got)
	}
	if got := atoiOr("42", 5); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}
