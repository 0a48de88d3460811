package remotestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/internal/storeerr"
	"github.com/scrypster/mnemo/pkg/memory"
)

func TestStore_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/memories" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var m memory.Memory
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Fatal(err)
		}
		m.ContentHash = "abc123"
		json.NewEncoder(w).Encode(m)
	}))
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	m := &memory.Memory{Content: "hello"}
	if err := c.Store(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ContentHash != "abc123" {
		t.Fatalf("expected server-assigned hash to round-trip, got %q", m.ContentHash)
	}
}

func TestGetByHash_NotFoundMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	_, err := c.GetByHash(context.Background(), "missing")
	if err != storeerr.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DuplicateMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	err := c.Store(context.Background(), &memory.Memory{Content: "dup"})
	if err != storeerr.ErrDuplicateHash {
		t.Fatalf("expected ErrDuplicateHash, got %v", err)
	}
}

func TestDeleteByTag_UnsupportedOverRemote(t *testing.T) {
	c := New("http://unused.invalid")
	defer c.Close()

	if _, err := c.DeleteByTag(context.Background(), "x"); err != storeerr.ErrUnsupportedRemote {
		t.Fatalf("expected ErrUnsupportedRemote, got %v", err)
	}
	if _, err := c.DeleteByAllTags(context.Background(), []string{"x"}); err != storeerr.ErrUnsupportedRemote {
		t.Fatalf("expected ErrUnsupportedRemote, got %v", err)
	}
	if _, err := c.CleanupDuplicates(context.Background()); err != storeerr.ErrUnsupportedRemote {
		t.Fatalf("expected ErrUnsupportedRemote, got %v", err)
	}
}

func TestUpdateMetadata_UnsupportedOverRemote(t *testing.T) {
	c := New("http://unused.invalid")
	defer c.Close()

	if err := c.UpdateMetadata(context.Background(), "x", map[string]any{"a": "1"}); err != storeerr.ErrUnsupportedRemote {
		t.Fatalf("expected ErrUnsupportedRemote, got %v", err)
	}
}

func TestList_SendsPaginationQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{"items": []memory.Memory{}, "total": 0, "page": 1, "page_size": 20})
	}))
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	_, err := c.List(context.Background(), store.ListOptions{Page: 1, Limit: 20, Tag: "work"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuery == "" {
		t.Fatal("expected query params to be sent")
	}
}

func TestStats_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"total_memories": 42, "unique_tags": 7, "database_size": "1.2 MB", "backend": "sqlite",
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	defer c.Close()

	stats, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalMemories != 42 || stats.Backend != "sqlite" {
		t.Fatalf("unexpected stats decoded: %+v", stats)
	}
}
