package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/mnemo/internal/eventbus"
	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/internal/storeerr"
	"github.com/scrypster/mnemo/internal/timeparse"
	"github.com/scrypster/mnemo/pkg/memory"
)

type apiHandlers struct {
	store store.Store
	bus   *eventbus.Hub
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("httpapi: failed to encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storeerr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, storeerr.ErrDuplicateHash):
		writeError(w, http.StatusConflict, err.Error(), "DUPLICATE")
	case errors.Is(err, storeerr.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_ARGUMENT")
	case errors.Is(err, storeerr.ErrStorageBusy):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "STORAGE_BUSY")
	case errors.Is(err, storeerr.ErrUnsupportedRemote):
		writeError(w, http.StatusNotImplemented, err.Error(), "UNSUPPORTED_REMOTE")
	case errors.Is(err, storeerr.ErrEmbeddingFailure):
		writeError(w, http.StatusBadGateway, err.Error(), "EMBEDDING_FAILURE")
	default:
		log.Printf("httpapi: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", "INTERNAL")
	}
}

// health responds unauthenticated, both for monitoring and for the
// coordinator's isMemoryServerRunning probe — note the "service" field it
// checks for.
func (h *apiHandlers) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "mnemo"})
}

func (h *apiHandlers) memoriesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listMemories(w, r)
	case http.MethodPost:
		h.createMemory(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	}
}

func (h *apiHandlers) createMemory(w http.ResponseWriter, r *http.Request) {
	var m memory.Memory
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	if m.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required", "INVALID_ARGUMENT")
		return
	}
	if hostname := hostnameFrom(r.Context()); hostname != "" {
		if m.Metadata == nil {
			m.Metadata = map[string]any{}
		}
		m.Metadata["hostname"] = hostname
	}

	if err := h.store.Store(r.Context(), &m); err != nil {
		writeStoreError(w, err)
		return
	}

	h.bus.Publish(eventbus.Event{Type: eventbus.EventMemoryStored, Hash: m.ContentHash, Payload: m})
	writeJSON(w, http.StatusCreated, m)
}

func (h *apiHandlers) listMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Page:       atoiOr(q.Get("page"), 1),
		Limit:      atoiOr(q.Get("limit"), 50),
		Tag:        q.Get("tag"),
		MemoryType: q.Get("memory_type"),
	}
	result, err := h.store.List(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandlers) memoryItem(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	switch r.Method {
	case http.MethodGet:
		m, err := h.store.GetByHash(r.Context(), hash)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, m)

	case http.MethodPatch:
		var body struct {
			Metadata map[string]any `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
			return
		}
		if err := h.store.UpdateMetadata(r.Context(), hash, body.Metadata); err != nil {
			writeStoreError(w, err)
			return
		}
		// UpdateMetadata emits no event: it touches an existing memory's
		// metadata/tags/type in place rather than the content-addressed
		// lifecycle the bus otherwise reports on.
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})

	case http.MethodDelete:
		if err := h.store.Delete(r.Context(), hash); err != nil {
			writeStoreError(w, err)
			return
		}
		h.bus.Publish(eventbus.Event{Type: eventbus.EventMemoryDeleted, Hash: hash})
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
	}
}

func (h *apiHandlers) deleteByRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var body struct {
		Start string `json:"start"`
		End   string `json:"end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	start, err := time.Parse(time.RFC3339, body.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start timestamp", "INVALID_ARGUMENT")
		return
	}
	end, err := time.Parse(time.RFC3339, body.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end timestamp", "INVALID_ARGUMENT")
		return
	}
	n, err := h.store.DeleteByTimeRange(r.Context(), start, end)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *apiHandlers) semanticSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var opts store.SearchOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	start := time.Now()
	results, err := h.store.Retrieve(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.publishSearchCompleted(opts.Query, "semantic", len(results), time.Since(start))
	writeJSON(w, http.StatusOK, results)
}

// publishSearchCompleted reports a completed search onto the event bus with
// its result count and latency, matching every other search handler.
func (h *apiHandlers) publishSearchCompleted(query, searchType string, resultsCount int, elapsed time.Duration) {
	h.bus.Publish(eventbus.Event{Type: eventbus.EventSearchCompleted, Payload: map[string]any{
		"query":               query,
		"search_type":         searchType,
		"results_count":       resultsCount,
		"processing_time_ms":  float64(elapsed.Microseconds()) / 1000,
	}})
}

// recall applies natural-language time expressions ("last week", "3 days
// ago") found in the query text on top of an explicit start/end window,
// letting either or both narrow the result set.
func (h *apiHandlers) recall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var opts store.SearchOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}

	if opts.Query != "" {
		parsed := timeparse.Parse(opts.Query, time.Now)
		if parsed.Matched {
			if opts.Start == nil {
				opts.Start = parsed.Start
			}
			if opts.End == nil {
				opts.End = parsed.End
			}
			opts.Query = parsed.Cleaned
		}
	}

	start := time.Now()
	results, err := h.store.Recall(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.publishSearchCompleted(opts.Query, "recall", len(results), time.Since(start))
	writeJSON(w, http.StatusOK, results)
}

func (h *apiHandlers) searchByTag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return
	}
	start := time.Now()
	results, err := h.store.SearchByTag(r.Context(), body.Tags)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.publishSearchCompleted(strings.Join(body.Tags, ","), "tag", len(results), time.Since(start))
	writeJSON(w, http.StatusOK, results)
}

func (h *apiHandlers) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	s, err := h.store.Stats(r.Context())
	if err != nil {
		h.bus.Publish(eventbus.Event{Type: eventbus.EventHealthUpdate, Payload: map[string]any{
			"status":  "unhealthy",
			"details": err.Error(),
		}})
		writeStoreError(w, err)
		return
	}
	h.bus.Publish(eventbus.Event{Type: eventbus.EventHealthUpdate, Payload: map[string]any{
		"status":  "healthy",
		"details": s,
	}})
	writeJSON(w, http.StatusOK, s)
}

func (h *apiHandlers) eventStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "METHOD_NOT_ALLOWED")
		return
	}
	writeJSON(w, http.StatusOK, h.bus.StatsSnapshot())
}

// events streams the SSE connection: subscribe, flush each frame as it
// arrives, and unsubscribe when the client disconnects.
func (h *apiHandlers) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", "INTERNAL")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	for {
		select {
		case frame, ok := <-sub.Messages():
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
