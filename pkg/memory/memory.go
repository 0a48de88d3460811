// Package memory defines the core record type shared by the store, the
// HTTP surface, and the export/import format.
package memory

import "time"

// Memory is a single stored unit of content plus its metadata and, once
// embedded, its vector representation.
type Memory struct {
	Content      string         `json:"content"`
	ContentHash  string         `json:"content_hash"`
	Tags         []string       `json:"tags,omitempty"`
	MemoryType   string         `json:"memory_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Embedding    []float32      `json:"embedding,omitempty"`
	CreatedAt    float64        `json:"created_at"`
	CreatedAtISO string         `json:"created_at_iso"`
	UpdatedAt    float64        `json:"updated_at"`
	UpdatedAtISO string         `json:"updated_at_iso"`
}

// QueryResult wraps a Memory returned from a search or recall operation with
// an optional relevance score and debug information about how it was found.
type QueryResult struct {
	Memory         Memory         `json:"memory"`
	RelevanceScore *float64       `json:"relevance_score,omitempty"`
	DebugInfo      map[string]any `json:"debug_info,omitempty"`
}

// Touch refreshes UpdatedAt/UpdatedAtISO to now, and seeds CreatedAt on first
// write. Mirrors the dual epoch-seconds/ISO-string timestamp convention used
// throughout the store and the wire format.
func (m *Memory) Touch(now time.Time) {
	if m.CreatedAt == 0 {
		m.CreatedAt = float64(now.UnixNano()) / 1e9
		m.CreatedAtISO = now.UTC().Format(time.RFC3339)
	}
	m.UpdatedAt = float64(now.UnixNano()) / 1e9
	m.UpdatedAtISO = now.UTC().Format(time.RFC3339)
}

// ToMap renders the memory the way both the HTTP JSON layer and the
// export/import format expect it, so the two never drift out of sync.
func (m *Memory) ToMap() map[string]any {
	out := map[string]any{
		"content":        m.Content,
		"content_hash":   m.ContentHash,
		"tags":           m.Tags,
		"memory_type":    m.MemoryType,
		"created_at":     m.CreatedAt,
		"created_at_iso": m.CreatedAtISO,
		"updated_at":     m.UpdatedAt,
		"updated_at_iso": m.UpdatedAtISO,
	}
	if m.Metadata != nil {
		out["metadata"] = m.Metadata
	}
	if len(m.Embedding) > 0 {
		out["embedding"] = m.Embedding
	}
	return out
}
