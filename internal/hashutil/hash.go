// Package hashutil computes the deterministic content hash used to dedupe
// memories and to key the embedding result cache.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// excludedMetadataKeys are dropped before hashing because they are derived
// from, rather than part of, the content being hashed: including them would
// make the hash non-deterministic across writes of otherwise identical
// content.
var excludedMetadataKeys = map[string]bool{
	"timestamp":    true,
	"content_hash": true,
	"embedding":    true,
}

// ContentHash reproduces the reference hashing algorithm: normalise content
// by trimming and lowercasing, drop volatile metadata keys, JSON-encode the
// remainder with sorted keys, concatenate, and take the SHA-256 hex digest.
func ContentHash(content string, metadata map[string]any) string {
	normalized := strings.ToLower(strings.TrimSpace(content))

	h := sha256.New()
	h.Write([]byte(normalized))

	if static := staticMetadataJSON(metadata); static != "" {
		h.Write([]byte(static))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// staticMetadataJSON renders metadata, minus excluded keys, as a canonical
// JSON object (keys sorted) so the same metadata always serializes the same
// way regardless of map iteration order.
func staticMetadataJSON(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if excludedMetadataKeys[k] {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(metadata[k])
		if err != nil {
			// Unmarshalable values (channels, funcs) can't occur in
			// metadata sourced from JSON; fall back to its %v form so
			// hashing never panics on unexpected input.
			vb, _ = json.Marshal(toStringFallback(metadata[k]))
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}

func toStringFallback(v any) string {
	return fmt.Sprintf("%v", v)
}
