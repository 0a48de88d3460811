// Package syncfile implements the JSON export/import format used to move
// memories between machines: a portable snapshot file plus a dry-run-capable
// importer that deduplicates on content hash and tags each imported memory
// with its origin.
package syncfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/pkg/memory"
)

// ExportMetadata describes the snapshot: where it came from and how it was
// produced, so an importer elsewhere can attribute and de-duplicate it.
type ExportMetadata struct {
	SourceMachine     string   `json:"source_machine"`
	ExportTimestamp   string   `json:"export_timestamp"`
	TotalMemories     int      `json:"total_memories"`
	Platform          string   `json:"platform"`
	IncludeEmbeddings bool     `json:"include_embeddings"`
	FilterTags        []string `json:"filter_tags,omitempty"`
	ExporterVersion   string   `json:"exporter_version"`
}

// ExportFile is the on-disk snapshot format.
type ExportFile struct {
	ExportMetadata ExportMetadata   `json:"export_metadata"`
	Memories       []map[string]any `json:"memories"`
}

// ExportResult summarizes a completed export for the CLI/API caller.
type ExportResult struct {
	Success        bool   `json:"success"`
	ExportedCount  int    `json:"exported_count"`
	OutputFile     string `json:"output_file"`
	FileSizeBytes  int64  `json:"file_size_bytes"`
	SourceMachine  string `json:"source_machine"`
	ExportTimestamp string `json:"export_timestamp"`
}

const exporterVersion = "1.0.0"

// Exporter reads every memory from a store and writes it to a portable JSON
// snapshot.
type Exporter struct {
	store       store.Store
	machineName string
}

// NewExporter builds an Exporter, resolving the machine's identity the same
// way the reference implementation does: environment hostname variables,
// falling back to the OS hostname.
func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st, machineName: machineName()}
}

func machineName() string {
	if h := os.Getenv("COMPUTERNAME"); h != "" {
		return h
	}
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown-machine"
}

// ExportToJSON walks every memory (optionally filtered by tag), serializes it
// with embeddings stripped unless requested, and writes the snapshot to
// outputPath.
func (e *Exporter) ExportToJSON(ctx context.Context, outputPath string, includeEmbeddings bool, filterTags []string) (*ExportResult, error) {
	memories, err := e.collect(ctx, filterTags)
	if err != nil {
		return nil, fmt.Errorf("syncfile: failed to collect memories: %w", err)
	}

	now := time.Now().UTC()
	metadata := ExportMetadata{
		SourceMachine:     e.machineName,
		ExportTimestamp:   now.Format(time.RFC3339),
		TotalMemories:     len(memories),
		Platform:          runtime.GOOS,
		IncludeEmbeddings: includeEmbeddings,
		FilterTags:        filterTags,
		ExporterVersion:   exporterVersion,
	}

	exported := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		exported = append(exported, e.toExportDict(m, includeEmbeddings))
	}

	file := ExportFile{ExportMetadata: metadata, Memories: exported}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, fmt.Errorf("syncfile: failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("syncfile: failed to marshal export: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("syncfile: failed to write %s: %w", outputPath, err)
	}

	info, err := os.Stat(outputPath)
	var size int64
	if err == nil {
		size = info.Size()
	}

	return &ExportResult{
		Success:         true,
		ExportedCount:   len(memories),
		OutputFile:      outputPath,
		FileSizeBytes:   size,
		SourceMachine:   e.machineName,
		ExportTimestamp: metadata.ExportTimestamp,
	}, nil
}

func (e *Exporter) toExportDict(m memory.Memory, includeEmbeddings bool) map[string]any {
	out := m.ToMap()
	out["export_source"] = e.machineName
	if !includeEmbeddings {
		delete(out, "embedding")
	}
	return out
}

// collect paginates through the whole store (List has no upper bound on how
// many pages it will walk) applying an optional tag filter, the same
// fetch-everything-then-filter shape the reference exporter uses.
func (e *Exporter) collect(ctx context.Context, filterTags []string) ([]memory.Memory, error) {
	var all []memory.Memory
	page := 1
	for {
		result, err := e.store.List(ctx, store.ListOptions{Page: page, Limit: 500})
		if err != nil {
			return nil, err
		}
		for _, m := range result.Items {
			if len(filterTags) == 0 || hasAnyTag(m.Tags, filterTags) {
				all = append(all, m)
			}
		}
		if !result.HasMore {
			break
		}
		page++
	}
	return all, nil
}

func hasAnyTag(tags, want []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

// Summary reports export-preview statistics without writing a file, for a
// "what would I export" dry run.
type Summary struct {
	TotalMemories int            `json:"total_memories"`
	MachineName   string         `json:"machine_name"`
	TagCounts     map[string]int `json:"tag_counts"`
	MemoryTypes   map[string]int `json:"memory_types"`
}

func (e *Exporter) Summary(ctx context.Context) (*Summary, error) {
	memories, err := e.collect(ctx, nil)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		MachineName: e.machineName,
		TagCounts:   map[string]int{},
		MemoryTypes: map[string]int{},
	}
	s.TotalMemories = len(memories)
	for _, m := range memories {
		for _, t := range m.Tags {
			s.TagCounts[t]++
		}
		s.MemoryTypes[m.MemoryType]++
	}
	return s, nil
}
