package syncfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/pkg/memory"
)

// SourceStats tracks per-origin-machine counts within an import run.
type SourceStats struct {
	Total    int `json:"total"`
	Imported int `json:"imported"`
	Duplicates int `json:"duplicates"`
}

// ImportStats summarizes an import run across every file processed.
type ImportStats struct {
	FilesProcessed    int                    `json:"files_processed"`
	TotalProcessed    int                    `json:"total_processed"`
	Imported          int                    `json:"imported"`
	DuplicatesSkipped int                    `json:"duplicates_skipped"`
	Errors            int                    `json:"errors"`
	Sources           map[string]*SourceStats `json:"sources"`
	DryRun            bool                   `json:"dry_run"`
	StartTime         string                 `json:"start_time"`
	EndTime           string                 `json:"end_time"`
}

const importerVersion = "1.0.0"

// Importer loads one or more export snapshots into a store, skipping content
// hashes already present unless Deduplicate is disabled.
type Importer struct {
	store store.Store
}

func NewImporter(st store.Store) *Importer {
	return &Importer{store: st}
}

// ImportFromJSON imports every file in jsonFiles, tracking per-source
// statistics the same way the reference importer does.
func (imp *Importer) ImportFromJSON(ctx context.Context, jsonFiles []string, deduplicate, addSourceTags, dryRun bool) (*ImportStats, error) {
	existing := map[string]bool{}
	if deduplicate {
		var err error
		existing, err = imp.existingHashes(ctx)
		if err != nil {
			return nil, fmt.Errorf("syncfile: failed to load existing hashes: %w", err)
		}
	}

	stats := &ImportStats{
		Sources:   map[string]*SourceStats{},
		DryRun:    dryRun,
		StartTime: time.Now().UTC().Format(time.RFC3339),
	}

	for _, path := range jsonFiles {
		fileStats, err := imp.importSingleFile(ctx, path, existing, addSourceTags, dryRun)
		if err != nil {
			stats.Errors++
			continue
		}
		stats.FilesProcessed++
		stats.TotalProcessed += fileStats.processed
		stats.Imported += fileStats.imported
		stats.DuplicatesSkipped += fileStats.duplicates
		for source, s := range fileStats.sources {
			stats.Sources[source] = s
		}
	}

	stats.EndTime = time.Now().UTC().Format(time.RFC3339)
	return stats, nil
}

type fileImportResult struct {
	processed  int
	imported   int
	duplicates int
	sources    map[string]*SourceStats
}

func (imp *Importer) importSingleFile(ctx context.Context, path string, existing map[string]bool, addSourceTags, dryRun bool) (*fileImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("syncfile: failed to read %s: %w", path, err)
	}

	var file ExportFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("syncfile: invalid export format in %s: %w", path, err)
	}

	sourceMachine := file.ExportMetadata.SourceMachine
	if sourceMachine == "" {
		sourceMachine = "unknown"
	}

	result := &fileImportResult{
		processed: len(file.Memories),
		sources: map[string]*SourceStats{
			sourceMachine: {Total: len(file.Memories)},
		},
	}
	srcStats := result.sources[sourceMachine]

	for _, data := range file.Memories {
		hash, _ := data["content_hash"].(string)
		if hash == "" {
			continue
		}
		if existing[hash] {
			result.duplicates++
			srcStats.Duplicates++
			continue
		}

		m, err := memoryFromExportDict(data, sourceMachine, addSourceTags, path)
		if err != nil {
			continue
		}

		if !dryRun {
			if err := imp.store.Store(ctx, m); err != nil {
				continue
			}
		}

		existing[hash] = true
		result.imported++
		srcStats.Imported++
	}

	return result, nil
}

func memoryFromExportDict(data map[string]any, sourceMachine string, addSourceTags bool, sourcePath string) (*memory.Memory, error) {
	content, _ := data["content"].(string)
	hash, _ := data["content_hash"].(string)
	if content == "" || hash == "" {
		return nil, fmt.Errorf("syncfile: export record missing content or content_hash")
	}

	var tags []string
	if raw, ok := data["tags"].([]any); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	if addSourceTags {
		sourceTag := "source:" + sourceMachine
		if !containsString(tags, sourceTag) {
			tags = append(tags, sourceTag)
		}
	}

	metadata := map[string]any{}
	if raw, ok := data["metadata"].(map[string]any); ok {
		for k, v := range raw {
			metadata[k] = v
		}
	}
	metadata["import_info"] = map[string]any{
		"imported_at":      time.Now().UTC().Format(time.RFC3339),
		"source_machine":   sourceMachine,
		"source_file":      sourcePath,
		"importer_version": importerVersion,
	}

	memoryType, _ := data["memory_type"].(string)
	if memoryType == "" {
		memoryType = "note"
	}

	m := &memory.Memory{
		Content:     content,
		ContentHash: hash,
		Tags:        tags,
		MemoryType:  memoryType,
		Metadata:    metadata,
	}
	if createdAt, ok := data["created_at"].(float64); ok {
		m.CreatedAt = createdAt
	}
	if createdAtISO, ok := data["created_at_iso"].(string); ok {
		m.CreatedAtISO = createdAtISO
	}
	if updatedAt, ok := data["updated_at"].(float64); ok {
		m.UpdatedAt = updatedAt
	} else {
		m.UpdatedAt = m.CreatedAt
	}
	if updatedAtISO, ok := data["updated_at_iso"].(string); ok {
		m.UpdatedAtISO = updatedAtISO
	} else {
		m.UpdatedAtISO = m.CreatedAtISO
	}

	return m, nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func (imp *Importer) existingHashes(ctx context.Context) (map[string]bool, error) {
	hashes := map[string]bool{}
	page := 1
	for {
		result, err := imp.store.List(ctx, store.ListOptions{Page: page, Limit: 500})
		if err != nil {
			return nil, err
		}
		for _, m := range result.Items {
			hashes[m.ContentHash] = true
		}
		if !result.HasMore {
			break
		}
		page++
	}
	return hashes, nil
}

// AnalysisFile summarizes a single export file during a dry-run analysis.
type AnalysisFile struct {
	File               string `json:"file"`
	SourceMachine      string `json:"source_machine,omitempty"`
	ExportDate         string `json:"export_date,omitempty"`
	TotalMemories      int    `json:"total_memories"`
	NewMemories        int    `json:"new_memories"`
	ExistingDuplicates int    `json:"existing_duplicates"`
	ImportConflicts    int    `json:"import_conflicts"`
	Error              string `json:"error,omitempty"`
}

// Analysis reports what ImportFromJSON would do without writing anything.
type Analysis struct {
	Files              []AnalysisFile `json:"files"`
	TotalMemories      int            `json:"total_memories"`
	UniqueMemories     int            `json:"unique_memories"`
	PotentialDuplicates int           `json:"potential_duplicates"`
}

// AnalyzeImport inspects every file's content hashes against both the
// existing store and the other files in this batch, flagging cross-file
// conflicts the way the reference implementation's dry-run analysis does.
func (imp *Importer) AnalyzeImport(ctx context.Context, jsonFiles []string) (*Analysis, error) {
	existing, err := imp.existingHashes(ctx)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{}
	seenInBatch := map[string]bool{}

	for _, path := range jsonFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			analysis.Files = append(analysis.Files, AnalysisFile{File: path, Error: err.Error()})
			continue
		}
		var file ExportFile
		if err := json.Unmarshal(data, &file); err != nil {
			analysis.Files = append(analysis.Files, AnalysisFile{File: path, Error: err.Error()})
			continue
		}

		fa := AnalysisFile{
			File:          path,
			SourceMachine: file.ExportMetadata.SourceMachine,
			ExportDate:    file.ExportMetadata.ExportTimestamp,
			TotalMemories: len(file.Memories),
		}

		for _, rec := range file.Memories {
			hash, _ := rec["content_hash"].(string)
			if hash == "" {
				continue
			}
			analysis.TotalMemories++
			switch {
			case existing[hash]:
				fa.ExistingDuplicates++
				analysis.PotentialDuplicates++
			case seenInBatch[hash]:
				fa.ImportConflicts++
			default:
				fa.NewMemories++
				analysis.UniqueMemories++
				seenInBatch[hash] = true
			}
		}

		analysis.Files = append(analysis.Files, fa)
	}

	return analysis, nil
}
