// Package sqlitestore implements store.Store against a CGO-free embedded
// SQLite database. Vector search is brute-force cosine similarity over a
// bounded candidate pool rather than a native vector extension, because
// modernc.org/sqlite cannot load the sqlite-vec C extension; this mirrors
// the approach already used by the teacher's own embedded search provider.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"github.com/scrypster/mnemo/internal/embedding"
	"github.com/scrypster/mnemo/internal/hashutil"
	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/internal/storeerr"
	"github.com/scrypster/mnemo/pkg/memory"
)

// vectorSearchMaxCandidates bounds how many embeddings are pulled into
// memory for a brute-force cosine pass, newest-first.
const vectorSearchMaxCandidates = 10_000

// rrfK is the reciprocal-rank-fusion constant merging full-text and vector
// result rankings into a single score.
const rrfK = 60.0

// Store implements store.Store on top of a single *sql.DB. SQLite allows
// only one writer at a time; pinning the pool to MaxOpenConns(1) (see Open)
// already serializes writes at the driver level, so no additional mutex is
// needed here.
type Store struct {
	db       *sql.DB
	embedder embedding.Provider
	path     string
}

// Open creates or opens the embedded database at path, applies WAL-friendly
// pragmas (optionally overridden by pragmaOverrides, a semicolon-separated
// "name=value" list matching SQLITE_PRAGMAS), and runs pending migrations.
func Open(path string, pragmaOverrides string, embedder embedding.Provider) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(dirOf(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: failed to open database: %w", err)
	}

	// SQLite allows exactly one writer; pinning the pool to a single
	// connection serializes writes and avoids SQLITE_BUSY under
	// concurrent load, the same tradeoff the teacher's store makes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=10000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, kv := range parsePragmaOverrides(pragmaOverrides) {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %s", kv))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: failed to apply %q: %w", p, err)
		}
	}

	mgr, err := newMigrationManager(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := mgr.up(); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, embedder: embedder, path: path}, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func parsePragmaOverrides(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// execWithRetry retries fn on "database is locked"/"busy" errors with
// exponential backoff (base 100ms, x2 per attempt) plus up to 10% jitter,
// capped at 3 retries, matching the reference retry policy. Any other error
// is returned unchanged without a retry.
func execWithRetry(ctx context.Context, fn func() error) error {
	const maxRetries = 3
	delay := 100 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isBusyErr(lastErr) {
			return lastErr
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %v", storeerr.ErrStorageBusy, lastErr)
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// Store creates a new memory. Content is immutable once stored: a second
// Store call with identical content (and static metadata) returns
// storeerr.ErrDuplicateHash rather than overwriting the existing row; the
// only way to change a stored memory afterwards is UpdateMetadata.
func (s *Store) Store(ctx context.Context, m *memory.Memory) error {
	if m == nil || strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: content is required", storeerr.ErrInvalidArgument)
	}

	m.ContentHash = hashutil.ContentHash(m.Content, m.Metadata)

	if _, err := s.GetByHash(ctx, m.ContentHash); err == nil {
		return storeerr.ErrDuplicateHash
	} else if !errors.Is(err, storeerr.ErrNotFound) {
		return err
	}

	now := time.Now()

	var metadataJSON []byte
	if len(m.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(m.Metadata)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal metadata: %v", storeerr.ErrInvalidArgument, err)
		}
	}

	m.Touch(now)

	tagsStr := strings.Join(m.Tags, ",")

	return execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO memories (content_hash, content, tags, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, m.ContentHash, m.Content, tagsStr, m.MemoryType, nullableBytes(metadataJSON), m.CreatedAt, m.CreatedAtISO, m.UpdatedAt, m.UpdatedAtISO)
		if err != nil {
			return err
		}

		if s.embedder != nil {
			vec, embedErr := s.embedder.Embed(ctx, m.Content)
			if embedErr != nil {
				// Embedding failure does not roll back the write: the
				// memory is still retrievable by tag/time/content, just
				// absent from vector search until a future re-embed.
				log.Printf("sqlitestore: embedding failed for %s: %v", m.ContentHash, embedErr)
				return nil
			}
			m.Embedding = vec
			if err := s.storeEmbedding(ctx, m.ContentHash, vec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) storeEmbedding(ctx context.Context, hash string, vec []float32) error {
	blob := serializeEmbedding(vec)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings (content_hash, embedding, dimension)
		VALUES (?, ?, ?)
		ON CONFLICT(content_hash) DO UPDATE SET embedding = excluded.embedding, dimension = excluded.dimension
	`, hash, blob, len(vec))
	return err
}

// GetByHash fetches a single memory by its content hash.
func (s *Store) GetByHash(ctx context.Context, hash string) (*memory.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, content, tags, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
		FROM memories WHERE content_hash = ?
	`, hash)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, storeerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}
	return m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*memory.Memory, error) {
	var m memory.Memory
	var tagsRaw string
	var metadataJSON sql.NullString
	if err := row.Scan(&m.ContentHash, &m.Content, &tagsRaw, &m.MemoryType, &metadataJSON,
		&m.CreatedAt, &m.CreatedAtISO, &m.UpdatedAt, &m.UpdatedAtISO); err != nil {
		return nil, err
	}
	m.Tags = parseTags(tagsRaw)
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &m, nil
}

// parseTags tolerates the legacy JSON-array tag encoding ("[\"a\",\"b\"]")
// in addition to the modern comma-joined form, since rows written by an
// older version of this format may still carry the legacy encoding.
func parseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
		var tags []string
		if err := json.Unmarshal([]byte(raw), &tags); err == nil {
			return tags
		}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// List returns a page of memories, most recently updated first.
func (s *Store) List(ctx context.Context, opts store.ListOptions) (*store.PaginatedResult[memory.Memory], error) {
	opts.Normalize()

	var conditions []string
	var args []any
	if opts.MemoryType != "" {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, opts.MemoryType)
	}
	if opts.Tag != "" {
		conditions = append(conditions, "(',' || tags || ',') LIKE ?")
		args = append(args, "%,"+opts.Tag+",%")
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := `SELECT content_hash, content, tags, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso FROM memories` +
		where + " ORDER BY updated_at DESC LIMIT ? OFFSET ?"
	queryArgs := append(append([]any{}, args...), opts.Limit, opts.Offset())

	rows, err := s.db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}
	defer rows.Close()

	var items []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
		}
		items = append(items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM memories" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}

	return &store.PaginatedResult[memory.Memory]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// Retrieve runs a hybrid semantic query: full-text search and vector
// cosine similarity are each ranked independently, then merged by
// reciprocal rank fusion (k=60).
func (s *Store) Retrieve(ctx context.Context, opts store.SearchOptions) ([]memory.QueryResult, error) {
	opts.Normalize()
	if strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("%w: query is required", storeerr.ErrInvalidArgument)
	}

	ftsRanked, err := s.fullTextSearch(ctx, opts.Query, opts.Limit*4)
	if err != nil {
		log.Printf("sqlitestore: full-text search failed, continuing with vector-only: %v", err)
	}

	var vecRanked []string
	var scores map[string]float64
	if s.embedder != nil {
		vecRanked, scores, err = s.vectorSearch(ctx, opts.Query, opts.Limit*4)
		if err != nil {
			log.Printf("sqlitestore: vector search failed, continuing with full-text only: %v", err)
		}
	}

	fused := reciprocalRankFusion(ftsRanked, vecRanked)

	type ranked struct {
		hash  string
		score float64
	}
	all := make([]ranked, 0, len(fused))
	for hash, score := range fused {
		all = append(all, ranked{hash, score})
	}
	// Fusion score only decides merge order between the two ranked lists; it
	// is never published, since RRF's 1/(k+rank) terms cap out at a value
	// far below 1 and would misrepresent how relevant a result actually is.
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	topFused := 0.0
	if len(all) > 0 {
		topFused = all[0].score
	}

	results := make([]memory.QueryResult, 0, opts.Limit)
	for _, r := range all {
		if len(results) >= opts.Limit {
			break
		}

		// The published relevance score is the cosine similarity itself
		// (relevance = max(0, 1-distance), distance = 1-cosine) whenever a
		// vector score exists for this hash. Full-text-only matches, which
		// have no cosine score to report, fall back to their fusion rank
		// normalized against the best match in this result set.
		relevance := 0.0
		if vs, ok := scores[r.hash]; ok {
			if vs > 0 {
				relevance = vs
			}
		} else if topFused > 0 {
			relevance = r.score / topFused
		}

		if relevance < opts.MinScore {
			continue
		}
		m, err := s.GetByHash(ctx, r.hash)
		if err != nil {
			continue
		}
		score := relevance
		results = append(results, memory.QueryResult{
			Memory:         *m,
			RelevanceScore: &score,
			DebugInfo: map[string]any{
				"vector_score": scores[r.hash],
				"fusion_score": r.score,
			},
		})
	}
	return results, nil
}

func reciprocalRankFusion(lists ...[]string) map[string]float64 {
	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, hash := range list {
			scores[hash] += 1.0 / (rrfK + float64(rank+1))
		}
	}
	return scores
}

var ftsStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "to": true, "in": true,
	"on": true, "for": true, "with": true, "at": true, "by": true, "it": true,
}

func sanitiseFTSQuery(q string) string {
	fields := strings.Fields(q)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
		})
		if f == "" || ftsStopwords[strings.ToLower(f)] {
			continue
		}
		terms = append(terms, f+"*")
	}
	return strings.Join(terms, " OR ")
}

func (s *Store) fullTextSearch(ctx context.Context, query string, limit int) ([]string, error) {
	sanitised := sanitiseFTSQuery(query)
	if sanitised == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash FROM memories_fts WHERE memories_fts MATCH ? ORDER BY rank LIMIT ?
	`, sanitised, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]string, map[string]float64, error) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", storeerr.ErrEmbeddingFailure, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.content_hash, e.embedding FROM memory_embeddings e
		JOIN memories m ON m.content_hash = e.content_hash
		ORDER BY m.created_at DESC LIMIT ?
	`, vectorSearchMaxCandidates)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	type scored struct {
		hash  string
		score float64
	}
	var candidates []scored
	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, nil, err
		}
		vec := deserializeEmbedding(blob)
		candidates = append(candidates, scored{hash, cosineSimilarity(queryVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	hashes := make([]string, len(candidates))
	scores := make(map[string]float64, len(candidates))
	for i, c := range candidates {
		hashes[i] = c.hash
		scores[c.hash] = c.score
	}
	return hashes, scores, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Recall performs a time-window and/or tag filtered search, returning
// results newest-first. When a window or tags are given, Query plays no part
// in filtering or ordering; only when neither is given is a Query answered
// by Retrieve.
func (s *Store) Recall(ctx context.Context, opts store.SearchOptions) ([]memory.QueryResult, error) {
	opts.Normalize()

	if opts.Start == nil && opts.End == nil && len(opts.Tags) == 0 {
		if opts.Query != "" {
			return s.Retrieve(ctx, opts)
		}
		return nil, fmt.Errorf("%w: recall requires a time range, tags, or a query", storeerr.ErrInvalidArgument)
	}

	var conditions []string
	var args []any
	if opts.Start != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, float64(opts.Start.UnixNano())/1e9)
	}
	if opts.End != nil {
		conditions = append(conditions, "created_at < ?")
		args = append(args, float64(opts.End.UnixNano())/1e9)
	}
	for _, tag := range opts.Tags {
		conditions = append(conditions, "(',' || tags || ',') LIKE ?")
		args = append(args, "%,"+tag+",%")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, content, tags, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
		FROM memories`+where+` ORDER BY created_at DESC LIMIT ?`, append(args, opts.Limit)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}
	defer rows.Close()

	var results []memory.QueryResult
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
		}
		results = append(results, memory.QueryResult{Memory: *m})
	}
	return results, rows.Err()
}

// SearchByTag returns memories matching any of the given tags.
func (s *Store) SearchByTag(ctx context.Context, tags []string) ([]memory.Memory, error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: at least one tag is required", storeerr.ErrInvalidArgument)
	}

	conditions := make([]string, len(tags))
	args := make([]any, len(tags))
	for i, tag := range tags {
		conditions[i] = "(',' || tags || ',') LIKE ?"
		args[i] = "%," + tag + ",%"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, content, tags, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
		FROM memories WHERE `+strings.Join(conditions, " OR ")+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}
	defer rows.Close()

	var out []memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMetadata merges patch into the memory's existing metadata. The keys
// "tags" and "memory_type" are special: rather than landing inside the
// nested metadata blob, they rewrite the memory's tags/memory_type columns
// directly, so callers can retag or reclassify a memory without touching
// its immutable content. Everything else in patch is merged into metadata.
func (s *Store) UpdateMetadata(ctx context.Context, hash string, patch map[string]any) error {
	m, err := s.GetByHash(ctx, hash)
	if err != nil {
		return err
	}

	tagsStr := strings.Join(m.Tags, ",")
	memoryType := m.MemoryType

	if rawTags, ok := patch["tags"]; ok {
		tags, err := toStringSlice(rawTags)
		if err != nil {
			return fmt.Errorf("%w: tags must be a list of strings: %v", storeerr.ErrInvalidArgument, err)
		}
		tagsStr = strings.Join(tags, ",")
	}
	if rawType, ok := patch["memory_type"]; ok {
		s, ok := rawType.(string)
		if !ok {
			return fmt.Errorf("%w: memory_type must be a string", storeerr.ErrInvalidArgument)
		}
		memoryType = s
	}

	if m.Metadata == nil {
		m.Metadata = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if k == "tags" || k == "memory_type" {
			continue
		}
		m.Metadata[k] = v
	}
	metadataJSON, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrInvalidArgument, err)
	}

	return execWithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE memories SET tags = ?, memory_type = ?, metadata = ?, updated_at = ?, updated_at_iso = ? WHERE content_hash = ?`,
			tagsStr, memoryType, string(metadataJSON), float64(time.Now().UnixNano())/1e9, time.Now().UTC().Format(time.RFC3339), hash)
		return err
	})
}

// toStringSlice converts a patch value (typically decoded from JSON as
// []any) into a []string, rejecting anything that isn't a flat list of
// strings.
func toStringSlice(v any) ([]string, error) {
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string element, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
}

// Delete removes a single memory by content hash.
func (s *Store) Delete(ctx context.Context, hash string) error {
	return execWithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE content_hash = ?", hash)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return storeerr.ErrNotFound
		}
		return nil
	})
}

// DeleteByTag removes every memory carrying the given tag.
func (s *Store) DeleteByTag(ctx context.Context, tag string) (int, error) {
	var n int64
	err := execWithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE (',' || tags || ',') LIKE ?", "%,"+tag+",%")
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// DeleteByAllTags removes memories carrying every one of the given tags.
func (s *Store) DeleteByAllTags(ctx context.Context, tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, fmt.Errorf("%w: at least one tag is required", storeerr.ErrInvalidArgument)
	}
	conditions := make([]string, len(tags))
	args := make([]any, len(tags))
	for i, tag := range tags {
		conditions[i] = "(',' || tags || ',') LIKE ?"
		args[i] = "%," + tag + ",%"
	}
	var n int64
	err := execWithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE "+strings.Join(conditions, " AND "), args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// DeleteByTimeRange removes memories created within [start, end).
func (s *Store) DeleteByTimeRange(ctx context.Context, start, end time.Time) (int, error) {
	var n int64
	err := execWithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE created_at >= ? AND created_at < ?",
			float64(start.UnixNano())/1e9, float64(end.UnixNano())/1e9)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// CleanupDuplicates removes all but the oldest row for any content hash
// stored more than once. Content hash is the primary key so true duplicates
// cannot occur under normal writes; this guards against rows imported from
// an external source (e.g. a pre-1.0 export) that predates hash uniqueness.
func (s *Store) CleanupDuplicates(ctx context.Context) (int, error) {
	var n int64
	err := execWithRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM memories WHERE rowid NOT IN (
				SELECT MIN(rowid) FROM memories GROUP BY content_hash
			)
		`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// Stats reports aggregate counts and the database's on-disk footprint.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&total); err != nil {
		return store.Stats{}, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT tags FROM memories WHERE tags != ''")
	if err != nil {
		return store.Stats{}, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}
	defer rows.Close()
	uniqueTags := make(map[string]bool)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return store.Stats{}, fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
		}
		for _, t := range parseTags(raw) {
			uniqueTags[t] = true
		}
	}

	var sizeRaw int64
	if s.path != ":memory:" {
		if info, err := os.Stat(s.path); err == nil {
			sizeRaw = info.Size()
		}
	}

	return store.Stats{
		TotalMemories:   total,
		UniqueTags:      len(uniqueTags),
		DatabaseSizeRaw: sizeRaw,
		DatabaseSize:    humanize.Bytes(uint64(sizeRaw)),
		Backend:         "sqlite",
	}, nil
}

// Close flushes the WAL into the main database file and releases resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Printf("sqlitestore: WAL checkpoint on close failed (non-fatal): %v", err)
	}
	return s.db.Close()
}

// DB exposes the underlying connection for components (config, backup) that
// need direct database access.
func (s *Store) DB() *sql.DB { return s.db }

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var _ store.Store = (*Store)(nil)
