// Package remotestore implements store.Store as an HTTP client against
// another process's mnemo server, for use when the coordinator has placed
// this process in http_client mode.
package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/internal/storeerr"
	"github.com/scrypster/mnemo/pkg/memory"
)

// Client implements store.Store over the REST surface exposed by
// internal/httpapi.
type Client struct {
	baseURL string
	client  *http.Client
}

// New constructs a Client against baseURL (e.g. "http://127.0.0.1:8000")
// with a shared, pooled *http.Client, matching the shared-client-per-backend
// pattern used by the embedding HTTP backend.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 5,
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", storeerr.ErrInvalidArgument, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", storeerr.ErrInternal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return storeerr.ErrNotFound
	}
	if resp.StatusCode == http.StatusConflict {
		return storeerr.ErrDuplicateHash
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return storeerr.ErrStorageBusy
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: server returned %d: %s", storeerr.ErrInternal, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", storeerr.ErrInternal, err)
		}
	}
	return nil
}

// Store POSTs the memory to /api/memories.
func (c *Client) Store(ctx context.Context, m *memory.Memory) error {
	return c.do(ctx, http.MethodPost, "/api/memories", m, m)
}

// GetByHash GETs /api/memories/{hash}.
func (c *Client) GetByHash(ctx context.Context, hash string) (*memory.Memory, error) {
	var m memory.Memory
	if err := c.do(ctx, http.MethodGet, "/api/memories/"+url.PathEscape(hash), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// List GETs a page of memories from /api/memories.
func (c *Client) List(ctx context.Context, opts store.ListOptions) (*store.PaginatedResult[memory.Memory], error) {
	opts.Normalize()
	q := url.Values{}
	q.Set("page", itoa(opts.Page))
	q.Set("limit", itoa(opts.Limit))
	if opts.Tag != "" {
		q.Set("tag", opts.Tag)
	}
	if opts.MemoryType != "" {
		q.Set("memory_type", opts.MemoryType)
	}

	var result store.PaginatedResult[memory.Memory]
	if err := c.do(ctx, http.MethodGet, "/api/memories?"+q.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Retrieve POSTs to /api/search/semantic.
func (c *Client) Retrieve(ctx context.Context, opts store.SearchOptions) ([]memory.QueryResult, error) {
	var results []memory.QueryResult
	if err := c.do(ctx, http.MethodPost, "/api/search/semantic", opts, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Recall POSTs to /api/search/recall.
func (c *Client) Recall(ctx context.Context, opts store.SearchOptions) ([]memory.QueryResult, error) {
	var results []memory.QueryResult
	if err := c.do(ctx, http.MethodPost, "/api/search/recall", opts, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// SearchByTag POSTs to /api/search/tags.
func (c *Client) SearchByTag(ctx context.Context, tags []string) ([]memory.Memory, error) {
	var results []memory.Memory
	if err := c.do(ctx, http.MethodPost, "/api/search/tags", map[string]any{"tags": tags}, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateMetadata is unsupported over the remote transport: it is listed
// alongside DeleteByTag/DeleteByAllTags/CleanupDuplicates as one of the
// operations the current contract restricts to direct mode, since a patch
// can rewrite the tags/memory_type columns and there's no remote
// compare-and-swap to protect against a racing writer on the origin process.
func (c *Client) UpdateMetadata(ctx context.Context, hash string, patch map[string]any) error {
	return storeerr.ErrUnsupportedRemote
}

// Delete DELETEs /api/memories/{hash}.
func (c *Client) Delete(ctx context.Context, hash string) error {
	return c.do(ctx, http.MethodDelete, "/api/memories/"+url.PathEscape(hash), nil, nil)
}

// DeleteByTag is a global bulk-destructive operation not exposed over the
// remote surface for safety; it always fails with ErrUnsupportedRemote.
func (c *Client) DeleteByTag(ctx context.Context, tag string) (int, error) {
	return 0, storeerr.ErrUnsupportedRemote
}

// DeleteByAllTags is unsupported for the same reason as DeleteByTag.
func (c *Client) DeleteByAllTags(ctx context.Context, tags []string) (int, error) {
	return 0, storeerr.ErrUnsupportedRemote
}

// DeleteByTimeRange POSTs a time-range body to /api/memories/delete-range; this is
// scoped and reversible enough (callers supply an explicit window) to expose
// over the remote client, unlike the untargeted bulk operations above.
func (c *Client) DeleteByTimeRange(ctx context.Context, start, end time.Time) (int, error) {
	var result struct {
		Deleted int `json:"deleted"`
	}
	body := map[string]any{"start": start.Format(time.RFC3339), "end": end.Format(time.RFC3339)}
	if err := c.do(ctx, http.MethodPost, "/api/memories/delete-range", body, &result); err != nil {
		return 0, err
	}
	return result.Deleted, nil
}

// CleanupDuplicates is unsupported over the remote surface.
func (c *Client) CleanupDuplicates(ctx context.Context) (int, error) {
	return 0, storeerr.ErrUnsupportedRemote
}

// Stats GETs /api/stats.
func (c *Client) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return store.Stats{}, err
	}
	return stats, nil
}

// Close releases idle connections; the remote client owns no other
// resources.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

var _ store.Store = (*Client)(nil)
