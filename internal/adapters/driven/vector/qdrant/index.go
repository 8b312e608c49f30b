// Package qdrant provides a VectorIndex backed by the Qdrant REST API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/policyqa/internal/adapters/driven/storage"
	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
)

// Ensure VectorIndex implements the interface.
var _ driven.VectorIndex = (*VectorIndex)(nil)

// Default configuration values.
const (
	DefaultURL     = "http://localhost:6333"
	DefaultTimeout = 20 * time.Second

	// policyField is the payload key used for filtered search.
	policyField = "policy_id"
)

// Config holds configuration for the Qdrant index.
type Config struct {
	// URL is the Qdrant REST endpoint (default: http://localhost:6333).
	URL string

	// APIKey is sent as the api-key header when set.
	APIKey string

	// Collection is the collection to read and write (required).
	Collection string

	// Timeout is the request timeout (default: 20s).
	Timeout time.Duration
}

// VectorIndex stores chunk vectors as Qdrant points keyed by chunk id.
type VectorIndex struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
}

// errNotFound marks a 404 from Qdrant.
var errNotFound = errors.New("qdrant: not found")

type point struct {
	ID      string              `json:"id"`
	Vector  []float32           `json:"vector"`
	Payload domain.ChunkPayload `json:"payload"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	Filter      *filter   `json:"filter,omitempty"`
}

type filter struct {
	Must []condition `json:"must"`
}

type condition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

type searchResponse struct {
	Result []struct {
		ID      any                 `json:"id"`
		Score   float64             `json:"score"`
		Payload domain.ChunkPayload `json:"payload"`
	} `json:"result"`
}

type collectionResponse struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type collectionsResponse struct {
	Result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	} `json:"result"`
}

// New creates a Qdrant-backed index.
func New(cfg Config) (*VectorIndex, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: qdrant collection is required", domain.ErrInvalidInput)
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &VectorIndex{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
	}, nil
}

// Collection returns the collection name.
func (v *VectorIndex) Collection() string {
	return v.collection
}

// EnsureCollection creates a cosine collection, or checks the size of an existing one.
func (v *VectorIndex) EnsureCollection(ctx context.Context, dimensions int) error {
	data, err := v.do(ctx, http.MethodGet, v.collectionPath(""), nil)
	switch {
	case err == nil:
		var resp collectionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return fmt.Errorf("decode collection: %w", err)
		}
		if size := resp.Result.Config.Params.Vectors.Size; size != dimensions {
			return fmt.Errorf("%w: collection %s has %d dimensions, not %d",
				domain.ErrInvalidInput, v.collection, size, dimensions)
		}
		return nil
	case !errors.Is(err, errNotFound):
		return err
	}

	req := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	if _, err := v.do(ctx, http.MethodPut, v.collectionPath(""), req); err != nil {
		return err
	}

	// Keyword index on the policy field so filtered search stays fast.
	index := map[string]any{
		"field_name":   policyField,
		"field_schema": "keyword",
	}
	_, err = v.do(ctx, http.MethodPut, v.collectionPath("/index?wait=true"), index)
	return err
}

// ListCollections returns the existing collection names.
func (v *VectorIndex) ListCollections(ctx context.Context) ([]string, error) {
	data, err := v.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return nil, err
	}
	var resp collectionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode collections: %w", err)
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

// Upsert writes points and waits for them to be applied.
func (v *VectorIndex) Upsert(ctx context.Context, records []domain.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]point, 0, len(records))
	for _, r := range records {
		points = append(points, point{ID: r.ChunkID, Vector: r.Vector, Payload: r.Payload})
	}
	_, err := v.do(ctx, http.MethodPut, v.collectionPath("/points?wait=true"), map[string]any{"points": points})
	return err
}

// Delete removes points by id.
func (v *VectorIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := v.do(ctx, http.MethodPost, v.collectionPath("/points/delete?wait=true"),
		map[string]any{"points": chunkIDs})
	return err
}

// Search runs a filtered nearest-neighbour query.
func (v *VectorIndex) Search(
	ctx context.Context,
	query []float32,
	k int,
	f *domain.SearchFilter,
) ([]driven.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	req := searchRequest{
		Vector:      query,
		Limit:       k,
		WithPayload: true,
	}
	if f != nil && f.PolicyID != "" {
		c := condition{Key: policyField}
		c.Match.Value = f.PolicyID
		req.Filter = &filter{Must: []condition{c}}
	}

	data, err := v.do(ctx, http.MethodPost, v.collectionPath("/points/search"), req)
	if err != nil {
		return nil, err
	}
	var resp searchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode search: %w", err)
	}

	hits := make([]driven.VectorHit, 0, len(resp.Result))
	for _, item := range resp.Result {
		hits = append(hits, driven.VectorHit{
			ChunkID: fmt.Sprintf("%v", item.ID),
			Payload: item.Payload,
			Score:   item.Score,
		})
	}
	// Qdrant does not order equal scores by id.
	return storage.TopK(hits, k), nil
}

// Close releases resources.
func (v *VectorIndex) Close() error {
	v.client.CloseIdleConnections()
	return nil
}

func (v *VectorIndex) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(v.collection) + suffix
}

// do sends a JSON request. Transport failures and 5xx responses wrap
// domain.ErrIndexUnavailable; 404 returns errNotFound.
func (v *VectorIndex) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if v.apiKey != "" {
		req.Header.Set("api-key", v.apiKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant %s %s: %w", domain.ErrIndexUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrIndexUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: qdrant status %d: %s",
			domain.ErrIndexUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("qdrant status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
