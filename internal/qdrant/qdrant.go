// Package qdrant is a small REST client for a Qdrant collection. Namespaces
// share one collection and are kept apart with a payload filter.
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
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/rs/zerolog/log"

	"docuchat/internal/config"
	"docuchat/internal/models"
)

var errNotFound = errors.New("qdrant resource not found")

type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.Mutex
	dimension int
}

func NewStorage(cfg config.QdrantConfig) *Storage {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Storage) collectionURL(suffix string) string {
	return s.url + "/collections/" + url.PathEscape(s.collection) + suffix
}

type collectionInfo struct {
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

// Dimension returns the collection's vector size, 0 if it does not exist.
func (s *Storage) Dimension(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensionLocked(ctx)
}

func (s *Storage) dimensionLocked(ctx context.Context) (int, error) {
	if s.dimension > 0 {
		return s.dimension, nil
	}
	var info collectionInfo
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, &info)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s.dimension = info.Result.Config.Params.Vectors.Size
	return s.dimension, nil
}

// Init creates the collection with cosine distance if missing.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return goerr.New("invalid dimension", goerr.V("dimension", dimension))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.dimensionLocked(ctx)
	if err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	index := map[string]any{
		"field_name":   models.MetaNamespace,
		"field_schema": "keyword",
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil); err != nil {
		return err
	}
	log.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("Created qdrant collection")
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, namespace string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.Init(ctx, len(records[0].Embedding)); err != nil {
		return err
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		payload := map[string]any{
			models.MetaNamespace:  namespace,
			models.MetaSource:     r.Chunk.Metadata.Source,
			models.MetaType:       r.Chunk.Metadata.Type,
			models.MetaChunk:      r.Chunk.Metadata.Chunk,
			models.MetaUploadedAt: r.Chunk.Metadata.UploadedAt.UTC().Format(time.RFC3339),
			"text":                r.Chunk.Content,
		}
		points[i] = map[string]any{
			"id":      r.ID,
			"vector":  r.Embedding,
			"payload": payload,
		}
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), map[string]any{"points": points}, nil)
}

func namespaceFilter(namespace string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": models.MetaNamespace, "match": map[string]any{"value": namespace}},
		},
	}
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float32        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (s *Storage) Query(ctx context.Context, namespace string, vector []float32, k int) ([]models.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter":       namespaceFilter(namespace),
	}
	var resp searchResponse
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	matches := make([]models.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, models.Match{
			ID:    fmt.Sprint(r.ID),
			Chunk: chunkFromPayload(r.Payload),
			Score: r.Score,
		})
	}
	return matches, nil
}

func chunkFromPayload(p map[string]any) models.Chunk {
	var c models.Chunk
	if v, ok := p["text"].(string); ok {
		c.Content = v
	}
	if v, ok := p[models.MetaSource].(string); ok {
		c.Metadata.Source = v
	}
	if v, ok := p[models.MetaType].(string); ok {
		c.Metadata.Type = v
	}
	if v, ok := p[models.MetaChunk].(float64); ok {
		c.Metadata.Chunk = int(v)
	}
	if v, ok := p[models.MetaUploadedAt].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			c.Metadata.UploadedAt = ts
		}
	}
	return c
}

// DeleteNamespace removes every point of namespace. A missing collection is
// not an error.
func (s *Storage) DeleteNamespace(ctx context.Context, namespace string) error {
	err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"),
		map[string]any{"filter": namespaceFilter(namespace)}, nil)
	if errors.Is(err, errNotFound) {
		return nil
	}
	return err
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal qdrant request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return goerr.Wrap(err, "failed to build qdrant request", goerr.V("url", target))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "qdrant request failed", goerr.V("method", method), goerr.V("url", target))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return goerr.New("qdrant request rejected",
			goerr.V("method", method), goerr.V("url", target),
			goerr.V("status", resp.StatusCode), goerr.V("body", string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode qdrant response", goerr.V("url", target))
	}
	return nil
}
