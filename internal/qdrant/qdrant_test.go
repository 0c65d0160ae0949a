package qdrant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"docuchat/internal/config"
	"docuchat/internal/models"
	"docuchat/internal/qdrant"
)

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// fakeQdrant implements the handful of endpoints the client uses.
type fakeQdrant struct {
	mu      sync.Mutex
	size    int
	points  map[string]point
	apiKeys []string
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/collections/docs":
		if f.size == 0 {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"config": map[string]any{"params": map[string]any{
				"vectors": map[string]any{"size": f.size, "distance": "Cosine"},
			}}},
		})

	case r.Method == http.MethodPut && r.URL.Path == "/collections/docs":
		var body struct {
			Vectors struct {
				Size int `json:"size"`
			} `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.size = body.Vectors.Size
		f.points = map[string]point{}
		_, _ = w.Write([]byte(`{"result":true}`))

	case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/index":
		_, _ = w.Write([]byte(`{"result":{}}`))

	case r.Method == http.MethodPut && r.URL.Path == "/collections/docs/points":
		var body struct {
			Points []point `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Points {
			f.points[p.ID] = p
		}
		_, _ = w.Write([]byte(`{"result":{}}`))

	case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/search":
		if f.size == 0 {
			http.Error(w, `{}`, http.StatusNotFound)
			return
		}
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
			Filter struct {
				Must []struct {
					Match struct {
						Value string `json:"value"`
					} `json:"match"`
				} `json:"must"`
			} `json:"filter"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		ns := body.Filter.Must[0].Match.Value

		type hit struct {
			ID      string         `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		}
		var hits []hit
		for _, p := range f.points {
			if p.Payload["namespace"] != ns {
				continue
			}
			var dot float32
			for i := range p.Vector {
				dot += p.Vector[i] * body.Vector[i]
			}
			hits = append(hits, hit{ID: p.ID, Score: dot, Payload: p.Payload})
		}
		sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > body.Limit {
			hits = hits[:body.Limit]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": hits})

	case r.Method == http.MethodPost && r.URL.Path == "/collections/docs/points/delete":
		for id, p := range f.points {
			if p.Payload["namespace"] == "alice" {
				delete(f.points, id)
			}
		}
		_, _ = w.Write([]byte(`{"result":{}}`))

	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func newStorage(t *testing.T) (*qdrant.Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return qdrant.NewStorage(config.QdrantConfig{URL: srv.URL + "/", APIKey: "qk", Collection: "docs"}), fake
}

func rec(id, ns string, chunk int, vec ...float32) models.Record {
	return models.Record{
		ID: id,
		Chunk: models.Chunk{
			Content: "text of " + id,
			Metadata: models.ChunkMetadata{
				Source:     ns + ".txt",
				Type:       "text/plain",
				Chunk:      chunk,
				UploadedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		Embedding: vec,
	}
}

func TestDimensionOfMissingCollection(t *testing.T) {
	s, _ := newStorage(t)
	dim, err := s.Dimension(context.Background())
	gt.NoError(t, err)
	gt.Value(t, dim).Equal(0)
}

func TestQueryMissingCollection(t *testing.T) {
	s, _ := newStorage(t)
	matches, err := s.Query(context.Background(), "alice", []float32{1, 0}, 3)
	gt.NoError(t, err)
	gt.Array(t, matches).Length(0)
}

func TestUpsertCreatesCollectionAndQueries(t *testing.T) {
	ctx := context.Background()
	s, fake := newStorage(t)

	gt.NoError(t, s.Upsert(ctx, "alice", []models.Record{
		rec("11111111-1111-1111-1111-111111111111", "alice", 1, 1, 0, 0),
		rec("22222222-2222-2222-2222-222222222222", "alice", 2, 0, 1, 0),
	})).Required()
	gt.NoError(t, s.Upsert(ctx, "bob", []models.Record{
		rec("33333333-3333-3333-3333-333333333333", "bob", 1, 1, 0, 0),
	})).Required()
	gt.Value(t, fake.size).Equal(3)

	dim, err := s.Dimension(ctx)
	gt.NoError(t, err)
	gt.Value(t, dim).Equal(3)

	matches, err := s.Query(ctx, "alice", []float32{1, 0, 0}, 5)
	gt.NoError(t, err).Required()
	gt.Array(t, matches).Length(2).Required()
	gt.Value(t, matches[0].ID).Equal("11111111-1111-1111-1111-111111111111")
	gt.Value(t, matches[0].Chunk.Content).Equal("text of 11111111-1111-1111-1111-111111111111")
	gt.Value(t, matches[0].Chunk.Metadata.Source).Equal("alice.txt")
	gt.Value(t, matches[0].Chunk.Metadata.Chunk).Equal(1)
	gt.Value(t, matches[0].Chunk.Metadata.Type).Equal("text/plain")
	gt.Bool(t, matches[0].Chunk.Metadata.UploadedAt.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))).True()

	for _, k := range fake.apiKeys {
		gt.Value(t, k).Equal("qk")
	}
}

func TestDeleteNamespace(t *testing.T) {
	ctx := context.Background()
	s, _ := newStorage(t)

	// nothing to delete yet
	gt.NoError(t, s.DeleteNamespace(ctx, "alice"))

	gt.NoError(t, s.Upsert(ctx, "alice", []models.Record{rec("a", "alice", 1, 1, 0)})).Required()
	gt.NoError(t, s.DeleteNamespace(ctx, "alice")).Required()

	matches, err := s.Query(ctx, "alice", []float32{1, 0}, 5)
	gt.NoError(t, err)
	gt.Array(t, matches).Length(0)
}

func TestRejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := qdrant.NewStorage(config.QdrantConfig{URL: srv.URL, Collection: "docs"})
	_, err := s.Dimension(context.Background())
	gt.Error(t, err)
}
