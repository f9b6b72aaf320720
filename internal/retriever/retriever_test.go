package retriever

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/intellistream/orchestrator/internal/cache"
)

func embedServer(t *testing.T, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
}

func TestEmbedderCachesVectors(t *testing.T) {
	var calls int32
	srv := embedServer(t, &calls)
	defer srv.Close()

	store := cache.NewMemory(16)
	e := NewEmbedder(srv.URL, "key", "test-model", store, time.Hour, zaptest.NewLogger(t))

	first, err := e.Embed(context.Background(), "What is RAG?")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "what  is rag?")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls),
		"normalized repeat query must be served from cache")
}

func TestEmbedderServesSeededCacheWithoutHTTP(t *testing.T) {
	var calls int32
	srv := embedServer(t, &calls)
	defer srv.Close()

	store := cache.NewMemory(16)
	want := []float32{0.5, 0.25, 0.125}
	key := cache.Key("emb", "test-model", cache.NormalizeQuery("seeded query"))
	store.Set(context.Background(), key, cache.EncodeVector(want), time.Hour)

	e := NewEmbedder(srv.URL, "key", "test-model", store, time.Hour, zaptest.NewLogger(t))
	vec, err := e.Embed(context.Background(), "Seeded  Query")
	require.NoError(t, err)
	assert.Equal(t, want, vec)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls),
		"a decodable cached vector must short-circuit the provider call")
}

func TestVectorStoreSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/chunks/points/search", r.URL.Path)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 20, req.Limit)
		assert.True(t, req.WithPayload)
		w.Write([]byte(`{"result":[
			{"id":"d1","score":0.92,"payload":{"title":"Doc One","content":"about retrieval","url":"https://docs/1"}},
			{"id":7,"score":0.80,"payload":{"title":"Doc Two","content":"something else"}}
		]}`))
	}))
	defer srv.Close()

	vs := NewVectorStore(srv.URL, "chunks")
	docs, err := vs.Search(context.Background(), []float32{0.1}, 20)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "7", docs[1].ID, "numeric point ids are stringified")
	assert.Equal(t, 0.92, docs[0].Score)
}

func TestHybridBlendReordersPool(t *testing.T) {
	var calls int32
	embed := embedServer(t, &calls)
	defer embed.Close()

	// "dense" wins on vector similarity, "keyword" wins on term overlap.
	vector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[
			{"id":"dense","score":1.0,"payload":{"title":"Unrelated","content":"nothing shared"}},
			{"id":"keyword","score":0.85,"payload":{"title":"Golang channels","content":"golang channels explained with examples"}}
		]}`))
	}))
	defer vector.Close()

	e := NewEmbedder(embed.URL, "", "m", nil, time.Hour, zaptest.NewLogger(t))
	vs := NewVectorStore(vector.URL, "chunks")
	r := New(e, vs, 0.6, 0.4, 20, zaptest.NewLogger(t))

	results, err := r.Fetch(context.Background(), "golang channels explained", nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// dense: 0.6*1.0 + 0.4*0   = 0.60
	// keyword: 0.6*0.85 + 0.4*1.0 = 0.91
	assert.Equal(t, "Golang channels", results[0].Title)
	assert.InDelta(t, 0.91, results[0].NativeScore, 1e-9)
	assert.InDelta(t, 0.60, results[1].NativeScore, 1e-9)
	assert.True(t, results[0].Scored)
}

func TestFetchEmptyStore(t *testing.T) {
	var calls int32
	embed := embedServer(t, &calls)
	defer embed.Close()
	vector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[]}`))
	}))
	defer vector.Close()

	r := New(NewEmbedder(embed.URL, "", "m", nil, time.Hour, nil), NewVectorStore(vector.URL, "chunks"), 0.6, 0.4, 20, nil)
	results, err := r.Fetch(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestOverlapScore(t *testing.T) {
	terms := tokenize("what is the capital of France")
	assert.Equal(t, []string{"capital", "france"}, terms, "stopwords are dropped")

	assert.Equal(t, 1.0, overlapScore(terms, "Paris is the capital of France"))
	assert.Equal(t, 0.5, overlapScore(terms, "France has many cities"))
	assert.Equal(t, 0.0, overlapScore(terms, "unrelated text entirely"))
}
