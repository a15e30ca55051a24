// Copyright 2025 Civic Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclabs/bylawd/pkg/bylaw"
	"github.com/civiclabs/bylawd/pkg/metrics"
	"github.com/civiclabs/bylawd/pkg/vector"
	"github.com/civiclabs/bylawd/pkg/verify"
)

type mockEmbedder struct {
	embedErr error
	calls    atomic.Int32
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls.Add(1)
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2, 0.3}
	}
	return vecs, nil
}

func (m *mockEmbedder) Dimension() int { return 3 }
func (m *mockEmbedder) Model() string  { return "test-model" }
func (m *mockEmbedder) Close() error   { return nil }

type mockProvider struct {
	searchFn    func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error)
	fetchFn     func(ctx context.Context, collection string, ids []string) ([]vector.Result, error)
	searchCalls atomic.Int32
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Upsert(ctx context.Context, collection string, records []vector.Record) error {
	return nil
}

func (m *mockProvider) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return m.SearchWithFilter(ctx, collection, vec, topK, nil)
}

func (m *mockProvider) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
	m.searchCalls.Add(1)
	if m.searchFn != nil {
		return m.searchFn(ctx, collection, vec, topK, filter)
	}
	return []vector.Result{}, nil
}

func (m *mockProvider) Fetch(ctx context.Context, collection string, ids []string) ([]vector.Result, error) {
	if m.fetchFn != nil {
		return m.fetchFn(ctx, collection, ids)
	}
	return nil, nil
}

func (m *mockProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	return nil
}

func (m *mockProvider) CreateCollection(ctx context.Context, collection string, dim int) error {
	return nil
}

func (m *mockProvider) DeleteCollection(ctx context.Context, collection string) error {
	return nil
}

func (m *mockProvider) Close() error { return nil }

// mockVerifier marks configured bylaw numbers verified and serves anchors.
type mockVerifier struct {
	verified map[string]bool
	anchors  map[string][]bylaw.VerifiedResult
}

func (m *mockVerifier) Annotate(ctx context.Context, results []bylaw.SearchResult) []bylaw.VerifiedResult {
	out := make([]bylaw.VerifiedResult, 0, len(results))
	for _, r := range results {
		out = append(out, bylaw.VerifiedResult{
			SearchResult: r,
			IsVerified:   m.verified[r.Metadata.BylawNumber],
		})
	}
	verify.SortVerifiedFirst(out)
	return out
}

func (m *mockVerifier) Anchored(ctx context.Context, query string) []bylaw.VerifiedResult {
	for _, number := range bylaw.ExtractReferences(query) {
		if results, ok := m.anchors[number]; ok {
			return results
		}
	}
	return nil
}

func match(id, number, text string, score float32) vector.Result {
	return vector.Result{
		ID:    id,
		Score: score,
		Metadata: map[string]any{
			bylaw.KeyText:        text,
			bylaw.KeyBylawNumber: number,
			bylaw.KeyTitle:       "Bylaw " + number,
		},
	}
}

func testEngine(t *testing.T, provider *mockProvider, emb *mockEmbedder, verifier Verifier) *Engine {
	t.Helper()
	if verifier == nil {
		verifier = &mockVerifier{}
	}
	engine, err := New(context.Background(), Config{
		Collection:   "test_chunks",
		BatchMaxSize: 1, // flush immediately so tests never wait out the window
		Retry:        RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, emb, provider, verifier, nil, metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func TestSearchBlendsFiltersAndSorts(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			assert.Equal(t, 10, topK, "over-fetch is twice the limit")
			return []vector.Result{
				match("a", "1001", "tree cutting permit requirements", 0.8),
				match("b", "1002", "unrelated heritage registry", 0.95),
				match("c", "1003", "below threshold", 0.4), // dropped by min score
			}, nil
		},
	}
	engine := testEngine(t, provider, &mockEmbedder{}, nil)

	results, err := engine.Search(context.Background(), "tree cutting", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Descending final score.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	// Keyword overlap lets the lower vector score close the gap but the
	// blend keeps both within [0,1].
	for _, r := range results {
		assert.LessOrEqual(t, r.Score, float32(1))
		assert.Greater(t, r.Score, float32(0))
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			var out []vector.Result
			for i := 0; i < topK; i++ {
				out = append(out, match(string(rune('a'+i)), "1001", "tree passage", 0.9))
			}
			return out, nil
		},
	}
	engine := testEngine(t, provider, &mockEmbedder{}, nil)

	results, err := engine.Search(context.Background(), "tree", Options{Limit: 3})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)
}

func TestSearchCachesResults(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			return []vector.Result{match("a", "1001", "dog leash rules in parks", 0.9)}, nil
		},
	}
	emb := &mockEmbedder{}
	engine := testEngine(t, provider, emb, nil)

	first, err := engine.Search(context.Background(), "dog leash rules", Options{})
	require.NoError(t, err)

	second, err := engine.Search(context.Background(), "Dog Leash Rules", Options{})
	require.NoError(t, err)

	assert.Equal(t, first, second, "repeat query within TTL is deterministic")
	assert.Equal(t, int32(1), provider.searchCalls.Load(), "second call served from cache")
	assert.Equal(t, int32(1), emb.calls.Load(), "cache hit skips embedding")
}

func TestSearchNoCacheBypassesCache(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			return []vector.Result{match("a", "1001", "dog leash", 0.9)}, nil
		},
	}
	engine := testEngine(t, provider, &mockEmbedder{}, nil)

	_, err := engine.Search(context.Background(), "dog leash", Options{NoCache: true})
	require.NoError(t, err)
	_, err = engine.Search(context.Background(), "dog leash", Options{NoCache: true})
	require.NoError(t, err)

	assert.Equal(t, int32(2), provider.searchCalls.Load())
}

func TestSearchGracefulDegradation(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			return nil, errors.New("store unreachable")
		},
	}
	engine := testEngine(t, provider, &mockEmbedder{}, nil)

	results, err := engine.Search(context.Background(), "anything at all", Options{})
	require.NoError(t, err, "backend failure never surfaces as a search error")
	assert.Empty(t, results)
}

func TestSearchEmbeddingFailureFallsBackToMetadata(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			// The fallback metadata tier queries with a zero vector.
			for _, v := range vec {
				assert.Zero(t, v)
			}
			return []vector.Result{match("a", "1001", "noise limits at night", 0.0)}, nil
		},
	}
	engine := testEngine(t, provider, &mockEmbedder{embedErr: errors.New("embed api down")}, nil)

	results, err := engine.Search(context.Background(), "noise limits", Options{
		Filters: map[string]any{bylaw.KeyCategory: "noise"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0), "metadata tier scores by keyword position")
}

func TestVerificationPrecedence(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			return []vector.Result{
				match("unverified", "9999", "tree protection draft", 0.95),
				match("verified", "4742", "tree protection bylaw text", 0.85),
			}, nil
		},
	}
	verifier := &mockVerifier{verified: map[string]bool{"4742": true}}
	engine := testEngine(t, provider, &mockEmbedder{}, verifier)

	results, err := engine.Search(context.Background(), "tree protection", Options{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].IsVerified)
	assert.Equal(t, "verified", results[0].ID, "verified result outranks higher-scored unverified one")
}

func anchorSection(number, section, text string) bylaw.VerifiedResult {
	return bylaw.VerifiedResult{
		SearchResult: bylaw.SearchResult{
			ID:       number + ":" + section,
			Text:     text,
			Score:    1.0,
			Metadata: bylaw.ChunkMetadata{BylawNumber: number, Section: section},
		},
		IsVerified: true,
	}
}

func TestAnchoredReferenceSkipsVectorSearchWhenFull(t *testing.T) {
	provider := &mockProvider{}
	verifier := &mockVerifier{anchors: map[string][]bylaw.VerifiedResult{
		"4742": {anchorSection("4742", "1", "No person shall cut a protected tree without a permit.")},
	}}
	emb := &mockEmbedder{}
	engine := testEngine(t, provider, emb, verifier)

	results, err := engine.Search(context.Background(), "what does bylaw 4742 say", Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, float32(1.0), results[0].Score)
	assert.True(t, results[0].IsVerified)
	assert.Equal(t, int32(0), provider.searchCalls.Load(), "anchors filling the limit skip vector search")
	assert.Equal(t, int32(0), emb.calls.Load())
}

func TestAnchoredReferenceFillsRemainingSlots(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			return []vector.Result{
				match("dup", "4742", "tree protection excerpt", 0.95),
				match("other", "4801", "boulevard tree planting rules", 0.85),
			}, nil
		},
	}
	verifier := &mockVerifier{anchors: map[string][]bylaw.VerifiedResult{
		"4742": {anchorSection("4742", "1", "No person shall cut a protected tree without a permit.")},
	}}
	engine := testEngine(t, provider, &mockEmbedder{}, verifier)

	results, err := engine.Search(context.Background(), "bylaw 4742 and tree planting", Options{Limit: 3})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The cited bylaw's sections lead at 1.0; vector hits for other
	// bylaws fill the rest, and hits for the cited bylaw are dropped.
	assert.Equal(t, "4742:1", results[0].ID)
	assert.Equal(t, float32(1.0), results[0].Score)
	assert.Equal(t, "other", results[1].ID)
	for _, r := range results[1:] {
		assert.NotEqual(t, "4742", r.Metadata.BylawNumber)
	}
}

// searchOutcomes reads the per-outcome search counter values.
func searchOutcomes(t *testing.T, m *metrics.Metrics) map[string]float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "bylawd_searches_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "outcome" {
					out[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}

func TestSearchOutcomeDistinguishesCacheHits(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			return []vector.Result{match("a", "1001", "dog leash rules", 0.9)}, nil
		},
	}
	m := metrics.New()
	engine, err := New(context.Background(), Config{
		Collection:   "test_chunks",
		BatchMaxSize: 1,
		Retry:        RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, &mockEmbedder{}, provider, &mockVerifier{}, nil, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	_, err = engine.Search(context.Background(), "dog leash", Options{})
	require.NoError(t, err)
	_, err = engine.Search(context.Background(), "dog leash", Options{})
	require.NoError(t, err)

	counts := searchOutcomes(t, m)
	assert.Equal(t, 1.0, counts["ok"], "fresh computation counts as ok")
	assert.Equal(t, 1.0, counts["hit"], "cache hit counts separately")
}

func TestGetBylawByID(t *testing.T) {
	provider := &mockProvider{
		fetchFn: func(ctx context.Context, collection string, ids []string) ([]vector.Result, error) {
			if ids[0] == "known" {
				return []vector.Result{match("known", "1001", "leash rules", 1.0)}, nil
			}
			return nil, nil
		},
	}
	engine := testEngine(t, provider, &mockEmbedder{}, nil)

	result, err := engine.GetBylawByID(context.Background(), "known")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "1001", result.Metadata.BylawNumber)
	assert.Equal(t, "leash rules", result.Text)

	missing, err := engine.GetBylawByID(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSearchTool(t *testing.T) {
	provider := &mockProvider{
		searchFn: func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
			return []vector.Result{match("a", "1001", "dogs must be leashed", 0.9)}, nil
		},
	}
	engine := testEngine(t, provider, &mockEmbedder{}, nil)

	found, err := engine.SearchTool(context.Background(), "dogs leashed", Options{})
	require.NoError(t, err)
	assert.True(t, found.Found)
	require.Len(t, found.Results, 1)
	assert.Equal(t, "1001", found.Results[0].BylawNumber)
	assert.Equal(t, "dogs must be leashed", found.Results[0].Content)

	empty, err := engine.SearchTool(context.Background(), "zzzz qqqq", Options{
		NoCache: true,
	})
	require.NoError(t, err)
	_ = empty

	// Force an empty outcome with an erroring backend.
	provider.searchFn = func(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
		return nil, errors.New("down")
	}
	none, err := engine.SearchTool(context.Background(), "completely different query", Options{NoCache: true})
	require.NoError(t, err)
	assert.False(t, none.Found)
	assert.NotEmpty(t, none.Message)
}
