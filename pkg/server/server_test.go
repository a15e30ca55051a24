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

package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclabs/bylawd/pkg/bylaw"
	"github.com/civiclabs/bylawd/pkg/config"
	"github.com/civiclabs/bylawd/pkg/metrics"
	"github.com/civiclabs/bylawd/pkg/search"
	"github.com/civiclabs/bylawd/pkg/vector"
	"github.com/civiclabs/bylawd/pkg/verify"
)

type stubEmbedder struct{}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 3 }
func (s *stubEmbedder) Model() string  { return "stub" }
func (s *stubEmbedder) Close() error   { return nil }

type stubProvider struct {
	results []vector.Result
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Upsert(ctx context.Context, collection string, records []vector.Record) error {
	return nil
}

func (p *stubProvider) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return p.results, nil
}

func (p *stubProvider) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter map[string]any) ([]vector.Result, error) {
	return p.results, nil
}

func (p *stubProvider) Fetch(ctx context.Context, collection string, ids []string) ([]vector.Result, error) {
	var out []vector.Result
	for _, id := range ids {
		for _, r := range p.results {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (p *stubProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	return nil
}

func (p *stubProvider) CreateCollection(ctx context.Context, collection string, dim int) error {
	return nil
}

func (p *stubProvider) DeleteCollection(ctx context.Context, collection string) error {
	return nil
}

func (p *stubProvider) Close() error { return nil }

func seedStore(t *testing.T) *verify.Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := verify.NewStoreWithDB(db, "sqlite3")
	ctx := context.Background()
	require.NoError(t, store.InitSchema(ctx))
	require.NoError(t, store.UpsertBylaw(ctx, verify.Bylaw{
		Number:      "4742",
		Title:       "Tree Protection Bylaw",
		Category:    bylaw.CategoryTrees,
		OfficialURL: "https://example.gov/bylaws/4742",
	}))
	require.NoError(t, store.UpsertSection(ctx, verify.Section{
		BylawNumber: "4742",
		SectionID:   "1",
		Title:       "Prohibition",
		Text:        "No person shall cut a protected tree without a permit.",
		Seq:         1,
	}))
	return store
}

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store := seedStore(t)
	provider := &stubProvider{
		results: []vector.Result{
			{
				ID:    "4742:1:abc",
				Score: 0.9,
				Metadata: map[string]any{
					bylaw.KeyText:        "No person shall cut any protected tree.",
					bylaw.KeyBylawNumber: "4742",
					bylaw.KeyTitle:       "Tree Protection Bylaw",
					bylaw.KeySection:     "1",
					bylaw.KeyCategory:    "trees",
				},
			},
		},
	}

	m := metrics.New()
	engine, err := search.New(context.Background(), search.Config{
		BatchMaxSize: 1,
		Retry:        search.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond},
	}, &stubEmbedder{}, provider, verify.NewVerifier(store), nil, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, engine, store, m)
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHandleSearch(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/search", searchRequest{Query: "tree cutting rules"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body searchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Results)

	first := body.Results[0]
	assert.Equal(t, "4742", first.Metadata.BylawNumber)
	assert.True(t, first.IsVerified)
	assert.Equal(t, "https://example.gov/bylaws/4742", first.OfficialURL)
	// Registry text replaces the stored chunk.
	assert.Equal(t, "No person shall cut a protected tree without a permit.", first.Text)
}

func TestHandleSearchValidation(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/search", searchRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(ts.URL+"/v1/search", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestHandleGetChunk(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/v1/chunks/4742:1:abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result bylaw.SearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "4742", result.Metadata.BylawNumber)

	missing, err := http.Get(ts.URL + "/v1/chunks/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHandleGetBylaw(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/v1/bylaws/4742")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bylawResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Tree Protection Bylaw", body.Bylaw.Title)
	require.Len(t, body.Sections, 1)
	assert.Equal(t, "Prohibition", body.Sections[0].Title)

	missing, err := http.Get(ts.URL + "/v1/bylaws/0000")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestHandleFeedback(t *testing.T) {
	_, ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/feedback", feedbackRequest{
		BylawNumber: "4742",
		Section:     "1",
		Query:       "tree cutting",
		Rating:      "accurate",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	bad := postJSON(t, ts.URL+"/v1/feedback", feedbackRequest{
		BylawNumber: "4742",
		Rating:      "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := testServer(t)

	// Generate some traffic so counters exist.
	postJSON(t, ts.URL+"/v1/search", searchRequest{Query: "tree cutting rules"})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStartShutdown(t *testing.T) {
	store := seedStore(t)
	m := metrics.New()
	engine, err := search.New(context.Background(), search.Config{BatchMaxSize: 1},
		&stubEmbedder{}, &stubProvider{}, verify.NewVerifier(store), nil, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	port := freePort(t)
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: port}, engine, store, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
