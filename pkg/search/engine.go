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

// Package search implements hybrid bylaw retrieval: vector similarity
// blended with keyword overlap, a tiered fallback chain for degraded
// backends, registry verification of citations, and a TTL result cache.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/civiclabs/bylawd/pkg/bylaw"
	"github.com/civiclabs/bylawd/pkg/embedder"
	"github.com/civiclabs/bylawd/pkg/metrics"
	"github.com/civiclabs/bylawd/pkg/vector"
)

// Blend weights for the hybrid score. Fixed design constants, not
// tunable per call.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// Verifier annotates retrieval hits against the authoritative registry.
type Verifier interface {
	Annotate(ctx context.Context, results []bylaw.SearchResult) []bylaw.VerifiedResult
	Anchored(ctx context.Context, query string) []bylaw.VerifiedResult
}

// Options tune one search call.
type Options struct {
	// Limit caps the number of results (default: engine's DefaultLimit).
	Limit int

	// MinScore drops vector matches below this raw similarity
	// (default: engine's MinScore).
	MinScore float32

	// Filters restrict matches by metadata. Scalar values are exact
	// matches, slices are OR matches. Unsupported keys are ignored.
	Filters map[string]any

	// NoCache bypasses the result cache for this call.
	NoCache bool
}

// Config tunes the engine.
type Config struct {
	// Collection is the vector collection holding bylaw chunks.
	Collection string

	// DefaultLimit when the caller does not set one (default: 5).
	DefaultLimit int

	// MinScore filters weak vector matches (default: 0.6).
	MinScore float32

	// CacheTTL for the result cache (default: 5m).
	CacheTTL time.Duration

	// CacheMaxEntries bounds the result cache (default: 1000).
	CacheMaxEntries int

	// BatchWindow for the embedding request batcher (default: 25ms).
	BatchWindow time.Duration

	// BatchMaxSize for the embedding request batcher (default: 16).
	BatchMaxSize int

	// Retry configures vector store retries.
	Retry RetryConfig
}

func (c *Config) setDefaults() {
	if c.Collection == "" {
		c.Collection = "bylaw_chunks"
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 5
	}
	if c.MinScore == 0 {
		c.MinScore = 0.6
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = 1000
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = 25 * time.Millisecond
	}
	if c.BatchMaxSize <= 0 {
		c.BatchMaxSize = 16
	}
}

// Engine orchestrates the retrieval pipeline. Construct with New and
// release with Close. The provider, embedder, and verifier are owned by
// the caller.
type Engine struct {
	config   Config
	embedder embedder.Embedder
	provider vector.Provider
	verifier Verifier
	fallback *Fallback
	cache    *resultCache
	retryer  *Retryer
	batchers *BatcherRegistry[string, []float32]
	metrics  *metrics.Metrics
}

// New creates an Engine and ensures the vector collection exists with the
// embedder's dimension. A dimension mismatch is a fatal configuration
// error.
func New(ctx context.Context, cfg Config, emb embedder.Embedder, provider vector.Provider, verifier Verifier, corpus *Corpus, m *metrics.Metrics) (*Engine, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("vector provider is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}
	cfg.setDefaults()

	if err := provider.CreateCollection(ctx, cfg.Collection, emb.Dimension()); err != nil {
		return nil, fmt.Errorf("failed to prepare collection %s: %w", cfg.Collection, err)
	}

	e := &Engine{
		config:   cfg,
		embedder: emb,
		provider: provider,
		verifier: verifier,
		fallback: NewFallback(provider, cfg.Collection, emb.Dimension(), corpus, m),
		cache:    newResultCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		retryer:  NewRetryer(cfg.Retry),
		metrics:  m,
	}

	e.batchers = NewBatcherRegistry(func(namespace string) *Batcher[string, []float32] {
		return NewBatcher(func(ctx context.Context, texts []string) ([][]float32, error) {
			return e.embedder.EmbedDocuments(ctx, texts)
		}, BatcherConfig{
			Window:  cfg.BatchWindow,
			MaxSize: cfg.BatchMaxSize,
			Retry:   cfg.Retry,
			OnFlush: m.RecordBatch,
		})
	})

	return e, nil
}

// Search runs the full pipeline for one query. It only fails on context
// cancellation: backend trouble degrades through the fallback tiers and
// worst case yields an empty, non-error result list.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]bylaw.VerifiedResult, error) {
	start := time.Now()
	opts = e.applyDefaults(opts)
	key := cacheKey(query, opts)

	if !opts.NoCache {
		if cached, ok := e.cache.get(key); ok {
			e.metrics.RecordCacheEvent("hit")
			e.metrics.RecordSearch("hit", time.Since(start))
			return cached, nil
		}
		e.metrics.RecordCacheEvent("miss")
	}

	// Explicit bylaw references anchor the ranking: the registry's own
	// sections lead at score 1.0, and any remaining slots are filled by
	// vector hits for other bylaws named in the query.
	if anchored := e.verifier.Anchored(ctx, query); len(anchored) > 0 {
		results := e.fillAnchored(ctx, query, anchored, opts)
		e.finish(key, results, opts, start)
		return results, nil
	}

	tokens := Tokenize(query)

	results := e.vectorSearch(ctx, query, tokens, opts)
	if len(results) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		results = e.fallback.Search(ctx, query, tokens, opts.Limit, opts.Filters)
	}

	verified := e.verifier.Annotate(ctx, results)
	for _, r := range verified {
		e.metrics.RecordVerification(r.IsVerified)
	}

	e.finish(key, verified, opts, start)
	return verified, nil
}

// fillAnchored puts a referenced bylaw's own sections ahead of everything
// else, then tops up to the limit with vector hits for other bylaws.
// Hits for the cited bylaws are dropped: the registry sections already
// cover them.
func (e *Engine) fillAnchored(ctx context.Context, query string, anchored []bylaw.VerifiedResult, opts Options) []bylaw.VerifiedResult {
	if len(anchored) >= opts.Limit {
		return anchored[:opts.Limit]
	}

	cited := make(map[string]bool, len(anchored))
	for _, a := range anchored {
		cited[a.Metadata.BylawNumber] = true
	}

	var rest []bylaw.SearchResult
	for _, r := range e.vectorSearch(ctx, query, Tokenize(query), opts) {
		if cited[r.Metadata.BylawNumber] {
			continue
		}
		rest = append(rest, r)
	}
	if len(rest) == 0 {
		return anchored
	}

	verified := e.verifier.Annotate(ctx, rest)
	for _, r := range verified {
		e.metrics.RecordVerification(r.IsVerified)
	}

	anchored = append(anchored, verified...)
	if len(anchored) > opts.Limit {
		anchored = anchored[:opts.Limit]
	}
	return anchored
}

func (e *Engine) finish(key string, results []bylaw.VerifiedResult, opts Options, start time.Time) {
	if !opts.NoCache {
		e.cache.put(key, results)
	}
	outcome := "ok"
	if len(results) == 0 {
		outcome = "empty"
	}
	e.metrics.RecordSearch(outcome, time.Since(start))
}

func (e *Engine) applyDefaults(opts Options) Options {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.MinScore <= 0 {
		opts.MinScore = e.config.MinScore
	}
	return opts
}

// vectorSearch runs the primary tier: embed, over-fetched vector query,
// min-score filter, hybrid blend, sort, truncate. Any failure returns nil
// so the caller falls back.
func (e *Engine) vectorSearch(ctx context.Context, query string, tokens []string, opts Options) []bylaw.SearchResult {
	// Embedding failures are not retried; they drop straight to fallback.
	queryVector, err := e.batchers.Get(e.config.Collection).Submit(ctx, query)
	if err != nil {
		slog.Warn("Query embedding failed", "error", err)
		return nil
	}

	topK := 2 * opts.Limit
	matches, err := DoWithResult(ctx, e.retryer, "vector search", func() ([]vector.Result, error) {
		return e.provider.SearchWithFilter(ctx, e.config.Collection, queryVector, topK, opts.Filters)
	})
	if err != nil {
		slog.Warn("Vector search failed", "collection", e.config.Collection, "error", err)
		return nil
	}

	var results []bylaw.SearchResult
	for _, m := range matches {
		if m.Score < opts.MinScore {
			continue
		}
		text := bylaw.TextFromMap(m.Metadata, m.Content)
		blended := vectorWeight*m.Score + keywordWeight*KeywordScore(tokens, text)
		results = append(results, bylaw.SearchResult{
			ID:       m.ID,
			Text:     text,
			Metadata: bylaw.MetadataFromMap(m.Metadata),
			Score:    blended,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// GetBylawByID fetches one chunk directly, bypassing similarity search.
// Returns nil when the id does not exist.
func (e *Engine) GetBylawByID(ctx context.Context, id string) (*bylaw.SearchResult, error) {
	records, err := e.provider.Fetch(ctx, e.config.Collection, []string{id})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", id, err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	r := records[0]
	return &bylaw.SearchResult{
		ID:       r.ID,
		Text:     bylaw.TextFromMap(r.Metadata, r.Content),
		Metadata: bylaw.MetadataFromMap(r.Metadata),
		Score:    r.Score,
	}, nil
}

// SearchTool runs a search and shapes the outcome for the tool-calling
// layer.
func (e *Engine) SearchTool(ctx context.Context, query string, opts Options) (*bylaw.ToolResult, error) {
	results, err := e.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return &bylaw.ToolResult{
			Found:   false,
			Message: "No bylaw passages matched the query.",
		}, nil
	}

	items := make([]bylaw.ToolResultItem, 0, len(results))
	for _, r := range results {
		items = append(items, bylaw.ToolResultItem{
			BylawNumber:      r.Metadata.BylawNumber,
			Title:            r.Metadata.Title,
			Section:          r.Metadata.Section,
			SectionTitle:     r.Metadata.SectionTitle,
			Content:          r.Text,
			URL:              r.OfficialURL,
			IsConsolidated:   r.IsConsolidated,
			ConsolidatedDate: r.ConsolidatedDate,
		})
	}
	return &bylaw.ToolResult{Found: true, Results: items}, nil
}

// Close shuts down the embedding batchers. The provider, embedder, and
// verifier belong to the caller and are not closed here.
func (e *Engine) Close() error {
	e.batchers.Close()
	return nil
}
