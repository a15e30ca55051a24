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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/civiclabs/bylawd/pkg/bylaw"
	"github.com/civiclabs/bylawd/pkg/extract"
	"github.com/civiclabs/bylawd/pkg/metrics"
	"github.com/civiclabs/bylawd/pkg/vector"
)

// snippetTokenBudget bounds synthetic passages produced by the raw file
// scan tier.
const snippetTokenBudget = 256

// Corpus is the local directory of bylaw source documents used by the
// fallback tiers when the vector backend is unavailable.
type Corpus struct {
	dir          string
	maxScanFiles int
	extractor    *extract.Extractor
	counter      extract.TokenCounter
}

// NewCorpus creates a Corpus rooted at dir. maxScanFiles bounds the raw
// scan tier; zero means the default of 50.
func NewCorpus(dir string, maxScanFiles int, extractor *extract.Extractor) *Corpus {
	if maxScanFiles <= 0 {
		maxScanFiles = 50
	}
	return &Corpus{
		dir:          dir,
		maxScanFiles: maxScanFiles,
		extractor:    extractor,
	}
}

// listFiles returns supported corpus files in stable name order.
func (c *Corpus) listFiles() ([]string, error) {
	if c == nil || c.dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if extract.Supported(entry.Name()) {
			files = append(files, filepath.Join(c.dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// derivedTitle turns a filename into a human-readable title.
func derivedTitle(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.Join(strings.Fields(name), " ")
}

// Fallback runs the degraded retrieval tiers in order until one produces
// results. It never returns an error: exhausting every tier yields an
// empty list.
type Fallback struct {
	provider   vector.Provider
	collection string
	dimension  int
	corpus     *Corpus
	metrics    *metrics.Metrics
}

// NewFallback creates the fallback chain. dimension is the embedder's
// vector width, used to build the zero vector for metadata-only queries.
func NewFallback(provider vector.Provider, collection string, dimension int, corpus *Corpus, m *metrics.Metrics) *Fallback {
	return &Fallback{
		provider:   provider,
		collection: collection,
		dimension:  dimension,
		corpus:     corpus,
		metrics:    m,
	}
}

// Search tries each tier in order: title match over the corpus, a
// metadata-only store query, then a bounded raw file scan.
func (f *Fallback) Search(ctx context.Context, query string, tokens []string, limit int, filters map[string]any) []bylaw.SearchResult {
	if results := f.titleSearch(tokens, limit); len(results) > 0 {
		f.metrics.RecordFallback("title")
		return results
	}

	if results := f.metadataSearch(ctx, tokens, limit, filters); len(results) > 0 {
		f.metrics.RecordFallback("metadata")
		return results
	}

	if results := f.scanFiles(ctx, tokens, limit); len(results) > 0 {
		f.metrics.RecordFallback("scan")
		return results
	}

	slog.Debug("All fallback tiers empty", "query", query)
	return []bylaw.SearchResult{}
}

// titleSearch matches query tokens against derived file titles and
// returns synthetic results with descending mock scores.
func (f *Fallback) titleSearch(tokens []string, limit int) []bylaw.SearchResult {
	files, err := f.corpus.listFiles()
	if err != nil {
		slog.Warn("Failed to list corpus files", "error", err)
		return nil
	}

	var results []bylaw.SearchResult
	score := float32(0.9)
	for _, path := range files {
		if len(results) >= limit {
			break
		}

		title := derivedTitle(path)
		lower := strings.ToLower(title)
		matched := false
		for _, tok := range tokens {
			if strings.Contains(lower, tok) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		results = append(results, bylaw.SearchResult{
			ID:    "file:" + filepath.Base(path),
			Text:  title,
			Score: score,
			Metadata: bylaw.ChunkMetadata{
				BylawNumber: firstReference(title),
				Title:       title,
			},
		})
		score -= 0.05
		if score < 0 {
			score = 0
		}
	}
	return results
}

// metadataSearch issues a zero-vector query so the store matches on
// filters alone, then re-ranks by keyword position.
func (f *Fallback) metadataSearch(ctx context.Context, tokens []string, limit int, filters map[string]any) []bylaw.SearchResult {
	if f.provider == nil || len(filters) == 0 {
		return nil
	}

	zeroVector := make([]float32, f.dimension)
	matches, err := f.provider.SearchWithFilter(ctx, f.collection, zeroVector, limit*2, filters)
	if err != nil {
		slog.Debug("Metadata-only query failed", "error", err)
		return nil
	}

	var results []bylaw.SearchResult
	for _, m := range matches {
		text := bylaw.TextFromMap(m.Metadata, m.Content)
		score := PositionalScore(tokens, text)
		if score <= 0 {
			continue
		}
		results = append(results, bylaw.SearchResult{
			ID:       m.ID,
			Text:     text,
			Metadata: bylaw.MetadataFromMap(m.Metadata),
			Score:    score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// scanFiles reads a bounded number of raw documents and returns token
// windows centered on the first keyword hit, ranked by hit count.
func (f *Fallback) scanFiles(ctx context.Context, tokens []string, limit int) []bylaw.SearchResult {
	if f.corpus == nil || f.corpus.extractor == nil || len(tokens) == 0 {
		return nil
	}

	files, err := f.corpus.listFiles()
	if err != nil {
		slog.Warn("Failed to list corpus files", "error", err)
		return nil
	}
	if len(files) > f.corpus.maxScanFiles {
		files = files[:f.corpus.maxScanFiles]
	}

	type scanHit struct {
		result bylaw.SearchResult
		hits   int
	}

	var hits []scanHit
	for _, path := range files {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		text, err := f.corpus.extractor.Extract(ctx, path)
		if err != nil {
			slog.Debug("Extraction failed during scan", "path", path, "error", err)
			continue
		}

		lower := lowerASCII(text)
		count := 0
		firstHit := -1
		for _, tok := range tokens {
			idx := strings.Index(lower, tok)
			if idx < 0 {
				continue
			}
			count += strings.Count(lower, tok)
			if firstHit < 0 || idx < firstHit {
				firstHit = idx
			}
		}
		if count == 0 {
			continue
		}

		window := f.window(text, firstHit)
		title := derivedTitle(path)
		hits = append(hits, scanHit{
			hits: count,
			result: bylaw.SearchResult{
				ID:    "scan:" + filepath.Base(path),
				Text:  window,
				Score: KeywordScore(tokens, text),
				Metadata: bylaw.ChunkMetadata{
					BylawNumber: firstReference(title),
					Title:       title,
				},
			},
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].hits > hits[j].hits
	})

	results := make([]bylaw.SearchResult, 0, limit)
	for _, h := range hits {
		if len(results) >= limit {
			break
		}
		results = append(results, h.result)
	}
	return results
}

// window returns a token-bounded slice of text around the first hit.
func (f *Fallback) window(text string, center int) string {
	start := center - 400
	if start < 0 {
		start = 0
	}
	end := center + 1600
	if end > len(text) {
		end = len(text)
	}
	return f.corpus.counter.Truncate(text[start:end], snippetTokenBudget)
}

// lowerASCII lowercases ASCII letters only, preserving byte offsets so
// match indexes map back into the original text. Query tokens are ASCII
// after normalization, so this loses no matches.
func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func firstReference(s string) string {
	refs := bylaw.ExtractReferences(s)
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}
