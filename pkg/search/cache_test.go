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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclabs/bylawd/pkg/bylaw"
)

func sampleResults(ids ...string) []bylaw.VerifiedResult {
	results := make([]bylaw.VerifiedResult, len(ids))
	for i, id := range ids {
		results[i] = bylaw.VerifiedResult{
			SearchResult: bylaw.SearchResult{ID: id, Text: "passage " + id, Score: 0.8},
		}
	}
	return results
}

func TestCacheKeyCanonicalization(t *testing.T) {
	base := cacheKey("Tree Cutting", Options{Limit: 5, MinScore: 0.6})

	assert.Equal(t, base, cacheKey("tree cutting", Options{Limit: 5, MinScore: 0.6}))
	assert.Equal(t, base, cacheKey("  tree cutting  ", Options{Limit: 5, MinScore: 0.6}))
	assert.NotEqual(t, base, cacheKey("tree cutting", Options{Limit: 10, MinScore: 0.6}))
	assert.NotEqual(t, base, cacheKey("tree cutting", Options{Limit: 5, MinScore: 0.7}))

	// Filter order must not matter.
	a := cacheKey("q", Options{Limit: 5, Filters: map[string]any{"category": "trees", "section": "2"}})
	b := cacheKey("q", Options{Limit: 5, Filters: map[string]any{"section": "2", "category": "trees"}})
	assert.Equal(t, a, b)
}

func TestCacheGetPut(t *testing.T) {
	cache := newResultCache(time.Minute, 10)

	_, ok := cache.get("missing")
	assert.False(t, ok)

	cache.put("k", sampleResults("a", "b"))
	got, ok := cache.get("k")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	// Mutating the returned slice must not affect the cached copy.
	got[0].ID = "mutated"
	again, ok := cache.get("k")
	require.True(t, ok)
	assert.Equal(t, "a", again[0].ID)
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := newResultCache(time.Minute, 10)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.put("k", sampleResults("a"))

	_, ok := cache.get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = cache.get("k")
	assert.False(t, ok, "expired entry must miss")
	assert.Equal(t, 0, cache.len(), "expired entry is removed on read")
}

func TestCacheLRUEviction(t *testing.T) {
	cache := newResultCache(time.Minute, 2)

	cache.put("a", sampleResults("1"))
	cache.put("b", sampleResults("2"))

	// Touch "a" so "b" is the eviction candidate.
	_, ok := cache.get("a")
	require.True(t, ok)

	cache.put("c", sampleResults("3"))
	assert.Equal(t, 2, cache.len())

	_, ok = cache.get("b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = cache.get("a")
	assert.True(t, ok)
	_, ok = cache.get("c")
	assert.True(t, ok)
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	cache := newResultCache(time.Minute, 10)
	now := time.Now()
	cache.now = func() time.Time { return now }

	cache.put("a", sampleResults("1"))
	cache.put("b", sampleResults("2"))
	now = now.Add(2 * time.Minute)
	cache.put("c", sampleResults("3"))

	cache.mu.Lock()
	cache.sweepLocked()
	cache.mu.Unlock()

	assert.Equal(t, 1, cache.len())
	_, ok := cache.get("c")
	assert.True(t, ok)
}
