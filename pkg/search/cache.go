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
	"container/list"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/civiclabs/bylawd/pkg/bylaw"
)

// sweepProbability is the chance that a Get triggers a full sweep of
// expired entries, amortizing cleanup across reads without a background
// goroutine.
const sweepProbability = 0.01

// resultCache is a TTL + LRU bounded cache of verified search results.
type resultCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*list.Element
	order      *list.List // front = most recently used

	now func() time.Time
}

type cacheEntry struct {
	key       string
	results   []bylaw.VerifiedResult
	expiresAt time.Time
}

func newResultCache(ttl time.Duration, maxEntries int) *resultCache {
	return &resultCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// cacheKey canonicalizes a query and its options so equivalent requests
// share an entry.
func cacheKey(query string, opts Options) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(query)))
	fmt.Fprintf(&b, "|limit=%d|min=%.3f", opts.Limit, opts.MinScore)

	if len(opts.Filters) > 0 {
		keys := make([]string, 0, len(opts.Filters))
		for k := range opts.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "|%s=%v", k, opts.Filters[k])
		}
	}
	return b.String()
}

func (c *resultCache) get(key string) ([]bylaw.VerifiedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rand.Float64() < sweepProbability {
		c.sweepLocked()
	}

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		return nil, false
	}

	c.order.MoveToFront(elem)

	// Copy so callers cannot mutate the cached slice.
	results := make([]bylaw.VerifiedResult, len(entry.results))
	copy(results, entry.results)
	return results, true
}

func (c *resultCache) put(key string, results []bylaw.VerifiedResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := make([]bylaw.VerifiedResult, len(results))
	copy(stored, results)

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.results = stored
		entry.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       key,
		results:   stored,
		expiresAt: c.now().Add(c.ttl),
	})
	c.entries[key] = elem

	for c.maxEntries > 0 && c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *resultCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.order.Remove(elem)
}

// sweepLocked drops every expired entry.
func (c *resultCache) sweepLocked() {
	now := c.now()
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*cacheEntry).expiresAt) {
			c.removeLocked(elem)
		}
		elem = prev
	}
}
