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

// Package metrics exposes Prometheus instrumentation for the search
// pipeline. All recording methods are nil-safe so callers never guard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	searches          *prometheus.CounterVec
	searchDuration    prometheus.Histogram
	cacheEvents       *prometheus.CounterVec
	fallbackTier      *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	batchesDispatched prometheus.Counter
	batchSize         prometheus.Histogram
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bylawd_searches_total",
			Help: "Total search requests by outcome (ok = fresh result, hit = cache hit, empty = no results).",
		}, []string{"outcome"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bylawd_search_duration_seconds",
			Help:    "End-to-end search latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bylawd_cache_events_total",
			Help: "Result cache events by type (hit, miss, evict).",
		}, []string{"event"}),
		fallbackTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bylawd_fallback_activations_total",
			Help: "Fallback tier activations by tier (title, metadata, scan).",
		}, []string{"tier"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bylawd_verifications_total",
			Help: "Citation verification outcomes (verified, unverified).",
		}, []string{"outcome"}),
		batchesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bylawd_embed_batches_total",
			Help: "Embedding batches dispatched to the provider.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bylawd_embed_batch_size",
			Help:    "Number of requests coalesced per embedding batch.",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),
	}

	registry.MustRegister(
		m.searches,
		m.searchDuration,
		m.cacheEvents,
		m.fallbackTier,
		m.verifications,
		m.batchesDispatched,
		m.batchSize,
	)
	return m
}

// Registry returns the underlying registry for HTTP exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSearch records one completed search.
func (m *Metrics) RecordSearch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(outcome).Inc()
	m.searchDuration.Observe(duration.Seconds())
}

// RecordCacheEvent records a cache hit, miss, or eviction.
func (m *Metrics) RecordCacheEvent(event string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(event).Inc()
}

// RecordFallback records a fallback tier activation.
func (m *Metrics) RecordFallback(tier string) {
	if m == nil {
		return
	}
	m.fallbackTier.WithLabelValues(tier).Inc()
}

// RecordVerification records a citation verification outcome.
func (m *Metrics) RecordVerification(verified bool) {
	if m == nil {
		return
	}
	outcome := "unverified"
	if verified {
		outcome = "verified"
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

// RecordBatch records one dispatched embedding batch.
func (m *Metrics) RecordBatch(size int) {
	if m == nil {
		return
	}
	m.batchesDispatched.Inc()
	m.batchSize.Observe(float64(size))
}
