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
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/civiclabs/bylawd/pkg/bylaw"
	"github.com/civiclabs/bylawd/pkg/vector"
)

const (
	// ingestBatchSize is how many chunks are embedded and upserted per
	// upstream call.
	ingestBatchSize = 64

	// ingestConcurrency bounds in-flight embed+upsert batches.
	ingestConcurrency = 4
)

// IngestChunks indexes bylaw chunks. Existing records for the same bylaw
// numbers are deleted first, so re-indexing supersedes rather than
// duplicates. Chunks are immutable once stored; every run writes fresh
// unique ids. Returns the number of chunks indexed.
func (e *Engine) IngestChunks(ctx context.Context, chunks []bylaw.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	for i, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return 0, fmt.Errorf("chunk %d: %w", i, err)
		}
	}

	// Supersede prior index runs for the affected bylaws.
	seen := make(map[string]struct{})
	for _, chunk := range chunks {
		number := chunk.Metadata.BylawNumber
		if _, done := seen[number]; done {
			continue
		}
		seen[number] = struct{}{}

		filter := map[string]any{bylaw.KeyBylawNumber: number}
		if err := e.provider.DeleteByFilter(ctx, e.config.Collection, filter); err != nil {
			slog.Warn("Failed to delete superseded chunks", "bylaw", number, "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)

	for start := 0; start < len(chunks); start += ingestBatchSize {
		end := start + ingestBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, chunk := range batch {
				texts[i] = chunk.Text
			}

			vectors, err := e.embedder.EmbedDocuments(ctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed batch: %w", err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
			}

			records := make([]vector.Record, len(batch))
			for i, chunk := range batch {
				records[i] = vector.Record{
					ID:       chunkID(chunk),
					Vector:   vectors[i],
					Metadata: bylaw.MetadataToMap(chunk.Text, chunk.Metadata),
				}
			}

			return e.retryer.Do(ctx, "upsert chunks", func() error {
				return e.provider.Upsert(ctx, e.config.Collection, records)
			})
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}

	slog.Info("Indexed bylaw chunks",
		"collection", e.config.Collection,
		"chunks", len(chunks),
		"bylaws", len(seen))
	return len(chunks), nil
}

// chunkID builds a unique id carrying the citation plus a random suffix
// so re-indexing never collides with prior runs.
func chunkID(chunk bylaw.Chunk) string {
	section := chunk.Metadata.Section
	if section == "" {
		section = "0"
	}
	return fmt.Sprintf("%s:%s:%s", chunk.Metadata.BylawNumber, section, uuid.NewString()[:8])
}
