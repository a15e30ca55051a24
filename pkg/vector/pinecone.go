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

package vector

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the Pinecone vector provider.
type PineconeConfig struct {
	// APIKey is required for Pinecone authentication.
	APIKey string `yaml:"api_key"`

	// Host is the Pinecone API host (optional).
	Host string `yaml:"host,omitempty"`

	// IndexName is the index to use. Pinecone has one index per provider;
	// the collection argument overrides this when non-empty.
	IndexName string `yaml:"index_name"`
}

// PineconeProvider implements Provider using the Pinecone managed service.
type PineconeProvider struct {
	client    *pinecone.Client
	config    PineconeConfig
	indexName string
}

// NewPineconeProvider creates a new Pinecone provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Pinecone")
	}

	clientParams := pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	}
	if cfg.Host != "" {
		clientParams.Host = cfg.Host
	}

	client, err := pinecone.NewClient(clientParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pinecone client: %w", err)
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "bylaw-index"
	}

	return &PineconeProvider{
		client:    client,
		config:    cfg,
		indexName: indexName,
	}, nil
}

// Name returns the provider name.
func (p *PineconeProvider) Name() string {
	return "pinecone"
}

func (p *PineconeProvider) resolveIndex(collection string) string {
	if collection != "" {
		return collection
	}
	return p.indexName
}

// getIndexConnection gets an IndexConnection for the index.
func (p *PineconeProvider) getIndexConnection(ctx context.Context, indexName string) (*pinecone.IndexConnection, error) {
	index, err := p.client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", indexName, err)
	}

	indexConn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      index.Host,
		Namespace: "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index connection: %w", err)
	}

	return indexConn, nil
}

// Upsert adds or replaces records.
func (p *PineconeProvider) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return err
	}
	defer indexConn.Close()

	vectors := make([]*pinecone.Vector, 0, len(records))
	for _, rec := range records {
		var metadata *pinecone.Metadata
		if len(rec.Metadata) > 0 {
			metadata, err = structpb.NewStruct(rec.Metadata)
			if err != nil {
				return fmt.Errorf("failed to convert metadata for %s: %w", rec.ID, err)
			}
		}
		vectors = append(vectors, &pinecone.Vector{
			Id:       rec.ID,
			Values:   rec.Vector,
			Metadata: metadata,
		})
	}

	if _, err := indexConn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}
	return nil
}

// Search finds the most similar vectors.
func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

// SearchWithFilter combines vector similarity with metadata filtering.
func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	metadataFilter, err := buildPineconeFilter(filter)
	if err != nil {
		return nil, err
	}

	queryResponse, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query Pinecone: %w", err)
	}

	return convertPineconeMatches(queryResponse.Matches), nil
}

// Fetch retrieves records by id.
func (p *PineconeProvider) Fetch(ctx context.Context, collection string, ids []string) ([]Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	resp, err := indexConn.FetchVectors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch vectors: %w", err)
	}

	results := make([]Result, 0, len(resp.Vectors))
	for _, id := range ids {
		vec, ok := resp.Vectors[id]
		if !ok || vec == nil {
			continue
		}
		metadata := make(map[string]any)
		if vec.Metadata != nil {
			for k, v := range vec.Metadata.AsMap() {
				metadata[k] = v
			}
		}
		results = append(results, Result{
			ID:       vec.Id,
			Content:  stringMetadata(metadata, "text"),
			Vector:   vec.Values,
			Metadata: metadata,
			Score:    1.0,
		})
	}
	return results, nil
}

// DeleteByFilter removes all records matching the filter.
func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	indexConn, err := p.getIndexConnection(ctx, p.resolveIndex(collection))
	if err != nil {
		return err
	}
	defer indexConn.Close()

	metadataFilter, err := buildPineconeFilter(filter)
	if err != nil {
		return err
	}
	if metadataFilter == nil {
		return fmt.Errorf("filter is required for delete by filter")
	}

	if err := indexConn.DeleteVectorsByFilter(ctx, metadataFilter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// CreateCollection checks the index exists (Pinecone indexes are created
// via the console or management API, not from here).
func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, vectorDimension int) error {
	indexName := p.resolveIndex(collection)

	index, err := p.client.DescribeIndex(ctx, indexName)
	if err != nil {
		return fmt.Errorf("index %s does not exist, create it via the Pinecone console or API: %w", indexName, err)
	}
	if int(index.Dimension) != vectorDimension {
		return fmt.Errorf("index %s has dimension %d, embedder produces %d", indexName, index.Dimension, vectorDimension)
	}
	return nil
}

// DeleteCollection is not supported for managed Pinecone indexes.
func (p *PineconeProvider) DeleteCollection(ctx context.Context, collection string) error {
	return fmt.Errorf("index deletion not supported, delete index %s via the Pinecone console or API", p.resolveIndex(collection))
}

// Close closes the Pinecone client.
func (p *PineconeProvider) Close() error {
	// The Pinecone client has no explicit close.
	return nil
}

// buildPineconeFilter converts a filter map to a Pinecone metadata filter.
// Slice values become $in conditions.
func buildPineconeFilter(filter map[string]any) (*pinecone.MetadataFilter, error) {
	if len(filter) == 0 {
		return nil, nil
	}

	converted := make(map[string]any, len(filter))
	for k, v := range filter {
		switch vals := v.(type) {
		case []any:
			converted[k] = map[string]any{"$in": vals}
		case []string:
			in := make([]any, len(vals))
			for i, s := range vals {
				in[i] = s
			}
			converted[k] = map[string]any{"$in": in}
		default:
			converted[k] = v
		}
	}

	metadataFilter, err := structpb.NewStruct(converted)
	if err != nil {
		return nil, fmt.Errorf("failed to convert filter: %w", err)
	}
	return metadataFilter, nil
}

// convertPineconeMatches converts Pinecone matches to our Result type.
func convertPineconeMatches(matches []*pinecone.ScoredVector) []Result {
	results := make([]Result, 0, len(matches))
	for _, scored := range matches {
		if scored.Vector == nil {
			continue
		}

		metadata := make(map[string]any)
		if scored.Vector.Metadata != nil {
			for k, v := range scored.Vector.Metadata.AsMap() {
				metadata[k] = v
			}
		}

		results = append(results, Result{
			ID:       scored.Vector.Id,
			Content:  stringMetadata(metadata, "text"),
			Vector:   scored.Vector.Values,
			Metadata: metadata,
			Score:    scored.Score,
		})
	}
	return results
}

func stringMetadata(metadata map[string]any, key string) string {
	if s, ok := metadata[key].(string); ok {
		return s
	}
	return ""
}

// Ensure PineconeProvider implements Provider.
var _ Provider = (*PineconeProvider)(nil)
