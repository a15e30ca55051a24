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

// Package vector wraps external vector databases behind a common Provider
// interface. The backend is selected once at construction time from
// configuration.
package vector

import (
	"context"
	"fmt"
)

// Result is one scored match returned by a vector backend.
type Result struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
	Score    float32
}

// Record is one vector plus payload to store.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Provider is the contract every vector backend implements.
//
// Filter values may be scalars (exact match) or slices (OR match).
// Providers ignore filter keys they cannot express rather than erroring.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Upsert adds or replaces records in a collection.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Search finds the topK most similar vectors.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines vector similarity with metadata filtering.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)

	// Fetch retrieves records by id. Missing ids are skipped, not errors.
	Fetch(ctx context.Context, collection string, ids []string) ([]Result, error)

	// DeleteByFilter removes all records matching the filter.
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error

	// CreateCollection ensures a collection with the given dimension exists.
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error

	// DeleteCollection removes a collection.
	DeleteCollection(ctx context.Context, collection string) error

	// Close releases client resources.
	Close() error
}

// ProviderType identifies a vector provider implementation.
type ProviderType string

const (
	// ProviderChromem uses chromem-go for embedded vector storage.
	// Zero-config, no external dependencies. Best for development and tests.
	ProviderChromem ProviderType = "chromem"

	// ProviderQdrant uses a Qdrant vector database over gRPC.
	ProviderQdrant ProviderType = "qdrant"

	// ProviderPinecone uses the Pinecone managed vector database.
	ProviderPinecone ProviderType = "pinecone"
)

// Config selects and configures a vector provider.
type Config struct {
	// Type identifies which provider to create.
	Type ProviderType `yaml:"type"`

	// Chromem configuration (used when Type == "chromem").
	Chromem *ChromemConfig `yaml:"chromem,omitempty"`

	// Qdrant configuration (used when Type == "qdrant").
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`

	// Pinecone configuration (used when Type == "pinecone").
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderChromem
	}
	if c.Type == ProviderChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case ProviderChromem:
		return nil
	case ProviderQdrant:
		if c.Qdrant == nil {
			return fmt.Errorf("qdrant configuration is required")
		}
		return nil
	case ProviderPinecone:
		if c.Pinecone == nil {
			return fmt.Errorf("pinecone configuration is required")
		}
		if c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone api_key is required")
		}
		if c.Pinecone.IndexName == "" {
			return fmt.Errorf("pinecone index_name is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported vector provider: %s (supported: chromem, qdrant, pinecone)", c.Type)
	}
}

// New creates a Provider from configuration.
func New(cfg Config) (Provider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vector config: %w", err)
	}

	switch cfg.Type {
	case ProviderChromem:
		return NewChromemProvider(*cfg.Chromem)
	case ProviderQdrant:
		return NewQdrantProvider(*cfg.Qdrant)
	case ProviderPinecone:
		return NewPineconeProvider(*cfg.Pinecone)
	default:
		return nil, fmt.Errorf("unsupported vector provider: %s", cfg.Type)
	}
}
