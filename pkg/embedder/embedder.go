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

// Package embedder wraps text-embedding model providers behind a common
// interface. Providers are interchangeable; the implementation is selected
// once at construction time from configuration.
package embedder

import (
	"context"
	"fmt"
	"time"
)

// Embedder converts text into dense vectors of a fixed dimension.
type Embedder interface {
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments embeds a batch of passages, preserving input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension. A mismatch with
	// the configured vector index is a fatal configuration error.
	Dimension() int

	// Model returns the model name being used.
	Model() string

	// Close releases any resources.
	Close() error
}

// ProviderType identifies an embedder implementation.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
)

// Config selects and configures an embedder provider.
type Config struct {
	// Provider identifies which implementation to create.
	Provider ProviderType `yaml:"provider"`

	// APIKey for hosted providers (required for openai).
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// Model name (provider-specific default when empty).
	Model string `yaml:"model,omitempty"`

	// Dimension of the produced vectors (model default when 0).
	Dimension int `yaml:"dimension,omitempty"`

	// TimeoutSeconds for API requests (default: 30).
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// BatchSize for document embedding requests (default: 100).
	BatchSize int `yaml:"batch_size,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	// Ollama needs no credentials, so a zero config targets a local
	// instance out of the box.
	if c.Provider == "" {
		c.Provider = ProviderOllama
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for the openai embedder")
		}
	case ProviderOllama:
		// No required fields; defaults target a local instance.
	default:
		return fmt.Errorf("unsupported embedder provider: %s (supported: openai, ollama)", c.Provider)
	}
	return nil
}

// New creates an Embedder from configuration.
func New(cfg Config) (Embedder, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedder config: %w", err)
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   timeout,
			BatchSize: cfg.BatchSize,
		})
	case ProviderOllama:
		return NewOllamaEmbedder(OllamaConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", cfg.Provider)
	}
}
