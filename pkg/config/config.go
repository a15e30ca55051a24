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

// Package config defines the top-level configuration for the bylaw search
// service and loads it from YAML files with environment variable expansion.
package config

import (
	"fmt"
	"time"

	"github.com/civiclabs/bylawd/pkg/embedder"
	"github.com/civiclabs/bylawd/pkg/vector"
)

// Config is the root configuration.
//
// Example:
//
//	embedder:
//	  type: openai
//	  api_key: ${OPENAI_API_KEY}
//	vector:
//	  type: qdrant
//	  qdrant:
//	    host: localhost
//	registry:
//	  driver: postgres
//	  dsn: ${BYLAW_DB_DSN}
type Config struct {
	// Logging configuration.
	Logging LoggingConfig `yaml:"logging,omitempty"`

	// Embedder configuration.
	Embedder embedder.Config `yaml:"embedder,omitempty"`

	// Vector store configuration.
	Vector vector.Config `yaml:"vector,omitempty"`

	// Registry is the authoritative bylaw registry database.
	Registry RegistryConfig `yaml:"registry,omitempty"`

	// Search tuning.
	Search SearchConfig `yaml:"search,omitempty"`

	// Corpus of source documents for fallback scanning and ingestion.
	Corpus CorpusConfig `yaml:"corpus,omitempty"`

	// Server configuration for the HTTP API.
	Server ServerConfig `yaml:"server,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default: info).
	Level string `yaml:"level,omitempty"`

	// Format is "text" or "json" (default: text).
	Format string `yaml:"format,omitempty"`

	// File redirects log output to a file (default: stderr).
	File string `yaml:"file,omitempty"`
}

// RegistryConfig configures the bylaw registry database.
type RegistryConfig struct {
	// Driver is one of postgres, mysql, sqlite3 (default: sqlite3).
	Driver string `yaml:"driver,omitempty"`

	// DSN is the database connection string.
	DSN string `yaml:"dsn,omitempty"`

	// MaxOpenConns bounds the connection pool (default: 10).
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`
}

// SearchConfig tunes retrieval behavior.
type SearchConfig struct {
	// Collection is the vector collection holding bylaw chunks
	// (default: bylaw_chunks).
	Collection string `yaml:"collection,omitempty"`

	// DefaultLimit is the result count when the caller does not set one
	// (default: 5).
	DefaultLimit int `yaml:"default_limit,omitempty"`

	// MinScore filters out weak matches (default: 0.6).
	MinScore float32 `yaml:"min_score,omitempty"`

	// CacheTTL is how long cached results stay fresh (default: 5m).
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`

	// CacheMaxEntries bounds the result cache (default: 1000).
	CacheMaxEntries int `yaml:"cache_max_entries,omitempty"`

	// BatchWindow is how long the request batcher waits to fill a batch
	// (default: 25ms).
	BatchWindow time.Duration `yaml:"batch_window,omitempty"`

	// BatchMaxSize flushes a batch early once this many requests are
	// queued (default: 16).
	BatchMaxSize int `yaml:"batch_max_size,omitempty"`

	// MaxRetries for transient vector store failures (default: 2).
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// CorpusConfig locates the source documents.
type CorpusConfig struct {
	// Dir is the directory holding bylaw source files (pdf, docx, txt, md).
	Dir string `yaml:"dir,omitempty"`

	// MaxScanFiles bounds how many files the last-resort fallback scan
	// will read per query (default: 50).
	MaxScanFiles int `yaml:"max_scan_files,omitempty"`

	// Watch enables fsnotify invalidation of cached file extractions.
	Watch bool `yaml:"watch,omitempty"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// Host to bind (default: 0.0.0.0).
	Host string `yaml:"host,omitempty"`

	// Port to listen on (default: 8080).
	Port int `yaml:"port,omitempty"`

	// ReadTimeout for incoming requests (default: 15s).
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`

	// WriteTimeout for responses (default: 30s).
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	c.Embedder.SetDefaults()
	c.Vector.SetDefaults()

	if c.Registry.Driver == "" {
		c.Registry.Driver = "sqlite3"
	}
	if c.Registry.DSN == "" && c.Registry.Driver == "sqlite3" {
		c.Registry.DSN = "bylaws.db"
	}
	if c.Registry.MaxOpenConns == 0 {
		c.Registry.MaxOpenConns = 10
	}

	if c.Search.Collection == "" {
		c.Search.Collection = "bylaw_chunks"
	}
	if c.Search.DefaultLimit == 0 {
		c.Search.DefaultLimit = 5
	}
	if c.Search.MinScore == 0 {
		c.Search.MinScore = 0.6
	}
	if c.Search.CacheTTL == 0 {
		c.Search.CacheTTL = 5 * time.Minute
	}
	if c.Search.CacheMaxEntries == 0 {
		c.Search.CacheMaxEntries = 1000
	}
	if c.Search.BatchWindow == 0 {
		c.Search.BatchWindow = 25 * time.Millisecond
	}
	if c.Search.BatchMaxSize == 0 {
		c.Search.BatchMaxSize = 16
	}
	if c.Search.MaxRetries == 0 {
		c.Search.MaxRetries = 2
	}

	if c.Corpus.MaxScanFiles == 0 {
		c.Corpus.MaxScanFiles = 50
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}

	switch c.Registry.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return fmt.Errorf("registry: unsupported driver %q (supported: postgres, mysql, sqlite3)", c.Registry.Driver)
	}
	if c.Registry.DSN == "" {
		return fmt.Errorf("registry: dsn is required for driver %s", c.Registry.Driver)
	}

	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search: default_limit must be positive")
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search: min_score must be between 0 and 1")
	}
	if c.Search.BatchMaxSize < 1 {
		return fmt.Errorf("search: batch_max_size must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}
	return nil
}
