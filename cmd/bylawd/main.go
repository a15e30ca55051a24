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

// Command bylawd runs the municipal bylaw search service.
//
// Usage:
//
//	bylawd serve --config config.yaml
//	bylawd search "tree cutting rules" --config config.yaml
//	bylawd index chunks.json --config config.yaml
//	bylawd initdb --config config.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/civiclabs/bylawd/pkg/bylaw"
	"github.com/civiclabs/bylawd/pkg/config"
	"github.com/civiclabs/bylawd/pkg/embedder"
	"github.com/civiclabs/bylawd/pkg/extract"
	"github.com/civiclabs/bylawd/pkg/logger"
	"github.com/civiclabs/bylawd/pkg/metrics"
	"github.com/civiclabs/bylawd/pkg/search"
	"github.com/civiclabs/bylawd/pkg/server"
	"github.com/civiclabs/bylawd/pkg/vector"
	"github.com/civiclabs/bylawd/pkg/verify"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API server."`
	Search  SearchCmd  `cmd:"" help:"Run a one-shot search from the terminal."`
	Index   IndexCmd   `cmd:"" help:"Index bylaw chunks from a JSON file."`
	InitDB  InitDBCmd  `cmd:"" name:"initdb" help:"Create the registry schema."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (text or json)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("bylawd version %s\n", version)
	return nil
}

// runtime bundles the wired pipeline components.
type runtime struct {
	cfg     *config.Config
	store   *verify.Store
	engine  *search.Engine
	metrics *metrics.Metrics

	embedder  embedder.Embedder
	provider  vector.Provider
	extractor *extract.Extractor
}

func (r *runtime) Close() {
	if r.engine != nil {
		_ = r.engine.Close()
	}
	if r.extractor != nil {
		_ = r.extractor.Close()
	}
	if r.provider != nil {
		_ = r.provider.Close()
	}
	if r.embedder != nil {
		_ = r.embedder.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}

func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config != "" {
		config.LoadDotEnvForConfig(cli.Config)
	} else {
		config.LoadDotEnv()
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	// CLI flags override file settings.
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFile != "" {
		cfg.Logging.File = cli.LogFile
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}
	return cfg, nil
}

// buildRuntime wires the full pipeline from configuration.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	r := &runtime{cfg: cfg, metrics: metrics.New()}

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	r.embedder = emb

	provider, err := vector.New(cfg.Vector)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create vector provider: %w", err)
	}
	r.provider = provider

	store, err := verify.NewStore(ctx, verify.StoreOptions{
		Driver:       cfg.Registry.Driver,
		DSN:          cfg.Registry.DSN,
		MaxOpenConns: cfg.Registry.MaxOpenConns,
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	r.store = store

	var corpus *search.Corpus
	if cfg.Corpus.Dir != "" {
		watchDir := ""
		if cfg.Corpus.Watch {
			watchDir = cfg.Corpus.Dir
		}
		extractor, err := extract.New(watchDir)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create extractor: %w", err)
		}
		r.extractor = extractor
		corpus = search.NewCorpus(cfg.Corpus.Dir, cfg.Corpus.MaxScanFiles, extractor)
	}

	engine, err := search.New(ctx, search.Config{
		Collection:      cfg.Search.Collection,
		DefaultLimit:    cfg.Search.DefaultLimit,
		MinScore:        cfg.Search.MinScore,
		CacheTTL:        cfg.Search.CacheTTL,
		CacheMaxEntries: cfg.Search.CacheMaxEntries,
		BatchWindow:     cfg.Search.BatchWindow,
		BatchMaxSize:    cfg.Search.BatchMaxSize,
		Retry:           search.RetryConfig{MaxRetries: cfg.Search.MaxRetries},
	}, emb, provider, verify.NewVerifier(store), corpus, r.metrics)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create search engine: %w", err)
	}
	r.engine = engine

	return r, nil
}

// ServeCmd starts the HTTP API server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	cleanup, err := logger.Setup(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.Watch && cli.Config != "" {
		go func() {
			err := config.Watch(ctx, cli.Config, func(updated *config.Config) {
				slog.Info("Config file changed; restart to apply", "path", cli.Config)
			})
			if err != nil && ctx.Err() == nil {
				slog.Warn("Config watch stopped", "error", err)
			}
		}()
	}

	fmt.Printf("bylawd ready\n")
	fmt.Printf("   Search:   http://%s:%d/v1/search\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Health:   http://%s:%d/health\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("   Metrics:  http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("\nPress Ctrl+C to stop")

	srv := server.New(cfg.Server, rt.engine, rt.store, rt.metrics)
	return srv.Start(ctx)
}

// SearchCmd runs a single query and prints the results as JSON.
type SearchCmd struct {
	Query    string   `arg:"" help:"Search query."`
	Limit    int      `help:"Maximum number of results."`
	MinScore float32  `name:"min-score" help:"Minimum vector similarity."`
	Category []string `help:"Restrict to categories (repeatable)."`
	Tool     bool     `help:"Print the tool-facing result shape instead of raw results."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	cleanup, err := logger.Setup(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	opts := search.Options{Limit: c.Limit, MinScore: c.MinScore}
	if len(c.Category) > 0 {
		opts.Filters = map[string]any{bylaw.KeyCategory: c.Category}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if c.Tool {
		result, err := rt.engine.SearchTool(ctx, c.Query, opts)
		if err != nil {
			return err
		}
		return enc.Encode(result)
	}

	results, err := rt.engine.Search(ctx, c.Query, opts)
	if err != nil {
		return err
	}
	return enc.Encode(results)
}

// IndexCmd ingests pre-chunked bylaw text from a JSON file. The file holds
// an array of chunks, each with "text" and "metadata" fields.
type IndexCmd struct {
	File string `arg:"" help:"Path to the chunks JSON file." type:"path"`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	cleanup, err := logger.Setup(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.File, err)
	}

	var chunks []bylaw.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.File, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%s contains no chunks", c.File)
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	indexed, err := rt.engine.IngestChunks(ctx, chunks)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Printf("Indexed %d chunks into %s\n", indexed, cfg.Search.Collection)
	return nil
}

// InitDBCmd creates the registry schema and optionally seeds it.
type InitDBCmd struct {
	Bylaws string `help:"Path to a JSON file of bylaw records to seed." type:"path"`
}

// seedRecord pairs one registry entry with its sections for seeding.
type seedRecord struct {
	verify.Bylaw
	Sections []verify.Section `json:"sections,omitempty"`
}

func (c *InitDBCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	cleanup, err := logger.Setup(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := verify.NewStore(ctx, verify.StoreOptions{
		Driver:       cfg.Registry.Driver,
		DSN:          cfg.Registry.DSN,
		MaxOpenConns: cfg.Registry.MaxOpenConns,
	})
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer store.Close()

	if err := store.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	fmt.Printf("Registry schema ready (%s)\n", cfg.Registry.Driver)

	if c.Bylaws == "" {
		return nil
	}

	data, err := os.ReadFile(c.Bylaws)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.Bylaws, err)
	}

	var records []seedRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to parse %s: %w", c.Bylaws, err)
	}

	for _, rec := range records {
		if err := store.UpsertBylaw(ctx, rec.Bylaw); err != nil {
			return fmt.Errorf("failed to seed bylaw %s: %w", rec.Number, err)
		}
		for _, sec := range rec.Sections {
			sec.BylawNumber = rec.Number
			if err := store.UpsertSection(ctx, sec); err != nil {
				return fmt.Errorf("failed to seed section %s/%s: %w", rec.Number, sec.SectionID, err)
			}
		}
	}
	fmt.Printf("Seeded %d bylaws\n", len(records))
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("bylawd"),
		kong.Description("Municipal bylaw hybrid search service"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
