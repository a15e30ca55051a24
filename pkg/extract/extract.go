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

// Package extract pulls plain text out of bylaw source documents (PDF,
// DOCX, plain text, markdown) with per-file caching.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
)

// Extractor extracts and caches document text. Cached entries are
// invalidated on modtime change, or eagerly via fsnotify when watching
// is enabled.
type Extractor struct {
	mu    sync.RWMutex
	cache map[string]cachedDoc

	watcher *fsnotify.Watcher
	done    chan struct{}
}

type cachedDoc struct {
	text    string
	modTime int64
}

// New creates an Extractor. If watchDir is non-empty, file changes under
// it evict cached extractions immediately.
func New(watchDir string) (*Extractor, error) {
	e := &Extractor{
		cache: make(map[string]cachedDoc),
		done:  make(chan struct{}),
	}

	if watchDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.Add(watchDir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", watchDir, err)
		}
		e.watcher = watcher
		go e.watchLoop()
		slog.Debug("Watching corpus directory", "dir", watchDir)
	}

	return e, nil
}

func (e *Extractor) watchLoop() {
	for {
		select {
		case <-e.done:
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				e.mu.Lock()
				delete(e.cache, event.Name)
				e.mu.Unlock()
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Corpus watcher error", "error", err)
		}
	}
}

// Supported reports whether the file extension can be extracted.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".txt", ".md":
		return true
	}
	return false
}

// Extract returns the plain text of a document, serving from cache when
// the file is unchanged.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	modTime := info.ModTime().UnixNano()

	e.mu.RLock()
	cached, ok := e.cache[path]
	e.mu.RUnlock()
	if ok && cached.modTime == modTime {
		return cached.text, nil
	}

	text, err := extractFile(ctx, path, info.Size())
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.cache[path] = cachedDoc{text: text, modTime: modTime}
	e.mu.Unlock()

	return text, nil
}

// Close stops the watcher and drops the cache.
func (e *Extractor) Close() error {
	close(e.done)
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

func extractFile(ctx context.Context, path string, size int64) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(ctx, path, size)
	case ".docx":
		return extractDocx(path)
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
}

func extractPDF(ctx context.Context, path string, size int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, size)
	if err != nil {
		return "", fmt.Errorf("failed to parse PDF %s: %w", path, err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Debug("Page extraction failed", "path", path, "page", pageNum, "error", err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractDocx(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse DOCX %s: %w", path, err)
	}
	defer doc.Close()

	return doc.Editable().GetContent(), nil
}
