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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclabs/bylawd/pkg/vector"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, vector.ProviderChromem, cfg.Vector.Type)
	assert.Equal(t, "sqlite3", cfg.Registry.Driver)
	assert.Equal(t, "bylaw_chunks", cfg.Search.Collection)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, float32(0.6), cfg.Search.MinScore)
	assert.Equal(t, 5*time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, 25*time.Millisecond, cfg.Search.BatchWindow)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
search:
  default_limit: 10
  min_score: 0.5
  cache_ttl: 10m
registry:
  driver: sqlite3
  dsn: /tmp/test.db
server:
  port: 9090
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, float32(0.5), cfg.Search.MinScore)
	assert.Equal(t, 10*time.Minute, cfg.Search.CacheTTL)
	assert.Equal(t, "/tmp/test.db", cfg.Registry.DSN)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_BYLAW_DSN", "/data/bylaws.db")

	path := writeConfig(t, `
registry:
  driver: sqlite3
  dsn: ${TEST_BYLAW_DSN}
corpus:
  dir: ${UNSET_CORPUS_DIR:-/var/corpus}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/bylaws.db", cfg.Registry.DSN)
	assert.Equal(t, "/var/corpus", cfg.Corpus.Dir, "default applies when the variable is unset")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "bad registry driver",
			content: `
registry:
  driver: oracle
  dsn: whatever
`,
		},
		{
			name: "bad min score",
			content: `
search:
  min_score: 1.5
`,
		},
		{
			name: "bad port",
			content: `
server:
  port: 99999
`,
		},
		{
			name: "bad vector provider",
			content: `
vector:
  type: weaviate
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
