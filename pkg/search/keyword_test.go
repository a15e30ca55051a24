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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "drops stop words and short tokens",
			query: "What are the rules for tree cutting?",
			want:  []string{"tree", "cutting"},
		},
		{
			name:  "lowercases and strips punctuation",
			query: "NOISE!!! Complaints, after 10pm",
			want:  []string{"noise", "complaints", "after", "10pm"},
		},
		{
			name:  "deduplicates preserving order",
			query: "parking parking permits parking",
			want:  []string{"parking", "permits"},
		},
		{
			name:  "empty query",
			query: "",
			want:  nil,
		},
		{
			name:  "only stop words",
			query: "what are the",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.query))
		})
	}
}

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		passage string
		check   func(t *testing.T, score float32)
	}{
		{
			name:    "partial overlap is positive",
			query:   "tree cutting bylaw",
			passage: "No person shall cut any tree",
			check: func(t *testing.T, score float32) {
				assert.Greater(t, score, float32(0))
				assert.Less(t, score, float32(1))
			},
		},
		{
			name:    "no overlap is zero",
			query:   "parking",
			passage: "no relation",
			check: func(t *testing.T, score float32) {
				assert.Equal(t, float32(0), score)
			},
		},
		{
			name:    "full overlap is one",
			query:   "dog leash",
			passage: "Every dog must be on a leash in public parks",
			check: func(t *testing.T, score float32) {
				assert.Equal(t, float32(1), score)
			},
		},
		{
			name:    "empty query is zero",
			query:   "",
			passage: "anything",
			check: func(t *testing.T, score float32) {
				assert.Equal(t, float32(0), score)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, KeywordScore(Tokenize(tt.query), tt.passage))
		})
	}
}

func TestPositionalScore(t *testing.T) {
	tokens := Tokenize("noise limit")

	early := PositionalScore(tokens, "Noise limits apply between 10pm and 7am in residential zones")
	late := PositionalScore(tokens, "This bylaw regulates many different things and eventually mentions the noise limit")

	assert.Greater(t, early, float32(0))
	assert.Greater(t, late, float32(0))
	assert.Greater(t, early, late, "earlier matches should score higher")

	assert.Equal(t, float32(0), PositionalScore(tokens, "unrelated text"))
	assert.Equal(t, float32(0), PositionalScore(nil, "some text"))
	assert.Equal(t, float32(0), PositionalScore(tokens, ""))
}

func TestPositionalScoreFavorsMoreMatches(t *testing.T) {
	tokens := Tokenize("tree removal permit")

	both := PositionalScore(tokens, "tree removal permit applications")
	one := PositionalScore(tokens, "permit office hours")

	assert.Greater(t, both, one)
}
