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

// Package bylaw defines the domain types shared across the retrieval
// pipeline: indexed text chunks, ranked search results, and the tool-facing
// result shape consumed by the chat layer.
package bylaw

import "fmt"

// Category is the fixed taxonomy a bylaw chunk is filed under.
type Category string

const (
	CategoryZoning   Category = "zoning"
	CategoryTrees    Category = "trees"
	CategoryAnimals  Category = "animals"
	CategoryNoise    Category = "noise"
	CategoryBuilding Category = "building"
	CategoryTraffic  Category = "traffic"
	CategoryGeneral  Category = "general"
)

// Categories lists every valid category.
var Categories = []Category{
	CategoryZoning,
	CategoryTrees,
	CategoryAnimals,
	CategoryNoise,
	CategoryBuilding,
	CategoryTraffic,
	CategoryGeneral,
}

// ParseCategory validates a category string, falling back to "general" for
// anything outside the taxonomy.
func ParseCategory(s string) Category {
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryGeneral
}

// ChunkMetadata is the structured metadata attached to every indexed chunk.
type ChunkMetadata struct {
	BylawNumber      string   `json:"bylawNumber" yaml:"bylaw_number"`
	Title            string   `json:"title" yaml:"title"`
	Section          string   `json:"section" yaml:"section"`
	SectionTitle     string   `json:"sectionTitle,omitempty" yaml:"section_title,omitempty"`
	Category         Category `json:"category" yaml:"category"`
	DateEnacted      string   `json:"dateEnacted,omitempty" yaml:"date_enacted,omitempty"`
	LastUpdated      string   `json:"lastUpdated,omitempty" yaml:"last_updated,omitempty"`
	IsConsolidated   bool     `json:"isConsolidated,omitempty" yaml:"is_consolidated,omitempty"`
	ConsolidatedDate string   `json:"consolidatedDate,omitempty" yaml:"consolidated_date,omitempty"`
}

// Chunk is a unit of indexed bylaw text produced by the external
// extraction/chunking step. Chunks are immutable once stored; re-indexing
// supersedes them with new ids.
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Validate checks the chunk invariants before indexing.
func (c Chunk) Validate() error {
	if c.Text == "" {
		return fmt.Errorf("chunk text is required")
	}
	if c.Metadata.BylawNumber == "" {
		return fmt.Errorf("chunk bylaw number is required")
	}
	return nil
}

// SearchResult is one ranked retrieval hit. Score is the blended hybrid
// score in [0,1]; the intermediate keyword score is never exposed here.
type SearchResult struct {
	ID       string        `json:"id"`
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
	Score    float32       `json:"score"`
}

// VerifiedResult is a SearchResult annotated against the verification store.
type VerifiedResult struct {
	SearchResult

	// IsVerified reports whether the bylaw number resolved to an
	// authoritative record.
	IsVerified bool `json:"isVerified"`

	OfficialURL      string `json:"officialUrl,omitempty"`
	IsConsolidated   bool   `json:"isConsolidated,omitempty"`
	ConsolidatedDate string `json:"consolidatedDate,omitempty"`
	EnactmentDate    string `json:"enactmentDate,omitempty"`
	AmendedBylaw     string `json:"amendedBylaw,omitempty"`
}

// ToolResult is the shape handed to the upstream tool-calling layer.
type ToolResult struct {
	Found   bool             `json:"found"`
	Message string           `json:"message,omitempty"`
	Results []ToolResultItem `json:"results,omitempty"`
}

// ToolResultItem is one citation inside a ToolResult.
type ToolResultItem struct {
	BylawNumber      string `json:"bylawNumber"`
	Title            string `json:"title"`
	Section          string `json:"section"`
	SectionTitle     string `json:"sectionTitle,omitempty"`
	Content          string `json:"content"`
	URL              string `json:"url,omitempty"`
	IsConsolidated   bool   `json:"isConsolidated,omitempty"`
	ConsolidatedDate string `json:"consolidatedDate,omitempty"`
}

// FeedbackRating is a user verdict on a single citation.
type FeedbackRating string

const (
	FeedbackAccurate   FeedbackRating = "accurate"
	FeedbackInaccurate FeedbackRating = "inaccurate"
	FeedbackIncomplete FeedbackRating = "incomplete"
	FeedbackOutdated   FeedbackRating = "outdated"
)

// ValidRating reports whether r is one of the accepted feedback values.
func ValidRating(r FeedbackRating) bool {
	switch r {
	case FeedbackAccurate, FeedbackInaccurate, FeedbackIncomplete, FeedbackOutdated:
		return true
	}
	return false
}
