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

package verify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclabs/bylawd/pkg/bylaw"
)

type mockRegistry struct {
	bylaws   map[string]*Bylaw
	sections map[string][]Section
	fail     bool
}

func (m *mockRegistry) GetBylaw(ctx context.Context, number string) (*Bylaw, error) {
	if m.fail {
		return nil, errors.New("registry unreachable")
	}
	if b, ok := m.bylaws[number]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("bylaw %s: %w", number, ErrNotFound)
}

func (m *mockRegistry) GetSections(ctx context.Context, number string) ([]Section, error) {
	if m.fail {
		return nil, errors.New("registry unreachable")
	}
	return m.sections[number], nil
}

func (m *mockRegistry) GetSection(ctx context.Context, number, sectionID string) (*Section, error) {
	for _, sec := range m.sections[number] {
		if sec.SectionID == sectionID {
			return &sec, nil
		}
	}
	return nil, fmt.Errorf("section %s/%s: %w", number, sectionID, ErrNotFound)
}

func (m *mockRegistry) FindSimilar(ctx context.Context, number string, limit int) ([]Bylaw, error) {
	return nil, nil
}

func treeRegistry() *mockRegistry {
	return &mockRegistry{
		bylaws: map[string]*Bylaw{
			"4742": {
				Number:           "4742",
				Title:            "Tree Protection Bylaw",
				Category:         bylaw.CategoryTrees,
				OfficialURL:      "https://example.gov/bylaws/4742",
				IsConsolidated:   true,
				ConsolidatedDate: "2023-06-01",
				EnactmentDate:    "2019-03-12",
			},
		},
		sections: map[string][]Section{
			"4742": {
				{BylawNumber: "4742", SectionID: "1", Title: "Prohibition", Text: "No person shall cut a protected tree.", Seq: 1},
				{BylawNumber: "4742", SectionID: "2", Title: "Penalties", Text: "Fines apply per tree.", Seq: 2},
			},
		},
	}
}

func TestAnnotateVerifiesKnownBylaws(t *testing.T) {
	v := NewVerifier(treeRegistry())

	results := []bylaw.SearchResult{
		{
			ID:       "a",
			Text:     "retrieved passage",
			Score:    0.8,
			Metadata: bylaw.ChunkMetadata{BylawNumber: "4742", Section: "1"},
		},
		{
			ID:       "b",
			Text:     "unknown passage",
			Score:    0.9,
			Metadata: bylaw.ChunkMetadata{BylawNumber: "9999"},
		},
	}

	verified := v.Annotate(context.Background(), results)
	require.Len(t, verified, 2)

	// Verified first despite the lower raw score.
	assert.Equal(t, "a", verified[0].ID)
	assert.True(t, verified[0].IsVerified)
	assert.Equal(t, "https://example.gov/bylaws/4742", verified[0].OfficialURL)
	assert.Equal(t, "2019-03-12", verified[0].EnactmentDate)

	// The registry's section text replaces the retrieved passage.
	assert.Equal(t, "No person shall cut a protected tree.", verified[0].Text)
	assert.Equal(t, "Prohibition", verified[0].Metadata.SectionTitle)

	assert.False(t, verified[1].IsVerified)
	assert.Equal(t, "unknown passage", verified[1].Text, "unverified text kept verbatim")
}

func TestAnnotateAbsorbsRegistryErrors(t *testing.T) {
	v := NewVerifier(&mockRegistry{fail: true})

	results := []bylaw.SearchResult{
		{ID: "a", Text: "passage", Score: 0.7, Metadata: bylaw.ChunkMetadata{BylawNumber: "4742"}},
	}

	verified := v.Annotate(context.Background(), results)
	require.Len(t, verified, 1)
	assert.False(t, verified[0].IsVerified)
	assert.Equal(t, "passage", verified[0].Text)
}

func TestAnnotateSkipsMissingNumbers(t *testing.T) {
	v := NewVerifier(treeRegistry())

	verified := v.Annotate(context.Background(), []bylaw.SearchResult{
		{ID: "a", Text: "no citation", Score: 0.7},
	})
	require.Len(t, verified, 1)
	assert.False(t, verified[0].IsVerified)
}

func TestAnchoredReturnsAllSections(t *testing.T) {
	v := NewVerifier(treeRegistry())

	results := v.Anchored(context.Background(), "what does Bylaw No. 4742 require?")
	require.Len(t, results, 2)

	for _, r := range results {
		assert.True(t, r.IsVerified)
		assert.Equal(t, float32(1.0), r.Score)
		assert.Equal(t, "4742", r.Metadata.BylawNumber)
	}
	assert.Equal(t, "1", results[0].Metadata.Section)
	assert.Equal(t, "2", results[1].Metadata.Section)
}

func TestAnchoredUnknownReference(t *testing.T) {
	v := NewVerifier(treeRegistry())

	assert.Empty(t, v.Anchored(context.Background(), "bylaw 8888 details"))
	assert.Empty(t, v.Anchored(context.Background(), "no references here"))
}

func TestSortVerifiedFirst(t *testing.T) {
	results := []bylaw.VerifiedResult{
		{SearchResult: bylaw.SearchResult{ID: "u1", Score: 0.95}},
		{SearchResult: bylaw.SearchResult{ID: "v1", Score: 0.5}, IsVerified: true},
		{SearchResult: bylaw.SearchResult{ID: "u2", Score: 0.8}},
		{SearchResult: bylaw.SearchResult{ID: "v2", Score: 0.9}, IsVerified: true},
	}

	SortVerifiedFirst(results)

	assert.Equal(t, "v2", results[0].ID)
	assert.Equal(t, "v1", results[1].ID)
	assert.Equal(t, "u1", results[2].ID)
	assert.Equal(t, "u2", results[3].ID)
}
