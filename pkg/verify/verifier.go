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
	"log/slog"
	"sort"

	"github.com/civiclabs/bylawd/pkg/bylaw"
)

// Registry is the subset of the store the verifier needs.
type Registry interface {
	GetBylaw(ctx context.Context, number string) (*Bylaw, error)
	GetSections(ctx context.Context, number string) ([]Section, error)
	GetSection(ctx context.Context, number, sectionID string) (*Section, error)
	FindSimilar(ctx context.Context, number string, limit int) ([]Bylaw, error)
}

// Verifier annotates retrieval hits against the registry. Verification is
// best-effort: a registry failure downgrades a result to unverified, it
// never fails a search.
type Verifier struct {
	registry Registry
}

// NewVerifier creates a Verifier backed by the given registry.
func NewVerifier(registry Registry) *Verifier {
	return &Verifier{registry: registry}
}

// Annotate checks each result's bylaw number against the registry and
// returns the verified forms, verified results first. Input order is
// preserved within each group.
func (v *Verifier) Annotate(ctx context.Context, results []bylaw.SearchResult) []bylaw.VerifiedResult {
	verified := make([]bylaw.VerifiedResult, 0, len(results))
	for _, r := range results {
		verified = append(verified, v.annotateOne(ctx, r))
	}
	SortVerifiedFirst(verified)
	return verified
}

func (v *Verifier) annotateOne(ctx context.Context, r bylaw.SearchResult) bylaw.VerifiedResult {
	out := bylaw.VerifiedResult{SearchResult: r}

	if r.Metadata.BylawNumber == "" {
		return out
	}

	record, err := v.registry.GetBylaw(ctx, r.Metadata.BylawNumber)
	if err != nil {
		slog.Debug("Verification lookup failed", "bylaw", r.Metadata.BylawNumber, "error", err)
		v.suggestSimilar(ctx, r.Metadata.BylawNumber)
		return out
	}

	// The registry's own section text outranks whatever retrieval
	// produced for the same citation.
	if r.Metadata.Section != "" {
		if sec, err := v.registry.GetSection(ctx, r.Metadata.BylawNumber, r.Metadata.Section); err == nil {
			out.Text = sec.Text
			if sec.Title != "" {
				out.Metadata.SectionTitle = sec.Title
			}
		}
	}

	out.IsVerified = true
	out.OfficialURL = record.OfficialURL
	out.IsConsolidated = record.IsConsolidated
	out.ConsolidatedDate = record.ConsolidatedDate
	out.EnactmentDate = record.EnactmentDate
	out.AmendedBylaw = record.AmendedBylaw
	return out
}

// suggestSimilar logs related bylaws as a soft hint when a cited number
// is missing from the registry. Suggestions are never substituted into
// results.
func (v *Verifier) suggestSimilar(ctx context.Context, number string) {
	similar, err := v.registry.FindSimilar(ctx, number, 3)
	if err != nil || len(similar) == 0 {
		return
	}
	numbers := make([]string, len(similar))
	for i, b := range similar {
		numbers[i] = b.Number
	}
	slog.Info("Cited bylaw not in registry, similar bylaws exist",
		"cited", number, "similar", numbers)
}

// Anchored resolves explicit bylaw references in a query (for example
// "bylaw 4742" or "Bylaw No. 1234") directly against the registry. Each
// known section comes back as a fully verified result with score 1.0, so
// anchored hits always outrank similarity matches.
func (v *Verifier) Anchored(ctx context.Context, query string) []bylaw.VerifiedResult {
	numbers := bylaw.ExtractReferences(query)
	if len(numbers) == 0 {
		return nil
	}

	var results []bylaw.VerifiedResult
	for _, number := range numbers {
		record, err := v.registry.GetBylaw(ctx, number)
		if err != nil {
			slog.Debug("Referenced bylaw not in registry", "bylaw", number, "error", err)
			continue
		}

		sections, err := v.registry.GetSections(ctx, number)
		if err != nil {
			slog.Debug("Failed to load sections", "bylaw", number, "error", err)
			continue
		}

		for _, sec := range sections {
			results = append(results, bylaw.VerifiedResult{
				SearchResult: bylaw.SearchResult{
					ID:   record.Number + ":" + sec.SectionID,
					Text: sec.Text,
					Metadata: bylaw.ChunkMetadata{
						BylawNumber:      record.Number,
						Title:            record.Title,
						Section:          sec.SectionID,
						SectionTitle:     sec.Title,
						Category:         record.Category,
						DateEnacted:      record.EnactmentDate,
						IsConsolidated:   record.IsConsolidated,
						ConsolidatedDate: record.ConsolidatedDate,
					},
					Score: 1.0,
				},
				IsVerified:       true,
				OfficialURL:      record.OfficialURL,
				IsConsolidated:   record.IsConsolidated,
				ConsolidatedDate: record.ConsolidatedDate,
				EnactmentDate:    record.EnactmentDate,
				AmendedBylaw:     record.AmendedBylaw,
			})
		}
	}
	return results
}

// SortVerifiedFirst stably orders verified results before unverified ones,
// higher scores first within each group.
func SortVerifiedFirst(results []bylaw.VerifiedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].IsVerified != results[j].IsVerified {
			return results[i].IsVerified
		}
		return results[i].Score > results[j].Score
	})
}
