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

import "strings"

// stopWords are discarded during query tokenization. Covers question
// phrasing common in bylaw queries ("what are the rules for...").
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "can": {}, "you": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "how": {},
	"does": {}, "did": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "there": {},
	"from": {}, "into": {}, "about": {}, "have": {}, "has": {}, "had": {},
	"not": {}, "but": {}, "any": {}, "all": {}, "its": {}, "our": {},
	"your": {}, "their": {}, "them": {}, "they": {}, "she": {}, "his": {},
	"her": {}, "him": {}, "out": {}, "off": {}, "per": {}, "via": {},
	"need": {}, "allowed": {}, "rules": {}, "rule": {},
}

// Tokenize normalizes a query into keyword tokens: lowercase, strip
// punctuation, split on whitespace, drop stop words and tokens of two or
// fewer characters, deduplicate preserving first occurrence order.
func Tokenize(query string) []string {
	var normalized strings.Builder
	for _, r := range strings.ToLower(query) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			normalized.WriteRune(r)
		default:
			normalized.WriteRune(' ')
		}
	}

	seen := make(map[string]struct{})
	var tokens []string
	for _, tok := range strings.Fields(normalized.String()) {
		if len(tok) <= 2 {
			continue
		}
		if _, skip := stopWords[tok]; skip {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}
	return tokens
}

// KeywordScore is the fraction of query tokens appearing as substrings in
// the passage. Returns 0 when there are no tokens.
func KeywordScore(tokens []string, passage string) float32 {
	if len(tokens) == 0 {
		return 0
	}

	lower := strings.ToLower(passage)
	matched := 0
	for _, tok := range tokens {
		if strings.Contains(lower, tok) {
			matched++
		}
	}
	return float32(matched) / float32(len(tokens))
}

// PositionalScore scores a passage for the metadata-only fallback tier,
// favoring passages that match more tokens and match them earlier:
//
//	matchRate     = matched / total tokens
//	positionScore = 1 - totalMatchPosition / (textLength * matchCount)
//	score         = 0.7*matchRate + 0.3*positionScore
func PositionalScore(tokens []string, passage string) float32 {
	if len(tokens) == 0 || passage == "" {
		return 0
	}

	lower := strings.ToLower(passage)
	matched := 0
	totalPosition := 0
	for _, tok := range tokens {
		idx := strings.Index(lower, tok)
		if idx < 0 {
			continue
		}
		matched++
		totalPosition += idx
	}
	if matched == 0 {
		return 0
	}

	matchRate := float32(matched) / float32(len(tokens))
	positionScore := 1 - float32(totalPosition)/(float32(len(lower))*float32(matched))
	if positionScore < 0 {
		positionScore = 0
	}
	return 0.7*matchRate + 0.3*positionScore
}
