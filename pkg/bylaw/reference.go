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

package bylaw

import "regexp"

// referencePattern matches explicit bylaw citations in free text, e.g.
// "Bylaw 4742", "bylaw no. 4742", "Bylaw No 4742".
var referencePattern = regexp.MustCompile(`(?i)bylaw\s+(?:no\.?\s*)?(\d{4})`)

// ExtractReferences returns the bylaw numbers explicitly named in the query,
// in order of first appearance and without duplicates. An empty slice means
// the query carries no direct citation.
func ExtractReferences(query string) []string {
	matches := referencePattern.FindAllStringSubmatch(query, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		num := m[1]
		if seen[num] {
			continue
		}
		seen[num] = true
		refs = append(refs, num)
	}
	return refs
}
