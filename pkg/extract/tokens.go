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

package extract

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts and bounds text by tokens so snippets handed to a
// language model stay within budget. Uses the cl100k_base encoding; if
// the encoding cannot be initialized (offline environments), falls back
// to a 4-chars-per-token estimate.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.init()
	if tc.encoding == nil {
		return approxTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Truncate returns text cut to at most maxTokens tokens.
func (tc *TokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tc.init()

	if tc.encoding == nil {
		limit := maxTokens * 4
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}

	tokens := tc.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return tc.encoding.Decode(tokens[:maxTokens])
}

func (tc *TokenCounter) init() {
	tc.once.Do(func() {
		encoding, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tc.encoding = encoding
		}
	})
}

func approxTokens(text string) int {
	return (len(text) + 3) / 4
}
