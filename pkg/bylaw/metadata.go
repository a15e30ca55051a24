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

// Payload keys used when storing chunks in the vector backend.
const (
	KeyText             = "text"
	KeyBylawNumber      = "bylawNumber"
	KeyTitle            = "title"
	KeySection          = "section"
	KeySectionTitle     = "sectionTitle"
	KeyCategory         = "category"
	KeyDateEnacted      = "dateEnacted"
	KeyLastUpdated      = "lastUpdated"
	KeyIsConsolidated   = "isConsolidated"
	KeyConsolidatedDate = "consolidatedDate"
)

// MetadataToMap flattens chunk metadata plus the passage text into the
// payload map stored alongside the vector.
func MetadataToMap(text string, m ChunkMetadata) map[string]any {
	payload := map[string]any{
		KeyText:        text,
		KeyBylawNumber: m.BylawNumber,
		KeyTitle:       m.Title,
		KeySection:     m.Section,
		KeyCategory:    string(m.Category),
	}
	if m.SectionTitle != "" {
		payload[KeySectionTitle] = m.SectionTitle
	}
	if m.DateEnacted != "" {
		payload[KeyDateEnacted] = m.DateEnacted
	}
	if m.LastUpdated != "" {
		payload[KeyLastUpdated] = m.LastUpdated
	}
	if m.IsConsolidated {
		payload[KeyIsConsolidated] = true
		payload[KeyConsolidatedDate] = m.ConsolidatedDate
	}
	return payload
}

// MetadataFromMap rebuilds chunk metadata from a stored payload.
// Malformed payloads are defensively defaulted rather than rejected:
// missing fields come back zero-valued and an unknown category maps to
// "general".
func MetadataFromMap(payload map[string]any) ChunkMetadata {
	m := ChunkMetadata{
		BylawNumber:      stringField(payload, KeyBylawNumber),
		Title:            stringField(payload, KeyTitle),
		Section:          stringField(payload, KeySection),
		SectionTitle:     stringField(payload, KeySectionTitle),
		DateEnacted:      stringField(payload, KeyDateEnacted),
		LastUpdated:      stringField(payload, KeyLastUpdated),
		ConsolidatedDate: stringField(payload, KeyConsolidatedDate),
	}
	m.Category = ParseCategory(stringField(payload, KeyCategory))
	switch v := payload[KeyIsConsolidated].(type) {
	case bool:
		m.IsConsolidated = v
	case string:
		m.IsConsolidated = v == "true"
	}
	return m
}

// TextFromMap extracts the passage text from a payload, returning fallback
// when the field is missing or malformed.
func TextFromMap(payload map[string]any, fallback string) string {
	if s := stringField(payload, KeyText); s != "" {
		return s
	}
	return fallback
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
