// Package drug holds the data model shared by the ingestion and answer pipelines.
package drug

import (
	"fmt"
	"strings"
)

// Section is one attribute block of a monograph (effects, dosage, interactions...).
type Section struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Record is a single drug monograph as read from the corpus.
// Records are treated as immutable once ingested.
type Record struct {
	ID         string    `json:"id"`
	DrugName   string    `json:"drug_name"`
	Sections   []Section `json:"sections,omitempty"`
	RawText    string    `json:"raw_text,omitempty"`
	Provenance string    `json:"provenance,omitempty"` // Originating source type: "OnSIDES_v3.1.0", "csv", ...
}

// Chunk is a bounded slice of a record's normalized text.
type Chunk struct {
	ID         string `json:"id"`        // UUIDv5 of record id + section + ordinal
	RecordID   string `json:"record_id"` // Back-reference to the owning Record
	DrugName   string `json:"drug_name"`
	Section    string `json:"section"`
	Ordinal    int    `json:"ordinal"` // Position within the section (0, 1, 2...)
	Text       string `json:"text"`
	Provenance string `json:"provenance,omitempty"`
}

// ContextText is the text sent to the embedding capability.
// The drug name and section are prepended so that a chunk is findable by name.
func (c Chunk) ContextText() string {
	return fmt.Sprintf("%s (%s): %s", c.DrugName, c.Section, c.Text)
}

// Label identifies the chunk in prompts, e.g. "Aspirin — effects".
func (c Chunk) Label() string {
	return c.DrugName + " — " + c.Section
}

// Source is the normalized citation attached to an answer.
type Source struct {
	DrugName   string `json:"drug_name"`
	Section    string `json:"section"`
	Rank       int    `json:"rank"`
	Provenance string `json:"provenance,omitempty"`
}

// String renders the citation as shown to end users.
func (s Source) String() string {
	if s.Section == "" {
		return fmt.Sprintf("[%d] %s", s.Rank, s.DrugName)
	}
	return fmt.Sprintf("[%d] %s (%s)", s.Rank, s.DrugName, s.Section)
}

// DrugNames returns the distinct drug names of the given sources in order.
func DrugNames(sources []Source) []string {
	seen := make(map[string]bool, len(sources))
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		key := strings.ToLower(s.DrugName)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, s.DrugName)
	}
	return names
}
