package markdown

import (
	"strings"
	"testing"
)

// TestSplit_BasicHeaders tests splitting with an H1 and multiple H2s.
func TestSplit_BasicHeaders(t *testing.T) {
	input := `# Aspirin

Pain reliever and anti-inflammatory.

## Side Effects

Stomach upset. Heartburn.

## Dosage

Take with food.
`

	sections, err := NewSplitter().Split([]byte(input))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	expected := []string{
		"Aspirin",
		"Aspirin > Side Effects",
		"Aspirin > Dosage",
	}
	if len(sections) != len(expected) {
		t.Fatalf("Expected %d sections, got %d", len(expected), len(sections))
	}
	for i, name := range expected {
		if sections[i].Name != name {
			t.Errorf("Section %d name: expected %q, got %q", i, name, sections[i].Name)
		}
	}

	if sections[0].Text != "Pain reliever and anti-inflammatory." {
		t.Errorf("H1 section should stop at first H2, got %q", sections[0].Text)
	}
	if !strings.Contains(sections[1].Text, "Heartburn") {
		t.Errorf("Side effects section missing content")
	}
	if strings.Contains(sections[1].Text, "Take with food") {
		t.Errorf("Side effects section leaked into dosage")
	}
}

// TestSplit_H3StaysInParent verifies that H3 is not a split boundary.
func TestSplit_H3StaysInParent(t *testing.T) {
	input := `# Ibuprofen

## Interactions

### Alcohol

Avoid alcohol.
`

	sections, err := NewSplitter().Split([]byte(input))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	// The H1 has no body of its own and is dropped.
	if len(sections) != 1 {
		t.Fatalf("Expected 1 section, got %d", len(sections))
	}
	if sections[0].Name != "Ibuprofen > Interactions" {
		t.Errorf("Unexpected name %q", sections[0].Name)
	}
	if !strings.Contains(sections[0].Text, "### Alcohol") || !strings.Contains(sections[0].Text, "Avoid alcohol.") {
		t.Errorf("H3 subsection missing from parent: %q", sections[0].Text)
	}
}

// TestSplit_Preamble keeps text that precedes the first heading.
func TestSplit_Preamble(t *testing.T) {
	input := `General information only.

# Metformin

Lowers blood sugar.
`

	sections, err := NewSplitter().Split([]byte(input))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("Expected 2 sections, got %d", len(sections))
	}
	if sections[0].Name != PreambleSection {
		t.Errorf("Expected preamble section, got %q", sections[0].Name)
	}
	if sections[1].Text != "Lowers blood sugar." {
		t.Errorf("Unexpected body %q", sections[1].Text)
	}
}

// TestSplit_NoHeaders returns nil so callers can fall back to a single section.
func TestSplit_NoHeaders(t *testing.T) {
	input := "Plain text with no headings.\n\nSecond paragraph.\n"

	splitter := NewSplitter()
	sections, err := splitter.Split([]byte(input))
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	if sections != nil {
		t.Errorf("Expected nil sections, got %d", len(sections))
	}
	if splitter.HasHeadings([]byte(input)) {
		t.Errorf("HasHeadings should be false")
	}
}

// TestTitle returns the first H1.
func TestTitle(t *testing.T) {
	input := "## Notes\n\nx\n\n# Warfarin\n\nBlood thinner.\n"
	if got := NewSplitter().Title([]byte(input)); got != "Warfarin" {
		t.Errorf("Expected title Warfarin, got %q", got)
	}
}
