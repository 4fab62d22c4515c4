// Package chunker turns drug records into bounded, section-aligned chunks.
package chunker

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/markdown"
)

// DefaultMaxChars keeps a chunk small enough for the generation prompt budget.
const DefaultMaxChars = 1000

// GeneralSection names the section of records that carry unstructured text only.
const GeneralSection = "general"

// chunkNamespace scopes chunk UUIDs. Changing it changes every chunk identifier.
var chunkNamespace = uuid.MustParse("8f0c5a5e-2b0b-4c8e-9a53-6f1f0d7c2d11")

// Chunker splits records at section breaks and oversized sections at sentence breaks.
// It is a pure transform: the same record always yields the same chunks.
type Chunker struct {
	maxChars int
	sections *markdown.Splitter
}

// New creates a Chunker. If maxChars is 0, DefaultMaxChars is used.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{
		maxChars: maxChars,
		sections: markdown.NewSplitter(),
	}
}

// MaxChars returns the configured chunk length bound (in runes).
func (c *Chunker) MaxChars() int {
	return c.maxChars
}

// ChunkID derives the stable chunk identifier from record id, section and ordinal.
func ChunkID(recordID, section string, ordinal int) string {
	key := recordID + "\x00" + section + "\x00" + strconv.Itoa(ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

// Chunk splits a record into chunks ordered by section, then ordinal.
// Fails with drug.ErrValidation when the record has no extractable text.
func (c *Chunker) Chunk(rec drug.Record) ([]drug.Chunk, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return nil, fmt.Errorf("%w: record has no id", drug.ErrValidation)
	}
	if strings.TrimSpace(rec.DrugName) == "" {
		return nil, fmt.Errorf("%w: record %s has no drug name", drug.ErrValidation, rec.ID)
	}

	sections, err := c.Sections(rec)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: record %s has no extractable text", drug.ErrValidation, rec.ID)
	}

	drugName := strings.TrimSpace(rec.DrugName)
	var chunks []drug.Chunk
	for _, sec := range sections {
		for ordinal, piece := range c.split(sec.Text) {
			chunks = append(chunks, drug.Chunk{
				ID:         ChunkID(rec.ID, sec.Name, ordinal),
				RecordID:   rec.ID,
				DrugName:   drugName,
				Section:    sec.Name,
				Ordinal:    ordinal,
				Text:       piece,
				Provenance: rec.Provenance,
			})
		}
	}
	return chunks, nil
}

// Sections returns the record's normalized, non-empty sections.
// Structured sections win; otherwise markdown headings in RawText are used;
// otherwise the whole raw text becomes the general section.
// Sections sharing a name are merged so that chunk identifiers stay unique.
func (c *Chunker) Sections(rec drug.Record) ([]drug.Section, error) {
	var raw []drug.Section
	switch {
	case len(rec.Sections) > 0:
		raw = rec.Sections
	case c.sections.HasHeadings([]byte(rec.RawText)):
		split, err := c.sections.Split([]byte(rec.RawText))
		if err != nil {
			return nil, fmt.Errorf("split record %s: %w", rec.ID, err)
		}
		raw = split
	default:
		raw = []drug.Section{{Name: GeneralSection, Text: rec.RawText}}
	}

	var out []drug.Section
	index := make(map[string]int)
	for _, sec := range raw {
		body := Normalize(sec.Text)
		if body == "" {
			continue
		}
		name := normalizeName(sec.Name)
		if i, ok := index[name]; ok {
			out[i].Text += "\n" + body
			continue
		}
		index[name] = len(out)
		out = append(out, drug.Section{Name: name, Text: body})
	}
	return out, nil
}

// Normalize trims every line, collapses runs of spaces and tabs, drops
// whitespace-only lines beyond a single paragraph break and trims the result.
func Normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	var b strings.Builder
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			continue
		}
		if b.Len() > 0 {
			if blank > 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteString("\n")
			}
		}
		blank = 0
		b.WriteString(line)
	}
	return b.String()
}

func normalizeName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return GeneralSection
	}
	return strings.ToLower(name)
}

// split packs sentences into pieces of at most maxChars runes.
func (c *Chunker) split(text string) []string {
	if utf8.RuneCountInString(text) <= c.maxChars {
		return []string{text}
	}

	var pieces []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, sentence := range Sentences(text) {
		for _, part := range c.fit(sentence) {
			n := utf8.RuneCountInString(part)
			if curLen > 0 && curLen+1+n > c.maxChars {
				flush()
			}
			if curLen > 0 {
				cur.WriteByte(' ')
				curLen++
			}
			cur.WriteString(part)
			curLen += n
		}
	}
	flush()
	return pieces
}

// fit breaks a sentence that exceeds the bound on word boundaries, and a
// word that exceeds it on rune boundaries.
func (c *Chunker) fit(sentence string) []string {
	if utf8.RuneCountInString(sentence) <= c.maxChars {
		return []string{sentence}
	}

	var parts []string
	var cur []rune
	for _, word := range strings.Fields(sentence) {
		w := []rune(word)
		for len(w) > c.maxChars {
			if len(cur) > 0 {
				parts = append(parts, string(cur))
				cur = nil
			}
			parts = append(parts, string(w[:c.maxChars]))
			w = w[c.maxChars:]
		}
		if len(cur) > 0 && len(cur)+1+len(w) > c.maxChars {
			parts = append(parts, string(cur))
			cur = nil
		}
		if len(cur) > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
	}
	if len(cur) > 0 {
		parts = append(parts, string(cur))
	}
	return parts
}

// Sentences splits text after '.', '!' or '?' followed by whitespace, and at line breaks.
// A period inside a number ("2.5 mg") is not a boundary.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
	}

	for i, r := range runes {
		switch {
		case r == '\n':
			emit(i + 1)
		case r == '.' || r == '!' || r == '?':
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				emit(i + 1)
			}
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}
