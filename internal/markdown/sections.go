// Package markdown splits markdown monographs into sections at H1/H2 headings.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/bull/drugbot/internal/drug"
)

// PreambleSection names text that appears before the first heading.
const PreambleSection = "overview"

// Splitter splits markdown at H1 and H2 boundaries.
// Sections do not overlap: an H1 section ends where its first H2 begins.
type Splitter struct {
	parser goldmark.Markdown
}

// NewSplitter creates a splitter configured with the goldmark parser.
func NewSplitter() *Splitter {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Splitter{parser: md}
}

// HasHeadings reports whether source contains at least one H1 or H2 heading.
func (s *Splitter) HasHeadings(source []byte) bool {
	doc := s.parser.Parser().Parse(text.NewReader(source))
	return len(splitHeadings(doc)) > 0
}

// Title returns the text of the first H1 heading, or "" if there is none.
func (s *Splitter) Title(source []byte) string {
	doc := s.parser.Parser().Parse(text.NewReader(source))
	for _, h := range splitHeadings(doc) {
		if h.Level == 1 {
			return headingText(h, source)
		}
	}
	return ""
}

// Split returns the sections of source in document order.
// Section names are header paths ("Aspirin > Side Effects"). Headings with no body
// are dropped. A document without H1/H2 headings yields nil.
func (s *Splitter) Split(source []byte) ([]drug.Section, error) {
	reader := text.NewReader(source)
	doc := s.parser.Parser().Parse(reader)

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),   // Include H1
		toc.MaxDepth(2),   // Split at H1 and H2 only
		toc.Compact(true), // Remove empty items
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	headings := splitHeadings(doc)
	if len(headings) == 0 {
		return nil, nil
	}

	paths := make(map[string]string)
	collectHeaderPaths(tree.Items, nil, paths)

	var sections []drug.Section

	if pre := strings.TrimSpace(string(source[:lineStart(source, headings[0])])); pre != "" {
		sections = append(sections, drug.Section{Name: PreambleSection, Text: pre})
	}

	for i, h := range headings {
		start := bodyStart(source, h)
		end := len(source)
		if i+1 < len(headings) {
			end = lineStart(source, headings[i+1])
		}
		if start > end {
			start = end
		}
		body := strings.TrimSpace(string(source[start:end]))
		if body == "" {
			continue
		}

		name := headingText(h, source)
		if id, ok := h.AttributeString("id"); ok {
			if idBytes, ok := id.([]byte); ok {
				if p, ok := paths[string(idBytes)]; ok {
					name = p
				}
			}
		}
		sections = append(sections, drug.Section{Name: name, Text: body})
	}

	return sections, nil
}

// collectHeaderPaths walks TOC items and records the header path for every heading ID.
func collectHeaderPaths(items toc.Items, ancestors []string, out map[string]string) {
	for _, item := range items {
		current := append(append([]string(nil), ancestors...), string(item.Title))
		if len(item.ID) > 0 {
			out[string(item.ID)] = formatHeaderPath(current)
		}
		if len(item.Items) > 0 {
			collectHeaderPaths(item.Items, current, out)
		}
	}
}

// formatHeaderPath builds a header hierarchy string.
// Example: ["Aspirin", "Side Effects"] -> "Aspirin > Side Effects"
func formatHeaderPath(path []string) string {
	var parts []string
	for _, segment := range path {
		if segment = strings.TrimSpace(segment); segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, " > ")
}

// splitHeadings returns the top-level H1/H2 heading nodes in document order.
func splitHeadings(doc ast.Node) []*ast.Heading {
	var headings []*ast.Heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > 2 || h.Lines().Len() == 0 {
			continue
		}
		headings = append(headings, h)
	}
	return headings
}

func headingText(h *ast.Heading, source []byte) string {
	seg := h.Lines().At(0)
	return strings.TrimSpace(string(seg.Value(source)))
}

// lineStart returns the offset of the beginning of the heading's line.
func lineStart(source []byte, h *ast.Heading) int {
	seg := h.Lines().At(0)
	return bytes.LastIndexByte(source[:seg.Start], '\n') + 1
}

// bodyStart returns the offset just past the heading line (and a setext underline).
func bodyStart(source []byte, h *ast.Heading) int {
	seg := h.Lines().At(0)
	pos := nextLine(source, seg.Stop)
	if pos < len(source) {
		end := nextLine(source, pos)
		underline := strings.TrimSpace(string(source[pos:end]))
		if underline != "" && strings.Trim(underline, "=-") == "" {
			pos = end
		}
	}
	return pos
}

func nextLine(source []byte, from int) int {
	if from >= len(source) {
		return len(source)
	}
	i := bytes.IndexByte(source[from:], '\n')
	if i < 0 {
		return len(source)
	}
	return from + i + 1
}
