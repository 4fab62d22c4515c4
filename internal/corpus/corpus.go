// Package corpus reads drug monograph records from the supported input formats.
//
// Supported formats:
//   - .json: the processed knowledge base ([{"content": ..., "metadata": {...}}])
//     or structured records ([{"id", "drug_name", "sections": [...]}])
//   - .csv:  rows of drug, attribute, source_type, text (optional id column)
//   - .md:   one markdown monograph per file, sections at H1/H2 headings
package corpus

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/markdown"
)

// Source yields the records of a corpus. Sources are read-only.
type Source interface {
	Records(ctx context.Context) ([]drug.Record, error)
}

// IsCorpusFile reports whether the file name has a supported extension.
func IsCorpusFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".csv", ".md":
		return true
	}
	return false
}

// Parse decodes records from r based on the extension of name.
// defaultProvenance is applied to records that carry none.
func Parse(name string, r io.Reader, defaultProvenance string) ([]drug.Record, error) {
	var (
		records []drug.Record
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		records, err = ParseJSON(r)
	case ".csv":
		records, err = ParseCSV(r)
	case ".md":
		records, err = ParseMarkdown(name, r)
	default:
		return nil, fmt.Errorf("%w: unsupported corpus file %s", drug.ErrValidation, name)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	for i := range records {
		if records[i].Provenance == "" {
			records[i].Provenance = defaultProvenance
		}
	}
	return records, nil
}

// knowledgeEntry is one element of the processed knowledge base file.
type knowledgeEntry struct {
	// Processed knowledge base form.
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`

	// Structured record form.
	ID         string         `json:"id"`
	DrugName   string         `json:"drug_name"`
	Sections   []drug.Section `json:"sections"`
	RawText    string         `json:"raw_text"`
	Provenance string         `json:"provenance"`
}

// ParseJSON decodes a JSON array of knowledge base entries or structured records.
func ParseJSON(r io.Reader) ([]drug.Record, error) {
	var entries []knowledgeEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", drug.ErrValidation, err)
	}

	records := make([]drug.Record, 0, len(entries))
	for i, e := range entries {
		rec := drug.Record{
			ID:         e.ID,
			DrugName:   e.DrugName,
			Sections:   e.Sections,
			RawText:    e.RawText,
			Provenance: e.Provenance,
		}
		if e.Content != "" {
			rec.RawText = e.Content
		}
		if rec.DrugName == "" {
			rec.DrugName = metaString(e.Metadata, "drug_name")
		}
		if rec.Provenance == "" {
			rec.Provenance = metaString(e.Metadata, "source")
		}
		if rec.ID == "" {
			if rx := metaString(e.Metadata, "rxnorm_id"); rx != "" {
				rec.ID = "rxnorm:" + rx
			} else if rec.DrugName != "" {
				rec.ID = Slug(rec.DrugName)
			}
		}
		if rec.ID == "" || rec.DrugName == "" {
			return nil, fmt.Errorf("%w: entry %d has no drug name", drug.ErrValidation, i)
		}
		records = append(records, rec)
	}
	return records, nil
}

func metaString(meta map[string]any, key string) string {
	v, ok := meta[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%.0f", t), ".")
	default:
		return fmt.Sprint(t)
	}
}

// ParseCSV groups rows by drug into records, one section per attribute.
// Required columns: drug, attribute, text. Optional: id, source_type.
func ParseCSV(r io.Reader) ([]drug.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", drug.ErrValidation, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"drug", "attribute", "text"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: csv missing column %q", drug.ErrValidation, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var order []string
	byID := make(map[string]*drug.Record)
	provenances := make(map[string][]string)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %v", drug.ErrValidation, line, err)
		}

		name := field(row, "drug")
		if name == "" {
			return nil, fmt.Errorf("%w: csv line %d has no drug", drug.ErrValidation, line)
		}
		id := field(row, "id")
		if id == "" {
			id = Slug(name)
		}

		rec, ok := byID[id]
		if !ok {
			rec = &drug.Record{ID: id, DrugName: name}
			byID[id] = rec
			order = append(order, id)
		}
		rec.Sections = append(rec.Sections, drug.Section{
			Name: field(row, "attribute"),
			Text: field(row, "text"),
		})
		if src := field(row, "source_type"); src != "" && !contains(provenances[id], src) {
			provenances[id] = append(provenances[id], src)
		}
	}

	records := make([]drug.Record, 0, len(order))
	for _, id := range order {
		rec := byID[id]
		rec.Provenance = strings.Join(provenances[id], ",")
		records = append(records, *rec)
	}
	return records, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ParseMarkdown reads one monograph. The drug name is the first H1, or the file name.
func ParseMarkdown(name string, r io.Reader) ([]drug.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read markdown: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	drugName := markdown.NewSplitter().Title(data)
	if drugName == "" {
		drugName = base
	}
	return []drug.Record{{
		ID:         Slug(base),
		DrugName:   drugName,
		RawText:    string(data),
		Provenance: "markdown",
	}}, nil
}

// Slug lowercases s and replaces runs of non-alphanumerics with '-'.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// FileSource reads records from a corpus file or a directory of corpus files.
type FileSource struct {
	Path string
}

// Records implements Source. Directory entries are read in lexical order.
func (s FileSource) Records(ctx context.Context) ([]drug.Record, error) {
	info, err := os.Stat(s.Path)
	if err != nil {
		return nil, fmt.Errorf("stat corpus: %w", err)
	}

	paths := []string{s.Path}
	if info.IsDir() {
		paths = nil
		err := filepath.WalkDir(s.Path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsCorpusFile(p) {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk corpus: %w", err)
		}
		sort.Strings(paths)
	}

	var records []drug.Record
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := parseFile(p)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func parseFile(path string) ([]drug.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(path, f, "file")
}
