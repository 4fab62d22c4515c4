package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/drugbot/internal/drug"
)

func aspirin() drug.Record {
	return drug.Record{
		ID:       "rxnorm:1191",
		DrugName: "Aspirin",
		Sections: []drug.Section{
			{Name: "Effects", Text: "Headache relief.  Reduces   fever."},
			{Name: "Dosage", Text: "Take with food.\n\n\n\nDo not exceed the label dose."},
		},
		Provenance: "OnSIDES_v3.1.0",
	}
}

func TestChunk_SectionsBecomeChunks(t *testing.T) {
	chunks, err := New(0).Chunk(aspirin())
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "effects", chunks[0].Section)
	assert.Equal(t, "Headache relief. Reduces fever.", chunks[0].Text)
	assert.Equal(t, "dosage", chunks[1].Section)
	assert.Equal(t, "Take with food.\n\nDo not exceed the label dose.", chunks[1].Text)

	for _, c := range chunks {
		assert.Equal(t, "rxnorm:1191", c.RecordID)
		assert.Equal(t, "Aspirin", c.DrugName)
		assert.Equal(t, "OnSIDES_v3.1.0", c.Provenance)
		assert.Equal(t, 0, c.Ordinal)
	}
}

func TestChunk_IsIdempotent(t *testing.T) {
	c := New(40)
	first, err := c.Chunk(aspirin())
	require.NoError(t, err)
	second, err := c.Chunk(aspirin())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, ChunkID("rxnorm:1191", "effects", 0), first[0].ID)
}

func TestChunk_IDsAreUnique(t *testing.T) {
	rec := aspirin()
	rec.Sections = append(rec.Sections, drug.Section{Name: "Interactions", Text: strings.Repeat("Avoid alcohol. ", 40)})

	chunks, err := New(100).Chunk(rec)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, c := range chunks {
		assert.False(t, seen[c.ID], "duplicate chunk id %s", c.ID)
		seen[c.ID] = true
	}
}

func TestChunk_OversizedSectionSplitsOnSentences(t *testing.T) {
	text := "Nausea may occur. Dizziness is common in older adults. Stop use if a rash appears. " +
		"Call a doctor if bleeding does not stop. Keep out of reach of children."
	rec := drug.Record{ID: "r1", DrugName: "Warfarin", Sections: []drug.Section{{Name: "warnings", Text: text}}}

	chunks, err := New(60).Chunk(rec)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var words []string
	for i, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 60)
		assert.Equal(t, i, c.Ordinal)
		assert.True(t, strings.HasSuffix(c.Text, "."), "chunk %d should end on a sentence: %q", i, c.Text)
		words = append(words, strings.Fields(c.Text)...)
	}
	assert.Equal(t, strings.Fields(text), words, "chunks must reconstruct the section text")
}

func TestChunk_LongSentenceFallsBackToWords(t *testing.T) {
	text := strings.Repeat("word ", 50)
	rec := drug.Record{ID: "r2", DrugName: "X", RawText: text}

	chunks, err := New(32).Chunk(rec)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 32)
		assert.Equal(t, GeneralSection, c.Section)
	}
}

func TestChunk_MarkdownRawTextUsesHeadings(t *testing.T) {
	rec := drug.Record{
		ID:       "md-ibuprofen",
		DrugName: "Ibuprofen",
		RawText:  "# Ibuprofen\n\nNSAID pain reliever.\n\n## Side Effects\n\nStomach pain.\n",
	}

	chunks, err := New(0).Chunk(rec)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "ibuprofen", chunks[0].Section)
	assert.Equal(t, "ibuprofen > side effects", chunks[1].Section)
	assert.Equal(t, "Stomach pain.", chunks[1].Text)
}

func TestChunk_DuplicateSectionNamesMerge(t *testing.T) {
	rec := drug.Record{ID: "r3", DrugName: "Y", Sections: []drug.Section{
		{Name: "effects", Text: "A."},
		{Name: "Effects", Text: "B."},
	}}

	chunks, err := New(0).Chunk(rec)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A.\nB.", chunks[0].Text)
}

func TestChunk_ValidationErrors(t *testing.T) {
	c := New(0)

	_, err := c.Chunk(drug.Record{ID: "empty", DrugName: "Z", RawText: "   \n\t "})
	assert.ErrorIs(t, err, drug.ErrValidation)

	_, err = c.Chunk(drug.Record{DrugName: "Z", RawText: "text"})
	assert.ErrorIs(t, err, drug.ErrValidation)

	_, err = c.Chunk(drug.Record{ID: "x", RawText: "text"})
	assert.ErrorIs(t, err, drug.ErrValidation)
}

func TestSentences(t *testing.T) {
	got := Sentences("Take 2.5 mg daily. Stop if dizzy!\nAsk a pharmacist? ok")
	assert.Equal(t, []string{"Take 2.5 mg daily.", "Stop if dizzy!", "Ask a pharmacist?", "ok"}, got)
}
