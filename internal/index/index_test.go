package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/drugbot/internal/chunker"
	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/retry"
	"github.com/bull/drugbot/internal/testutil"
)

type countSink struct{ drugs, chunks int }

func (s *countSink) SetIndexCounts(drugs, chunks int) { s.drugs, s.chunks = drugs, chunks }

func fastRetry() retry.Policy {
	return retry.Policy{MaxRetries: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func corpusChunks(t *testing.T) []drug.Chunk {
	t.Helper()
	c := chunker.New(0)
	var chunks []drug.Chunk
	for _, rec := range testutil.DrugRecords() {
		cs, err := c.Chunk(rec)
		require.NoError(t, err)
		chunks = append(chunks, cs...)
	}
	return chunks
}

func newIndexer(emb *testutil.VocabEmbedder, path string, batch int) (*Indexer, *Holder, *countSink) {
	holder := &Holder{}
	sink := &countSink{}
	var store Store
	if path != "" {
		store = FileStore{Path: path}
	}
	return NewIndexer(emb, store, holder, sink, nil, Config{BatchSize: batch, Retry: fastRetry()}), holder, sink
}

func TestIndexer_FinalizePublishesAndPersists(t *testing.T) {
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	path := filepath.Join(t.TempDir(), "index.json")
	ix, holder, sink := newIndexer(emb, path, 0)

	require.NoError(t, ix.Upsert(context.Background(), corpusChunks(t)))
	idx, err := ix.Finalize(context.Background())
	require.NoError(t, err)

	assert.Same(t, idx, holder.Load())
	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, 2, idx.DrugCount())
	assert.Equal(t, "vocab-v1", idx.Model())
	assert.Equal(t, &countSink{drugs: 2, chunks: 2}, sink)

	reopened := &Holder{}
	loaded, err := Open(context.Background(), FileStore{Path: path}, reopened)
	require.NoError(t, err)
	assert.Equal(t, idx.Snapshot(), loaded.Snapshot())
	assert.Same(t, loaded, reopened.Load())
}

func TestIndexer_ReingestIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)

	first, _, _ := newIndexer(emb, filepath.Join(dir, "a.json"), 0)
	require.NoError(t, first.Upsert(context.Background(), corpusChunks(t)))
	_, err := first.Finalize(context.Background())
	require.NoError(t, err)

	second, _, _ := newIndexer(emb, filepath.Join(dir, "b.json"), 1)
	require.NoError(t, second.Upsert(context.Background(), corpusChunks(t)))
	require.NoError(t, second.Upsert(context.Background(), corpusChunks(t)))
	assert.Equal(t, 2, second.Staged(), "replacement is keyed by chunk id")
	_, err = second.Finalize(context.Background())
	require.NoError(t, err)

	a, err := os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(dir, "b.json"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestIndexer_TransientFailureIsRetried(t *testing.T) {
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	emb.FailNext(drug.ErrTransient)
	ix, _, _ := newIndexer(emb, "", 0)

	require.NoError(t, ix.Upsert(context.Background(), corpusChunks(t)))
	assert.Equal(t, 2, emb.Calls())
	assert.Equal(t, 2, ix.Staged())
}

func TestIndexer_ExhaustedSubBatchNamesFailedChunks(t *testing.T) {
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	// Whole batch: two attempts. First half: two attempts. Second half succeeds.
	emb.FailNext(drug.ErrTransient, drug.ErrTransient, drug.ErrTransient, drug.ErrTransient)
	ix, _, _ := newIndexer(emb, "", 0)
	chunks := corpusChunks(t)

	err := ix.Upsert(context.Background(), chunks)

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.Equal(t, []string{chunks[0].ID}, ingestErr.ChunkIDs)
	assert.ErrorIs(t, err, drug.ErrRemoteUnavailable)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, 5, emb.Calls())
	assert.Zero(t, ix.Staged(), "nothing is staged on failure")
}

func TestIndexer_PermanentFailureIsNotRetried(t *testing.T) {
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	invalid := errors.New("invalid input")
	emb.FailNext(invalid)
	ix, _, _ := newIndexer(emb, "", 0)
	chunks := corpusChunks(t)

	err := ix.Upsert(context.Background(), chunks)

	var ingestErr *IngestError
	require.ErrorAs(t, err, &ingestErr)
	assert.ErrorIs(t, err, invalid)
	assert.Len(t, ingestErr.ChunkIDs, 2)
	assert.Equal(t, 1, emb.Calls())
}

func TestIndexer_UpsertRecordRemovesStaleChunks(t *testing.T) {
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	ix, _, _ := newIndexer(emb, "", 0)
	c := chunker.New(0)

	rec := drug.Record{ID: "aspirin", DrugName: "Aspirin", Sections: []drug.Section{
		{Name: "effects", Text: "headache relief"},
		{Name: "dosage", Text: "with food"},
	}}
	chunks, err := c.Chunk(rec)
	require.NoError(t, err)
	require.NoError(t, ix.UpsertRecord(context.Background(), rec.ID, chunks))
	assert.Equal(t, 2, ix.Staged())

	rec.Sections = rec.Sections[:1]
	chunks, err = c.Chunk(rec)
	require.NoError(t, err)
	require.NoError(t, ix.UpsertRecord(context.Background(), rec.ID, chunks))

	idx, err := ix.Finalize(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())
	assert.Equal(t, "effects", idx.Entries()[0].Chunk.Section)
	assert.Equal(t, 0, idx.Entries()[0].Seq)
}

func TestIndexer_UpsertRecordRejectsForeignChunks(t *testing.T) {
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	ix, _, _ := newIndexer(emb, "", 0)

	err := ix.UpsertRecord(context.Background(), "other", corpusChunks(t))
	assert.ErrorIs(t, err, drug.ErrValidation)
	assert.Zero(t, emb.Calls())
}

func TestIndexer_FinalizeEmpty(t *testing.T) {
	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	ix, holder, _ := newIndexer(emb, "", 0)

	_, err := ix.Finalize(context.Background())
	assert.ErrorIs(t, err, drug.ErrIndexInconsistent)
	assert.Nil(t, holder.Load())
}

func TestIndexer_SeedRejectsOtherModel(t *testing.T) {
	idx, err := New(&Snapshot{Model: "other", Dimension: 1, Entries: []Entry{
		{Chunk: drug.Chunk{ID: "a", DrugName: "A"}, Vector: []float32{1}},
	}})
	require.NoError(t, err)

	emb := testutil.NewVocabEmbedder("vocab-v1", testutil.DrugVocabulary...)
	ix, _, _ := newIndexer(emb, "", 0)
	assert.ErrorIs(t, ix.Seed(idx), drug.ErrIndexInconsistent)
}

func TestNew_Validation(t *testing.T) {
	chunk := func(id string) drug.Chunk { return drug.Chunk{ID: id, DrugName: "A"} }

	_, err := New(&Snapshot{Model: "m", Dimension: 2, Entries: []Entry{
		{Chunk: chunk("a"), Vector: []float32{1, 0}},
		{Chunk: chunk("a"), Vector: []float32{0, 1}, Seq: 1},
	}})
	assert.ErrorIs(t, err, drug.ErrIndexInconsistent, "duplicate ids")

	_, err = New(&Snapshot{Model: "m", Dimension: 2, Entries: []Entry{
		{Chunk: chunk("a"), Vector: []float32{1}},
	}})
	assert.ErrorIs(t, err, drug.ErrIndexInconsistent, "dimension mismatch")

	_, err = New(&Snapshot{Dimension: 2})
	assert.ErrorIs(t, err, drug.ErrIndexInconsistent, "missing model")

	idx, err := New(&Snapshot{Model: "m", Dimension: 2, Entries: []Entry{
		{Chunk: chunk("b"), Vector: []float32{3, 4}, Seq: 1},
		{Chunk: chunk("a"), Vector: []float32{0, 1}, Seq: 0},
	}})
	require.NoError(t, err)
	assert.Equal(t, "a", idx.Entries()[0].Chunk.ID, "entries are ordered by seq")
	assert.InDelta(t, 5.0, idx.Norms()[1], 1e-9)
	assert.Equal(t, 1, idx.DrugCount())
}

func TestFileStore_MissingSnapshot(t *testing.T) {
	_, err := FileStore{Path: filepath.Join(t.TempDir(), "none.json")}.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
