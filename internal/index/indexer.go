package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/embedding"
	"github.com/bull/drugbot/internal/retry"
)

// DefaultBatchSize bounds the number of chunk texts per embedding call.
const DefaultBatchSize = 64

// StatsSink receives the drug and chunk counts of each finalized index.
type StatsSink interface {
	SetIndexCounts(drugs, chunks int)
}

// IngestError names the chunks whose embeddings could not be computed.
type IngestError struct {
	RecordID string
	ChunkIDs []string
	Err      error
}

func (e *IngestError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("ingest record %s: %d chunks failed %v: %v", e.RecordID, len(e.ChunkIDs), e.ChunkIDs, e.Err)
	}
	return fmt.Sprintf("ingest: %d chunks failed %v: %v", len(e.ChunkIDs), e.ChunkIDs, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Config tunes an Indexer.
type Config struct {
	BatchSize int
	Retry     retry.Policy
}

// Indexer stages embedded chunks and publishes them as a new index version.
// Staging is keyed by chunk id, so re-upserting a chunk replaces its entry in place.
type Indexer struct {
	embedder embedding.Capability
	store    Store
	holder   *Holder
	sink     StatsSink
	logger   *slog.Logger
	cfg      Config

	mu      sync.Mutex
	staged  map[string]Entry
	nextSeq int
}

// NewIndexer creates an Indexer. store and sink may be nil.
func NewIndexer(embedder embedding.Capability, store Store, holder *Holder, sink StatsSink, logger *slog.Logger, cfg Config) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if holder == nil {
		holder = &Holder{}
	}
	return &Indexer{
		embedder: embedder,
		store:    store,
		holder:   holder,
		sink:     sink,
		logger:   logger,
		cfg:      cfg,
		staged:   make(map[string]Entry),
	}
}

// Seed stages every entry of an existing index, keeping its order.
// Used for incremental re-ingestion on top of a persisted index.
func (ix *Indexer) Seed(idx *Index) error {
	if idx.Model() != ix.embedder.Model() {
		return fmt.Errorf("%w: index built with %q, embedder is %q",
			drug.ErrIndexInconsistent, idx.Model(), ix.embedder.Model())
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, e := range idx.Entries() {
		e.Seq = ix.nextSeq
		ix.nextSeq++
		ix.staged[e.Chunk.ID] = e
	}
	return nil
}

// Staged returns the number of staged entries.
func (ix *Indexer) Staged() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.staged)
}

// Upsert embeds the chunks and stages them. If any chunk cannot be embedded,
// nothing from this call is staged and an *IngestError is returned.
func (ix *Indexer) Upsert(ctx context.Context, chunks []drug.Chunk) error {
	vectors, err := ix.embed(ctx, chunks)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.stage(chunks, vectors)
	return nil
}

// UpsertRecord replaces every staged chunk of a record with the given chunks.
// Chunks of the record that no longer exist are removed.
func (ix *Indexer) UpsertRecord(ctx context.Context, recordID string, chunks []drug.Chunk) error {
	for _, c := range chunks {
		if c.RecordID != recordID {
			return fmt.Errorf("%w: chunk %s belongs to record %s, not %s",
				drug.ErrValidation, c.ID, c.RecordID, recordID)
		}
	}

	vectors, err := ix.embed(ctx, chunks)
	if err != nil {
		var ingestErr *IngestError
		if errors.As(err, &ingestErr) {
			ingestErr.RecordID = recordID
		}
		return err
	}

	keep := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = true
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for id, e := range ix.staged {
		if e.Chunk.RecordID == recordID && !keep[id] {
			delete(ix.staged, id)
		}
	}
	ix.stage(chunks, vectors)
	return nil
}

// stage must be called with ix.mu held.
func (ix *Indexer) stage(chunks []drug.Chunk, vectors [][]float32) {
	for i, c := range chunks {
		e := Entry{Chunk: c, Vector: vectors[i]}
		if prev, ok := ix.staged[c.ID]; ok {
			e.Seq = prev.Seq
		} else {
			e.Seq = ix.nextSeq
			ix.nextSeq++
		}
		ix.staged[c.ID] = e
	}
}

// embed computes one vector per chunk, in batches. A batch whose retries are
// exhausted is split in halves and each half gets its own retry budget.
func (ix *Indexer) embed(ctx context.Context, chunks []drug.Chunk) ([][]float32, error) {
	for _, c := range chunks {
		if c.ID == "" || strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("%w: chunk %q has no id or text", drug.ErrValidation, c.ID)
		}
	}

	vectors := make([][]float32, len(chunks))
	for start := 0; start < len(chunks); start += ix.cfg.BatchSize {
		end := min(start+ix.cfg.BatchSize, len(chunks))

		err := ix.embedRange(ctx, chunks, vectors, start, end)
		if errors.Is(err, retry.ErrExhausted) && end-start > 1 {
			mid := start + (end-start)/2
			ix.logger.Warn("Embedding batch failed, retrying halves",
				"from", start, "to", end, "error", err)
			var failed []string
			var last error
			for _, r := range [][2]int{{start, mid}, {mid, end}} {
				if herr := ix.embedRange(ctx, chunks, vectors, r[0], r[1]); herr != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					failed = append(failed, chunkIDs(chunks[r[0]:r[1]])...)
					last = herr
				}
			}
			if len(failed) == 0 {
				continue
			}
			return nil, &IngestError{ChunkIDs: failed, Err: fmt.Errorf("%w: %w", drug.ErrRemoteUnavailable, last)}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, retry.ErrExhausted) {
				err = fmt.Errorf("%w: %w", drug.ErrRemoteUnavailable, err)
			}
			return nil, &IngestError{ChunkIDs: chunkIDs(chunks[start:end]), Err: err}
		}
	}
	return vectors, nil
}

func (ix *Indexer) embedRange(ctx context.Context, chunks []drug.Chunk, vectors [][]float32, start, end int) error {
	texts := make([]string, 0, end-start)
	for _, c := range chunks[start:end] {
		texts = append(texts, c.ContextText())
	}

	var got [][]float32
	attempts, err := retry.Do(ctx, ix.cfg.Retry, drug.IsTransient, func(ctx context.Context) error {
		var err error
		got, err = ix.embedder.Embed(ctx, texts)
		return err
	})
	if err != nil {
		return err
	}
	if attempts > 1 {
		ix.logger.Debug("Embedding batch recovered", "from", start, "to", end, "attempts", attempts)
	}
	if len(got) != len(texts) {
		return fmt.Errorf("%w: %d vectors for %d texts", drug.ErrIndexInconsistent, len(got), len(texts))
	}
	for i, v := range got {
		if len(v) != ix.embedder.Dimension() {
			return fmt.Errorf("%w: vector dimension %d, want %d",
				drug.ErrIndexInconsistent, len(v), ix.embedder.Dimension())
		}
		vectors[start+i] = v
	}
	return nil
}

func chunkIDs(chunks []drug.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// Finalize builds an index version from the staged entries, persists it,
// makes it active and reports its counts to the stats sink.
func (ix *Indexer) Finalize(ctx context.Context) (*Index, error) {
	ix.mu.Lock()
	entries := make([]Entry, 0, len(ix.staged))
	for _, e := range ix.staged {
		entries = append(entries, e)
	}
	ix.mu.Unlock()

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: nothing staged", drug.ErrIndexInconsistent)
	}

	// Sequence numbers are compacted so the snapshot does not depend on
	// removals that happened while staging.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	for i := range entries {
		entries[i].Seq = i
	}

	idx, err := New(&Snapshot{
		Model:     ix.embedder.Model(),
		Dimension: ix.embedder.Dimension(),
		Entries:   entries,
	})
	if err != nil {
		return nil, err
	}

	if ix.store != nil {
		if err := ix.store.Save(ctx, idx.Snapshot()); err != nil {
			return nil, fmt.Errorf("persist index: %w", err)
		}
	}
	ix.holder.Store(idx)
	if ix.sink != nil {
		ix.sink.SetIndexCounts(idx.DrugCount(), idx.Len())
	}

	ix.logger.Info("Index finalized",
		"model", idx.Model(),
		"drugs", idx.DrugCount(),
		"chunks", idx.Len(),
	)
	return idx, nil
}
