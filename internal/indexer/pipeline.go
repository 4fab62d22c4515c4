// Package indexer runs the offline ingestion phase: corpus to chunks to a
// published index version.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/drugbot/internal/chunker"
	"github.com/bull/drugbot/internal/corpus"
	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/index"
)

// IndexResult contains statistics about an indexing operation.
type IndexResult struct {
	TotalRecords int
	TotalChunks  int
	// IndexDrugs and IndexChunks describe the published index, which also
	// holds seeded entries from a previous version.
	IndexDrugs  int
	IndexChunks int
	Duration    time.Duration
}

// Pipeline orchestrates ingestion from a corpus source into an index.
type Pipeline struct {
	source  corpus.Source
	chunker *chunker.Chunker
	indexer *index.Indexer
	logger  *slog.Logger
}

// NewPipeline creates a new ingestion pipeline with the given components.
func NewPipeline(source corpus.Source, c *chunker.Chunker, ix *index.Indexer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = chunker.New(0)
	}
	return &Pipeline{
		source:  source,
		chunker: c,
		indexer: ix,
		logger:  logger,
	}
}

// IndexAll loads every record, chunks and embeds it, then finalizes a new
// index version. It halts on the first failing record; the returned error
// names the record, and for embedding failures an *index.IngestError
// carries the failed chunk ids. Nothing is published on failure.
func (p *Pipeline) IndexAll(ctx context.Context) (*IndexResult, error) {
	start := time.Now()
	result := &IndexResult{}

	records, err := p.source.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}
	result.TotalRecords = len(records)
	p.logger.Info("Loaded corpus", "records", len(records))

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.ID] {
			return nil, fmt.Errorf("%w: duplicate record id %q", drug.ErrValidation, rec.ID)
		}
		seen[rec.ID] = true

		n, err := p.processRecord(ctx, rec)
		if err != nil {
			return nil, err
		}
		result.TotalChunks += n
	}

	idx, err := p.indexer.Finalize(ctx)
	if err != nil {
		return nil, fmt.Errorf("finalize index: %w", err)
	}
	result.IndexDrugs = idx.DrugCount()
	result.IndexChunks = idx.Len()
	result.Duration = time.Since(start)

	p.logger.Info("Indexing complete",
		"records", result.TotalRecords,
		"chunks", result.TotalChunks,
		"index_chunks", result.IndexChunks,
		"duration", result.Duration,
	)
	return result, nil
}

// processRecord returns the number of chunks staged for the record.
func (p *Pipeline) processRecord(ctx context.Context, rec drug.Record) (int, error) {
	chunks, err := p.chunker.Chunk(rec)
	if err != nil {
		return 0, fmt.Errorf("chunk record %s: %w", rec.ID, err)
	}
	if err := p.indexer.UpsertRecord(ctx, rec.ID, chunks); err != nil {
		return 0, err
	}
	p.logger.Debug("Indexed record", "id", rec.ID, "drug", rec.DrugName, "chunks", len(chunks))
	return len(chunks), nil
}
