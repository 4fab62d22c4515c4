// Package index holds the vector index: the immutable in-memory Index read by
// the retriever, its durable snapshot stores, and the Indexer that builds it.
package index

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/bull/drugbot/internal/drug"
)

// Entry pairs a chunk with its embedding vector.
// Seq is the insertion sequence used to break similarity ties.
type Entry struct {
	Chunk  drug.Chunk `json:"chunk"`
	Vector []float32  `json:"vector"`
	Seq    int        `json:"seq"`
}

// Snapshot is the persisted form of an index. It carries no timestamps so that
// rebuilding from the same chunks produces identical bytes.
type Snapshot struct {
	Model     string  `json:"model"`
	Dimension int     `json:"dimension"`
	Entries   []Entry `json:"entries"`
}

// Index is an immutable, finalized index version.
type Index struct {
	model     string
	dimension int
	entries   []Entry
	norms     []float64
	drugs     int
}

// New validates a snapshot and builds an Index from it.
// Entries are ordered by Seq; chunk ids must be unique and every vector
// must have the snapshot's dimension.
func New(s *Snapshot) (*Index, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: no snapshot", drug.ErrIndexInconsistent)
	}
	if s.Model == "" {
		return nil, fmt.Errorf("%w: snapshot has no embedding model", drug.ErrIndexInconsistent)
	}
	if s.Dimension <= 0 {
		return nil, fmt.Errorf("%w: snapshot dimension %d", drug.ErrIndexInconsistent, s.Dimension)
	}

	entries := make([]Entry, len(s.Entries))
	copy(entries, s.Entries)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	seen := make(map[string]bool, len(entries))
	drugs := make(map[string]bool)
	norms := make([]float64, len(entries))
	for i, e := range entries {
		if e.Chunk.ID == "" {
			return nil, fmt.Errorf("%w: entry %d has no chunk id", drug.ErrIndexInconsistent, i)
		}
		if seen[e.Chunk.ID] {
			return nil, fmt.Errorf("%w: duplicate chunk id %s", drug.ErrIndexInconsistent, e.Chunk.ID)
		}
		seen[e.Chunk.ID] = true
		if len(e.Vector) != s.Dimension {
			return nil, fmt.Errorf("%w: chunk %s has dimension %d, want %d",
				drug.ErrIndexInconsistent, e.Chunk.ID, len(e.Vector), s.Dimension)
		}
		norms[i] = Norm(e.Vector)
		drugs[strings.ToLower(e.Chunk.DrugName)] = true
	}

	return &Index{
		model:     s.Model,
		dimension: s.Dimension,
		entries:   entries,
		norms:     norms,
		drugs:     len(drugs),
	}, nil
}

// Model returns the embedding model the index was built with.
func (x *Index) Model() string { return x.model }

// Dimension returns the vector size.
func (x *Index) Dimension() int { return x.dimension }

// Len returns the number of entries (chunks).
func (x *Index) Len() int { return len(x.entries) }

// DrugCount returns the number of distinct drug names.
func (x *Index) DrugCount() int { return x.drugs }

// Entries returns the entries in insertion order. Callers must not modify them.
func (x *Index) Entries() []Entry { return x.entries }

// Norms returns the precomputed L2 norm of each entry vector, aligned with Entries.
func (x *Index) Norms() []float64 { return x.norms }

// Snapshot returns the persisted form of the index.
func (x *Index) Snapshot() *Snapshot {
	entries := make([]Entry, len(x.entries))
	copy(entries, x.entries)
	return &Snapshot{Model: x.model, Dimension: x.dimension, Entries: entries}
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

// Holder publishes the active index version. Readers never block; a new
// version becomes visible to later loads once stored.
type Holder struct {
	p atomic.Pointer[Index]
}

// Load returns the active index, or nil before the first one is stored.
func (h *Holder) Load() *Index { return h.p.Load() }

// Store makes idx the active index version.
func (h *Holder) Store(idx *Index) { h.p.Store(idx) }
