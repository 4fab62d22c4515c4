// Package retriever ranks index entries by cosine similarity to a query.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/embedding"
	"github.com/bull/drugbot/internal/index"
	"github.com/bull/drugbot/internal/retry"
)

// MinQueryLength is the shortest accepted query, in runes, after trimming.
const MinQueryLength = 3

// Scored is an index entry with its similarity to the query.
type Scored struct {
	Entry index.Entry
	Score float64
}

// Result is ordered by descending score; ties keep insertion order.
type Result []Scored

// Retriever embeds queries and searches the active index.
type Retriever struct {
	holder   *index.Holder
	embedder embedding.Capability
	policy   retry.Policy
	logger   *slog.Logger
}

// New creates a Retriever over the index published in holder.
func New(holder *index.Holder, embedder embedding.Capability, policy retry.Policy, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{holder: holder, embedder: embedder, policy: policy, logger: logger}
}

// Validate checks that an index is loaded, non-empty, and was built with the
// configured embedding model. Any failure wraps drug.ErrIndexInconsistent.
func (r *Retriever) Validate() error {
	_, err := r.active()
	return err
}

func (r *Retriever) active() (*index.Index, error) {
	idx := r.holder.Load()
	switch {
	case idx == nil:
		return nil, fmt.Errorf("%w: no index loaded", drug.ErrIndexInconsistent)
	case idx.Len() == 0:
		return nil, fmt.Errorf("%w: index is empty", drug.ErrIndexInconsistent)
	case idx.Model() != r.embedder.Model():
		return nil, fmt.Errorf("%w: index built with %q, embedder is %q",
			drug.ErrIndexInconsistent, idx.Model(), r.embedder.Model())
	case idx.Dimension() != r.embedder.Dimension():
		return nil, fmt.Errorf("%w: index dimension %d, embedder dimension %d",
			drug.ErrIndexInconsistent, idx.Dimension(), r.embedder.Dimension())
	}
	return idx, nil
}

// ValidateQuery rejects blank and too-short queries with drug.ErrValidation.
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	if q == "" {
		return fmt.Errorf("%w: query is empty", drug.ErrValidation)
	}
	if utf8.RuneCountInString(q) < MinQueryLength {
		return fmt.Errorf("%w: query must be at least %d characters", drug.ErrValidation, MinQueryLength)
	}
	return nil
}

// Retrieve returns at most k entries scoring at least minScore.
// An empty result is a valid outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, minScore float64) (Result, error) {
	if err := ValidateQuery(query); err != nil {
		return nil, err
	}
	idx, err := r.active()
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return Result{}, nil
	}

	var vectors [][]float32
	_, err = retry.Do(ctx, r.policy, drug.IsTransient, func(ctx context.Context) error {
		var err error
		vectors, err = r.embedder.Embed(ctx, []string{strings.TrimSpace(query)})
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, retry.ErrExhausted) {
			return nil, fmt.Errorf("embed query: %w: %w", drug.ErrRemoteUnavailable, err)
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) != idx.Dimension() {
		return nil, fmt.Errorf("%w: query embedding has unexpected shape", drug.ErrIndexInconsistent)
	}

	result := Rank(idx, vectors[0], minScore)
	if len(result) > k {
		result = result[:k]
	}

	r.logger.Debug("Retrieved chunks", "query_len", len(query), "hits", len(result))
	return result, nil
}

// Rank scores every entry of idx against query and keeps those with score >= minScore,
// ordered by score descending then insertion sequence ascending.
func Rank(idx *index.Index, query []float32, minScore float64) Result {
	qNorm := index.Norm(query)
	entries := idx.Entries()
	norms := idx.Norms()

	result := make(Result, 0, len(entries))
	for i, e := range entries {
		score := Cosine(query, e.Vector, qNorm, norms[i])
		if score >= minScore {
			result = append(result, Scored{Entry: e, Score: score})
		}
	}

	// Entries are already in insertion order, so a stable sort keeps the
	// earlier-inserted entry first on equal scores.
	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	return result
}

// Cosine returns the cosine similarity of a and b given their norms.
// A zero vector is similar to nothing.
func Cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
