// Package testutil provides deterministic fakes for the remote capabilities.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/bull/drugbot/internal/drug"
)

// VocabEmbedder maps each known word to its own dimension and counts occurrences.
// Texts with no known words embed to the zero vector.
type VocabEmbedder struct {
	ModelName string

	mu       sync.Mutex
	vocab    map[string]int
	calls    int
	failures []error
}

// NewVocabEmbedder creates an embedder with one dimension per vocabulary word.
func NewVocabEmbedder(model string, words ...string) *VocabEmbedder {
	vocab := make(map[string]int, len(words))
	for i, w := range words {
		vocab[strings.ToLower(w)] = i
	}
	return &VocabEmbedder{ModelName: model, vocab: vocab}
}

func (e *VocabEmbedder) Model() string { return e.ModelName }

func (e *VocabEmbedder) Dimension() int { return len(e.vocab) }

// FailNext queues errors returned by the next calls to Embed, in order.
func (e *VocabEmbedder) FailNext(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, errs...)
}

// Calls returns the number of Embed invocations.
func (e *VocabEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *VocabEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	var err error
	if len(e.failures) > 0 {
		err, e.failures = e.failures[0], e.failures[1:]
	}
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(e.vocab))
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			if dim, ok := e.vocab[w]; ok {
				vec[dim]++
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Generator is a scripted generation capability.
// Each call consumes the next scripted error (nil means success with Reply).
// When Block is set, calls wait for context cancellation.
type Generator struct {
	Reply string
	Block bool

	mu      sync.Mutex
	errs    []error
	calls   int
	prompts []string
}

// FailNext queues errors returned by the next calls to Generate, in order.
func (g *Generator) FailNext(errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs = append(g.errs, errs...)
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	var err error
	if len(g.errs) > 0 {
		err, g.errs = g.errs[0], g.errs[1:]
	}
	block := g.Block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %w", drug.ErrTransient, ctx.Err())
	}
	if err != nil {
		return "", err
	}
	return g.Reply, nil
}

// Calls returns the number of Generate invocations.
func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastPrompt returns the most recent prompt, or "".
func (g *Generator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// DrugVocabulary covers the end-to-end Aspirin / Paracetamol corpus.
var DrugVocabulary = []string{"aspirin", "headache", "relief", "paracetamol", "fever", "reduction"}

// DrugRecords returns the two-record end-to-end corpus.
func DrugRecords() []drug.Record {
	return []drug.Record{
		{
			ID:         "aspirin",
			DrugName:   "Aspirin",
			Sections:   []drug.Section{{Name: "effects", Text: "headache relief"}},
			Provenance: "test",
		},
		{
			ID:         "paracetamol",
			DrugName:   "Paracetamol",
			Sections:   []drug.Section{{Name: "effects", Text: "fever reduction"}},
			Provenance: "test",
		},
	}
}
