// Package answer turns retrieved chunks into a grounded, cited answer.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/drugbot/internal/drug"
	"github.com/bull/drugbot/internal/retriever"
	"github.com/bull/drugbot/internal/retry"
	"github.com/bull/drugbot/internal/session"
)

// NoInformationText is returned when no chunk is relevant enough to ground an answer.
const NoInformationText = `No information found

Sorry, I could not find information about that in the drug database.

You can try:
- Writing the drug name differently
- Searching for the active ingredient instead
- Asking your doctor or pharmacist

Remember: this system gives general information only, not medical advice.`

// ConnectionErrorText is returned when the generation capability stays unavailable.
const ConnectionErrorText = `Something went wrong

Sorry, I could not reach the answer service while processing your question.

You can try:
- Asking your question again in a moment
- Using simpler words

Important: in an emergency, contact a doctor right away.`

// Retriever finds the chunks relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, minScore float64) (retriever.Result, error)
}

// Generator is the external text generation capability.
// Transient failures must wrap drug.ErrTransient.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// TurnRecorder appends a question and its answer to a session.
type TurnRecorder interface {
	AppendTurn(ctx context.Context, sessionID string, user, assistant session.Message) error
}

// Config tunes answer synthesis.
type Config struct {
	TopK           int
	MinScore       float64
	MaxPromptChars int
	MaxTokens      int
	Retry          retry.Policy
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		TopK:           3,
		MinScore:       0.3,
		MaxPromptChars: 6000,
		MaxTokens:      700,
		Retry:          retry.DefaultPolicy(),
	}
}

// Response is the outcome of one question.
type Response struct {
	Text            string        `json:"response"`
	Sources         []drug.Source `json:"sources"`
	FoundDrugs      []string      `json:"found_drugs"`
	Timestamp       time.Time     `json:"timestamp"`
	NoInformation   bool          `json:"no_information,omitempty"`
	ConnectionError bool          `json:"connection_error,omitempty"`
}

// Synthesizer runs retrieve, prompt, generate and record for a question.
type Synthesizer struct {
	retriever Retriever
	generator Generator
	recorder  TurnRecorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Synthesizer. Zero config fields take their DefaultConfig value.
func New(r Retriever, g Generator, rec TurnRecorder, cfg Config, logger *slog.Logger) *Synthesizer {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = def.MaxPromptChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		retriever: r,
		generator: g,
		recorder:  rec,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Answer answers query within the given session.
//
// Validation and index inconsistency errors are returned as errors, including
// a question too long to leave room for any matching passage; so is
// cancellation of ctx. A remote capability that stays unavailable yields a
// Response with ConnectionError set and leaves the session untouched.
func (s *Synthesizer) Answer(ctx context.Context, query, sessionID string) (*Response, error) {
	query = strings.TrimSpace(query)
	if PromptOverhead(query) >= s.cfg.MaxPromptChars {
		return nil, fmt.Errorf("%w: question is too long", drug.ErrValidation)
	}

	result, err := s.retriever.Retrieve(ctx, query, s.cfg.TopK, s.cfg.MinScore)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, drug.ErrValidation), errors.Is(err, drug.ErrIndexInconsistent):
			return nil, err
		default:
			s.logger.Warn("Retrieval failed", "error", err)
			return s.connectionError(), nil
		}
	}

	prompt, included := BuildPrompt(query, result, s.cfg.MaxPromptChars)
	if len(included) == 0 && len(result) > 0 {
		// Matching passages exist but none fits next to the question.
		return nil, fmt.Errorf("%w: question is too long to answer from %d matching passages",
			drug.ErrValidation, len(result))
	}
	if len(included) == 0 {
		resp := &Response{
			Text:          NoInformationText,
			Sources:       []drug.Source{},
			FoundDrugs:    []string{},
			Timestamp:     s.now().UTC(),
			NoInformation: true,
		}
		if err := s.record(ctx, query, sessionID, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}

	var text string
	attempts, err := retry.Do(ctx, s.cfg.Retry, drug.IsTransient, func(ctx context.Context) error {
		var err error
		text, err = s.generator.Generate(ctx, prompt, s.cfg.MaxTokens)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Generation failed", "attempts", attempts, "error", err)
		return s.connectionError(), nil
	}

	sources := Sources(included)
	resp := &Response{
		Text:       strings.TrimSpace(text),
		Sources:    sources,
		FoundDrugs: drug.DrugNames(sources),
		Timestamp:  s.now().UTC(),
	}
	if err := s.record(ctx, query, sessionID, resp); err != nil {
		return nil, err
	}

	s.logger.Info("Answered question", "chunks", len(included), "sources", len(sources), "attempts", attempts)
	return resp, nil
}

func (s *Synthesizer) connectionError() *Response {
	return &Response{
		Text:            ConnectionErrorText,
		Sources:         []drug.Source{},
		FoundDrugs:      []string{},
		Timestamp:       s.now().UTC(),
		ConnectionError: true,
	}
}

func (s *Synthesizer) record(ctx context.Context, query, sessionID string, resp *Response) error {
	if s.recorder == nil {
		return nil
	}
	user := session.Message{Role: session.RoleUser, Text: query, Timestamp: resp.Timestamp}
	assistant := session.Message{
		Role:      session.RoleAssistant,
		Text:      resp.Text,
		Sources:   resp.Sources,
		Timestamp: resp.Timestamp,
	}
	if err := s.recorder.AppendTurn(ctx, sessionID, user, assistant); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// Sources derives citations from the included chunks. Chunks sharing a drug
// and section collapse into one citation carrying the best (lowest) rank,
// which is the chunk's 1-based position in the retrieval result.
func Sources(included retriever.Result) []drug.Source {
	sources := make([]drug.Source, 0, len(included))
	seen := make(map[string]bool, len(included))
	for i, s := range included {
		c := s.Entry.Chunk
		key := strings.ToLower(c.DrugName) + "\x00" + strings.ToLower(c.Section)
		if seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, drug.Source{
			DrugName:   c.DrugName,
			Section:    c.Section,
			Rank:       i + 1,
			Provenance: c.Provenance,
		})
	}
	return sources
}
