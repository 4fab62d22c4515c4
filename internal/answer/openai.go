package answer

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/bull/drugbot/internal/embedding"
)

// DefaultChatModel is used when no generation model is configured.
const DefaultChatModel = "gpt-4o-mini"

// OpenAIGenerator generates answers with the OpenAI chat completions API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAIGenerator creates a generator on the shared OpenAI client.
func NewOpenAIGenerator(client *embedding.Client, model string, temperature float64) *OpenAIGenerator {
	if model == "" {
		model = DefaultChatModel
	}
	return &OpenAIGenerator{
		client:      client.Client(),
		model:       model,
		temperature: temperature,
	}
}

// Generate sends the prompt as a single user message.
// Rate limits, server errors and timeouts wrap drug.ErrTransient.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:               openai.ChatModel(g.model),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(g.temperature),
	})
	if err != nil {
		return "", embedding.ClassifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
