package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bull/drugbot/internal/retriever"
)

// systemGuidance sets persona, tone and the mandatory disclaimer.
const systemGuidance = `You are a drug information assistant. Answer for people without medical training.

RULES:
1. Use everyday words instead of medical terms.
2. Keep sentences short and clear; use bullet points.
3. Stay calm and reassuring; do not alarm the reader.
4. Use ONLY the drug information below. If it does not answer the question, say so.
5. Cite the information you use with its tag, for example [1].
6. Always end with this reminder: "This information is for general purposes only. Always consult your doctor or pharmacist about your medication."

Use these headings when the information allows:
About the drug / Possible side effects / How to take it / When to take it / Things to watch for / Reminder`

const promptHead = systemGuidance + "\n\nDrug information:\n"

func promptTail(query string) string {
	return "\nQuestion: " + strings.TrimSpace(query) + "\n\nAnswer:"
}

// PromptOverhead is the size in runes of the prompt for query without any
// context block. The budget left for context is maxChars minus this.
func PromptOverhead(query string) int {
	return utf8.RuneCountInString(promptHead) + utf8.RuneCountInString(promptTail(query))
}

// BuildPrompt assembles guidance, tagged context blocks and the question.
// The result never exceeds maxChars runes: the lowest-scoring chunks are
// dropped first. It returns the prompt and the chunks it includes, which are
// a prefix of result. If no chunk fits, included is empty.
func BuildPrompt(query string, result retriever.Result, maxChars int) (prompt string, included retriever.Result) {
	head, tail := promptHead, promptTail(query)

	blocks := make([]string, len(result))
	total := PromptOverhead(query)
	for i, s := range result {
		blocks[i] = fmt.Sprintf("[%d] %s\n%s\n\n", i+1, s.Entry.Chunk.Label(), s.Entry.Chunk.Text)
		total += utf8.RuneCountInString(blocks[i])
	}

	n := len(result)
	for n > 0 && total > maxChars {
		n--
		total -= utf8.RuneCountInString(blocks[n])
	}
	if n == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(head)
	for _, block := range blocks[:n] {
		b.WriteString(block)
	}
	b.WriteString(tail)
	return b.String(), result[:n]
}
