package llm

import (
	"context"
	"log/slog"
	"strings"
)

// extractPrompt instructs the model to act as a keyword extractor. The
// entire extraction policy lives in this prompt; there is no local
// linguistic analysis, and the model's reply is trusted verbatim.
const extractPrompt = `You turn questions into search keywords.
Rules:
- If the question asks about a named person, reply with only that person's name.
- If the question asks about a specialized term, reply with only that term.
- Otherwise reply with the most salient keyword or keywords from the question.
Reply with the keywords only. No punctuation, no explanation.`

// Extractor derives search keywords from a free-text question using a
// single completion call.
type Extractor struct {
	Provider Provider
}

// ExtractKeywords returns the keyword string for a question. The small
// token budget keeps the reply to the keywords themselves.
func (e *Extractor) ExtractKeywords(ctx context.Context, question string) (string, error) {
	resp, err := e.Provider.Complete(ctx, CompletionRequest{
		Messages: []Message{
			{Role: "system", Content: extractPrompt},
			{Role: "user", Content: question},
		},
		MaxTokens: 100,
	})
	if err != nil {
		return "", err
	}

	keywords := strings.TrimSpace(resp.Content)
	slog.Debug("keywords extracted", "question_len", len(question), "keywords", keywords)
	return keywords, nil
}
