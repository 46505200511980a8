package retrieval

import (
	"context"
	"fmt"
	"log/slog"
)

// FallbackAnswer is the fixed sentence the bot gives when retrieval
// produced no evidence or the model cannot find the answer in it.
const FallbackAnswer = "I don't know. The answer is not contained in the documents I have access to."

// questionTemplate wraps the user's question for the final completion
// turn. It pins the model to the supplied context and to the fallback
// sentence, so an empty or irrelevant context never yields a guess.
const questionTemplate = `Answer the question below using only the context provided in the previous messages.
If the context does not contain the answer, reply with exactly this sentence: %s

Question: %s`

// Turn is one role-tagged message of a completion request.
type Turn struct {
	Role    string // "system" or "user"
	Content string
}

// Completer issues a chat completion over ordered turns and returns the
// generated text. Implemented by internal/llm.
type Completer interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// Source supplies evidence chunks for a question, already relevance
// ordered and budget limited.
type Source interface {
	// Kind identifies the source for logging and reply labeling.
	Kind() string

	// Chunks returns the evidence for the question, best first.
	Chunks(ctx context.Context, question string) ([]string, error)
}

// ServiceSource retrieves evidence from the remote vector service.
type ServiceSource struct {
	Client *ServiceClient
	Budget int // character ceiling across all chunks; <= 0 is unlimited
}

func (s *ServiceSource) Kind() string { return "vector" }

func (s *ServiceSource) Chunks(ctx context.Context, question string) ([]string, error) {
	chunks, err := s.Client.Query(ctx, question)
	if err != nil {
		return nil, err
	}
	return ApplyBudget(chunks, s.Budget), nil
}

// KeywordFunc turns a question into a keyword search string. In
// production this is the LLM-backed extractor; tests substitute a
// local function.
type KeywordFunc func(ctx context.Context, question string) (string, error)

// DirectSource retrieves evidence by keyword-ranking the local corpus,
// the fallback path when no vector service is reachable.
type DirectSource struct {
	Store    *Store
	Keywords KeywordFunc
	Budget   int
}

func (s *DirectSource) Kind() string { return "direct" }

func (s *DirectSource) Chunks(ctx context.Context, question string) ([]string, error) {
	keywords, err := s.Keywords(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("extract keywords: %w", err)
	}

	docs, err := s.Store.Load()
	if err != nil {
		return nil, err
	}

	chunks := Search(docs, keywords, s.Budget)
	slog.Debug("direct search",
		"keywords", keywords,
		"documents", len(docs),
		"chunks", len(chunks),
	)
	return chunks, nil
}

// Answerer assembles the completion request for a question: one user turn
// per evidence chunk, then the templated question.
type Answerer struct {
	Source    Source
	Completer Completer
}

// Answer retrieves evidence for the question and asks the model,
// reporting how many chunks the reply was grounded on. With zero chunks
// retrieved the completion call is skipped entirely and the fallback
// sentence is returned — sending an unguided question to the model just
// produces a confident hallucination.
func (a *Answerer) Answer(ctx context.Context, question string) (string, int, error) {
	chunks, err := a.Source.Chunks(ctx, question)
	if err != nil {
		return "", 0, fmt.Errorf("retrieve evidence (%s): %w", a.Source.Kind(), err)
	}

	if len(chunks) == 0 {
		slog.Info("no evidence retrieved, returning fallback",
			"source", a.Source.Kind(),
			"question_len", len(question),
		)
		return FallbackAnswer, 0, nil
	}

	turns := make([]Turn, 0, len(chunks)+1)
	for _, chunk := range chunks {
		turns = append(turns, Turn{Role: "user", Content: chunk})
	}
	turns = append(turns, Turn{
		Role:    "user",
		Content: fmt.Sprintf(questionTemplate, FallbackAnswer, question),
	})

	answer, err := a.Completer.Complete(ctx, turns)
	if err != nil {
		return "", len(chunks), fmt.Errorf("completion: %w", err)
	}

	slog.Info("question answered",
		"source", a.Source.Kind(),
		"chunks", len(chunks),
		"answer_len", len(answer),
	)
	return answer, len(chunks), nil
}
