package embeddings

import (
	"context"
	"fmt"

	"github.com/phat-labs/phatd/pkg/retrieval"
)

// Source serves evidence chunks from the local pgvector store, behind
// the same retrieval.Source interface as the remote vector service.
// Flow: embed the question via TEI, similarity-search pgvector, apply
// the shared character budget.
type Source struct {
	Store  *Store
	TEI    *TEIClient
	TopK   int
	Budget int
}

func (s *Source) Kind() string { return "pgvector" }

// Chunks implements retrieval.Source.
func (s *Source) Chunks(ctx context.Context, question string) ([]string, error) {
	queryVector, err := s.TEI.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	topK := s.TopK
	if topK <= 0 {
		topK = 8
	}
	hits, err := s.Store.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(hits))
	for i, hit := range hits {
		texts[i] = hit.Text
	}
	return retrieval.ApplyBudget(texts, s.Budget), nil
}
