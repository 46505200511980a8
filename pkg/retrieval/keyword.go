package retrieval

import (
	"sort"
	"strings"
)

// foldReplacer maps the German special characters appearing in the corpus
// to their ASCII digraphs, matching the normalization applied when the
// corpus was prepared. Scoring would otherwise miss every folded term.
var foldReplacer = strings.NewReplacer(
	"ä", "ae",
	"ü", "ue",
	"ö", "oe",
	"ß", "ss",
)

// Fold lower-cases s and replaces special characters with their ASCII
// digraphs (ä→ae, ü→ue, ö→oe, ß→ss).
func Fold(s string) string {
	return foldReplacer.Replace(strings.ToLower(s))
}

// Terms splits a keyword string into normalized search terms. Duplicates
// are kept deliberately: a term the extractor repeats counts its matches
// twice, which weights it higher in the ranking.
func Terms(keywords string) []string {
	return strings.Fields(Fold(keywords))
}

// ScoredDocument pairs a document with its match count during ranking.
type ScoredDocument struct {
	Document
	Score int
}

// Rank scores every document against the keyword string and returns the
// matches ordered by descending score. The score is the sum over all
// terms of non-overlapping substring occurrences in the folded document
// text. Zero-score documents are excluded. Ties keep the original
// collection order, so identical inputs always rank identically.
func Rank(docs []Document, keywords string) []ScoredDocument {
	terms := Terms(keywords)
	if len(terms) == 0 {
		return nil
	}

	var scored []ScoredDocument
	for _, doc := range docs {
		text := Fold(doc.Text)
		score := 0
		for _, term := range terms {
			score += strings.Count(text, term)
		}
		if score > 0 {
			scored = append(scored, ScoredDocument{Document: doc, Score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored
}

// Search ranks docs against the keyword string and returns the top
// documents' texts within the character budget. This is a full linear
// scan per call; nothing is cached between calls.
func Search(docs []Document, keywords string, budget int) []string {
	ranked := Rank(docs, keywords)
	texts := make([]string, len(ranked))
	for i, d := range ranked {
		texts[i] = d.Text
	}
	return ApplyBudget(texts, budget)
}

// ApplyBudget walks chunks in order, accumulating character lengths, and
// returns the prefix that fits within budget. The walk stops at the first
// chunk that would overflow (stop-on-overflow): a smaller chunk further
// down the ranking is not pulled forward past a better-ranked one.
// Chunks are never truncated mid-string. A budget <= 0 means unlimited.
func ApplyBudget(chunks []string, budget int) []string {
	if budget <= 0 {
		return chunks
	}
	var kept []string
	total := 0
	for _, chunk := range chunks {
		if total+len(chunk) > budget {
			break
		}
		kept = append(kept, chunk)
		total += len(chunk)
	}
	return kept
}
