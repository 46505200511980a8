// Package corpus turns raw text dumps into the JSONL document corpus
// the retriever searches: one cleaned fact per line, sequential string
// IDs, diacritics folded so keyword matching stays accent-insensitive.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/phat-labs/phatd/pkg/retrieval"
)

const shortenSystem = "You are a helpful assistant."

// Prepare reads a raw text file and produces corpus documents. Blank
// lines and comment lines starting with # are skipped; quotes and
// braces are stripped; the text is folded like the keyword matcher
// folds queries. IDs are assigned sequentially from 0.
func Prepare(rawPath string) ([]retrieval.Document, error) {
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("read raw corpus: %w", err)
	}

	var docs []retrieval.Document
	for _, line := range strings.Split(string(data), "\n") {
		text := CleanLine(line)
		if text == "" {
			continue
		}
		docs = append(docs, retrieval.Document{
			ID:   strconv.Itoa(len(docs)),
			Text: text,
		})
	}
	return docs, nil
}

// CleanLine normalizes one raw corpus line. Returns "" for lines that
// should be dropped.
func CleanLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\'', '{', '}':
			return -1
		}
		return r
	}, trimmed)
	return retrieval.Fold(strings.TrimSpace(stripped))
}

// Shorten rewrites documents longer than limit characters through the
// completer, keeping shorter ones untouched. Failed summaries keep the
// original text so a flaky provider never loses corpus content.
func Shorten(ctx context.Context, docs []retrieval.Document, limit int, completer retrieval.Completer) []retrieval.Document {
	if limit <= 0 {
		return docs
	}

	out := make([]retrieval.Document, len(docs))
	for i, doc := range docs {
		out[i] = doc
		if len(doc.Text) <= limit {
			continue
		}

		summary, err := completer.Complete(ctx, []retrieval.Turn{
			{Role: "system", Content: shortenSystem},
			{Role: "user", Content: fmt.Sprintf(
				"Shorten the following text to at most %d characters. Keep every name, number, and fact:\n\n%s",
				limit, doc.Text)},
		})
		if err != nil {
			slog.Warn("shorten failed, keeping original", "doc", doc.ID, "error", err)
			continue
		}
		summary = strings.TrimSpace(summary)
		if summary == "" {
			continue
		}
		out[i].Text = retrieval.Fold(summary)
	}
	return out
}

// CharCount sums the text length of all documents, the number the
// evidence budget is sized against.
func CharCount(docs []retrieval.Document) int {
	total := 0
	for _, doc := range docs {
		total += len(doc.Text)
	}
	return total
}
