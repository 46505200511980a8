// Package retrieval implements the evidence pipeline behind the bot's
// answers: a JSONL document store, a keyword-ranked local search used as
// fallback when the vector service is unavailable, a client for the
// remote vector query service, and the orchestrator that turns retrieved
// chunks plus a question into a completion request.
package retrieval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Document is one entry of the local corpus.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Store is a line-oriented JSON document store. There is no index and no
// cache: Load reads the whole file on every call, which keeps each search
// self-contained and makes corpus edits visible immediately.
type Store struct {
	path string
}

// NewStore creates a store backed by the JSONL file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads every document from the store. Blank lines are skipped;
// a malformed line is an error naming its line number.
func (s *Store) Load() ([]Document, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", s.path, err)
	}
	defer f.Close()

	var docs []Document
	scanner := bufio.NewScanner(f)
	// Corpus entries can be long; the default 64K token limit is too small.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			return nil, fmt.Errorf("corpus %s line %d: %w", s.path, lineNo, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", s.path, err)
	}
	return docs, nil
}

// WriteDocuments writes docs to path as JSONL, one object per line.
func WriteDocuments(path string, docs []Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create corpus %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode document %s: %w", doc.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write corpus %s: %w", path, err)
	}
	return nil
}
