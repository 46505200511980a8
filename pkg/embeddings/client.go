// Package embeddings provides an optional self-hosted vector evidence
// source: corpus documents are embedded via a Text Embeddings Inference
// (TEI) service and stored in pgvector (PostgreSQL). A background
// worker keeps the table in sync with the JSONL corpus, and Source
// serves query results through the same interface as the remote vector
// service.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Task prefixes for nomic-family embedding models. Stored documents and
// search queries must be embedded with their matching prefix or
// similarity scores degrade.
const (
	PrefixDocument = "search_document: "
	PrefixQuery    = "search_query: "
)

// TEIClient calls a Text Embeddings Inference server, the service that
// turns corpus documents and questions into vectors.
type TEIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTEIClient creates a client for the TEI server at baseURL.
func NewTEIClient(baseURL string) *TEIClient {
	return &TEIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Embed returns one vector per text, in input order. taskPrefix
// (PrefixDocument or PrefixQuery) is prepended to every input.
func (c *TEIClient) Embed(ctx context.Context, texts []string, taskPrefix string) ([][]float32, error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = taskPrefix + t
	}

	body, err := json.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed returned %d vectors for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a question for similarity search.
func (c *TEIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text}, PrefixQuery)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds a batch of corpus documents for storage.
func (c *TEIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.Embed(ctx, texts, PrefixDocument)
}

// Health reports whether the embedding service is reachable.
func (c *TEIClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embeddings health: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embeddings service unhealthy: HTTP %d", resp.StatusCode)
	}
	return nil
}
