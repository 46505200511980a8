package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrMalformedResponse indicates the vector service answered with JSON we
// could not make sense of. The call fails; the cursor is never touched.
var ErrMalformedResponse = errors.New("malformed vector service response")

// upsertBatchSize is how many documents go into one /upsert request.
const upsertBatchSize = 100

// RetryPolicy makes retry behavior explicit configuration instead of a
// hidden client default: how often to retry, how the backoff grows, and
// which HTTP statuses are worth retrying at all.
type RetryPolicy struct {
	MaxRetries    int           // retries after the first attempt
	Backoff       time.Duration // base delay; doubles per retry
	RetryStatuses []int         // statuses treated as retryable
}

// DefaultRetryPolicy retries server-side failures five times with a
// 100ms base backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		Backoff:       100 * time.Millisecond,
		RetryStatuses: []int{500, 502, 503, 504},
	}
}

func (p RetryPolicy) retryable(status int) bool {
	for _, s := range p.RetryStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ServiceClient talks to the remote vector search service: POST /query
// for retrieval and POST /upsert for corpus loading, both authorized with
// a bearer token. All configuration is explicit on the client; there is
// no process-wide state.
type ServiceClient struct {
	endpoint   string
	token      string
	topK       int
	retry      RetryPolicy
	httpClient *http.Client
}

// NewServiceClient creates a vector service client. topK <= 0 defaults
// to 8 results per query.
func NewServiceClient(endpoint, token string, topK int) *ServiceClient {
	if topK <= 0 {
		topK = 8
	}
	return &ServiceClient{
		endpoint: endpoint,
		token:    token,
		topK:     topK,
		retry:    DefaultRetryPolicy(),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithRetryPolicy overrides the default retry policy.
func (c *ServiceClient) WithRetryPolicy(p RetryPolicy) *ServiceClient {
	c.retry = p
	return c
}

// queryRequest is the /query request body.
type queryRequest struct {
	Queries []queryItem `json:"queries"`
}

type queryItem struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// queryResponse is the nested /query result shape: an outer list of query
// results, each with an inner list of scored chunks.
type queryResponse struct {
	Results []struct {
		Results []struct {
			Text string `json:"text"`
		} `json:"results"`
	} `json:"results"`
}

// Query sends the question to the vector service and returns the chunk
// texts flattened in the order received — the service already ranks them
// by relevance.
func (c *ServiceClient) Query(ctx context.Context, question string) ([]string, error) {
	body := queryRequest{
		Queries: []queryItem{{Query: question, TopK: c.topK}},
	}

	respBody, err := c.post(ctx, "/query", body)
	if err != nil {
		return nil, err
	}

	var parsed queryResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var chunks []string
	for _, result := range parsed.Results {
		for _, inner := range result.Results {
			chunks = append(chunks, inner.Text)
		}
	}
	slog.Debug("vector query", "question_len", len(question), "chunks", len(chunks))
	return chunks, nil
}

// upsertRequest is the /upsert request body.
type upsertRequest struct {
	Documents []Document `json:"documents"`
}

// Upsert pushes documents to the vector service in batches.
func (c *ServiceClient) Upsert(ctx context.Context, docs []Document) error {
	for i := 0; i < len(docs); i += upsertBatchSize {
		end := i + upsertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[i:end]

		if _, err := c.post(ctx, "/upsert", upsertRequest{Documents: batch}); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
		slog.Info("corpus batch upserted", "from", i, "to", end, "total", len(docs))
	}
	return nil
}

// post sends a JSON request with bearer auth, retrying per the client's
// RetryPolicy on transport errors and retryable statuses. Any other
// non-200 status fails the call immediately.
func (c *ServiceClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}

	backoff := c.retry.Backoff
	var lastErr error

	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", path, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("vector service %s: %w", path, err)
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("read %s response: %w", path, readErr)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("vector service %s: HTTP %d: %s", path, resp.StatusCode, excerpt(respBody))
		if !c.retry.retryable(resp.StatusCode) {
			return nil, lastErr
		}
		slog.Warn("vector service request failed, retrying",
			"path", path,
			"status", resp.StatusCode,
			"attempt", attempt+1,
			"backoff", backoff,
		)
	}

	return nil, lastErr
}

// excerpt shortens a response body for error messages.
func excerpt(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
