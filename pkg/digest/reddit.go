// Package digest implements the discussion digest worker.
//
// The worker runs as a background goroutine, periodically fetching a
// Reddit thread's comment feed, selecting the recent well-received
// comments, and posting an LLM-written summary into a chat conversation.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const userAgent = "phatd:digest:1.0"

// Comment is one Reddit comment with its highest-scored replies.
type Comment struct {
	Author    string
	Body      string
	Score     int
	CreatedAt time.Time
	Replies   []Comment
}

// RedditFeed fetches and filters a single thread's comment listing.
type RedditFeed struct {
	threadURL  string
	httpClient *http.Client
}

// NewRedditFeed creates a feed for one thread. threadURL is the
// permalink without the .json suffix.
func NewRedditFeed(threadURL string) *RedditFeed {
	return &RedditFeed{
		threadURL: strings.TrimSuffix(threadURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// listing mirrors Reddit's recursive listing JSON. Replies is either an
// empty string or a nested listing, so it stays raw until inspected.
type listing struct {
	Data struct {
		Children []struct {
			Kind string `json:"kind"`
			Data struct {
				Author     string          `json:"author"`
				Body       string          `json:"body"`
				Score      int             `json:"score"`
				CreatedUTC float64         `json:"created_utc"`
				Replies    json.RawMessage `json:"replies"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch returns the thread's top-level comments, newest first. Only
// comments created within the window and scored at least minScore are
// kept; each carries its top replies passing the same score bar.
func (f *RedditFeed) Fetch(ctx context.Context, window time.Duration, minScore, maxReplies int) ([]Comment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.threadURL+".json", nil)
	if err != nil {
		return nil, fmt.Errorf("create feed request: %w", err)
	}
	// Reddit rejects the default Go user agent with 429s
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch thread: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("thread fetch returned %d: %s", resp.StatusCode, string(body))
	}

	// A thread page is a two-element array: [post listing, comment listing]
	var page []listing
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode thread listing: %w", err)
	}
	if len(page) < 2 {
		return nil, fmt.Errorf("thread listing has %d elements, want 2", len(page))
	}

	cutoff := time.Now().Add(-window)
	var comments []Comment
	for _, child := range page[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		created := time.Unix(int64(child.Data.CreatedUTC), 0).UTC()
		if created.Before(cutoff) || child.Data.Score < minScore {
			continue
		}
		comments = append(comments, Comment{
			Author:    child.Data.Author,
			Body:      child.Data.Body,
			Score:     child.Data.Score,
			CreatedAt: created,
			Replies:   parseReplies(child.Data.Replies, minScore, maxReplies),
		})
	}

	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.After(comments[j].CreatedAt)
	})
	return comments, nil
}

// parseReplies extracts the top replies by score from a raw replies
// field, which is "" for leaf comments.
func parseReplies(raw json.RawMessage, minScore, maxReplies int) []Comment {
	if len(raw) == 0 || string(raw) == `""` {
		return nil
	}

	var nested listing
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil
	}

	var replies []Comment
	for _, child := range nested.Data.Children {
		if child.Kind != "t1" || child.Data.Score < minScore {
			continue
		}
		replies = append(replies, Comment{
			Author:    child.Data.Author,
			Body:      child.Data.Body,
			Score:     child.Data.Score,
			CreatedAt: time.Unix(int64(child.Data.CreatedUTC), 0).UTC(),
		})
	}

	sort.SliceStable(replies, func(i, j int) bool {
		return replies[i].Score > replies[j].Score
	})
	if len(replies) > maxReplies {
		replies = replies[:maxReplies]
	}
	return replies
}
