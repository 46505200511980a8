package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/phat-labs/phatd/pkg/channel"
	"github.com/phat-labs/phatd/pkg/retrieval"
)

const summaryInstruction = "The messages above are comments from an ongoing discussion thread. " +
	"Write a short digest of what people are talking about and which opinions got the most support. " +
	"Keep it under five sentences."

// Config holds digest worker configuration.
type Config struct {
	Interval   time.Duration // how often to post a digest (default 30m)
	Window     time.Duration // how far back to look for comments (default 2h)
	MinScore   int           // minimum comment score (default 1)
	MaxReplies int           // replies kept per comment (default 3)
}

// DefaultConfig returns sensible defaults for the digest worker.
func DefaultConfig() Config {
	return Config{
		Interval:   30 * time.Minute,
		Window:     2 * time.Hour,
		MinScore:   1,
		MaxReplies: 3,
	}
}

// Worker periodically summarizes a discussion feed into a conversation.
type Worker struct {
	feed      *RedditFeed
	conv      channel.Conversation
	completer retrieval.Completer
	cfg       Config

	mu         sync.Mutex
	cycleCount int
	lastDigest string
}

// NewWorker creates a new digest worker.
func NewWorker(feed *RedditFeed, conv channel.Conversation, completer retrieval.Completer, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Hour
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 1
	}
	if cfg.MaxReplies <= 0 {
		cfg.MaxReplies = 3
	}
	return &Worker{feed: feed, conv: conv, completer: completer, cfg: cfg}
}

// Run starts the digest loop. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("digest worker started",
		"conversation", w.conv.Name(),
		"interval", w.cfg.Interval,
		"window", w.cfg.Window,
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("digest worker stopping")
			return
		case <-ticker.C:
			if err := w.DigestOnce(ctx); err != nil {
				slog.Warn("digest cycle failed", "error", err)
			}
		}
	}
}

// DigestOnce runs a single digest cycle: fetch, summarize, post.
// A cycle with no qualifying comments posts nothing.
func (w *Worker) DigestOnce(ctx context.Context) error {
	w.mu.Lock()
	w.cycleCount++
	cycle := w.cycleCount
	w.mu.Unlock()

	comments, err := w.feed.Fetch(ctx, w.cfg.Window, w.cfg.MinScore, w.cfg.MaxReplies)
	if err != nil {
		return fmt.Errorf("fetch comments: %w", err)
	}
	if len(comments) == 0 {
		slog.Debug("digest cycle: no recent comments", "cycle", cycle)
		return nil
	}

	turns := make([]retrieval.Turn, 0, len(comments)+1)
	for _, c := range comments {
		turns = append(turns, retrieval.Turn{Role: "user", Content: FormatComment(c)})
	}
	turns = append(turns, retrieval.Turn{Role: "user", Content: summaryInstruction})

	summary, err := w.completer.Complete(ctx, turns)
	if err != nil {
		return fmt.Errorf("summarize comments: %w", err)
	}

	if err := w.conv.Post(ctx, summary); err != nil {
		return fmt.Errorf("post digest: %w", err)
	}

	w.mu.Lock()
	w.lastDigest = summary
	w.mu.Unlock()

	slog.Info("digest posted", "cycle", cycle, "comments", len(comments))
	return nil
}

// LastDigest returns the most recently posted summary.
func (w *Worker) LastDigest() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastDigest
}

// FormatComment renders one comment and its replies as a single
// context block for the summarizer.
func FormatComment(c Comment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, score %d): %s",
		c.Author, c.CreatedAt.Format("15:04"), c.Score, c.Body)
	for _, r := range c.Replies {
		fmt.Fprintf(&b, "\n    reply from %s (score %d): %s", r.Author, r.Score, r.Body)
	}
	return b.String()
}
