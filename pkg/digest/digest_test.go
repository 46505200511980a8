package digest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phat-labs/phatd/pkg/channel"
	"github.com/phat-labs/phatd/pkg/retrieval"
)

func threadJSON(now time.Time) string {
	recent := now.Add(-10 * time.Minute).Unix()
	old := now.Add(-5 * time.Hour).Unix()
	return fmt.Sprintf(`[
		{"data": {"children": [{"kind": "t3", "data": {"author": "op", "body": "", "score": 10, "created_utc": %d, "replies": ""}}]}},
		{"data": {"children": [
			{"kind": "t1", "data": {"author": "alice", "body": "great release", "score": 5, "created_utc": %d,
				"replies": {"data": {"children": [
					{"kind": "t1", "data": {"author": "bob", "body": "agreed", "score": 3, "created_utc": %d, "replies": ""}},
					{"kind": "t1", "data": {"author": "carol", "body": "meh", "score": 0, "created_utc": %d, "replies": ""}}
				]}}}},
			{"kind": "t1", "data": {"author": "dave", "body": "too old", "score": 8, "created_utc": %d, "replies": ""}},
			{"kind": "t1", "data": {"author": "erin", "body": "downvoted take", "score": -2, "created_utc": %d, "replies": ""}},
			{"kind": "t1", "data": {"author": "frank", "body": "second comment", "score": 2, "created_utc": %d, "replies": ""}}
		]}}
	]`, recent, recent, recent, recent, old, recent, now.Add(-5*time.Minute).Unix())
}

func TestFetchFiltersAndOrders(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ".json") {
			t.Errorf("path %q missing .json suffix", r.URL.Path)
		}
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("User-Agent = %q, want %q", ua, userAgent)
		}
		fmt.Fprint(w, threadJSON(now))
	}))
	defer srv.Close()

	feed := NewRedditFeed(srv.URL + "/r/golang/comments/abc/thread")
	comments, err := feed.Fetch(context.Background(), 2*time.Hour, 1, 3)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	// dave is outside the window, erin is below the score bar
	if len(comments) != 2 {
		t.Fatalf("expected 2 comments, got %d", len(comments))
	}
	// Newest first
	if comments[0].Author != "frank" || comments[1].Author != "alice" {
		t.Errorf("wrong order: %s, %s", comments[0].Author, comments[1].Author)
	}

	// carol's reply scored 0 and is dropped
	replies := comments[1].Replies
	if len(replies) != 1 || replies[0].Author != "bob" {
		t.Errorf("replies = %+v, want just bob", replies)
	}
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	feed := NewRedditFeed(srv.URL + "/r/golang/comments/abc/thread")
	if _, err := feed.Fetch(context.Background(), time.Hour, 1, 3); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestFormatComment(t *testing.T) {
	c := Comment{
		Author:    "alice",
		Body:      "great release",
		Score:     5,
		CreatedAt: time.Date(2025, 6, 1, 14, 30, 0, 0, time.UTC),
		Replies: []Comment{
			{Author: "bob", Body: "agreed", Score: 3},
		},
	}
	got := FormatComment(c)
	want := "alice (14:30, score 5): great release\n    reply from bob (score 3): agreed"
	if got != want {
		t.Errorf("FormatComment = %q, want %q", got, want)
	}
}

type fakeConv struct {
	posts []string
}

func (f *fakeConv) Name() string { return "digest-room" }
func (f *fakeConv) MessagesSince(ctx context.Context, since time.Time) ([]channel.Message, error) {
	return nil, nil
}
func (f *fakeConv) Post(ctx context.Context, body string) error {
	f.posts = append(f.posts, body)
	return nil
}

type fakeCompleter struct {
	turns []retrieval.Turn
	reply string
}

func (f *fakeCompleter) Complete(ctx context.Context, turns []retrieval.Turn) (string, error) {
	f.turns = turns
	return f.reply, nil
}

func TestDigestOnce(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, threadJSON(now))
	}))
	defer srv.Close()

	conv := &fakeConv{}
	completer := &fakeCompleter{reply: "People like the release."}
	w := NewWorker(NewRedditFeed(srv.URL+"/r/golang/comments/abc/thread"), conv, completer, DefaultConfig())

	if err := w.DigestOnce(context.Background()); err != nil {
		t.Fatalf("DigestOnce: %v", err)
	}

	if len(conv.posts) != 1 || conv.posts[0] != "People like the release." {
		t.Errorf("posts = %v", conv.posts)
	}
	// 2 comment turns plus the instruction turn
	if len(completer.turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(completer.turns))
	}
	if completer.turns[2].Content != summaryInstruction {
		t.Errorf("last turn = %q, want instruction", completer.turns[2].Content)
	}
	if w.LastDigest() != "People like the release." {
		t.Errorf("LastDigest = %q", w.LastDigest())
	}
}

func TestDigestOnceEmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"data":{"children":[]}},{"data":{"children":[]}}]`)
	}))
	defer srv.Close()

	conv := &fakeConv{}
	completer := &fakeCompleter{reply: "unused"}
	w := NewWorker(NewRedditFeed(srv.URL+"/t"), conv, completer, DefaultConfig())

	if err := w.DigestOnce(context.Background()); err != nil {
		t.Fatalf("DigestOnce: %v", err)
	}
	if len(conv.posts) != 0 {
		t.Errorf("expected no post for empty feed, got %v", conv.posts)
	}
}
