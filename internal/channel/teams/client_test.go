package teams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phat-labs/phatd/pkg/channel"
)

const testToken = "graph-token"

func testChat(t *testing.T, handler http.HandlerFunc) *Chat {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewChat("support", "chat-1", channel.StaticToken(testToken))
	c.baseURL = srv.URL
	return c
}

func TestMessagesSince(t *testing.T) {
	c := testChat(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/chat-1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer "+testToken {
			t.Errorf("Authorization = %q", auth)
		}
		// Graph returns newest first
		fmt.Fprint(w, `{"value": [
			{"id": "3", "messageType": "message", "createdDateTime": "2025-06-01T10:02:00Z",
			 "from": {"user": {"displayName": "Bob"}}, "body": {"content": "<p>phatgpt what is Go?</p>"}},
			{"id": "2", "messageType": "unknownFutureValue", "createdDateTime": "2025-06-01T10:01:30Z",
			 "from": null, "body": {"content": "Alice was added to the chat"}},
			{"id": "1", "messageType": "message", "createdDateTime": "2025-06-01T10:00:00Z",
			 "from": {"user": {"displayName": "Alice"}}, "body": {"content": "old message"}}
		]}`)
	})

	since := time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC)
	msgs, err := c.MessagesSince(context.Background(), since)
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}

	// "1" is before the cursor, "2" is a system event
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].ID != "3" || msgs[0].Sender != "Bob" {
		t.Errorf("got %+v", msgs[0])
	}
}

func TestMessagesSinceAscendingOrder(t *testing.T) {
	c := testChat(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value": [
			{"id": "b", "messageType": "message", "createdDateTime": "2025-06-01T10:02:00Z",
			 "from": {"user": {"displayName": "Bob"}}, "body": {"content": "second"}},
			{"id": "a", "messageType": "message", "createdDateTime": "2025-06-01T10:01:00Z",
			 "from": {"user": {"displayName": "Alice"}}, "body": {"content": "first"}}
		]}`)
	})

	msgs, err := c.MessagesSince(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("MessagesSince: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "a" || msgs[1].ID != "b" {
		t.Errorf("expected ascending order, got %+v", msgs)
	}
}

func TestMessagesSinceAuthExpired(t *testing.T) {
	c := testChat(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": "InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
	})

	_, err := c.MessagesSince(context.Background(), time.Time{})
	if !errors.Is(err, channel.ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
}

func TestMessagesSinceServerError(t *testing.T) {
	c := testChat(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "throttled", http.StatusTooManyRequests)
	})

	_, err := c.MessagesSince(context.Background(), time.Time{})
	var fetchErr *channel.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", fetchErr.StatusCode)
	}
}

func TestPost(t *testing.T) {
	var gotBody string
	c := testChat(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		var payload struct {
			Body struct {
				ContentType string `json:"contentType"`
				Content     string `json:"content"`
			} `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Body.ContentType != "text" {
			t.Errorf("contentType = %q", payload.Body.ContentType)
		}
		gotBody = payload.Body.Content
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": "99"}`)
	})

	if err := c.Post(context.Background(), "Paris"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotBody != "Paris" {
		t.Errorf("posted body = %q", gotBody)
	}
}

func TestFindChatByTopic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/chats" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"value": [
			{"id": "chat-1", "topic": "General"},
			{"id": "chat-2", "topic": "Support Bot"}
		]}`)
	}))
	defer srv.Close()

	id, err := findChatByTopic(context.Background(), channel.StaticToken(testToken), srv.URL, "Support Bot")
	if err != nil {
		t.Fatalf("findChatByTopic: %v", err)
	}
	if id != "chat-2" {
		t.Errorf("id = %q, want chat-2", id)
	}

	if _, err := findChatByTopic(context.Background(), channel.StaticToken(testToken), srv.URL, "Missing"); err == nil {
		t.Error("expected error for unknown topic")
	}
}
