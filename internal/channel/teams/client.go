// Package teams implements the channel.Conversation interface for
// Microsoft Teams group chats via the Graph API.
package teams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/phat-labs/phatd/pkg/channel"
)

const graphBase = "https://graph.microsoft.com/v1.0"

// Chat is one Teams group chat, addressed by its Graph chat ID.
type Chat struct {
	name       string
	chatID     string
	tokens     channel.TokenSource
	baseURL    string
	httpClient *http.Client
}

// NewChat creates a conversation bound to a chat ID. name is the label
// used in logs and the journal.
func NewChat(name, chatID string, tokens channel.TokenSource) *Chat {
	return &Chat{
		name:    name,
		chatID:  chatID,
		tokens:  tokens,
		baseURL: graphBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Chat) Name() string { return c.name }

// graphMessage is the subset of a Graph chatMessage the bot reads.
type graphMessage struct {
	ID              string `json:"id"`
	MessageType     string `json:"messageType"`
	CreatedDateTime string `json:"createdDateTime"`
	From            *struct {
		User *struct {
			DisplayName string `json:"displayName"`
		} `json:"user"`
	} `json:"from"`
	Body struct {
		Content string `json:"content"`
	} `json:"body"`
}

// MessagesSince returns user messages created strictly after since, in
// ascending creation order. The Graph endpoint returns newest first and
// does not filter on createdDateTime for chat messages, so filtering
// happens client side.
func (c *Chat) MessagesSince(ctx context.Context, since time.Time) ([]channel.Message, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	url := fmt.Sprintf("%s/chats/%s/messages?$top=50", c.baseURL, c.chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create messages request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &channel.FetchError{Op: "list messages", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("list messages: %w", channel.ErrAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &channel.FetchError{
			Op:         "list messages",
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var page struct {
		Value []graphMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &channel.FetchError{Op: "decode messages", Err: err}
	}

	var msgs []channel.Message
	for _, gm := range page.Value {
		// Skip system events (member added, etc.) and bot-less messages
		if gm.MessageType != "message" || gm.From == nil || gm.From.User == nil {
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, gm.CreatedDateTime)
		if err != nil {
			continue
		}
		if !created.After(since) {
			continue
		}
		msgs = append(msgs, channel.Message{
			ID:        gm.ID,
			Sender:    gm.From.User.DisplayName,
			Body:      gm.Body.Content,
			CreatedAt: created,
		})
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// Post sends a plain text message into the chat.
func (c *Chat) Post(ctx context.Context, body string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire token: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"body": map[string]string{
			"contentType": "text",
			"content":     body,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/chats/%s/messages", c.baseURL, c.chatID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create post request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("post message: %w", channel.ErrAuthExpired)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post message HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// FindChatByTopic resolves a group chat ID from its topic name.
func FindChatByTopic(ctx context.Context, tokens channel.TokenSource, topic string) (string, error) {
	return findChatByTopic(ctx, tokens, graphBase, topic)
}

func findChatByTopic(ctx context.Context, tokens channel.TokenSource, baseURL, topic string) (string, error) {
	token, err := tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/me/chats?$top=50", nil)
	if err != nil {
		return "", fmt.Errorf("create chats request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("list chats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", fmt.Errorf("list chats: %w", channel.ErrAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("list chats HTTP %d: %s", resp.StatusCode, string(body))
	}

	var page struct {
		Value []struct {
			ID    string `json:"id"`
			Topic string `json:"topic"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return "", fmt.Errorf("decode chats: %w", err)
	}

	for _, chat := range page.Value {
		if chat.Topic == topic {
			return chat.ID, nil
		}
	}
	return "", fmt.Errorf("no chat with topic %q", topic)
}
