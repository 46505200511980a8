// Package rocketchat implements the channel.Conversation interface for
// Rocket.Chat channels over the REST API.
package rocketchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/phat-labs/phatd/pkg/channel"
)

// Client talks to one Rocket.Chat server with one bot account. It is
// its own channel.TokenSource: Refresh logs in again with the stored
// credentials, so the poller recovers from expired sessions without
// operator action.
type Client struct {
	serverURL string
	username  string
	password  string

	httpClient *http.Client

	mu        sync.Mutex
	authToken string
	userID    string
}

// NewClient creates a client for the given server. No login happens
// until the first request needs a session.
func NewClient(serverURL, username, password string) *Client {
	return &Client{
		serverURL: serverURL,
		username:  username,
		password:  password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Token returns the current session token, logging in if needed.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authToken == "" {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.authToken, nil
}

// Refresh drops the current session and logs in again.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = ""
	c.userID = ""
	if err := c.loginLocked(ctx); err != nil {
		return "", err
	}
	return c.authToken, nil
}

// loginLocked authenticates and stores the session. Caller holds c.mu.
func (c *Client) loginLocked(ctx context.Context) error {
	payload, _ := json.Marshal(map[string]string{
		"user":     c.username,
		"password": c.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.serverURL+"/api/v1/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("login HTTP %d: %s", resp.StatusCode, string(body))
	}

	var loginResp struct {
		Status string `json:"status"`
		Data   struct {
			AuthToken string `json:"authToken"`
			UserID    string `json:"userId"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if loginResp.Status != "success" {
		return fmt.Errorf("login status %q", loginResp.Status)
	}

	c.authToken = loginResp.Data.AuthToken
	c.userID = loginResp.Data.UserID
	return nil
}

// session returns the auth headers, logging in on first use.
func (c *Client) session(ctx context.Context) (token, userID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authToken == "" {
		if err := c.loginLocked(ctx); err != nil {
			return "", "", err
		}
	}
	return c.authToken, c.userID, nil
}

// Channel is one Rocket.Chat channel, polled and posted to by name.
type Channel struct {
	client   *Client
	roomName string
}

// Channel binds a conversation to a channel name (without the # prefix).
func (c *Client) Channel(roomName string) *Channel {
	return &Channel{client: c, roomName: roomName}
}

func (ch *Channel) Name() string { return ch.roomName }

// Mention formats an inline user mention; Rocket.Chat links and
// notifies on the @username form.
func (ch *Channel) Mention(user string) string { return "@" + user + " " }

// Tokens exposes the client as the conversation's token source.
func (ch *Channel) Tokens() channel.TokenSource { return ch.client }

// historyMessage is one entry from channels.history.
type historyMessage struct {
	ID        string `json:"_id"`
	Msg       string `json:"msg"`
	Timestamp string `json:"ts"`
	User      struct {
		Username string `json:"username"`
	} `json:"u"`
}

// MessagesSince returns other users' messages newer than since, in
// ascending timestamp order. The bot's own messages are skipped so its
// answers never re-trigger it.
func (ch *Channel) MessagesSince(ctx context.Context, since time.Time) ([]channel.Message, error) {
	token, userID, err := ch.client.session(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}

	q := url.Values{
		"roomName": {ch.roomName},
		"count":    {"50"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ch.client.serverURL+"/api/v1/channels.history?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create history request: %w", err)
	}
	req.Header.Set("X-Auth-Token", token)
	req.Header.Set("X-User-Id", userID)

	resp, err := ch.client.httpClient.Do(req)
	if err != nil {
		return nil, &channel.FetchError{Op: "channel history", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("channel history: %w", channel.ErrAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &channel.FetchError{
			Op:         "channel history",
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var history struct {
		Success  bool             `json:"success"`
		Messages []historyMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, &channel.FetchError{Op: "decode history", Err: err}
	}
	if !history.Success {
		return nil, &channel.FetchError{Op: "channel history", Body: "success=false"}
	}

	var msgs []channel.Message
	for _, hm := range history.Messages {
		if hm.User.Username == ch.client.username {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, hm.Timestamp)
		if err != nil {
			continue
		}
		if !ts.After(since) {
			continue
		}
		msgs = append(msgs, channel.Message{
			ID:        hm.ID,
			Sender:    hm.User.Username,
			Body:      hm.Msg,
			CreatedAt: ts,
		})
	}

	// History arrives newest first
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// Post sends a message to the channel.
func (ch *Channel) Post(ctx context.Context, body string) error {
	token, userID, err := ch.client.session(ctx)
	if err != nil {
		return fmt.Errorf("acquire session: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"channel": "#" + ch.roomName,
		"text":    body,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		ch.client.serverURL+"/api/v1/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create post request: %w", err)
	}
	req.Header.Set("X-Auth-Token", token)
	req.Header.Set("X-User-Id", userID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ch.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("post message: %w", channel.ErrAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post message HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var postResp struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&postResp); err != nil {
		return fmt.Errorf("decode post response: %w", err)
	}
	if !postResp.Success {
		return fmt.Errorf("post message: success=false")
	}
	return nil
}
