// Package channel defines the interfaces for conversation backends.
// Conversations are how phatd talks to the world — Microsoft Teams,
// Rocket.Chat, and whatever polling-style chat API comes next.
package channel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message represents a single message fetched from a conversation.
type Message struct {
	// ID is the backend-specific message identifier
	ID string

	// Sender is the backend-specific author identifier or display name
	Sender string

	// Body is the raw message text, possibly containing simple markup
	Body string

	// CreatedAt is the message creation time as reported by the backend
	CreatedAt time.Time
}

// Conversation is a remote message thread that can be polled and posted to.
// Implementations are read-only with respect to fetched messages; the
// poller owns all cursor bookkeeping.
type Conversation interface {
	// Name returns a stable identifier for logging and cursor file naming
	// (e.g., "teams:19:abc", "rocketchat:GENERAL").
	Name() string

	// MessagesSince returns all currently visible messages created strictly
	// after since, in ascending creation order. A zero since returns every
	// visible message.
	MessagesSince(ctx context.Context, since time.Time) ([]Message, error)

	// Post sends a plain-text message to the conversation.
	Post(ctx context.Context, text string) error
}

// Mentioner is implemented by conversations whose backend can address a
// user inline in a posted message. Mention returns the prefix that makes
// the backend notify the user, ready to prepend to the message text.
type Mentioner interface {
	Mention(user string) string
}

// TokenSource supplies bearer credentials for a conversation backend.
// OAuth mechanics (device flow, refresh grants) live entirely behind this
// interface; callers only ever see a valid token or an error.
type TokenSource interface {
	// Token returns a usable credential, acquiring one if necessary.
	Token(ctx context.Context) (string, error)

	// Refresh discards the current credential and obtains a fresh one.
	// Called after the backend rejects the existing token.
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource backed by a fixed credential. Refresh
// returns the same token; if the backend rejects it there is nothing
// more to be done.
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error)   { return string(t), nil }
func (t StaticToken) Refresh(ctx context.Context) (string, error) { return string(t), nil }

// ErrAuthExpired indicates the backend rejected our credentials.
// The poll loop reacts with a one-time token refresh and retry.
var ErrAuthExpired = errors.New("credentials rejected by conversation backend")

// FetchError is a transient failure talking to a conversation backend
// (network error, unexpected HTTP status). The poll loop logs it and
// retries on the next tick.
type FetchError struct {
	Op         string // what we were doing, e.g. "fetch messages"
	StatusCode int    // HTTP status, 0 for transport errors
	Body       string // response body excerpt, may be empty
	Err        error  // underlying error, may be nil
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }
