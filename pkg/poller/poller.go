// Package poller implements the cursor-tracked poll loop that drives a
// conversation bot: fetch new messages on a fixed interval, dispatch the
// ones that invoke the bot, persist the high-water mark.
//
// Delivery is at-least-once. The cursor is only written after a batch has
// been attempted, so a crash between dispatch and persist replays the
// same messages on restart; it never skips them. Dispatch failures are
// logged and do not block cursor advancement.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phat-labs/phatd/pkg/channel"
)

// Handler processes one triggering message. Errors are logged, not fatal.
type Handler func(ctx context.Context, msg channel.Message) error

// Config holds poll loop settings.
type Config struct {
	// Interval between poll ticks. Defaults to 3s.
	Interval time.Duration

	// Trigger is the invocation prefix a message body must start with
	// (case-insensitive, after markup stripping) to be dispatched.
	// Empty dispatches every new message.
	Trigger string
}

// Loop is a poll loop bound to one conversation and one cursor file.
// It owns the cursor exclusively; running two loops against the same
// cursor file is undefined (last writer wins).
type Loop struct {
	conv     channel.Conversation
	tokens   channel.TokenSource // may be nil; enables refresh-and-retry on auth expiry
	cursor   *Cursor
	handler  Handler
	interval time.Duration
	trigger  string
}

// New creates a poll loop. tokens may be nil when the backend manages its
// own credentials.
func New(conv channel.Conversation, tokens channel.TokenSource, cursor *Cursor, handler Handler, cfg Config) *Loop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Loop{
		conv:     conv,
		tokens:   tokens,
		cursor:   cursor,
		handler:  handler,
		interval: interval,
		trigger:  cfg.Trigger,
	}
}

// Poll fetches messages from conv created strictly after since and returns
// them together with the updated cursor position: the maximum creation
// time over all fetched messages, or since unchanged when nothing was
// fetched. Poll has no side effects — committing the returned cursor is
// the caller's decision, which is what makes the loop at-least-once.
func Poll(ctx context.Context, conv channel.Conversation, since time.Time) ([]channel.Message, time.Time, error) {
	msgs, err := conv.MessagesSince(ctx, since)
	if err != nil {
		return nil, since, err
	}

	newCursor := since
	fresh := msgs[:0]
	for _, m := range msgs {
		if m.CreatedAt.After(newCursor) {
			newCursor = m.CreatedAt
		}
		if m.CreatedAt.After(since) {
			fresh = append(fresh, m)
		}
	}
	return fresh, newCursor, nil
}

// Run executes the poll loop until ctx is cancelled. Transient fetch
// failures are logged and retried on the next tick; the loop itself only
// returns on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("poll loop started",
		"conversation", l.conv.Name(),
		"interval", l.interval,
		"trigger", l.trigger,
		"cursor", l.cursor.Time(),
	)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if err := l.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("poll cycle failed, retrying next tick",
				"conversation", l.conv.Name(),
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			slog.Info("poll loop stopping", "conversation", l.conv.Name())
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runOnce is a single IDLE → PROCESSING → IDLE transition: fetch, dispatch
// triggering messages, persist the cursor.
func (l *Loop) runOnce(ctx context.Context) error {
	msgs, newCursor, err := l.pollWithRefresh(ctx)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if !Triggered(msg.Body, l.trigger) {
			continue
		}
		if err := l.handler(ctx, msg); err != nil {
			// At-least-once, not all-or-nothing: a failed dispatch does
			// not abort the batch or hold the cursor back.
			slog.Error("dispatch failed",
				"conversation", l.conv.Name(),
				"message", msg.ID,
				"sender", msg.Sender,
				"error", err,
			)
		}
	}

	l.cursor.Advance(newCursor)
	if err := l.cursor.Save(); err != nil {
		return fmt.Errorf("persist cursor: %w", err)
	}
	return nil
}

// pollWithRefresh runs Poll, and on credential rejection refreshes the
// token once and retries before surfacing the error.
func (l *Loop) pollWithRefresh(ctx context.Context) ([]channel.Message, time.Time, error) {
	msgs, newCursor, err := Poll(ctx, l.conv, l.cursor.Time())
	if err == nil || !errors.Is(err, channel.ErrAuthExpired) || l.tokens == nil {
		return msgs, newCursor, err
	}

	slog.Warn("credentials rejected, refreshing token", "conversation", l.conv.Name())
	if _, rerr := l.tokens.Refresh(ctx); rerr != nil {
		return nil, l.cursor.Time(), fmt.Errorf("refresh token: %w", rerr)
	}
	return Poll(ctx, l.conv, l.cursor.Time())
}

// Triggered reports whether body invokes the bot: after stripping simple
// markup, it must start with the trigger token, case-insensitively.
func Triggered(body, trigger string) bool {
	if trigger == "" {
		return true
	}
	stripped := strings.TrimSpace(StripMarkup(body))
	return len(stripped) >= len(trigger) &&
		strings.EqualFold(stripped[:len(trigger)], trigger)
}

// StripMarkup removes the simple paragraph markup Teams wraps message
// bodies in. Anything fancier is left alone; the trigger check only needs
// the leading text.
func StripMarkup(body string) string {
	body = strings.ReplaceAll(body, "<p>", "")
	body = strings.ReplaceAll(body, "</p>", "")
	return body
}
