package poller

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Cursor is the durable high-water mark of a poll loop: the creation time
// of the last message batch we finished handling. It is a single RFC 3339
// line in a file so it can be inspected and reset with a text editor.
//
// The in-memory value only moves forward; Save persists whatever Advance
// has accumulated. A missing file is not an error — it means "no prior
// cursor", and the first poll processes everything currently visible.
type Cursor struct {
	path string
	ts   time.Time
}

// OpenCursor loads the cursor at path. The file may be absent.
func OpenCursor(path string) (*Cursor, error) {
	c := &Cursor{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor %s: %w", path, err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return c, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse cursor %s: %w", path, err)
	}
	c.ts = ts
	return c, nil
}

// Time returns the current cursor position. Zero means no prior cursor.
func (c *Cursor) Time() time.Time { return c.ts }

// Advance moves the cursor forward to t. Moves backwards are ignored so
// the cursor stays monotonically non-decreasing no matter what order the
// backend returns messages in.
func (c *Cursor) Advance(t time.Time) {
	if t.After(c.ts) {
		c.ts = t
	}
}

// Save writes the cursor to disk. Called once per poll cycle, after the
// batch has been handled — never between fetch and dispatch, so a crash
// reprocesses rather than skips.
func (c *Cursor) Save() error {
	if c.ts.IsZero() {
		return nil // nothing processed yet
	}
	line := c.ts.UTC().Format(time.RFC3339Nano) + "\n"
	if err := os.WriteFile(c.path, []byte(line), 0o644); err != nil {
		return fmt.Errorf("write cursor %s: %w", c.path, err)
	}
	return nil
}
