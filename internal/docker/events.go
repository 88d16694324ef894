package docker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"
)

// MalformedEventError wraps an event payload that could not be decoded.
// Callers skip these without tearing the subscription down; any other error
// from Next means the stream itself is gone.
type MalformedEventError struct {
	Err error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event payload: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// EventStream is one live subscription to the daemon's event feed. The feed
// is newline-delimited JSON, read line by line so a single bad payload never
// poisons the messages behind it.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Events subscribes to container lifecycle events emitted after since.
// Canceling ctx closes the underlying connection and surfaces as a read
// error from Next.
func (c *Client) Events(ctx context.Context, since time.Time) (*EventStream, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(since.Unix(), 10))
	query.Set("filters", `{"type":["container"]}`)

	resp, err := c.get(ctx, "/events", query)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &EventStream{body: resp.Body, scanner: scanner}, nil
}

// Next blocks until a message arrives, the stream ends (io.EOF), or reading
// fails. A *MalformedEventError reports an undecodable payload; the stream
// stays usable after it.
func (s *EventStream) Next() (EventMessage, error) {
	for {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return EventMessage{}, err
			}
			return EventMessage{}, io.EOF
		}
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg EventMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return EventMessage{}, &MalformedEventError{Err: err}
		}
		return msg, nil
	}
}

func (s *EventStream) Close() error {
	return s.body.Close()
}
