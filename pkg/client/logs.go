package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// maxLogMessage fits a full batch of buffered lines.
const maxLogMessage = 4 << 20

// StreamClosedError reports a stream the node refused or ended abnormally.
type StreamClosedError struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *StreamClosedError) Error() string {
	return fmt.Sprintf("log stream closed (%d): %s", int(e.Code), e.Reason)
}

// LogOptions shapes a log stream.
type LogOptions struct {
	// Interval > 0 asks the node to batch lines.
	Interval time.Duration
	// Backlog replays that many buffered lines first.
	Backlog int
}

// TailLogs streams engine log messages to fn until ctx ends, fn fails, or
// the node ends the stream. A normal closure, sent when the session is
// superseded, returns nil.
func (c *Client) TailLogs(ctx context.Context, token string, opts LogOptions, fn func(string) error) error {
	q := url.Values{}
	q.Set("session_id", token)
	if opts.Interval > 0 {
		q.Set("interval", strconv.FormatFloat(opts.Interval.Seconds(), 'f', -1, 64))
	}
	if opts.Backlog > 0 {
		q.Set("backlog", strconv.Itoa(opts.Backlog))
	}
	target := strings.Replace(c.base, "http", "ws", 1) + "/logs?" + q.Encode()

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: c.http})
	if err != nil {
		return fmt.Errorf("dial log stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(maxLogMessage)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if stderrors.As(err, &closeErr) {
				if closeErr.Code == websocket.StatusNormalClosure {
					return nil
				}
				return &StreamClosedError{Code: closeErr.Code, Reason: closeErr.Reason}
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read log stream: %w", err)
		}
		if err := fn(string(data)); err != nil {
			return err
		}
	}
}
