package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

// ErrStreamEnded is returned by Follow when the connection closes before
// the done event.
var ErrStreamEnded = errors.New("event stream ended before the run finished")

// Client is an SSE client that connects to an SSE endpoint and receives events.
type Client struct {
	httpClient  *http.Client
	url         string
	headers     map[string]string
	lastEventID string
}

// Option is a functional option for configuring an SSE Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its Timeout bounds the whole
// stream, so it should normally be zero.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithHeaders sets custom headers for the SSE request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithLastEventID sets the Last-Event-ID header so the server resumes
// after that event.
func WithLastEventID(id string) Option {
	return func(c *Client) {
		c.lastEventID = id
	}
}

// NewClient creates a new SSE client.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		headers: make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}

	return c
}

// EventHandler is called for each event. Returning an error stops the
// stream and the error is returned from StreamWithHandler.
type EventHandler func(event Event) error

// errStop ends a stream without reporting an error.
var errStop = errors.New("stop")

// StreamWithHandler connects to the SSE endpoint and calls the handler for each event.
func (c *Client) StreamWithHandler(ctx context.Context, handler EventHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/event-stream") {
		return fmt.Errorf("unexpected content type: %s (expected text/event-stream)", contentType)
	}

	err = readEvents(resp.Body, func(ev Event) error {
		if ev.ID != "" {
			c.lastEventID = ev.ID
		}
		return handler(ev)
	})
	if errors.Is(err, errStop) {
		return nil
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// LastEventID returns the id of the last event received.
func (c *Client) LastEventID() string {
	return c.lastEventID
}

// Follow consumes a run stream, calling fn for every run event until the
// done event arrives.
func (c *Client) Follow(ctx context.Context, fn func(testrun.Event)) error {
	done := false
	err := c.StreamWithHandler(ctx, func(ev Event) error {
		switch ev.Type {
		case EventResult:
			var re testrun.Event
			if err := json.Unmarshal([]byte(ev.Data), &re); err != nil {
				return fmt.Errorf("decoding event %s: %w", ev.ID, err)
			}
			fn(re)
		case EventDone:
			done = true
			return errStop
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !done {
		return ErrStreamEnded
	}
	return nil
}

// readEvents parses events from r and hands each to fn.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current Event
	var dataLines []string
	hasData := false

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line signals end of event
		if line == "" {
			if hasData {
				current.Data = strings.Join(dataLines, "\n")
				if err := fn(current); err != nil {
					return err
				}
			}
			current = Event{}
			dataLines = nil
			hasData = false
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			current.Type = value
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "id":
			current.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				current.Retry = n
			}
		}
	}

	return scanner.Err()
}
