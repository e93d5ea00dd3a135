// Package client talks to a facescan server: it submits scans and follows
// their event stream.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/facescan/internal/scan"
)

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Started is the answer to a scan submission.
type Started struct {
	Message    string `json:"message"`
	ScanID     string `json:"scan_id"`
	TotalFiles int    `json:"total_files"`
}

// Client is a facescan API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL. The HTTP client has no
// overall timeout because event streams stay open for the whole scan.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/api/v1",
		http:    &http.Client{},
	}
}

// Submit starts a scan.
func (c *Client) Submit(ctx context.Context, req scan.Request) (*Started, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("submitting scan: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var started Started
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("decoding scan response: %w", err)
	}
	return &started, nil
}

// Status fetches the state of a scan.
func (c *Client) Status(ctx context.Context, scanID string) (*scan.ScanState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scan/"+url.PathEscape(scanID)+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return nil, err
	}

	var state scan.ScanState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &state, nil
}

// Handlers receive what Follow reads from the stream. Either may be nil.
type Handlers struct {
	// OnStatus gets the snapshot sent when the stream opens.
	OnStatus func(scan.ScanState)
	OnEvent  func(scan.Event)
}

// Follow reads the scan's SSE stream until the server closes it, which
// happens after the completed event. Returns nil on a clean end.
func (c *Client) Follow(ctx context.Context, scanID string, h Handlers) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/scan/"+url.PathEscape(scanID)+"/events", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer resp.Body.Close()
	if err := checkResponse(resp); err != nil {
		return err
	}

	return readEvents(resp.Body, func(name string, data []byte) error {
		if name == "status" {
			var state scan.ScanState
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("decoding status frame: %w", err)
			}
			if h.OnStatus != nil {
				h.OnStatus(state)
			}
			return nil
		}
		ev, err := scan.DecodeEvent(data)
		if err != nil {
			// Unknown event kinds from a newer server are skipped.
			return nil
		}
		if h.OnEvent != nil {
			h.OnEvent(ev)
		}
		return nil
	})
}

// readEvents splits an SSE body into (event, data) frames. Comment lines
// are ignored; multi-line data is joined with newlines.
func readEvents(r io.Reader, fn func(name string, data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if name == "" {
					name = "message"
				}
				if err := fn(name, []byte(strings.Join(data, "\n"))); err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
}
