// Package httputil provides the HTTP plumbing shared by the weather pollers
// and the API server: a client seam for testability, a bounded JSON fetch,
// and JSON response writers.
package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// maxResponseBytes caps how much of an upstream body GetJSON will read.
// Weather observations are a few hundred bytes; anything near the cap is a
// misbehaving endpoint.
const maxResponseBytes = 1 << 20

// HTTPClient is the request-execution seam. Production code passes a
// StandardClient; tests pass a MockHTTPClient with canned responses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient adapts *http.Client to HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, falling back to http.DefaultClient when nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// GetJSON fetches url and decodes the JSON body into out. The request
// carries ctx, so poller shutdown cancels an in-flight fetch. Responses
// other than 200 and bodies over the size cap are errors.
func GetJSON(ctx context.Context, client HTTPClient, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", url, err)
	}
	return nil
}

// mockReply is one canned MockHTTPClient response.
type mockReply struct {
	status int
	body   string
	err    error
}

// MockHTTPClient answers requests from a queue of canned responses and
// records every request it sees. An empty queue answers 200 with an empty
// body.
type MockHTTPClient struct {
	mu       sync.Mutex
	requests []*http.Request
	replies  []mockReply
	next     int
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response with the given status and body.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{status: statusCode, body: body})
	return m
}

// AddErrorResponse queues a transport-level failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, mockReply{err: err})
	return m
}

// Do records req and answers with the next queued reply.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	reply := mockReply{status: http.StatusOK}
	if m.next < len(m.replies) {
		reply = m.replies[m.next]
		m.next++
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &http.Response{
		StatusCode: reply.status,
		Status:     fmt.Sprintf("%d %s", reply.status, http.StatusText(reply.status)),
		Body:       io.NopCloser(strings.NewReader(reply.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// GetRequest returns the nth recorded request, or nil when out of range.
func (m *MockHTTPClient) GetRequest(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}

// RequestCount returns how many requests the mock has answered.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
