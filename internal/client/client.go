// Package client is the HTTP client shared by worker nodes, user generators
// and the fleet's remote node targets.
package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// DefaultTimeout bounds a single request unless WithTimeout says otherwise.
const DefaultTimeout = 30 * time.Second

// Client represents an HTTP client bound to one base URL
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	username   string
	password   string
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// NewClient creates a new HTTP client with the given options
func NewClient(options ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		headers: make(map[string]string),
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// WithBaseURL sets the base URL for the client
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the timeout for the client
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHeader adds a header to the client
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithBasicAuth sends the given credentials with every request.
// Empty credentials are ignored.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient uses a copy of hc for transport. The copy keeps the
// client's own timeout independent of hc's other users.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc == nil {
			return
		}
		clone := *hc
		if clone.Timeout == 0 {
			clone.Timeout = c.httpClient.Timeout
		}
		c.httpClient = &clone
	}
}

// BaseURL returns the URL every request path is resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes an HTTP request and returns the fully read response with its timing.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := req.Build(ctx, c.baseURL)
	if err != nil {
		return nil, err
	}

	for key, value := range c.headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	if c.username != "" || c.password != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	timing := Timing{StartTime: time.Now()}
	trace := &httptrace.ClientTrace{
		GotFirstResponseByte: func() {
			timing.TimeToFirstByte = time.Since(timing.StartTime)
		},
	}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), trace))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	transferStart := time.Now()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	timing.ContentTransferTime = time.Since(transferStart)
	timing.TotalTime = time.Since(timing.StartTime)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
		Timing:     timing,
	}, nil
}

// Timing holds the phases of one request that the fleet reports on
type Timing struct {
	StartTime           time.Time
	TimeToFirstByte     time.Duration
	ContentTransferTime time.Duration
	TotalTime           time.Duration
}
