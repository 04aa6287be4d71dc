// Package node provides fleet.Node implementations: remote agents reached over
// HTTP and in-process runners.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wesleyorama2/lunge-fleet/internal/agent"
	"github.com/wesleyorama2/lunge-fleet/internal/client"
	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// ErrBusy is returned when the agent is already running another load.
var ErrBusy = errors.New("agent is busy with another load")

// HTTP is a remote worker running `lunge-fleet agent`.
type HTTP struct {
	name   string
	url    string
	client *client.Client
}

// HTTPOption configures an HTTP node.
type HTTPOption func(*httpConfig)

type httpConfig struct {
	timeout    time.Duration
	httpClient *http.Client
}

// WithTimeout bounds a whole ApplyLoad call. It must cover the node's hold,
// ramp and flat; zero means no limit beyond the caller's context.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(c *httpConfig) {
		c.timeout = timeout
	}
}

// WithHTTPClient sets the transport used to reach the agent.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *httpConfig) {
		c.httpClient = hc
	}
}

// NewHTTP creates a node for the agent at url. An empty name falls back to url.
func NewHTTP(name, url string, opts ...HTTPOption) *HTTP {
	cfg := &httpConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if name == "" {
		name = url
	}

	clientOpts := []client.ClientOption{
		client.WithHTTPClient(cfg.httpClient),
		client.WithBaseURL(url),
		client.WithHeader("User-Agent", "lunge-fleet"),
		// a load call lasts as long as its schedule, so only timeout says when to give up
		client.WithTimeout(cfg.timeout),
	}

	return &HTTP{
		name:   name,
		url:    url,
		client: client.NewClient(clientOpts...),
	}
}

func (n *HTTP) String() string {
	return n.name
}

// URL returns the agent's base URL.
func (n *HTTP) URL() string {
	return n.url
}

// ApplyLoad posts options to the agent and waits for the load to finish.
func (n *HTTP) ApplyLoad(ctx context.Context, options fleet.DispatchOptions) error {
	req := client.NewRequest(http.MethodPost, agent.PathLoad).WithBody(options)

	resp, err := n.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to reach agent %s: %w", n.url, err)
	}

	status := resp.Get("status").String()
	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrBusy
	case resp.IsSuccess() && status == agent.StatusOK:
		return nil
	case resp.Get("error").Exists():
		return fmt.Errorf("agent %s: %s", n.url, resp.Get("error").String())
	default:
		return resp.Expect(http.MethodPost, n.url+agent.PathLoad)
	}
}

// FetchResults returns the agent's last run, as JSON.
func (n *HTTP) FetchResults(ctx context.Context) ([]byte, error) {
	resp, err := n.client.Do(ctx, client.NewRequest(http.MethodGet, agent.PathResults))
	if err != nil {
		return nil, fmt.Errorf("failed to reach agent %s: %w", n.url, err)
	}
	if err := resp.Expect(http.MethodGet, n.url+agent.PathResults); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Healthy reports whether the agent answers its health check, and whether it is busy.
func (n *HTTP) Healthy(ctx context.Context) (busy bool, err error) {
	resp, err := n.client.Do(ctx, client.NewRequest(http.MethodGet, agent.PathHealth))
	if err != nil {
		return false, fmt.Errorf("failed to reach agent %s: %w", n.url, err)
	}
	if err := resp.Expect(http.MethodGet, n.url+agent.PathHealth); err != nil {
		return false, err
	}
	return resp.Get("busy").Bool(), nil
}
