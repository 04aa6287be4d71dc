package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
	"github.com/wesleyorama2/lunge-fleet/internal/users"
)

func newTestServer(t *testing.T, opts ...RunnerOption) (*Server, *httptest.Server) {
	opts = append([]RunnerOption{WithTick(10 * time.Millisecond), WithLogger(quietEntry())}, opts...)
	server, err := NewServer("", opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func postLoad(t *testing.T, url string, body []byte) (int, string) {
	resp, err := http.Post(url+PathLoad, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func encode(t *testing.T, options fleet.DispatchOptions) []byte {
	data, err := json.Marshal(options)
	require.NoError(t, err)
	return data
}

func TestServer_Load(t *testing.T) {
	target := newTargetServer(t, http.StatusOK)
	_, agent := newTestServer(t)

	options := shortLoad(target.URL, 2)
	code, body := postLoad(t, agent.URL, encode(t, options))

	assert.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, StatusOK, gjson.Get(body, "status").String())
	assert.Equal(t, int64(2), gjson.Get(body, "summary.peakVUs").Int())
	assert.True(t, gjson.Get(body, "summary.setupPerformed").Bool())
	assert.Greater(t, gjson.Get(body, "summary.metrics.totalRequests").Int(), int64(0))

	code, results := get(t, agent.URL+PathResults)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, gjson.Get(body, "summary.metrics.totalRequests").Int(),
		gjson.Get(results, "summary.metrics.totalRequests").Int())
}

func TestServer_ResultsBeforeAnyRun(t *testing.T) {
	_, agent := newTestServer(t)

	code, body := get(t, agent.URL+PathResults)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, StatusError, gjson.Get(body, "status").String())
}

func TestServer_RejectsInvalidLoad(t *testing.T) {
	_, agent := newTestServer(t)

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "not json",
			body:    `{`,
			wantErr: "invalid JSON",
		},
		{
			name:    "missing target",
			body:    `{"behavior":{"load":{"virtualUsers":1}}}`,
			wantErr: "target",
		},
		{
			name:    "zero users",
			body:    `{"target":{"url":"http://x"},"behavior":{"load":{"virtualUsers":0}}}`,
			wantErr: "/behavior/load/virtualUsers",
		},
		{
			name:    "negative ramp",
			body:    `{"target":{"url":"http://x"},"behavior":{"load":{"virtualUsers":1,"ramp":-5}}}`,
			wantErr: "/behavior/load/ramp",
		},
		{
			name:    "bad url",
			body:    `{"target":{"url":"ftp://x"},"behavior":{"load":{"virtualUsers":1}}}`,
			wantErr: "/target/url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := postLoad(t, agent.URL, []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, StatusError, gjson.Get(body, "status").String())
			assert.Contains(t, gjson.Get(body, "error").String(), tt.wantErr)
		})
	}
}

func TestServer_RejectsConcurrentLoad(t *testing.T) {
	target := newTargetServer(t, http.StatusOK)
	started := make(chan struct{})
	release := make(chan struct{})
	var once bool
	generator := users.GeneratorFunc(func(ctx context.Context, _ fleet.DispatchOptions) (users.User, error) {
		if !once {
			once = true
			close(started)
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return users.User{Name: "vu"}, nil
	})
	_, agent := newTestServer(t, WithGenerator(generator))

	options := shortLoad(target.URL, 1)
	options.Behavior.SkipSetup = true
	options.Behavior.Load.Ramp = 0
	options.Behavior.Load.Flat = time.Second
	payload := encode(t, options)

	done := make(chan int)
	go func() {
		resp, err := http.Post(agent.URL+PathLoad, "application/json", bytes.NewReader(payload))
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	<-started
	code, body := postLoad(t, agent.URL, payload)
	assert.Equal(t, http.StatusConflict, code)
	assert.True(t, gjson.Get(body, "busy").Bool())

	_, health := get(t, agent.URL+PathHealth)
	assert.True(t, gjson.Get(health, "busy").Bool())

	close(release)
	assert.Equal(t, http.StatusOK, <-done)

	_, health = get(t, agent.URL+PathHealth)
	assert.False(t, gjson.Get(health, "busy").Bool())
}

func TestServer_FailedLoad(t *testing.T) {
	target := newTargetServer(t, http.StatusBadGateway)
	_, agent := newTestServer(t)

	code, body := postLoad(t, agent.URL, encode(t, shortLoad(target.URL, 1)))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, StatusError, gjson.Get(body, "status").String())
	assert.Contains(t, gjson.Get(body, "error").String(), "setup failed")

	code, results := get(t, agent.URL+PathResults)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusError, gjson.Get(results, "status").String())
}

func TestServer_MethodNotAllowed(t *testing.T) {
	_, agent := newTestServer(t)

	code, _ := get(t, agent.URL+PathLoad)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestServer_Metrics(t *testing.T) {
	target := newTargetServer(t, http.StatusOK)
	_, agent := newTestServer(t)

	code, _ := postLoad(t, agent.URL, encode(t, shortLoad(target.URL, 1)))
	require.Equal(t, http.StatusOK, code)

	code, body := get(t, agent.URL+PathMetrics)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `lunge_fleet_agent_requests_total{outcome="success"}`)
	assert.Contains(t, body, `lunge_fleet_agent_runs_total{status="ok"} 1`)
	assert.True(t, strings.Contains(body, "lunge_fleet_agent_request_duration_seconds_bucket"))
}

func TestServer_Health(t *testing.T) {
	_, agent := newTestServer(t)

	code, body := get(t, agent.URL+PathHealth)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusOK, gjson.Get(body, "status").String())
}

func TestServer_Addr(t *testing.T) {
	server, err := NewServer("")
	require.NoError(t, err)
	assert.Equal(t, ":8089", server.Addr())
}
