package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/test", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		assert.Equal(t, "test-value", r.Header.Get("X-Test-Header"))
		assert.Equal(t, "lunge-fleet", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"message":"success","items":[{"id":7}]}`))
	}))
	defer server.Close()

	client := NewClient(
		WithTimeout(5*time.Second),
		WithHeader("User-Agent", "lunge-fleet"),
		WithBaseURL(server.URL+"/api"),
	)

	req := NewRequest(http.MethodGet, "/test").
		WithHeader("X-Test-Header", "test-value")
	req.QueryParams.Add("page", "1")

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "application/json", resp.Headers.Get("Content-Type"))
	assert.Equal(t, "success", resp.Get("message").String())
	assert.Equal(t, int64(7), resp.Get("items.0.id").Int())
	assert.Greater(t, resp.Timing.TotalTime, time.Duration(0))
	assert.False(t, resp.Timing.StartTime.IsZero())
}

func TestClient_BasicAuthAndJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"alice"}`, string(body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithBasicAuth("admin", "secret"))
	req := NewRequest(http.MethodPost, "/users").WithBody(map[string]string{"name": "alice"})

	resp, err := client.Do(context.Background(), req)
	require.NoError(t, err)
	assert.NoError(t, resp.Expect(http.MethodPost, "/users", http.StatusCreated))
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithTimeout(20*time.Millisecond))
	_, err := client.Do(context.Background(), NewRequest(http.MethodGet, "/"))
	assert.Error(t, err)
}

func TestClient_WithHTTPClientKeepsOriginalUntouched(t *testing.T) {
	shared := &http.Client{}
	_ = NewClient(WithHTTPClient(shared), WithTimeout(time.Second))
	assert.Zero(t, shared.Timeout)
}

func TestClient_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := NewClient(WithBaseURL(server.URL))
	_, err := client.Do(ctx, NewRequest(http.MethodGet, "/"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestResponse_Expect(t *testing.T) {
	resp := &Response{StatusCode: http.StatusConflict, Body: []byte(`{"status":"busy"}`)}

	err := resp.Expect(http.MethodPost, "http://node/v1/load")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)
	assert.Contains(t, err.Error(), "unexpected status 409")

	assert.NoError(t, resp.Expect(http.MethodPost, "http://node/v1/load", http.StatusConflict))
	assert.NoError(t, (&Response{StatusCode: http.StatusNoContent}).Expect("GET", "/"))
}

func TestRequest_Build(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		path    string
		want    string
	}{
		{"no base path", "http://localhost:8089", "/v1/load", "http://localhost:8089/v1/load"},
		{"base path", "http://localhost:8089/agent/", "v1/load", "http://localhost:8089/agent/v1/load"},
		{"empty path", "http://localhost:8089/healthz", "", "http://localhost:8089/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest(http.MethodGet, tt.path).Build(context.Background(), tt.baseURL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.URL.String())
		})
	}
}
