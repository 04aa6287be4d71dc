package client

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Response represents a fully read HTTP response
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Timing     Timing
}

// JSON unmarshals the response body into v
func (r *Response) JSON(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Get looks up a gjson path, e.g. "summary.totalRequests", in the body
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsClientError returns true if the response status code is in the 4xx range
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status code is in the 5xx range
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// StatusError is returned by Expect for an unexpected status code.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// maxErrorBody caps how much of a response body ends up in a StatusError.
const maxErrorBody = 512

// Expect returns a *StatusError unless the response has one of the given codes.
// With no codes any 2xx status is accepted.
func (r *Response) Expect(method, url string, codes ...int) error {
	if len(codes) == 0 && r.IsSuccess() {
		return nil
	}
	for _, code := range codes {
		if r.StatusCode == code {
			return nil
		}
	}

	body := string(r.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	return &StatusError{Method: method, URL: url, StatusCode: r.StatusCode, Body: body}
}
