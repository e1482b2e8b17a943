// Package testutil holds helpers shared by the handler, wiring, and
// integration tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// KioskHost is a host the camera treats as a secure context.
const KioskHost = "localhost"

// NewJSONRequest builds a request whose body is v encoded as JSON. A nil v
// sends no body.
func NewJSONRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	var body io.Reader
	if v != nil {
		raw, err := json.Marshal(v)
		require.NoError(t, err, "failed to marshal request body")
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func NewRequest(t *testing.T, method, path string) *http.Request {
	t.Helper()
	return httptest.NewRequest(method, path, nil)
}

// NewRequestWithBody sends raw as a JSON body without encoding it, for
// malformed or unexpected payloads.
func NewRequestWithBody(t *testing.T, method, path, raw string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// NewKioskRequest is NewJSONRequest served from the kiosk's own host, so
// camera sessions see a secure origin.
func NewKioskRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	var req *http.Request
	if v != nil {
		req = NewJSONRequest(t, method, path, v)
	} else {
		req = NewRequest(t, method, path)
	}
	req.Host = KioskHost
	return req
}

func DoRequest(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// UnmarshalResponse decodes the response body into a T.
func UnmarshalResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) *T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "failed to unmarshal response: %s", rr.Body.String())
	return &out
}

func AssertStatusOK(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, http.StatusOK, rr.Code, "unexpected status code: %s", rr.Body.String())
}

// AssertStatusAndError checks the status and the error field of the
// {error, error_description} envelope. Internal errors must not
// carry a description; every other error must.
func AssertStatusAndError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, "unexpected status code: %s", rr.Body.String())
	var envelope struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope), "failed to unmarshal error response")
	assert.Equal(t, code, envelope.Error, "unexpected error code")
	if code == "internal_error" {
		assert.Empty(t, envelope.Description, "server error leaked a description")
	} else {
		assert.NotEmpty(t, envelope.Description, "missing error description")
	}
}

// AssertJSONContains checks a single top-level field of the response.
func AssertJSONContains(t *testing.T, rr *httptest.ResponseRecorder, key string, want any) {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fields), "failed to unmarshal response")
	assert.Equal(t, want, fields[key], "unexpected value for key %q", key)
}
