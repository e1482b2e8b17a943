package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// Scenario walks the kiosk API one request at a time. Each step runs as a
// subtest named after its Given, When, or Then clause, and Last holds the
// response to the most recent Send.
type Scenario struct {
	Router http.Handler
	Last   *httptest.ResponseRecorder
}

// Send serves a kiosk request through the router and keeps the response.
func (s *Scenario) Send(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	s.Last = DoRequest(s.Router, NewKioskRequest(t, method, path, body))
	return s.Last
}

// Given sets up the kiosk state a scenario starts from.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given", desc, fn)
}

// When performs the visitor action under test, usually one Send.
func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When", desc, fn)
}

// Then checks what the visitor sees afterwards.
func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then", desc, fn)
}

func step(t *testing.T, clause, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(clause+" "+desc, fn)
}
