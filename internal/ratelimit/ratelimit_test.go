package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"irisvault/pkg/requestcontext"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore() (*MemoryStore, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := NewMemoryStore()
	s.now = c.now
	return s, c
}

func TestMemoryStore_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	store, c := newTestStore()

	for i := range 3 {
		res, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2-i, res.Remaining)
		c.t = c.t.Add(10 * time.Second)
	}

	res, err := store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30, res.RetryAfter, "oldest request leaves the window 30s later")

	c.t = c.t.Add(31 * time.Second)
	res, err = store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore()

	_, _ = store.Allow(ctx, "a", 1, time.Minute)
	res, err := store.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestNewLimiter_Validation(t *testing.T) {
	_, err := NewLimiter(nil, nil)
	require.Error(t, err)

	_, err = NewLimiter(NewMemoryStore(), map[Class]Limit{ClassCredential: {Requests: 0, Window: time.Minute}})
	require.Error(t, err)
}

func TestLimiter_UnlimitedClass(t *testing.T) {
	l, err := NewLimiter(NewMemoryStore(), map[Class]Limit{ClassCredential: {Requests: 1, Window: time.Minute}})
	require.NoError(t, err)

	for range 5 {
		res, err := l.Check(context.Background(), ClassFlowCreate, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestKey_EscapesAddress(t *testing.T) {
	assert.Equal(t, "ratelimit:credential:__1", key(ClassCredential, "::1"))
}

func TestMiddleware(t *testing.T) {
	l, err := NewLimiter(NewMemoryStore(), map[Class]Limit{ClassAccountLookup: {Requests: 2, Window: time.Minute}})
	require.NoError(t, err)
	mw := NewMiddleware(l)

	handler := mw.RateLimit(ClassAccountLookup)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/logins/x/account", nil)
		req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, ""))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1").Code)
	rr := call("10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))

	rr = call("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusNoContent, call("10.0.0.2").Code, "other kiosks keep their budget")
}

func TestMiddleware_Disabled(t *testing.T) {
	l, err := NewLimiter(NewMemoryStore(), map[Class]Limit{ClassFlowCreate: {Requests: 1, Window: time.Minute}})
	require.NoError(t, err)
	mw := NewMiddleware(l, WithDisabled(true))
	handler := mw.RateLimit(ClassFlowCreate)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	for range 3 {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/logins", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}
