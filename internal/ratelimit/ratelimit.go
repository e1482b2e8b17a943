// Package ratelimit throttles kiosk requests per client address with a
// sliding window, so account lookups and fallback credentials cannot be
// enumerated from one terminal.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Class groups routes that share a budget.
type Class string

const (
	// ClassFlowCreate covers starting enrollments and logins.
	ClassFlowCreate Class = "flow_create"
	// ClassAccountLookup covers account entry, which reveals enrollment.
	ClassAccountLookup Class = "account_lookup"
	// ClassCredential covers the fallback credential routes.
	ClassCredential Class = "credential"
)

// Limit allows Requests per Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until the next request can succeed.
	RetryAfter int
}

// Store counts requests per key in a sliding window.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Limiter applies per-class limits to client addresses.
type Limiter struct {
	store  Store
	limits map[Class]Limit
}

func NewLimiter(store Store, limits map[Class]Limit) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("rate limit store is required")
	}
	for class, l := range limits {
		if l.Requests < 1 || l.Window <= 0 {
			return nil, fmt.Errorf("invalid %s limit: %d per %s", class, l.Requests, l.Window)
		}
	}
	return &Limiter{store: store, limits: limits}, nil
}

// Check counts one request from ip against class. Classes without a limit
// are always allowed.
func (l *Limiter) Check(ctx context.Context, class Class, ip string) (Result, error) {
	limit, ok := l.limits[class]
	if !ok {
		return Result{Allowed: true}, nil
	}
	return l.store.Allow(ctx, key(class, ip), limit.Requests, limit.Window)
}

// key escapes ':' so an address cannot reach into another bucket.
func key(class Class, ip string) string {
	return "ratelimit:" + string(class) + ":" + strings.ReplaceAll(ip, ":", "_")
}

func retryAfter(resetAt, now time.Time) int {
	secs := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	return max(secs, 1)
}
