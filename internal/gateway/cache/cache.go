// Package cache keeps recent account lookups so repeated account entry at the
// kiosk does not hit the collaborator each time.
package cache

import (
	"context"
	"sync"
	"time"

	"irisvault/internal/gateway/models"
)

// DefaultTTL bounds how long a balance may be served stale.
const DefaultTTL = 30 * time.Second

// AccountCache is a read-through cache for account lookups. A miss returns
// ok=false with a nil error.
type AccountCache interface {
	Get(ctx context.Context, accountNumber string) (account models.Account, ok bool, err error)
	Set(ctx context.Context, account models.Account) error
}

type entry struct {
	account   models.Account
	expiresAt time.Time
}

// MemoryCache is an in-process AccountCache with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

func (c *MemoryCache) Get(_ context.Context, accountNumber string) (models.Account, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[accountNumber]
	if !ok {
		return models.Account{}, false, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, accountNumber)
		return models.Account{}, false, nil
	}
	return e.account, true, nil
}

func (c *MemoryCache) Set(_ context.Context, account models.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[account.AccountNumber] = entry{
		account:   account,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}
