package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"irisvault/internal/gateway/models"
)

const keyPrefix = "irisvault:account:"

// RedisCache shares account lookups between kiosk replicas.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

type cachedAccount struct {
	AccountNumber string  `json:"account_number"`
	Name          string  `json:"name"`
	Balance       float64 `json:"balance"`
}

func (c *RedisCache) Get(ctx context.Context, accountNumber string) (models.Account, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+accountNumber).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Account{}, false, nil
	}
	if err != nil {
		return models.Account{}, false, fmt.Errorf("redis get account: %w", err)
	}
	var ca cachedAccount
	if err := json.Unmarshal(raw, &ca); err != nil {
		return models.Account{}, false, fmt.Errorf("decode cached account: %w", err)
	}
	return models.Account{
		AccountNumber: ca.AccountNumber,
		Name:          ca.Name,
		Balance:       ca.Balance,
	}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, account models.Account) error {
	raw, err := json.Marshal(cachedAccount{
		AccountNumber: account.AccountNumber,
		Name:          account.Name,
		Balance:       account.Balance,
	})
	if err != nil {
		return fmt.Errorf("encode cached account: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+account.AccountNumber, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set account: %w", err)
	}
	return nil
}
