package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront/payment"
	"storefront/utils"
)

// CachedStatus is the last payment state pushed to us by a provider webhook
type CachedStatus struct {
	PaymentID string         `json:"payment_id"`
	OrderID   string         `json:"order_id,omitempty"`
	Status    payment.Status `json:"status"`
	Amount    int64          `json:"amount,omitempty"`
	Currency  string         `json:"currency,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StatusCache stores webhook states so status checks can skip the upstream call
// once a payment is settled. Set never replaces a terminal state with a transient
// one, since providers may deliver events out of order.
type StatusCache interface {
	Get(ctx context.Context, paymentID string) (CachedStatus, bool)
	Set(ctx context.Context, state CachedStatus) error
}

// NewStatusCache returns a Redis cache when redisURL is set and an in-memory one otherwise.
func NewStatusCache(ctx context.Context, redisURL string, ttl time.Duration) (StatusCache, error) {
	if redisURL == "" {
		utils.Info("cache", "Using in-memory payment status cache", "ttl", ttl)
		return NewMemoryStatusCache(ttl), nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opt.Addr, err)
	}

	utils.Info("cache", "Using Redis payment status cache", "addr", opt.Addr, "db", opt.DB, "ttl", ttl)
	return NewRedisStatusCache(client, "storefront:payment:", ttl), nil
}

// MemoryStatusCache keeps states in process memory.
type MemoryStatusCache struct {
	mu      sync.RWMutex
	entries map[string]CachedStatus
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStatusCache(ttl time.Duration) *MemoryStatusCache {
	return &MemoryStatusCache{
		entries: make(map[string]CachedStatus),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryStatusCache) Get(_ context.Context, paymentID string) (CachedStatus, bool) {
	c.mu.RLock()
	state, exists := c.entries[paymentID]
	c.mu.RUnlock()

	if !exists {
		return CachedStatus{}, false
	}
	if c.expired(state) {
		c.mu.Lock()
		delete(c.entries, paymentID)
		c.mu.Unlock()
		return CachedStatus{}, false
	}
	return state, true
}

func (c *MemoryStatusCache) Set(_ context.Context, state CachedStatus) error {
	if state.PaymentID == "" {
		return payment.ErrEmptyPaymentID
	}
	state.UpdatedAt = c.now()

	c.mu.Lock()
	if prev, ok := c.entries[state.PaymentID]; ok && !c.expired(prev) && keepsPrevious(prev, state) {
		c.mu.Unlock()
		utils.Debug("cache", "Stale payment state ignored", "payment_id", state.PaymentID, "cached", prev.Status, "status", state.Status)
		return nil
	}
	c.entries[state.PaymentID] = state
	c.mu.Unlock()

	utils.Debug("cache", "Cached payment state", "payment_id", state.PaymentID, "status", state.Status)
	return nil
}

// keepsPrevious reports whether next would downgrade a settled prev.
func keepsPrevious(prev, next CachedStatus) bool {
	return prev.Status.IsTerminal() && !next.Status.IsTerminal()
}

func (c *MemoryStatusCache) expired(state CachedStatus) bool {
	return c.ttl > 0 && c.now().Sub(state.UpdatedAt) > c.ttl
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *MemoryStatusCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, state := range c.entries {
		if c.expired(state) {
			delete(c.entries, id)
			removed++
		}
	}
	if removed > 0 {
		utils.Debug("cache", "Expired payment states removed", "count", removed)
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (c *MemoryStatusCache) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// RedisStatusCache stores states as JSON with a TTL.
type RedisStatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStatusCache(client *redis.Client, prefix string, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStatusCache) key(paymentID string) string {
	return r.prefix + paymentID
}

func (r *RedisStatusCache) Get(ctx context.Context, paymentID string) (CachedStatus, bool) {
	val, err := r.client.Get(ctx, r.key(paymentID)).Result()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false
	}
	if err != nil {
		utils.Warn("cache", "Redis get failed", "payment_id", paymentID, "error", err)
		return CachedStatus{}, false
	}

	var state CachedStatus
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		utils.Error("cache", "Corrupt cached payment state", "payment_id", paymentID, "error", err)
		return CachedStatus{}, false
	}
	return state, true
}

func (r *RedisStatusCache) Set(ctx context.Context, state CachedStatus) error {
	if state.PaymentID == "" {
		return payment.ErrEmptyPaymentID
	}
	state.UpdatedAt = time.Now()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal payment state: %w", err)
	}
	key := r.key(state.PaymentID)
	stale := false
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		if prev, ok := decodeState(tx.Get(ctx, key)); ok && keepsPrevious(prev, state) {
			stale = true
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("store payment state %s: %w", state.PaymentID, err)
	}
	if stale {
		utils.Debug("cache", "Stale payment state ignored", "payment_id", state.PaymentID, "status", state.Status)
		return nil
	}

	utils.Debug("cache", "Cached payment state in Redis", "payment_id", state.PaymentID, "status", state.Status, "ttl", r.ttl)
	return nil
}

// decodeState reads a cached state from a GET reply. Misses and corrupt
// values both report false.
func decodeState(cmd *redis.StringCmd) (CachedStatus, bool) {
	val, err := cmd.Result()
	if err != nil {
		return CachedStatus{}, false
	}
	var state CachedStatus
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return CachedStatus{}, false
	}
	return state, true
}

// Close releases the Redis connection pool.
func (r *RedisStatusCache) Close() error {
	return r.client.Close()
}
