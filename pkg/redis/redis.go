package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"talenttrade/backend/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// Options configures the client
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Client wraps a go-redis client
type Client struct {
	client *redis.Client
}

// NewClient creates a client; the connection is established lazily
func NewClient(opts Options) *Client {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return &Client{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})}
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the pool
func (c *Client) Close() error {
	return c.client.Close()
}

// LastSeenStore remembers when an identity was last connected
type LastSeenStore interface {
	Save(ctx context.Context, userID string, at time.Time) error
	// Get returns false when nothing is recorded
	Get(ctx context.Context, userID string) (time.Time, bool, error)
}

// RedisLastSeen keeps unix-millisecond timestamps under presence:last_seen:<id>
type RedisLastSeen struct {
	client *Client
	ttl    time.Duration
}

// NewLastSeenStore stores last-seen times in redis with the given ttl
func NewLastSeenStore(c *Client, ttl time.Duration) *RedisLastSeen {
	return &RedisLastSeen{client: c, ttl: ttl}
}

func lastSeenKey(userID string) string {
	return "presence:last_seen:" + userID
}

func (s *RedisLastSeen) Save(ctx context.Context, userID string, at time.Time) error {
	return s.client.client.Set(ctx, lastSeenKey(userID), at.UnixMilli(), s.ttl).Err()
}

func (s *RedisLastSeen) Get(ctx context.Context, userID string) (time.Time, bool, error) {
	v, err := s.client.client.Get(ctx, lastSeenKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt last-seen value for %s: %w", userID, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

// MemoryLastSeen is the single-process fallback used when redis is disabled
type MemoryLastSeen struct {
	entries *cache.Cache[time.Time]
}

// NewMemoryLastSeen keeps entries for ttl in an in-process cache
func NewMemoryLastSeen(ttl time.Duration, maxItems int) *MemoryLastSeen {
	return &MemoryLastSeen{entries: cache.New[time.Time](cache.Options{TTL: ttl, MaxItems: maxItems})}
}

func (s *MemoryLastSeen) Save(_ context.Context, userID string, at time.Time) error {
	s.entries.Set(userID, at.UTC())
	return nil
}

func (s *MemoryLastSeen) Get(_ context.Context, userID string) (time.Time, bool, error) {
	at, ok := s.entries.Get(userID)
	return at, ok, nil
}
