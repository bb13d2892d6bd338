package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing.
// Used when caching is disabled or Redis is unavailable - all operations succeed
// but no actual caching occurs (always cache miss).
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// GetResponse always returns nil (cache miss)
func (c *NoOpCache) GetResponse(ctx context.Context, key string) (*Response, error) {
	return nil, nil
}

// SetResponse does nothing and always succeeds
func (c *NoOpCache) SetResponse(ctx context.Context, key string, resp *Response, ttl time.Duration) error {
	return nil
}

// InvalidateAll does nothing and always succeeds
func (c *NoOpCache) InvalidateAll(ctx context.Context) error {
	return nil
}

// Close does nothing and always succeeds
func (c *NoOpCache) Close() error {
	return nil
}
