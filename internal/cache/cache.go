package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Cache provides flow response caching
type Cache interface {
	// GetResponse retrieves a cached response by key
	// Returns nil if not found
	GetResponse(ctx context.Context, key string) (*Response, error)

	// SetResponse stores a response with TTL
	SetResponse(ctx context.Context, key string, resp *Response, ttl time.Duration) error

	// InvalidateAll drops every cached response; called after the collection changes
	InvalidateAll(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// Response represents a cached policy query response
type Response struct {
	Answer           string   `json:"answer"`
	RelevantPolicies []string `json:"relevantPolicies"`
	PolicyTypes      []string `json:"policyTypes"`
}

// Key derives a stable cache key from the query parameters.
func Key(query string, topK int, policyTypes []string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(policyTypes, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
