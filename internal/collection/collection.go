// Package collection binds a named vector collection to an embedder and a
// vector store, and derives the Indexer and Retriever used by the policy flow.
package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"policy-search/internal/embeddings"
	"policy-search/internal/metrics"
	"policy-search/internal/retry"
	"policy-search/internal/vectorstore"
)

const (
	// DefaultName is the collection holding policy documents.
	DefaultName = "policies"
	// DefaultK is the number of neighbours returned when a caller does not ask for a count.
	DefaultK = 10
)

// Config wires a collection. It is read-only once passed to New.
type Config struct {
	Name     string
	Embedder embeddings.Embedder
	Store    vectorstore.Store
	DefaultK int
}

// Indexer stores documents together with their computed vectors.
type Indexer interface {
	Index(ctx context.Context, docs []vectorstore.Document) ([]string, error)
}

// RetrieveOptions narrows a retrieval. Zero values mean collection defaults.
type RetrieveOptions struct {
	K           int
	PolicyTypes []string
}

// Retriever returns the documents nearest to a query, most similar first.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]vectorstore.Document, error)
}

// Client is a configured collection. It implements both Indexer and Retriever.
type Client struct {
	name     string
	embedder embeddings.Embedder
	store    vectorstore.Store
	defaultK int
}

var (
	_ Indexer   = (*Client)(nil)
	_ Retriever = (*Client)(nil)
)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Embedder == nil {
		return nil, errors.New("collection: embedder required")
	}
	if cfg.Store == nil {
		return nil, errors.New("collection: store required")
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = DefaultK
	}
	return &Client{
		name:     cfg.Name,
		embedder: cfg.Embedder,
		store:    cfg.Store,
		defaultK: cfg.DefaultK,
	}, nil
}

func (c *Client) Name() string { return c.name }

// Indexer returns the indexing capability of the collection.
func (c *Client) Indexer() Indexer { return c }

// Retriever returns the retrieval capability of the collection.
func (c *Client) Retriever() Retriever { return c }

// EnsureCollection creates the collection if needed, retrying with exponential
// backoff while the store comes up.
func (c *Client) EnsureCollection(ctx context.Context, attempts int, base time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = c.store.EnsureCollection(ctx, c.name); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry.ExponentialBackoff(attempt, base)):
		}
	}
	return fmt.Errorf("ensure collection %s: %w", c.name, err)
}

// Index embeds each document's display text and upserts it. Documents without
// an id get a random one. The returned ids follow input order.
func (c *Client) Index(ctx context.Context, docs []vectorstore.Document) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.DisplayText()
	}
	vecs, err := c.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vecs), len(docs))
	}

	records := make([]vectorstore.Record, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		ids[i] = d.ID
		records[i] = vectorstore.Record{Document: d, Vector: vecs[i]}
	}
	if err := c.store.Upsert(ctx, c.name, records); err != nil {
		return nil, fmt.Errorf("index into %s: %w", c.name, err)
	}
	metrics.DocumentsIndexedTotal.WithLabelValues(c.name).Add(float64(len(docs)))
	return ids, nil
}

// Retrieve embeds query and returns its nearest documents. Store failures are
// returned as is, wrapped; there is no retry.
func (c *Client) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]vectorstore.Document, error) {
	k := opts.K
	if k <= 0 {
		k = c.defaultK
	}
	vec, err := embeddings.EmbedOne(ctx, c.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	start := time.Now()
	docs, err := c.store.Search(ctx, c.name, vectorstore.Query{
		Vector:      vec,
		K:           k,
		PolicyTypes: opts.PolicyTypes,
	})
	metrics.ObserveRetrieval(c.name, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("retrieve from %s: %w", c.name, err)
	}
	return docs, nil
}

// PolicyTypes lists the policy categories present in the collection.
func (c *Client) PolicyTypes(ctx context.Context) ([]string, error) {
	types, err := c.store.PolicyTypes(ctx, c.name)
	if err != nil {
		return nil, fmt.Errorf("policy types of %s: %w", c.name, err)
	}
	return types, nil
}
