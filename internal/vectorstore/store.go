package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"policy-search/internal/embeddings"
)

// NoContent is the display text of a document that carries no text at all.
const NoContent = "No content available"

// PolicyTypeKey is the metadata key holding a document's policy category.
const PolicyTypeKey = "policyType"

var ErrCollectionNotFound = errors.New("collection not found")

// Part is one segment of structured document content.
type Part struct {
	Text string `json:"text"`
}

// Document is a retrievable policy document. Content and Text are the two
// shapes a store may return; DisplayText resolves between them.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Content  []Part         `json:"content,omitempty"`
	Text     string         `json:"text,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float32        `json:"score,omitempty"`
}

// DisplayText prefers the first content part, then the flat text field, then NoContent.
func (d Document) DisplayText() string {
	if len(d.Content) > 0 && d.Content[0].Text != "" {
		return d.Content[0].Text
	}
	if d.Text != "" {
		return d.Text
	}
	return NoContent
}

// PolicyType returns the non-empty string policyType metadata value, if any.
func (d Document) PolicyType() (string, bool) {
	v, ok := d.Metadata[PolicyTypeKey].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Record is a document paired with its embedding, ready to be stored.
type Record struct {
	Document Document
	Vector   embeddings.Vector
}

// Query describes a nearest-neighbour search.
type Query struct {
	Vector embeddings.Vector
	K      int
	// PolicyTypes restricts results to documents whose policyType is one of these.
	PolicyTypes []string
}

// Store is the vector database contract. Results of Search are ordered by
// decreasing similarity.
type Store interface {
	EnsureCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, records []Record) error
	Search(ctx context.Context, collection string, q Query) ([]Document, error)
	PolicyTypes(ctx context.Context, collection string) ([]string, error)
	Close() error
}

// ValidateRecords checks that every record carries an id and a vector of dim elements.
func ValidateRecords(records []Record, dim int) error {
	for i, r := range records {
		if r.Document.ID == "" {
			return fmt.Errorf("record %d: id required", i)
		}
		if len(r.Vector) != dim {
			return fmt.Errorf("record %d: vector has %d dimensions, want %d", i, len(r.Vector), dim)
		}
	}
	return nil
}

// scalarMetadata drops values a flat metadata store cannot hold.
func scalarMetadata(md map[string]any) map[string]any {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
