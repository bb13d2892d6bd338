package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"policy-search/internal/collection"
	"policy-search/internal/vectorstore"
)

// seedFile is the YAML layout accepted by `policyctl index`:
//
//	policies:
//	  - id: vacation
//	    policyType: HR
//	    text: Employees accrue 20 vacation days per year.
type seedFile struct {
	Policies []seedPolicy `yaml:"policies"`
}

type seedPolicy struct {
	ID         string         `yaml:"id"`
	PolicyType string         `yaml:"policyType"`
	Text       string         `yaml:"text"`
	Metadata   map[string]any `yaml:"metadata"`
}

// loadSeed parses a seed file into documents ready for indexing.
func loadSeed(r io.Reader) ([]vectorstore.Document, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	docs := make([]vectorstore.Document, 0, len(f.Policies))
	for i, p := range f.Policies {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			return nil, fmt.Errorf("policy %d (%s): text is required", i+1, p.ID)
		}
		md := maps.Clone(p.Metadata)
		if p.PolicyType != "" {
			if md == nil {
				md = map[string]any{}
			}
			md[vectorstore.PolicyTypeKey] = p.PolicyType
		}
		docs = append(docs, vectorstore.Document{ID: p.ID, Text: text, Metadata: md})
	}
	return docs, nil
}

// indexBatches indexes docs in batches of size, at most parallel at a time.
// Returned ids follow the order of docs.
func indexBatches(ctx context.Context, idx collection.Indexer, docs []vectorstore.Document, size, parallel int) ([]string, error) {
	if size <= 0 {
		size = len(docs)
	}
	ids := make([]string, len(docs))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		g.Go(func() error {
			got, err := idx.Index(ctx, docs[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			copy(ids[start:end], got)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}
