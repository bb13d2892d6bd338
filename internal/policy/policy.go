// Package policy answers policy questions from documents retrieved out of the
// policies collection. Answers are templated from the retrieved text; no
// language model is involved.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"policy-search/internal/cache"
	"policy-search/internal/collection"
	"policy-search/internal/metrics"
	"policy-search/internal/vectorstore"
)

// FlowName is the registered name of the query flow.
const FlowName = "policyQueryFlow"

const previewLen = 150

// PolicyQuery is the flow input.
type PolicyQuery struct {
	Query       string   `json:"query"`
	TopK        int      `json:"topK,omitempty" validate:"omitempty,min=1,max=50"`
	PolicyTypes []string `json:"policyTypes,omitempty" validate:"omitempty,max=10,dive,required"`
}

// PolicyResponse is the flow output.
type PolicyResponse struct {
	Answer           string   `json:"answer" validate:"required"`
	RelevantPolicies []string `json:"relevantPolicies" validate:"required"`
	PolicyTypes      []string `json:"policyTypes" validate:"required"`
}

// Service runs retrieval and the query flow against one collection.
type Service struct {
	retriever collection.Retriever
	cache     cache.Cache
	cacheTTL  time.Duration
	log       *slog.Logger
}

// NewService binds the flow to retriever. A nil cache disables response caching.
func NewService(retriever collection.Retriever, c cache.Cache, cacheTTL time.Duration, log *slog.Logger) *Service {
	if c == nil {
		c = cache.NewNoOpCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{retriever: retriever, cache: c, cacheTTL: cacheTTL, log: log}
}

// RetrieveSimilarPolicies returns the documents nearest to query, unmodified,
// and logs a short preview of each.
func (s *Service) RetrieveSimilarPolicies(ctx context.Context, query string, opts collection.RetrieveOptions) ([]vectorstore.Document, error) {
	docs, err := s.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	s.log.Info("found similar policies", "count", len(docs), "query", query)
	for i, doc := range docs {
		attrs := []any{"rank", i + 1, "preview", preview(doc.DisplayText())}
		if doc.Metadata != nil {
			attrs = append(attrs, "metadata", doc.Metadata)
		}
		s.log.Info("similar policy", attrs...)
	}
	return docs, nil
}

// QueryFlow retrieves policies for in.Query and formats them into a response.
func (s *Service) QueryFlow(ctx context.Context, in PolicyQuery) (PolicyResponse, error) {
	key := cache.Key(in.Query, in.TopK, in.PolicyTypes)
	if cached, err := s.cache.GetResponse(ctx, key); err != nil {
		s.log.Warn("cache read failed", "err", err)
	} else if cached != nil {
		metrics.CacheTotal.WithLabelValues("hit").Inc()
		s.log.Info("cache hit", "query", in.Query)
		return PolicyResponse{
			Answer:           cached.Answer,
			RelevantPolicies: nonNil(cached.RelevantPolicies),
			PolicyTypes:      nonNil(cached.PolicyTypes),
		}, nil
	}

	metrics.CacheTotal.WithLabelValues("miss").Inc()

	docs, err := s.RetrieveSimilarPolicies(ctx, in.Query, collection.RetrieveOptions{
		K:           in.TopK,
		PolicyTypes: in.PolicyTypes,
	})
	if err != nil {
		return PolicyResponse{}, fmt.Errorf("retrieve similar policies: %w", err)
	}
	resp := BuildResponse(in.Query, docs)

	if err := s.cache.SetResponse(ctx, key, &cache.Response{
		Answer:           resp.Answer,
		RelevantPolicies: resp.RelevantPolicies,
		PolicyTypes:      resp.PolicyTypes,
	}, s.cacheTTL); err != nil {
		// Log cache write failure but don't fail the request
		s.log.Warn("failed to cache response", "err", err)
	}
	return resp, nil
}

// BuildResponse formats retrieved documents into a PolicyResponse.
func BuildResponse(query string, docs []vectorstore.Document) PolicyResponse {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.DisplayText()
	}
	return PolicyResponse{
		Answer:           Answer(query, texts),
		RelevantPolicies: texts,
		PolicyTypes:      policyTypes(docs),
	}
}

// Answer renders the templated answer: an introduction naming the query, the
// numbered policy texts separated by blank lines, and a closing sentence.
func Answer(query string, texts []string) string {
	var b strings.Builder
	b.WriteString(`Based on your query "`)
	b.WriteString(query)
	b.WriteString("\", here are the relevant policies:\n\n")
	for i, text := range texts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(text)
	}
	b.WriteString("\n\nPlease review these policies for the specific information you need.")
	return b.String()
}

// policyTypes collects distinct policyType values in first-seen order.
func policyTypes(docs []vectorstore.Document) []string {
	seen := make(map[string]bool)
	types := []string{}
	for _, doc := range docs {
		pt, ok := doc.PolicyType()
		if !ok || seen[pt] {
			continue
		}
		seen[pt] = true
		types = append(types, pt)
	}
	return types
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// preview truncates s to previewLen runes and marks it as an excerpt.
func preview(s string) string {
	r := []rune(s)
	if len(r) > previewLen {
		r = r[:previewLen]
	}
	return string(r) + "..."
}
