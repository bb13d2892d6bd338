package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"policy-search/internal/embeddings"
)

const (
	// DefaultChromaURL is where a local Chroma server listens.
	DefaultChromaURL = "http://localhost:8000"
	// DefaultChromaTenant and DefaultChromaDatabase are the tenant and
	// database every Chroma server creates on startup.
	DefaultChromaTenant   = "default_tenant"
	DefaultChromaDatabase = "default_database"

	defaultChromaTimeout = 30 * time.Second
	maxErrorBody         = 4 << 10
)

// ChromaStore talks to a Chroma server over its v2 REST API. Collections use
// cosine space, so a returned distance d maps to similarity 1-d.
type ChromaStore struct {
	baseURL  string
	tenant   string
	database string
	client   *http.Client

	mu  sync.Mutex
	ids map[string]string // collection name -> chroma collection id
}

// ChromaOption configures a ChromaStore.
type ChromaOption func(*ChromaStore)

// WithChromaDatabase scopes the store to a tenant and database. Empty values
// keep the defaults.
func WithChromaDatabase(tenant, database string) ChromaOption {
	return func(s *ChromaStore) {
		if tenant != "" {
			s.tenant = tenant
		}
		if database != "" {
			s.database = database
		}
	}
}

// NewChroma builds a client for the Chroma server at baseURL.
func NewChroma(baseURL string, client *http.Client, opts ...ChromaOption) (*ChromaStore, error) {
	if baseURL == "" {
		baseURL = DefaultChromaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid chroma url %q", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultChromaTimeout}
	}
	s := &ChromaStore{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenant:   DefaultChromaTenant,
		database: DefaultChromaDatabase,
		client:   client,
		ids:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// collectionsPath is the v2 collections endpoint, optionally followed by
// escaped path segments.
func (s *ChromaStore) collectionsPath(segments ...string) string {
	var b strings.Builder
	b.WriteString("/api/v2/tenants/")
	b.WriteString(url.PathEscape(s.tenant))
	b.WriteString("/databases/")
	b.WriteString(url.PathEscape(s.database))
	b.WriteString("/collections")
	for _, seg := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(seg))
	}
	return b.String()
}

type chromaCollection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type chromaCreateRequest struct {
	Name        string         `json:"name"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	GetOrCreate bool           `json:"get_or_create"`
}

type chromaUpsertRequest struct {
	IDs        []string            `json:"ids"`
	Embeddings []embeddings.Vector `json:"embeddings"`
	Documents  []string            `json:"documents"`
	Metadatas  []map[string]any    `json:"metadatas"`
}

type chromaQueryRequest struct {
	QueryEmbeddings []embeddings.Vector `json:"query_embeddings"`
	NResults        int                 `json:"n_results"`
	Where           map[string]any      `json:"where,omitempty"`
	Include         []string            `json:"include"`
}

type chromaQueryResponse struct {
	IDs       [][]string         `json:"ids"`
	Documents [][]*string        `json:"documents"`
	Metadatas [][]map[string]any `json:"metadatas"`
	Distances [][]float64        `json:"distances"`
}

type chromaGetRequest struct {
	Include []string `json:"include"`
}

type chromaGetResponse struct {
	IDs       []string         `json:"ids"`
	Metadatas []map[string]any `json:"metadatas"`
}

type chromaErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// EnsureCollection gets or creates the named collection and remembers its id.
func (s *ChromaStore) EnsureCollection(ctx context.Context, collection string) error {
	req := chromaCreateRequest{
		Name:        collection,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}
	var out chromaCollection
	if err := s.do(ctx, http.MethodPost, s.collectionsPath(), req, &out); err != nil {
		return fmt.Errorf("ensure collection %s: %w", collection, err)
	}
	s.remember(collection, out.ID)
	return nil
}

func (s *ChromaStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ValidateRecords(records, embeddings.Dimensions); err != nil {
		return err
	}
	req := chromaUpsertRequest{
		IDs:        make([]string, len(records)),
		Embeddings: make([]embeddings.Vector, len(records)),
		Documents:  make([]string, len(records)),
		Metadatas:  make([]map[string]any, len(records)),
	}
	for i, r := range records {
		req.IDs[i] = r.Document.ID
		req.Embeddings[i] = r.Vector
		req.Documents[i] = r.Document.DisplayText()
		req.Metadatas[i] = scalarMetadata(r.Document.Metadata)
	}
	err := s.withCollection(ctx, collection, func(id string) error {
		return s.do(ctx, http.MethodPost, s.collectionsPath(id, "upsert"), req, nil)
	})
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

func (s *ChromaStore) Search(ctx context.Context, collection string, q Query) ([]Document, error) {
	req := chromaQueryRequest{
		QueryEmbeddings: []embeddings.Vector{q.Vector},
		NResults:        q.K,
		Where:           policyTypeWhere(q.PolicyTypes),
		Include:         []string{"documents", "metadatas", "distances"},
	}
	var resp chromaQueryResponse
	err := s.withCollection(ctx, collection, func(id string) error {
		return s.do(ctx, http.MethodPost, s.collectionsPath(id, "query"), req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	return resp.documents(), nil
}

// PolicyTypes lists the distinct policyType values in the collection, in first-seen order.
func (s *ChromaStore) PolicyTypes(ctx context.Context, collection string) ([]string, error) {
	var resp chromaGetResponse
	req := chromaGetRequest{Include: []string{"metadatas"}}
	err := s.withCollection(ctx, collection, func(id string) error {
		return s.do(ctx, http.MethodPost, s.collectionsPath(id, "get"), req, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	seen := make(map[string]bool)
	types := []string{}
	for _, md := range resp.Metadatas {
		pt, ok := Document{Metadata: md}.PolicyType()
		if !ok || seen[pt] {
			continue
		}
		seen[pt] = true
		types = append(types, pt)
	}
	return types, nil
}

func (s *ChromaStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (r chromaQueryResponse) documents() []Document {
	if len(r.IDs) == 0 {
		return []Document{}
	}
	docs := make([]Document, 0, len(r.IDs[0]))
	for i, id := range r.IDs[0] {
		doc := Document{ID: id}
		if len(r.Documents) > 0 && i < len(r.Documents[0]) && r.Documents[0][i] != nil {
			doc.Content = []Part{{Text: *r.Documents[0][i]}}
		}
		if len(r.Metadatas) > 0 && i < len(r.Metadatas[0]) {
			doc.Metadata = r.Metadatas[0][i]
		}
		if len(r.Distances) > 0 && i < len(r.Distances[0]) {
			doc.Score = float32(1 - r.Distances[0][i])
		}
		docs = append(docs, doc)
	}
	return docs
}

func policyTypeWhere(types []string) map[string]any {
	switch len(types) {
	case 0:
		return nil
	case 1:
		return map[string]any{PolicyTypeKey: types[0]}
	default:
		return map[string]any{PolicyTypeKey: map[string]any{"$in": types}}
	}
}

func (s *ChromaStore) remember(name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[name] = id
}

// forget drops the cached id of name unless it was already replaced.
func (s *ChromaStore) forget(name, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[name] == id {
		delete(s.ids, name)
	}
}

// collectionID resolves name to its Chroma id and reports whether the id came
// from the cache.
func (s *ChromaStore) collectionID(ctx context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if ok {
		return id, true, nil
	}
	var out chromaCollection
	if err := s.do(ctx, http.MethodGet, s.collectionsPath(name), nil, &out); err != nil {
		return "", false, fmt.Errorf("resolve collection %s: %w", name, err)
	}
	s.remember(name, out.ID)
	return out.ID, false, nil
}

// withCollection runs fn with the id of name. A recreated collection has a new
// id, so when a cached id is reported missing it is resolved again and fn is
// retried once.
func (s *ChromaStore) withCollection(ctx context.Context, name string, fn func(id string) error) error {
	id, cached, err := s.collectionID(ctx, name)
	if err != nil {
		return err
	}
	err = fn(id)
	if !cached || !errors.Is(err, ErrCollectionNotFound) {
		return err
	}
	s.forget(name, id)
	if id, _, err = s.collectionID(ctx, name); err != nil {
		return err
	}
	return fn(id)
}

// do sends body as JSON and decodes a 2xx response into out when out is non-nil.
func (s *ChromaStore) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if resp.StatusCode == http.StatusNotFound && isChromaNotFound(msg) {
			return ErrCollectionNotFound
		}
		return fmt.Errorf("chroma %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// isChromaNotFound tells a missing collection apart from a 404 for an unknown
// route, such as a server that does not speak the v2 API.
func isChromaNotFound(body []byte) bool {
	var e chromaErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		return false
	}
	return e.Error == "NotFoundError" || strings.Contains(strings.ToLower(e.Message), "does not exist")
}
