package policy

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"policy-search/internal/cache"
	"policy-search/internal/collection"
	"policy-search/internal/vectorstore"
)

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Retrieve(ctx context.Context, query string, opts collection.RetrieveOptions) ([]vectorstore.Document, error) {
	args := m.Called(ctx, query, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vectorstore.Document), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestQueryFlowNoDocuments(t *testing.T) {
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "remote work", collection.RetrieveOptions{}).
		Return([]vectorstore.Document{}, nil).Once()

	svc := NewService(r, nil, 0, discardLogger())
	resp, err := svc.QueryFlow(context.Background(), PolicyQuery{Query: "remote work"})
	require.NoError(t, err)

	assert.Equal(t, "Based on your query \"remote work\", here are the relevant policies:\n\n\n\n"+
		"Please review these policies for the specific information you need.", resp.Answer)
	assert.NotNil(t, resp.RelevantPolicies)
	assert.Empty(t, resp.RelevantPolicies)
	assert.NotNil(t, resp.PolicyTypes)
	assert.Empty(t, resp.PolicyTypes)
	r.AssertExpectations(t)
}

func TestQueryFlowDeduplicatesPolicyTypes(t *testing.T) {
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "time off", collection.RetrieveOptions{}).Return([]vectorstore.Document{
		{Text: "Vacation policy text", Metadata: map[string]any{"policyType": "HR"}},
		{Text: "Sick leave text", Metadata: map[string]any{"policyType": "HR"}},
	}, nil).Once()

	svc := NewService(r, nil, 0, discardLogger())
	resp, err := svc.QueryFlow(context.Background(), PolicyQuery{Query: "time off"})
	require.NoError(t, err)

	assert.Equal(t, []string{"HR"}, resp.PolicyTypes)
	assert.Equal(t, []string{"Vacation policy text", "Sick leave text"}, resp.RelevantPolicies)
	assert.Equal(t, "Based on your query \"time off\", here are the relevant policies:\n\n"+
		"1. Vacation policy text\n\n2. Sick leave text\n\n"+
		"Please review these policies for the specific information you need.", resp.Answer)
}

func TestQueryFlowPassesOptions(t *testing.T) {
	r := new(mockRetriever)
	opts := collection.RetrieveOptions{K: 2, PolicyTypes: []string{"IT"}}
	r.On("Retrieve", mock.Anything, "laptops", opts).Return([]vectorstore.Document{}, nil).Once()

	svc := NewService(r, nil, 0, discardLogger())
	_, err := svc.QueryFlow(context.Background(), PolicyQuery{Query: "laptops", TopK: 2, PolicyTypes: []string{"IT"}})
	require.NoError(t, err)
	r.AssertExpectations(t)
}

func TestQueryFlowPropagatesRetrievalFailure(t *testing.T) {
	r := new(mockRetriever)
	cause := errors.New("dial tcp 127.0.0.1:8000: connection refused")
	r.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(nil, cause).Once()

	c := new(cache.MockCache)
	c.On("GetResponse", mock.Anything, mock.Anything).Return(nil, nil).Once()

	svc := NewService(r, c, time.Minute, discardLogger())
	_, err := svc.QueryFlow(context.Background(), PolicyQuery{Query: "q"})
	assert.ErrorIs(t, err, cause)
	c.AssertNotCalled(t, "SetResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryFlowCacheHitSkipsRetrieval(t *testing.T) {
	r := new(mockRetriever)
	c := new(cache.MockCache)
	key := cache.Key("q", 0, nil)
	c.On("GetResponse", mock.Anything, key).Return(&cache.Response{
		Answer:           "cached",
		RelevantPolicies: []string{"A"},
	}, nil).Once()

	svc := NewService(r, c, time.Minute, discardLogger())
	resp, err := svc.QueryFlow(context.Background(), PolicyQuery{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "cached", resp.Answer)
	assert.Equal(t, []string{"A"}, resp.RelevantPolicies)
	assert.Equal(t, []string{}, resp.PolicyTypes)
	r.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryFlowCacheMissStoresResponse(t *testing.T) {
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "q", mock.Anything).
		Return([]vectorstore.Document{{Text: "A", Metadata: map[string]any{"policyType": "HR"}}}, nil).Once()

	c := new(cache.MockCache)
	key := cache.Key("q", 0, nil)
	c.On("GetResponse", mock.Anything, key).Return(nil, nil).Once()
	c.On("SetResponse", mock.Anything, key, mock.MatchedBy(func(resp *cache.Response) bool {
		return assert.ObjectsAreEqual([]string{"A"}, resp.RelevantPolicies) &&
			assert.ObjectsAreEqual([]string{"HR"}, resp.PolicyTypes)
	}), 5*time.Minute).Return(nil).Once()

	svc := NewService(r, c, 5*time.Minute, discardLogger())
	_, err := svc.QueryFlow(context.Background(), PolicyQuery{Query: "q"})
	require.NoError(t, err)
	c.AssertExpectations(t)
}

func TestQueryFlowIgnoresCacheErrors(t *testing.T) {
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "q", mock.Anything).Return([]vectorstore.Document{}, nil).Once()

	c := new(cache.MockCache)
	c.On("GetResponse", mock.Anything, mock.Anything).Return(nil, errors.New("redis down")).Once()
	c.On("SetResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	svc := NewService(r, c, time.Minute, discardLogger())
	_, err := svc.QueryFlow(context.Background(), PolicyQuery{Query: "q"})
	assert.NoError(t, err)
}

func TestBuildResponseExtractionPrecedence(t *testing.T) {
	docs := []vectorstore.Document{
		{Content: []vectorstore.Part{{Text: "A"}}, Text: "B"},
		{Text: "B"},
		{},
	}
	resp := BuildResponse("q", docs)
	assert.Equal(t, []string{"A", "B", "No content available"}, resp.RelevantPolicies)
}

func TestBuildResponsePolicyTypesFirstSeenOrder(t *testing.T) {
	docs := []vectorstore.Document{
		{Text: "1", Metadata: map[string]any{"policyType": "IT"}},
		{Text: "2"},
		{Text: "3", Metadata: map[string]any{"policyType": "HR"}},
		{Text: "4", Metadata: map[string]any{"policyType": "IT"}},
		{Text: "5", Metadata: map[string]any{"policyType": ""}},
	}
	assert.Equal(t, []string{"IT", "HR"}, BuildResponse("q", docs).PolicyTypes)
}

func TestRetrieveSimilarPoliciesLogsPreview(t *testing.T) {
	long := strings.Repeat("x", 200)
	docs := []vectorstore.Document{
		{Text: long, Metadata: map[string]any{"policyType": "HR"}},
		{Text: "short"},
	}
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "q", collection.RetrieveOptions{}).Return(docs, nil).Once()

	var buf bytes.Buffer
	svc := NewService(r, nil, 0, slog.New(slog.NewJSONHandler(&buf, nil)))
	got, err := svc.RetrieveSimilarPolicies(context.Background(), "q", collection.RetrieveOptions{})
	require.NoError(t, err)
	assert.Equal(t, docs, got)

	out := buf.String()
	assert.Contains(t, out, `"count":2`)
	assert.Contains(t, out, `"preview":"`+strings.Repeat("x", 150)+`..."`)
	assert.NotContains(t, out, strings.Repeat("x", 151))
	assert.Contains(t, out, `"metadata":{"policyType":"HR"}`)
	assert.Contains(t, out, `"preview":"short..."`)
}

func TestPreviewCountsRunes(t *testing.T) {
	s := strings.Repeat("é", 151)
	assert.Equal(t, strings.Repeat("é", 150)+"...", preview(s))
	assert.Equal(t, "abc...", preview("abc"))
}
