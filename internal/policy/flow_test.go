package policy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"policy-search/internal/flow"
	"policy-search/internal/vectorstore"
)

func TestRegisteredFlow(t *testing.T) {
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "vacation", mock.Anything).Return([]vectorstore.Document{
		{Content: []vectorstore.Part{{Text: "Vacation policy text"}}, Metadata: map[string]any{"policyType": "HR"}},
	}, nil).Once()

	reg := flow.NewRegistry()
	RegisterFlow(reg, NewService(r, nil, 0, discardLogger()))
	assert.Equal(t, []string{"policyQueryFlow"}, reg.Names())

	runner, err := reg.Lookup(FlowName)
	require.NoError(t, err)

	out, err := runner.RunJSON(context.Background(), json.RawMessage(`{"query":"vacation"}`))
	require.NoError(t, err)
	resp := out.(PolicyResponse)
	assert.Equal(t, []string{"Vacation policy text"}, resp.RelevantPolicies)
	assert.Equal(t, []string{"HR"}, resp.PolicyTypes)

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"answer": "Based on your query \"vacation\", here are the relevant policies:\n\n1. Vacation policy text\n\nPlease review these policies for the specific information you need.",
		"relevantPolicies": ["Vacation policy text"],
		"policyTypes": ["HR"]
	}`, string(body))
}

func TestRegisteredFlowRejectsInvalidInput(t *testing.T) {
	r := new(mockRetriever)
	reg := flow.NewRegistry()
	f := RegisterFlow(reg, NewService(r, nil, 0, discardLogger()))

	cases := []PolicyQuery{
		{Query: "q", TopK: -1},
		{Query: "q", TopK: 51},
		{Query: "q", PolicyTypes: make([]string, 11)},
		{Query: "q", PolicyTypes: []string{""}},
	}
	for _, in := range cases {
		_, err := f.Run(context.Background(), in)
		assert.ErrorIs(t, err, flow.ErrInvalidInput, "%+v", in)
	}
	r.AssertNotCalled(t, "Retrieve", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegisteredFlowAcceptsAnyQueryString(t *testing.T) {
	long := strings.Repeat("a", 2001)
	r := new(mockRetriever)
	r.On("Retrieve", mock.Anything, "", mock.Anything).Return([]vectorstore.Document{}, nil).Once()
	r.On("Retrieve", mock.Anything, long, mock.Anything).Return([]vectorstore.Document{}, nil).Once()

	f := RegisterFlow(flow.NewRegistry(), NewService(r, nil, 0, discardLogger()))
	for _, q := range []string{"", long} {
		resp, err := f.Run(context.Background(), PolicyQuery{Query: q})
		require.NoError(t, err)
		assert.Empty(t, resp.RelevantPolicies)
	}
	r.AssertExpectations(t)
}

func TestEmptyResponseSerializesArrays(t *testing.T) {
	body, err := json.Marshal(BuildResponse("q", nil))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"relevantPolicies":[]`)
	assert.Contains(t, string(body), `"policyTypes":[]`)
}
