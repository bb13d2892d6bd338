package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"policy-search/internal/embeddings"
)

func TestDocumentDisplayText(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
		want string
	}{
		{
			name: "structured content wins over flat text",
			doc:  Document{Content: []Part{{Text: "A"}}, Text: "B"},
			want: "A",
		},
		{
			name: "flat text when no content",
			doc:  Document{Text: "B"},
			want: "B",
		},
		{
			name: "flat text when first part is empty",
			doc:  Document{Content: []Part{{Text: ""}, {Text: "C"}}, Text: "B"},
			want: "B",
		},
		{
			name: "fallback when nothing present",
			doc:  Document{},
			want: NoContent,
		},
		{
			name: "fallback when content empty and text empty",
			doc:  Document{Content: []Part{}},
			want: "No content available",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.doc.DisplayText())
		})
	}
}

func TestDocumentPolicyType(t *testing.T) {
	tests := []struct {
		name   string
		md     map[string]any
		want   string
		wantOK bool
	}{
		{"present", map[string]any{"policyType": "HR"}, "HR", true},
		{"missing", map[string]any{"dept": "eng"}, "", false},
		{"nil metadata", nil, "", false},
		{"empty string", map[string]any{"policyType": ""}, "", false},
		{"non-string", map[string]any{"policyType": 3}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Document{Metadata: tt.md}.PolicyType()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestValidateRecords(t *testing.T) {
	good := Record{Document: Document{ID: "1"}, Vector: make(embeddings.Vector, 3)}
	assert.NoError(t, ValidateRecords([]Record{good}, 3))

	assert.ErrorContains(t, ValidateRecords([]Record{{Vector: make(embeddings.Vector, 3)}}, 3), "id required")
	assert.ErrorContains(t, ValidateRecords([]Record{good}, 4), "3 dimensions, want 4")
}

func TestScalarMetadata(t *testing.T) {
	assert.Nil(t, scalarMetadata(nil))
	assert.Nil(t, scalarMetadata(map[string]any{"nested": map[string]any{"a": 1}}))
	assert.Equal(t,
		map[string]any{"policyType": "HR", "version": 2, "active": true},
		scalarMetadata(map[string]any{"policyType": "HR", "version": 2, "active": true, "tags": []string{"x"}}),
	)
}

func TestVectorToString(t *testing.T) {
	assert.Equal(t, "[]", vectorToString(nil))
	assert.Equal(t, "[0.5,-1,0.25]", vectorToString(embeddings.Vector{0.5, -1, 0.25}))
}

func TestPolicyTypeWhere(t *testing.T) {
	assert.Nil(t, policyTypeWhere(nil))
	assert.Equal(t, map[string]any{"policyType": "HR"}, policyTypeWhere([]string{"HR"}))
	assert.Equal(t,
		map[string]any{"policyType": map[string]any{"$in": []string{"HR", "IT"}}},
		policyTypeWhere([]string{"HR", "IT"}),
	)
}
