package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScorerRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry(t.TempDir())
	registry.insert(&Metadata{
		Name:        "microsoft-docs",
		Description: "Search and retrieve official Microsoft documentation",
		Tags:        []string{"azure", "documentation", "learn"},
	})
	registry.insert(&Metadata{
		Name:        "code-reference",
		Description: "Find code samples and API references",
		Tags:        []string{"code", "api", "samples"},
	})
	return registry
}

func TestSearchExactNameScoresHigh(t *testing.T) {
	registry := newScorerRegistry(t)

	results := registry.Search(context.Background(), "microsoft-docs overview", DefaultMinScore)
	require.NotEmpty(t, results)
	assert.Equal(t, "microsoft-docs", results[0].Name)
}

func TestSearchNoMatchReturnsEmpty(t *testing.T) {
	registry := newScorerRegistry(t)

	results := registry.Search(context.Background(), "bananas recipes dinner", DefaultMinScore)
	assert.Empty(t, results)
}

func TestSearchTagMatch(t *testing.T) {
	registry := newScorerRegistry(t)

	results := registry.Search(context.Background(), "azure functions quickstart", DefaultMinScore)
	require.NotEmpty(t, results)
	assert.Equal(t, "microsoft-docs", results[0].Name)
}

func TestSearchCJKQuery(t *testing.T) {
	registry := newScorerRegistry(t)

	// Mixed-script query: the literal tag "azure" still matches.
	results := registry.Search(context.Background(), "azure functions 官方文档", DefaultMinScore)
	require.NotEmpty(t, results)
	assert.Equal(t, "microsoft-docs", results[0].Name)
}

func TestSearchDeterministicOrdering(t *testing.T) {
	registry := newScorerRegistry(t)
	ctx := context.Background()

	first := registry.Search(ctx, "api documentation", 10)
	second := registry.Search(ctx, "api documentation", 10)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}
}

func TestSearchThresholdFilters(t *testing.T) {
	registry := newScorerRegistry(t)

	// "samples" hits code-reference's tag and description only; a very high
	// threshold filters it out.
	low := registry.Search(context.Background(), "samples", 10)
	assert.NotEmpty(t, low)

	high := registry.Search(context.Background(), "samples", 500)
	assert.Empty(t, high)
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{
			name:  "drops stop words and short tokens",
			query: "how to use the azure cli",
			want:  []string{"use", "azure", "cli"},
		},
		{
			name:  "keeps cjk tokens whole",
			query: "azure 官方文档",
			want:  []string{"azure", "官方文档"},
		},
		{
			name:  "drops cjk stop words",
			query: "的 文档",
			want:  []string{"文档"},
		},
		{
			name:  "empty query",
			query: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractKeywords(tt.query))
		})
	}
}

func TestMatchScoreWeights(t *testing.T) {
	skill := &Metadata{
		Name:        "microsoft-docs",
		Description: "official documentation search",
		Tags:        []string{"azure"},
	}

	// Name substring alone is worth 100.
	score := matchScore(skill, "microsoft-docs", nil)
	assert.GreaterOrEqual(t, score, 100)

	// A literal tag in the query is worth 50.
	score = matchScore(skill, "something azure something", nil)
	assert.Equal(t, 50, score)

	// A keyword present in the description scores 20.
	score = matchScore(skill, "zzz", []string{"official"})
	assert.Equal(t, 20, score)
}
