package citations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryTerms(t *testing.T) {
	t.Run("drops stop words and short words", func(t *testing.T) {
		terms := QueryTerms("what is the refund policy at FooCorp")
		assert.Equal(t, []string{"refund", "policy", "foocorp"}, terms)
	})

	t.Run("caps at five terms", func(t *testing.T) {
		terms := QueryTerms("alpha bravo charlie delta echo foxtrot golf")
		assert.Len(t, terms, 5)
	})

	t.Run("empty query", func(t *testing.T) {
		assert.Nil(t, QueryTerms(""))
	})
}

func TestHighlightedTerms(t *testing.T) {
	content := "Refunds are processed within 14 business days."
	terms := HighlightedTerms(content, "what is the refund policy")
	assert.Equal(t, []string{"refund"}, terms)

	assert.Nil(t, HighlightedTerms("", "refund"))
	assert.Nil(t, HighlightedTerms(content, ""))
}

func TestExtractSnippet(t *testing.T) {
	t.Run("short content is returned whole", func(t *testing.T) {
		assert.Equal(t, "short text", ExtractSnippet("  short text  ", "query", 100))
	})

	t.Run("centers on the query term", func(t *testing.T) {
		content := strings.Repeat("filler words here ", 30) +
			"the important refund clause lives here " +
			strings.Repeat("more filler after ", 30)

		snippet := ExtractSnippet(content, "refund clause", 120)
		assert.Contains(t, snippet, "refund")
		assert.LessOrEqual(t, len(snippet), 120+6) // ellipses on both sides
		assert.True(t, strings.HasPrefix(snippet, "..."))
		assert.True(t, strings.HasSuffix(snippet, "..."))
	})

	t.Run("falls back to a prefix when terms are absent", func(t *testing.T) {
		content := strings.Repeat("lorem ipsum dolor sit amet ", 20)
		snippet := ExtractSnippet(content, "zebra quagga", 80)
		assert.True(t, strings.HasSuffix(snippet, "..."))
		assert.True(t, strings.HasPrefix(content, strings.TrimSuffix(strings.TrimSpace(snippet), "...")[:10]))
	})

	t.Run("empty content", func(t *testing.T) {
		assert.Equal(t, "", ExtractSnippet("", "query", 100))
	})
}
