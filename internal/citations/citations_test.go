package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat-ai/rag-chat/internal/model"
)

func cite(id, source, snippet string, score float64) model.Citation {
	return model.Citation{
		ID:             id,
		SourceFileID:   source,
		SourceFileName: source + ".pdf",
		ContentSnippet: snippet,
		RelevanceScore: &score,
	}
}

func TestGroupBySource(t *testing.T) {
	list := []model.Citation{
		cite("a", "handbook", "vacation accrual rules", 0.7),
		cite("b", "policy", "remote work policy", 0.9),
		cite("c", "handbook", "sick leave rules", 0.95),
	}

	groups := GroupBySource(list)
	require.Len(t, groups, 2)

	// first-seen source order
	assert.Equal(t, "handbook", groups[0].SourceFileID)
	assert.Equal(t, "policy", groups[1].SourceFileID)

	// within a group, relevance descending
	require.Len(t, groups[0].Citations, 2)
	assert.Equal(t, "c", groups[0].Citations[0].ID)
	assert.Equal(t, "a", groups[0].Citations[1].ID)

	t.Run("flatten preserves every citation", func(t *testing.T) {
		flat := Flatten(groups)
		require.Len(t, flat, len(list))
		ids := make(map[string]bool)
		for _, c := range flat {
			ids[c.ID] = true
		}
		for _, c := range list {
			assert.True(t, ids[c.ID], "citation %s lost in round trip", c.ID)
		}
	})

	t.Run("missing score sorts last", func(t *testing.T) {
		unscored := model.Citation{ID: "x", SourceFileID: "handbook", ContentSnippet: "no score"}
		groups := GroupBySource(append([]model.Citation{unscored}, list...))
		last := groups[0].Citations[len(groups[0].Citations)-1]
		assert.Equal(t, "x", last.ID)
	})
}

func TestFilterByRelevance(t *testing.T) {
	list := []model.Citation{
		cite("low", "s", "x", 0.3),
		cite("high", "s", "x", 0.9),
		cite("mid", "s", "x", 0.6),
	}

	t.Run("threshold and ordering", func(t *testing.T) {
		got := FilterByRelevance(list, 0.5, 0)
		require.Len(t, got, 2)
		assert.Equal(t, "high", got[0].ID)
		assert.Equal(t, "mid", got[1].ID)
	})

	t.Run("cap applies after sorting", func(t *testing.T) {
		got := FilterByRelevance(list, 0, 1)
		require.Len(t, got, 1)
		assert.Equal(t, "high", got[0].ID)
	})

	t.Run("zero cap means unlimited", func(t *testing.T) {
		assert.Len(t, FilterByRelevance(list, 0, 0), 3)
	})
}

func TestDeduplicate(t *testing.T) {
	t.Run("collapses near-duplicate snippets onto the first seen", func(t *testing.T) {
		list := []model.Citation{
			cite("a", "s1", "employees accrue fifteen vacation days per year", 0.9),
			cite("b", "s2", "employees accrue fifteen vacation days per year.", 0.8),
			cite("c", "s3", "the office dress code is business casual", 0.7),
		}
		got := Deduplicate(list, 0.85)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "c", got[1].ID)
	})

	t.Run("is idempotent", func(t *testing.T) {
		list := []model.Citation{
			cite("a", "s1", "alpha beta gamma delta", 0.9),
			cite("b", "s2", "alpha beta gamma delta epsilon", 0.8),
			cite("c", "s3", "entirely different content here", 0.7),
		}
		once := Deduplicate(list, 0.7)
		twice := Deduplicate(once, 0.7)
		assert.Equal(t, once, twice)
	})

	t.Run("threshold one keeps distinct snippets", func(t *testing.T) {
		list := []model.Citation{
			cite("a", "s1", "alpha beta gamma", 0.9),
			cite("b", "s2", "alpha beta gamma delta", 0.8),
		}
		assert.Len(t, Deduplicate(list, 1.0), 2)
	})
}

func TestDeduplicateBySource(t *testing.T) {
	list := []model.Citation{
		cite("a", "handbook", "x", 0.9),
		cite("b", "handbook", "y", 0.8),
		{ID: "c", ContentSnippet: "no source"},
		{ID: "d", ContentSnippet: "also no source"},
	}
	got := DeduplicateBySource(list)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "d", got[2].ID)
}

func TestSummarize(t *testing.T) {
	withType := cite("a", "handbook", "x", 0.8)
	withType.Metadata = map[string]any{"file_type": "pdf"}

	list := []model.Citation{
		withType,
		cite("b", "handbook", "y", 0.6),
		{ID: "c", SourceFileID: "faq", ContentSnippet: "unscored"},
	}

	s := Summarize(list)
	assert.Equal(t, 3, s.TotalCitations)
	assert.Equal(t, 2, s.UniqueSources)
	assert.InDelta(t, 0.7, s.AvgRelevanceScore, 1e-9)
	assert.Equal(t, 1, s.FileTypes["pdf"])
	assert.Equal(t, 2, s.FileTypes["unknown"])
}
