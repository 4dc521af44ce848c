package citations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat-ai/rag-chat/internal/model"
)

func page(n int) *int { return &n }

func TestFormatNumbered(t *testing.T) {
	list := []model.Citation{
		{SourceFileName: "handbook.pdf", PageNumber: page(3)},
		{SourceFileName: "faq.md"},
	}
	got := FormatNumbered(list)
	assert.Equal(t, "[1] handbook.pdf (p. 3) [2] faq.md", got)

	t.Run("explicit index wins", func(t *testing.T) {
		got := FormatNumbered([]model.Citation{{SourceFileName: "a.pdf", Index: 7}})
		assert.Equal(t, "[7] a.pdf", got)
	})
}

func TestFormatInline(t *testing.T) {
	one := model.Citation{SourceFileName: "handbook.pdf"}
	two := model.Citation{SourceFileName: "faq.md", PageNumber: page(2)}
	three := model.Citation{SourceFileName: "notes.txt"}

	assert.Equal(t, "", FormatInline(nil))
	assert.Equal(t, "(Source: handbook.pdf)", FormatInline([]model.Citation{one}))
	assert.Equal(t, "(Sources: handbook.pdf and faq.md (p. 2))", FormatInline([]model.Citation{one, two}))
	assert.Equal(t,
		"(Sources: handbook.pdf, faq.md (p. 2), and notes.txt)",
		FormatInline([]model.Citation{one, two, three}))
}

func TestFormatFootnote(t *testing.T) {
	assert.Equal(t, "", FormatFootnote(nil))
	assert.Equal(t, "^1,2", FormatFootnote([]model.Citation{
		{SourceFileName: "a"}, {SourceFileName: "b"},
	}))
}

func TestExportText(t *testing.T) {
	score := 0.9
	list := []model.Citation{
		{
			SourceFileID:   "hb",
			SourceFileName: "handbook.pdf",
			SourceFileURL:  "https://docs.example.com/handbook.pdf",
			ContentSnippet: "vacation accrual",
			RelevanceScore: &score,
		},
		{SourceFileID: "hb", SourceFileName: "handbook.pdf", ContentSnippet: "sick leave"},
	}

	out := ExportText(list)
	assert.Contains(t, out, "handbook.pdf\n")
	assert.Contains(t, out, "https://docs.example.com/handbook.pdf")
	assert.Contains(t, out, "- vacation accrual (relevance 0.90)")
	assert.Contains(t, out, "- sick leave")
}

func TestExportTabular(t *testing.T) {
	score := 0.875
	list := []model.Citation{
		{
			ID:             "c1",
			SourceFileName: "handbook.pdf",
			ContentSnippet: "has a\ttab and\na newline",
			RelevanceScore: &score,
		},
	}

	out := ExportTabular(list)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "id\tsource_file_name\tsource_file_url\trelevance_score\tcontent_snippet", lines[0])

	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 5)
	assert.Equal(t, "c1", fields[0])
	assert.Equal(t, "0.875", fields[3])
	assert.Equal(t, "has a tab and a newline", fields[4])
}

func TestExportBibliography(t *testing.T) {
	list := []model.Citation{
		{SourceFileID: "hb", SourceFileName: "handbook.pdf", SourceFileURL: "https://x/hb.pdf"},
		{SourceFileID: "hb", SourceFileName: "handbook.pdf"},
		{SourceFileID: "faq", SourceFileName: "faq.md"},
	}

	out := ExportBibliography(list)
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2, "one entry per unique source")
	assert.Equal(t, "[1] handbook.pdf. Available at: https://x/hb.pdf.", lines[0])
	assert.Equal(t, "[2] faq.md.", lines[1])
}

func TestSourceNameFallback(t *testing.T) {
	assert.Equal(t, "Unknown Document", sourceName(model.Citation{}))
}
