package citations

import (
	"fmt"
	"strings"

	"github.com/docchat-ai/rag-chat/internal/model"
)

// FormatNumbered renders citations as "[1] Name (p. 3)" references.
func FormatNumbered(list []model.Citation) string {
	var parts []string
	for i, c := range list {
		num := c.Index
		if num == 0 {
			num = i + 1
		}
		name := sourceName(c)
		if c.PageNumber != nil {
			parts = append(parts, fmt.Sprintf("[%d] %s (p. %d)", num, name, *c.PageNumber))
		} else {
			parts = append(parts, fmt.Sprintf("[%d] %s", num, name))
		}
	}
	return strings.Join(parts, " ")
}

// FormatInline renders citations as a parenthesized source list.
func FormatInline(list []model.Citation) string {
	if len(list) == 0 {
		return ""
	}
	var names []string
	for _, c := range list {
		name := sourceName(c)
		if c.PageNumber != nil {
			name = fmt.Sprintf("%s (p. %d)", name, *c.PageNumber)
		}
		names = append(names, name)
	}
	switch len(names) {
	case 1:
		return fmt.Sprintf("(Source: %s)", names[0])
	case 2:
		return fmt.Sprintf("(Sources: %s and %s)", names[0], names[1])
	default:
		return fmt.Sprintf("(Sources: %s, and %s)",
			strings.Join(names[:len(names)-1], ", "), names[len(names)-1])
	}
}

// FormatFootnote renders citations as a footnote reference marker.
func FormatFootnote(list []model.Citation) string {
	if len(list) == 0 {
		return ""
	}
	var indices []string
	for i, c := range list {
		num := c.Index
		if num == 0 {
			num = i + 1
		}
		indices = append(indices, fmt.Sprintf("%d", num))
	}
	return "^" + strings.Join(indices, ",")
}

// ExportText renders citations as a readable structured-text report, grouped
// by source.
func ExportText(list []model.Citation) string {
	var b strings.Builder
	for _, g := range GroupBySource(list) {
		fmt.Fprintf(&b, "%s\n", sourceName(g.Citations[0]))
		if g.SourceFileURL != "" {
			fmt.Fprintf(&b, "  %s\n", g.SourceFileURL)
		}
		for _, c := range g.Citations {
			fmt.Fprintf(&b, "  - %s", c.ContentSnippet)
			if c.RelevanceScore != nil {
				fmt.Fprintf(&b, " (relevance %.2f)", *c.RelevanceScore)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExportTabular renders citations as tab-separated rows with a header line.
func ExportTabular(list []model.Citation) string {
	var b strings.Builder
	b.WriteString("id\tsource_file_name\tsource_file_url\trelevance_score\tcontent_snippet\n")
	for _, c := range list {
		score := ""
		if c.RelevanceScore != nil {
			score = fmt.Sprintf("%.3f", *c.RelevanceScore)
		}
		snippet := strings.ReplaceAll(c.ContentSnippet, "\t", " ")
		snippet = strings.ReplaceAll(snippet, "\n", " ")
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.SourceFileName, c.SourceFileURL, score, snippet)
	}
	return b.String()
}

// ExportBibliography renders one bibliography entry per unique source.
func ExportBibliography(list []model.Citation) string {
	var b strings.Builder
	for i, g := range GroupBySource(list) {
		fmt.Fprintf(&b, "[%d] %s.", i+1, sourceName(g.Citations[0]))
		if g.SourceFileURL != "" {
			fmt.Fprintf(&b, " Available at: %s.", g.SourceFileURL)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func sourceName(c model.Citation) string {
	if c.SourceFileName != "" {
		return c.SourceFileName
	}
	return "Unknown Document"
}
