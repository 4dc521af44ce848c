package citations

import (
	"regexp"
	"sort"
	"strings"
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"have": {}, "has": {}, "had": {}, "do": {}, "does": {}, "did": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "what": {},
	"when": {}, "where": {}, "who": {}, "why": {}, "how": {},
}

var wordRe = regexp.MustCompile(`\b\w{3,}\b`)

const maxQueryTerms = 5

// QueryTerms extracts up to five meaningful terms from a query: words of
// three or more characters with stop words removed.
func QueryTerms(query string) []string {
	if query == "" {
		return nil
	}
	var terms []string
	for _, w := range wordRe.FindAllString(strings.ToLower(query), -1) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		terms = append(terms, w)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return terms
}

// HighlightedTerms returns the query terms that actually appear in content.
func HighlightedTerms(content, query string) []string {
	if content == "" || query == "" {
		return nil
	}
	lower := strings.ToLower(content)
	var found []string
	for _, term := range QueryTerms(query) {
		if strings.Contains(lower, term) {
			found = append(found, term)
		}
	}
	return found
}

// ExtractSnippet cuts a snippet of at most maxLength characters out of
// content, centered on the median occurrence of the query terms when any are
// present, trimmed to word boundaries, with ellipses marking truncation.
func ExtractSnippet(content, query string, maxLength int) string {
	if content == "" {
		return ""
	}
	if len(content) <= maxLength {
		return strings.TrimSpace(content)
	}

	terms := QueryTerms(query)
	if len(terms) == 0 {
		return strings.TrimSpace(content[:maxLength]) + "..."
	}

	lower := strings.ToLower(content)
	var positions []int
	for _, term := range terms {
		start := 0
		for {
			pos := strings.Index(lower[start:], term)
			if pos < 0 {
				break
			}
			positions = append(positions, start+pos)
			start += pos + 1
		}
	}
	if len(positions) == 0 {
		return strings.TrimSpace(content[:maxLength]) + "..."
	}

	sort.Ints(positions)
	center := positions[len(positions)/2]

	start := center - maxLength/2
	if start < 0 {
		start = 0
	}
	end := start + maxLength
	if end > len(content) {
		end = len(content)
		start = end - maxLength
		if start < 0 {
			start = 0
		}
	}

	snippet := content[start:end]

	// Trim broken leading/trailing words near the cut points.
	if start > 0 {
		if sp := strings.Index(snippet, " "); sp > 0 && sp < 50 {
			snippet = snippet[sp+1:]
			start += sp + 1
		}
	}
	if end < len(content) {
		if sp := strings.LastIndex(snippet, " "); sp > len(snippet)-50 && sp > 0 {
			snippet = snippet[:sp]
		}
	}

	prefix, suffix := "", ""
	if start > 0 {
		prefix = "..."
	}
	if end < len(content) {
		suffix = "..."
	}
	return prefix + strings.TrimSpace(snippet) + suffix
}
