// Package citations provides pure transformation functions over citation
// lists: grouping, filtering, de-duplication, formatting, and export. Nothing
// here touches the socket or the session store.
package citations

import (
	"sort"
	"strings"

	"github.com/docchat-ai/rag-chat/internal/model"
)

// SourceGroup holds the citations of one source document.
type SourceGroup struct {
	SourceFileID   string
	SourceFileName string
	SourceFileURL  string
	Citations      []model.Citation
}

// GroupBySource groups citations by source file. Groups appear in first-seen
// source order; within a group citations are sorted by relevance descending,
// an absent score counting as 0.
func GroupBySource(list []model.Citation) []SourceGroup {
	byID := make(map[string]int)
	var groups []SourceGroup

	for _, c := range list {
		idx, ok := byID[c.SourceFileID]
		if !ok {
			idx = len(groups)
			byID[c.SourceFileID] = idx
			groups = append(groups, SourceGroup{
				SourceFileID:   c.SourceFileID,
				SourceFileName: c.SourceFileName,
				SourceFileURL:  c.SourceFileURL,
			})
		}
		groups[idx].Citations = append(groups[idx].Citations, c)
	}

	for i := range groups {
		sort.SliceStable(groups[i].Citations, func(a, b int) bool {
			return groups[i].Citations[a].Relevance() > groups[i].Citations[b].Relevance()
		})
	}
	return groups
}

// Flatten concatenates grouped citations back into a single list.
func Flatten(groups []SourceGroup) []model.Citation {
	var out []model.Citation
	for _, g := range groups {
		out = append(out, g.Citations...)
	}
	return out
}

// FilterByRelevance keeps citations scoring at or above minScore, sorted by
// relevance descending and capped at maxCount. maxCount <= 0 means no cap.
func FilterByRelevance(list []model.Citation, minScore float64, maxCount int) []model.Citation {
	var filtered []model.Citation
	for _, c := range list {
		if c.Relevance() >= minScore {
			filtered = append(filtered, c)
		}
	}
	sort.SliceStable(filtered, func(a, b int) bool {
		return filtered[a].Relevance() > filtered[b].Relevance()
	})
	if maxCount > 0 && len(filtered) > maxCount {
		filtered = filtered[:maxCount]
	}
	return filtered
}

// Deduplicate collapses citations whose content snippets are near-duplicates
// (word-set Jaccard index at or above threshold) onto the first-seen citation.
// Surviving citations keep their original order. The operation is idempotent.
func Deduplicate(list []model.Citation, threshold float64) []model.Citation {
	var out []model.Citation
	var kept []map[string]struct{}

	for _, c := range list {
		words := wordSet(c.ContentSnippet)
		dup := false
		for _, prev := range kept {
			if jaccard(words, prev) >= threshold {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
			kept = append(kept, words)
		}
	}
	return out
}

// DeduplicateBySource keeps the first citation per source file id. Citations
// with an empty source id are always kept.
func DeduplicateBySource(list []model.Citation) []model.Citation {
	seen := make(map[string]struct{})
	var out []model.Citation
	for _, c := range list {
		if c.SourceFileID == "" {
			out = append(out, c)
			continue
		}
		if _, dup := seen[c.SourceFileID]; dup {
			continue
		}
		seen[c.SourceFileID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Summary holds aggregate statistics over a citation list.
type Summary struct {
	TotalCitations    int            `json:"total_citations"`
	UniqueSources     int            `json:"unique_sources"`
	AvgRelevanceScore float64        `json:"avg_relevance_score"`
	FileTypes         map[string]int `json:"file_types"`
}

// Summarize computes summary statistics. Only citations with a score above 0
// contribute to the average.
func Summarize(list []model.Citation) Summary {
	s := Summary{FileTypes: make(map[string]int)}
	sources := make(map[string]struct{})
	var sum float64
	var scored int

	for _, c := range list {
		s.TotalCitations++
		if c.SourceFileID != "" {
			sources[c.SourceFileID] = struct{}{}
		}
		fileType := "unknown"
		if v, ok := c.Metadata["file_type"].(string); ok && v != "" {
			fileType = v
		}
		s.FileTypes[fileType]++
		if score := c.Relevance(); score > 0 {
			sum += score
			scored++
		}
	}

	s.UniqueSources = len(sources)
	if scored > 0 {
		s.AvgRelevanceScore = sum / float64(scored)
	}
	return s
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
