package model

// Citation is a backend-supplied reference to a source document chunk,
// attached to an assistant message. Citations have no identity beyond the
// message that owns them; duplicates across messages are not merged.
type Citation struct {
	ID             string         `json:"id"`
	SourceFileID   string         `json:"source_file_id"`
	SourceFileURL  string         `json:"source_file_url"`
	SourceFileName string         `json:"source_file_name"`
	ContentSnippet string         `json:"content_snippet"`
	RelevanceScore *float64       `json:"relevance_score,omitempty"`
	PageNumber     *int           `json:"page_number,omitempty"`
	Index          int            `json:"index,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Relevance returns the relevance score, treating an absent score as 0.
func (c *Citation) Relevance() float64 {
	if c.RelevanceScore == nil {
		return 0
	}
	return *c.RelevanceScore
}
