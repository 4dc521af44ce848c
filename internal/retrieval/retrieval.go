// Package retrieval performs similarity search against the document
// ingestion store. Read-side only; the ingestion pipeline that populates the
// store is owned elsewhere.
package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docchat-ai/rag-chat/internal/citations"
	"github.com/docchat-ai/rag-chat/internal/model"
	"github.com/docchat-ai/rag-chat/pkg/metrics"
)

// Retriever finds document chunks relevant to a query and returns them as
// citations, ordered by relevance.
type Retriever interface {
	Search(ctx context.Context, query string, limit int, minScore float64) ([]model.Citation, error)
}

// Embedder converts text to an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PgVector is a Retriever backed by the ingestion schema's
// match_document_chunks similarity-search function (pgvector).
type PgVector struct {
	pool       *pgxpool.Pool
	embedder   Embedder
	snippetMax int
}

// NewPgVector connects the database pool and wraps it with an embedder.
func NewPgVector(ctx context.Context, databaseURL string, embedder Embedder, snippetMax int) (*PgVector, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if snippetMax <= 0 {
		snippetMax = 300
	}
	return &PgVector{pool: pool, embedder: embedder, snippetMax: snippetMax}, nil
}

// Close releases the connection pool.
func (r *PgVector) Close() {
	r.pool.Close()
}

// Search embeds the query and calls match_document_chunks, converting each
// returned chunk into a citation with a query-centered snippet.
func (r *PgVector) Search(ctx context.Context, query string, limit int, minScore float64) ([]model.Citation, error) {
	start := time.Now()
	defer func() {
		metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	}()

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT chunk_id, source_file_id, source_file_url, source_file_name,
		       content, file_type, chunk_index, section_title, similarity
		FROM match_document_chunks($1::vector, $2, $3)`,
		vectorLiteral(embedding), limit, minScore)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var results []model.Citation
	for rows.Next() {
		var (
			chunkID, sourceID, sourceURL, sourceName string
			content, fileType, sectionTitle          string
			chunkIndex                               int
			similarity                               float64
		)
		if err := rows.Scan(&chunkID, &sourceID, &sourceURL, &sourceName,
			&content, &fileType, &chunkIndex, &sectionTitle, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}

		score := similarity
		results = append(results, model.Citation{
			ID:             chunkID,
			SourceFileID:   sourceID,
			SourceFileURL:  sourceURL,
			SourceFileName: sourceName,
			ContentSnippet: citations.ExtractSnippet(content, query, r.snippetMax),
			RelevanceScore: &score,
			Index:          len(results) + 1,
			Metadata: map[string]any{
				"file_type":         fileType,
				"chunk_index":       chunkIndex,
				"section_title":     sectionTitle,
				"highlighted_terms": citations.HighlightedTerms(content, query),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	return results, nil
}

// vectorLiteral renders an embedding in pgvector's input syntax.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
