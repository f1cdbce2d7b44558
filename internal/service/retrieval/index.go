// Package retrieval serves top-k similarity search over a prebuilt document
// index. Building the index is done offline; this package only loads it.
package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	_ "modernc.org/sqlite"
)

var (
	ErrEmptyIndex        = errors.New("document index is empty")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Document is one indexed reference passage.
type Document struct {
	ID      string
	Content string
	Source  string
	Vector  []float64
}

// Hit is a scored search result.
type Hit struct {
	Document Document
	Score    float64
}

// Index is an immutable in-memory flat vector index using cosine similarity.
type Index struct {
	docs  []Document
	norms []float64
	dim   int
}

// NewIndex validates the documents and precomputes vector norms.
func NewIndex(docs []Document) (*Index, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyIndex
	}

	dim := len(docs[0].Vector)
	norms := make([]float64, len(docs))
	for i, doc := range docs {
		if len(doc.Vector) == 0 || len(doc.Vector) != dim {
			return nil, fmt.Errorf("document %q: %w (want %d, got %d)", doc.ID, ErrDimensionMismatch, dim, len(doc.Vector))
		}
		norms[i] = floats.Norm(doc.Vector, 2)
	}

	return &Index{docs: append([]Document(nil), docs...), norms: norms, dim: dim}, nil
}

// OpenIndex loads the index stored in the SQLite file at path.
func OpenIndex(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("index database ping failed: %w", err)
	}
	return LoadIndex(ctx, db)
}

// LoadIndex reads every row of the documents table. Embeddings are stored as
// JSON arrays of floats.
func LoadIndex(ctx context.Context, db *sql.DB) (*Index, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, content, COALESCE(source, ''), embedding FROM documents ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var raw string
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Source, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &doc.Vector); err != nil {
			return nil, fmt.Errorf("document %q: invalid embedding: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return NewIndex(docs)
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	return len(ix.docs)
}

// Dimension returns the embedding width of the index.
func (ix *Index) Dimension() int {
	return ix.dim
}

// Search returns the k most similar documents, best first. Ties keep index order.
func (ix *Index) Search(query []float64, k int) ([]Hit, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	queryNorm := floats.Norm(query, 2)
	hits := make([]Hit, len(ix.docs))
	for i, doc := range ix.docs {
		var score float64
		if queryNorm > 0 && ix.norms[i] > 0 {
			score = floats.Dot(query, doc.Vector) / (queryNorm * ix.norms[i])
		}
		hits[i] = Hit{Document: doc, Score: score}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}
