package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

// Retriever embeds a query and looks it up in an Index.
type Retriever struct {
	index    *Index
	embedder embedding.Embedder
	topK     int
}

var _ retriever.Retriever = (*Retriever)(nil)

// NewRetriever returns a retriever with a default depth of topK.
func NewRetriever(index *Index, embedder embedding.Embedder, topK int) (*Retriever, error) {
	if index == nil {
		return nil, ErrEmptyIndex
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if topK <= 0 {
		return nil, fmt.Errorf("invalid top-k %d", topK)
	}
	return &Retriever{index: index, embedder: embedder, topK: topK}, nil
}

// Retrieve honours the TopK and ScoreThreshold common options.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := r.topK
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK}, opts...)

	vectors, err := r.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}

	hits, err := r.index.Search(vectors[0], *options.TopK)
	if err != nil {
		return nil, err
	}

	docs := make([]*schema.Document, 0, len(hits))
	for _, hit := range hits {
		if options.ScoreThreshold != nil && hit.Score < *options.ScoreThreshold {
			continue
		}
		docs = append(docs, &schema.Document{
			ID:      hit.Document.ID,
			Content: hit.Document.Content,
			MetaData: map[string]any{
				"source": hit.Document.Source,
				"score":  hit.Score,
			},
		})
	}
	return docs, nil
}
