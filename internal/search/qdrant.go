package search

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"
)

// QdrantBackend is the optional remote search backend, selected when
// SEARCH_INDEX_PATH is a qdrant://host:port/collection URL. Grounded on
// the teacher's pkg/vectorstore/service.go, trimmed to the read-only
// query path (no AddDocuments/DeleteDocuments: index construction is an
// external collaborator's job per spec §1).
type QdrantBackend struct {
	store      vectorstores.VectorStore
	collection string
}

// qdrantEmbedder adapts an EmbedFunc to langchaingo's embeddings.Embedder
// interface, which qdrant.New requires even for query-only use.
type qdrantEmbedder struct {
	embed EmbedFunc
}

func (e qdrantEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e qdrantEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

// NewQdrantBackend connects to a Qdrant server serving a pre-built
// collection. indexURL is the qdrant://host:port/collection form
// accepted by internal/config.SearchConfig.IndexPath.
func NewQdrantBackend(indexURL string, embed EmbedFunc) (*QdrantBackend, error) {
	host, collection, err := parseQdrantURL(indexURL)
	if err != nil {
		return nil, err
	}
	if embed == nil {
		embed = hashEmbed
	}

	store, err := qdrant.New(
		qdrant.WithURL(*host),
		qdrant.WithCollectionName(collection),
		qdrant.WithEmbedder(qdrantEmbedder{embed: embed}),
	)
	if err != nil {
		return nil, fmt.Errorf("search: connecting to qdrant at %q: %w", indexURL, err)
	}

	return &QdrantBackend{store: store, collection: collection}, nil
}

func parseQdrantURL(indexURL string) (*url.URL, string, error) {
	u, err := url.Parse(indexURL)
	if err != nil {
		return nil, "", fmt.Errorf("search: invalid qdrant index URL %q: %w", indexURL, err)
	}
	collection := trimLeadingSlash(u.Path)
	if collection == "" {
		return nil, "", fmt.Errorf("search: qdrant index URL %q must include a /collection path", indexURL)
	}
	httpURL := &url.URL{Scheme: "http", Host: u.Host}
	if u.Scheme == "qdrants" {
		httpURL.Scheme = "https"
	}
	return httpURL, collection, nil
}

func trimLeadingSlash(s string) string {
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}

// Search runs a similarity search against the remote collection,
// post-filtering by Query.Sources (langchaingo's qdrant store supports
// metadata filters, but their shape is store-version-specific; filtering
// the returned set here keeps this backend portable across versions).
func (b *QdrantBackend) Search(ctx context.Context, q Query) ([]Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	docs, err := b.store.SimilaritySearch(ctx, q.Text, q.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		source, _ := d.Metadata["source"].(string)
		if !matchesSources(source, q.Sources) {
			continue
		}
		title, _ := d.Metadata["title"].(string)
		id, _ := d.Metadata["id"].(string)
		results = append(results, Result{
			Document: Document{
				ID:       id,
				Title:    title,
				Source:   source,
				Content:  d.PageContent,
				Metadata: d.Metadata,
			},
			Score: d.Score,
		})
	}
	return results, nil
}

// Close releases nothing and always returns nil; the langchaingo qdrant
// store keeps no connection for this backend to close.
func (b *QdrantBackend) Close() error { return nil }
