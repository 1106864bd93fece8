package search

import (
	"context"
	"fmt"
	"os"

	chromem "github.com/philippgille/chromem-go"
)

// EmbedFunc embeds query text into a vector for similarity search against
// the backend's pre-built index. A deployment with a real embedding
// model supplies one matching the model used to build the index at
// SEARCH_INDEX_PATH; NewChromemBackend falls back to hashEmbed when none
// is given (see embedding.go).
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// ChromemBackend is the default, embedded search backend: a read-only,
// persisted chromem-go collection loaded once at startup. Grounded on
// the teacher's ChromemStore (internal/vectorstore/chromem.go), trimmed
// to the read-only query path this spec's opaque search backend needs —
// no AddDocuments/Delete, since index construction is out of scope and
// the collection is a finished artifact by the time this process starts.
type ChromemBackend struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemBackend opens the persisted collection at path (as built by
// the offline index pipeline) and returns a Backend serving it. The
// collection name defaults to "corpus"; callers that persisted under a
// different name should use NewChromemBackendCollection.
func NewChromemBackend(path string, embed EmbedFunc) (*ChromemBackend, error) {
	return NewChromemBackendCollection(path, "corpus", embed)
}

// NewChromemBackendCollection is NewChromemBackend with an explicit
// collection name.
func NewChromemBackendCollection(path, collectionName string, embed EmbedFunc) (*ChromemBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("search: chromem backend requires a non-empty index path")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("search: index path %q: %w", path, err)
	}
	if embed == nil {
		embed = hashEmbed
	}

	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("search: opening chromem index at %q: %w", path, err)
	}

	collection := db.GetCollection(collectionName, chromem.EmbeddingFunc(embed))
	if collection == nil {
		return nil, fmt.Errorf("search: collection %q not found at %q", collectionName, path)
	}

	return &ChromemBackend{db: db, collection: collection}, nil
}

// Search performs a cosine-similarity query against the loaded
// collection, optionally filtered by Query.Sources via the "source"
// metadata field every indexed Document carries.
func (b *ChromemBackend) Search(ctx context.Context, q Query) ([]Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	k := q.TopK
	if count := b.collection.Count(); k > count {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(q.Sources) == 1 {
		where = map[string]string{"source": q.Sources[0]}
	}

	docs, err := b.collection.Query(ctx, q.Text, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		if !matchesSources(d.Metadata["source"], q.Sources) {
			continue
		}
		results = append(results, Result{
			Document: Document{
				ID:       d.ID,
				Title:    d.Metadata["title"],
				Source:   d.Metadata["source"],
				Content:  d.Content,
				Metadata: stringMapToAny(d.Metadata),
			},
			Score: d.Similarity,
		})
	}
	return results, nil
}

// Close releases resources held by the backend. chromem-go's persistent
// DB has no explicit close; present to satisfy the Backend interface,
// like QdrantBackend.Close.
func (b *ChromemBackend) Close() error { return nil }

func matchesSources(source string, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if w == source {
			return true
		}
	}
	return false
}

func stringMapToAny(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
