// Package search defines the opaque semantic-search capability consumed
// by the tool registry's handlers. The corpus of books, news articles,
// and forum posts, and the embeddings used to index it, are built
// offline by a collaborator outside this module's scope; this package
// only knows how to query a pre-built index and return ranked
// documents. Two Backend implementations are provided: an embedded,
// in-process chromem-go index (default) and a remote Qdrant-backed
// index, selected by internal/config.SearchConfig.IndexPath.
package search

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackendUnavailable indicates the search backend could not serve a
// request (connection lost, index not loaded, remote store down). Tool
// handlers that can degrade gracefully return an empty result set plus a
// warning instead of failing the call; handlers whose sole purpose is
// search propagate it as ToolExecutionFailed/BackendUnavailable per spec §7.
var ErrBackendUnavailable = errors.New("search: backend unavailable")

// Document is one corpus entry as stored in the index.
type Document struct {
	ID      string
	Title   string
	Source  string // e.g. "book", "news", "forum"
	Content string
	Metadata map[string]interface{}
}

// Result is one ranked hit from a Search call.
type Result struct {
	Document
	Score float32
}

// Query describes a single search request.
type Query struct {
	Text    string
	TopK    int
	Sources []string // optional filter; empty means no filter
}

// Validate rejects malformed queries before they reach a Backend,
// matching spec §8's "negative/zero limits in tool arguments rejected."
func (q Query) Validate() error {
	if q.Text == "" {
		return errors.New("search: query text must not be empty")
	}
	if q.TopK <= 0 {
		return fmt.Errorf("search: top_k must be positive, got %d", q.TopK)
	}
	return nil
}

// Backend is the opaque semantic-search capability. Implementations are
// constructed once at startup (NewFromIndexPath) and shared by every tool
// invocation; Backend implementations must be safe for concurrent use by
// multiple goroutines without external locking (spec §5's "search
// backend is a singleton with internal concurrency; callers do not lock").
type Backend interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	Close() error
}
