// Package corpustools wires the one true domain operation this server
// exposes — semantic search over the curated book/news/forum corpus —
// into a toolregistry.Registry entry. It is the thin seam between the
// transport-agnostic protocol engine and the opaque search.Backend
// collaborator described in spec §2.1: everything here is validation,
// shaping, and error translation, never ranking logic.
package corpustools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/corpusmcp/internal/logging"
	"github.com/fyrsmithlabs/corpusmcp/internal/search"
	"github.com/fyrsmithlabs/corpusmcp/internal/toolregistry"
	"go.uber.org/zap"
)

const defaultTopK = 10

// Register builds the "search" tool against backend and adds it to b,
// returning b for chaining alongside any other Builder.Register calls a
// caller wants to make. Grounded on the teacher's handler style in
// internal/mcp/handlers (required-field checks, fmt.Errorf on bad
// input) generalized from coding-assistant tools to this corpus's
// single read-only search operation.
func Register(b *toolregistry.Builder, backend search.Backend, log *logging.Logger) *toolregistry.Builder {
	return b.Register("search", searchDescription, searchSchema(), searchHandler(backend, log))
}

const searchDescription = "Search the curated book, news, and forum corpus for passages relevant to a query, optionally restricted to one or more sources."

func searchSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Natural-language search query.",
			},
			"top_k": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of results to return (default 10).",
				"minimum":     1,
			},
			"sources": map[string]interface{}{
				"type":        "array",
				"description": "Optional source filter, e.g. [\"book\", \"news\"]. Empty or omitted means no filter.",
				"items":       map[string]interface{}{"type": "string"},
			},
		},
		"required": []interface{}{"query"},
	}
}

type searchArgs struct {
	Query   string   `json:"query"`
	TopK    int      `json:"top_k"`
	Sources []string `json:"sources"`
}

// searchResult is the structured payload returned to the client as the
// tool's "content" text, shaping search.Result into wire-stable JSON
// rather than exposing internal field names.
type searchResult struct {
	Warning string       `json:"warning,omitempty"`
	Results []resultItem `json:"results"`
}

type resultItem struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Source string  `json:"source"`
	Score  float32 `json:"score"`
	Text   string  `json:"text"`
}

func searchHandler(backend search.Backend, log *logging.Logger) toolregistry.Handler {
	return func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
		var args searchArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("corpustools: invalid search arguments: %w", err)
		}
		if args.TopK == 0 {
			args.TopK = defaultTopK
		}

		q := search.Query{Text: args.Query, TopK: args.TopK, Sources: args.Sources}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("corpustools: %w", err)
		}

		hits, err := backend.Search(ctx, q)
		if err != nil {
			// search is the tool's sole purpose, so a degraded backend
			// fails the call per spec §7 rather than returning an empty
			// result set with a warning (that softer path is reserved
			// for tools where search is incidental to the response).
			if errors.Is(err, search.ErrBackendUnavailable) {
				if log != nil {
					log.Error(ctx, "search backend unavailable", zap.Error(err))
				}
				return nil, fmt.Errorf("corpustools: search backend unavailable: %w", err)
			}
			return nil, fmt.Errorf("corpustools: search failed: %w", err)
		}

		items := make([]resultItem, 0, len(hits))
		for _, h := range hits {
			items = append(items, resultItem{
				ID:     h.ID,
				Title:  h.Title,
				Source: h.Source,
				Score:  h.Score,
				Text:   h.Content,
			})
		}
		return searchResult{Results: items}, nil
	}
}
