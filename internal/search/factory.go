package search

import "strings"

// NewFromIndexPath builds the Backend selected by a SEARCH_INDEX_PATH
// value: a qdrant:// or qdrants:// URL selects the remote QdrantBackend,
// anything else is treated as a filesystem path to an embedded
// chromem-go collection. This is the single construction point
// cmd/corpusmcpd uses at startup (spec §2: "loaded once at startup").
func NewFromIndexPath(indexPath string, embed EmbedFunc) (Backend, error) {
	if strings.HasPrefix(indexPath, "qdrant://") || strings.HasPrefix(indexPath, "qdrants://") {
		return NewQdrantBackend(indexPath, embed)
	}
	return NewChromemBackend(indexPath, embed)
}
