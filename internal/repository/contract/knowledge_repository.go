package contract

import (
	"context"

	"campus-qa-be/pkg/rag/search"
	"campus-qa-be/pkg/store"
)

// KnowledgeRepository stores the curated knowledge base and serves it as a vector index
type KnowledgeRepository interface {
	search.Index
	UpsertBulk(ctx context.Context, entries []search.IndexedEntry) error
	FindByID(ctx context.Context, id string) (*store.KnowledgeEntry, error)
	DeleteAll(ctx context.Context) error
}
