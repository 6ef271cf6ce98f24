package contract

import (
	"context"

	"campus-qa-be/pkg/store"
)

type SessionSnapshotRepository interface {
	Save(ctx context.Context, mem *store.SessionMemory) error
	// Load returns nil, nil when no snapshot exists
	Load(ctx context.Context, sessionID string) (*store.SessionMemory, error)
	Delete(ctx context.Context, sessionID string) error
}
