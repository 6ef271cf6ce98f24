package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"campus-qa-be/internal/repository/contract"
	"campus-qa-be/pkg/store"

	"github.com/redis/go-redis/v9"
)

const sessionSnapshotPrefix = "campus-qa:session:"

type SessionSnapshotRepositoryImpl struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSessionSnapshotRepository(rdb *redis.Client, ttl time.Duration) contract.SessionSnapshotRepository {
	return &SessionSnapshotRepositoryImpl{rdb: rdb, ttl: ttl}
}

func (r *SessionSnapshotRepositoryImpl) Save(ctx context.Context, mem *store.SessionMemory) error {
	payload, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("encode session snapshot: %w", err)
	}
	return r.rdb.Set(ctx, sessionSnapshotPrefix+mem.SessionID, payload, r.ttl).Err()
}

func (r *SessionSnapshotRepositoryImpl) Load(ctx context.Context, sessionID string) (*store.SessionMemory, error) {
	payload, err := r.rdb.Get(ctx, sessionSnapshotPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var mem store.SessionMemory
	if err := json.Unmarshal(payload, &mem); err != nil {
		return nil, fmt.Errorf("decode session snapshot: %w", err)
	}
	if mem.EntityMemory == nil {
		mem.EntityMemory = map[string]*store.EntityRecord{}
	}
	return &mem, nil
}

func (r *SessionSnapshotRepositoryImpl) Delete(ctx context.Context, sessionID string) error {
	return r.rdb.Del(ctx, sessionSnapshotPrefix+sessionID).Err()
}
