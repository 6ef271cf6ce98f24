package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"campus-qa-be/internal/pkg/logger"
	"campus-qa-be/pkg/store"
)

// Store is the authoritative in-process home of session memories
type Store interface {
	Get(sessionID string) (*store.SessionMemory, bool)
	Save(mem *store.SessionMemory)
	Delete(sessionID string)
}

// Snapshots persist sessions outside the process; failures are logged, never surfaced
type Snapshots interface {
	Save(ctx context.Context, mem *store.SessionMemory) error
	Load(ctx context.Context, sessionID string) (*store.SessionMemory, error)
	Delete(ctx context.Context, sessionID string) error
}

// Stats summarizes one session
type Stats struct {
	SessionID         string         `json:"session_id"`
	Exists            bool           `json:"exists"`
	TurnCount         int            `json:"turn_count"`
	EntityCount       int            `json:"entity_count"`
	RelationshipCount int            `json:"relationship_count"`
	ContextKeywords   []string       `json:"context_keywords"`
	ContextSummary    string         `json:"context_summary"`
	DecisionKinds     map[string]int `json:"decision_kinds"`
	TopEntities       []string       `json:"top_entities"`
	CreatedAt         time.Time      `json:"created_at,omitempty"`
	LastActivity      time.Time      `json:"last_activity,omitempty"`
}

const statsTopEntities = 5

// Manager serializes all access to a session's memory.
// Different sessions never wait on each other.
type Manager struct {
	store     Store
	snapshots Snapshots
	locks     *keyedLocks
	now       func() time.Time
	logger    logger.ILogger
}

func NewManager(s Store, snapshots Snapshots, log logger.ILogger) *Manager {
	return &Manager{
		store:     s,
		snapshots: snapshots,
		locks:     newKeyedLocks(),
		now:       time.Now,
		logger:    log,
	}
}

// View returns a private copy of the session memory, empty if the session is new
func (m *Manager) View(ctx context.Context, sessionID string) (*store.SessionMemory, error) {
	unlock, err := m.locks.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	mem, _ := m.load(ctx, sessionID)
	return mem.Clone(), nil
}

// Update applies fn to a copy of the session and commits it only if fn succeeds
// and ctx is still live. A cancelled request leaves the stored session untouched.
func (m *Manager) Update(ctx context.Context, sessionID string, fn func(mem *store.SessionMemory) error) error {
	unlock, err := m.locks.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	current, _ := m.load(ctx, sessionID)
	working := current.Clone()
	if err := fn(working); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		m.logger.Warn("SESSION", "Update abandoned, request cancelled", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return err
	}

	m.store.Save(working)
	if m.snapshots != nil {
		// the snapshot gets its own copy; working now belongs to the store
		if err := m.snapshots.Save(context.WithoutCancel(ctx), working.Clone()); err != nil {
			m.logger.Warn("SESSION", "Failed to persist session snapshot", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
	return nil
}

// Clear forgets the session everywhere. Clearing an unknown session is not an error.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	unlock, err := m.locks.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	m.store.Delete(sessionID)
	if m.snapshots != nil {
		if err := m.snapshots.Delete(ctx, sessionID); err != nil {
			m.logger.Warn("SESSION", "Failed to delete session snapshot", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		}
	}
	m.logger.Info("SESSION", "Session cleared", map[string]interface{}{"session_id": sessionID})
	return nil
}

// Evict drops the local copy only, used when another instance cleared the session
func (m *Manager) Evict(ctx context.Context, sessionID string) error {
	unlock, err := m.locks.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	m.store.Delete(sessionID)
	return nil
}

func (m *Manager) Stats(ctx context.Context, sessionID string) (Stats, error) {
	unlock, err := m.locks.lock(ctx, sessionID)
	if err != nil {
		return Stats{}, err
	}
	defer unlock()

	mem, exists := m.load(ctx, sessionID)
	stats := Stats{
		SessionID:         sessionID,
		Exists:            exists,
		TurnCount:         len(mem.Turns),
		EntityCount:       len(mem.EntityMemory),
		RelationshipCount: len(mem.EntityRelationships),
		ContextKeywords:   append([]string{}, mem.ContextKeywords...),
		ContextSummary:    mem.ContextSummary,
		DecisionKinds:     map[string]int{},
		TopEntities:       topEntities(mem.EntityMemory, statsTopEntities),
	}
	for _, t := range mem.Turns {
		stats.DecisionKinds[t.DecisionKind]++
	}
	if exists {
		stats.CreatedAt = mem.CreatedAt
		stats.LastActivity = mem.UpdatedAt
	}
	return stats, nil
}

// load must be called with the session lock held. The returned memory is the
// stored value itself and must not be mutated.
func (m *Manager) load(ctx context.Context, sessionID string) (*store.SessionMemory, bool) {
	if mem, ok := m.store.Get(sessionID); ok {
		return mem, true
	}
	if m.snapshots != nil {
		mem, err := m.snapshots.Load(ctx, sessionID)
		if err != nil {
			m.logger.Warn("SESSION", "Failed to load session snapshot", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
		} else if mem != nil {
			m.store.Save(mem)
			return mem, true
		}
	}
	return store.NewSessionMemory(sessionID, m.now()), false
}

func topEntities(entities map[string]*store.EntityRecord, n int) []string {
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := entities[keys[i]], entities[keys[j]]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// keyedLocks hands out one lock per session id and forgets it once nobody holds or waits on it
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: map[string]*keyedLock{}}
}

func (k *keyedLocks) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedLocks) release(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
