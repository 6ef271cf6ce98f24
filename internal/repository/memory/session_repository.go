package memory

import (
	"time"

	"campus-qa-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

// SessionRepository keeps session memories in process with a sliding TTL
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository(ttl time.Duration) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	// purge expired sessions at a sixth of their lifetime
	c := cache.New(ttl, ttl/6)
	return &SessionRepository{
		cache: c,
	}
}

// Save stores mem as-is; callers must not keep mutating it afterwards
func (r *SessionRepository) Save(mem *store.SessionMemory) {
	r.cache.Set(mem.SessionID, mem, cache.DefaultExpiration)
}

func (r *SessionRepository) Get(sessionID string) (*store.SessionMemory, bool) {
	if x, found := r.cache.Get(sessionID); found {
		return x.(*store.SessionMemory), true
	}
	return nil, false
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
