package memory

import (
	"time"

	"ai-relay-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

// SessionRepository holds runtime session state in an expiring in-memory
// cache. Expiry is a safety net only: the registry retires sessions
// explicitly, and a cache miss is answered from the database.
type SessionRepository struct {
	cache *cache.Cache
}

func NewSessionRepository() *SessionRepository {
	// Default expiration of 1 hour, purging expired items every 10 minutes
	c := cache.New(1*time.Hour, 10*time.Minute)
	return &SessionRepository{
		cache: c,
	}
}

func (r *SessionRepository) Save(session *store.RuntimeSession) {
	r.cache.Set(session.ID, session, cache.DefaultExpiration)
}

func (r *SessionRepository) Get(sessionID string) (*store.RuntimeSession, bool) {
	if x, found := r.cache.Get(sessionID); found {
		return x.(*store.RuntimeSession), true
	}
	return nil, false
}

func (r *SessionRepository) Delete(sessionID string) {
	r.cache.Delete(sessionID)
}
