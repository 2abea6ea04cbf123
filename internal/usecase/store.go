package usecase

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// sessionStore keeps sessions in memory with a sliding idle expiry.
// Expired or deleted sessions are discarded.
type sessionStore struct {
	items *gocache.Cache
}

func newSessionStore(ttl time.Duration, onEvict func(*Session)) *sessionStore {
	cleanup := ttl / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	items := gocache.New(ttl, cleanup)
	items.OnEvicted(func(_ string, value interface{}) {
		if s, ok := value.(*Session); ok {
			onEvict(s)
		}
	})
	return &sessionStore{items: items}
}

func (st *sessionStore) put(s *Session) {
	st.items.Set(s.ID, s, gocache.DefaultExpiration)
}

// get refreshes the expiry of the session it returns.
func (st *sessionStore) get(id string) (*Session, bool) {
	value, ok := st.items.Get(id)
	if !ok {
		return nil, false
	}
	s := value.(*Session)
	st.refresh(s)
	return s, true
}

// refresh restarts the idle expiry of s without re-adding it if it was
// deleted or evicted meanwhile.
func (st *sessionStore) refresh(s *Session) {
	_ = st.items.Replace(s.ID, s, gocache.DefaultExpiration)
}

func (st *sessionStore) delete(id string) {
	st.items.Delete(id)
}

func (st *sessionStore) count() int {
	return st.items.ItemCount()
}

func (st *sessionStore) flush() {
	for id := range st.items.Items() {
		st.items.Delete(id)
	}
}
