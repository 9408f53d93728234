package ws

import (
	"sync"

	"github.com/ttakeda/minichat/auth"
)

// SessionStore holds the live connections, keyed by session id. It doubles
// as the presence registry: a session contributes an identity once it has
// joined. Process-lifetime state only, reset to empty on restart.
type SessionStore struct {
	sync.RWMutex
	handlers map[string]*Handler
}

func newSessionStore() *SessionStore {
	return &SessionStore{
		handlers: make(map[string]*Handler),
	}
}

func (ss *SessionStore) get(sid string) *Handler {
	ss.RLock()
	h := ss.handlers[sid]
	ss.RUnlock()
	return h
}

func (ss *SessionStore) add(h *Handler) {
	ss.Lock()
	ss.handlers[h.sid] = h
	ss.Unlock()
}

func (ss *SessionStore) del(sid string) bool {
	ss.Lock()
	defer ss.Unlock()
	if _, ok := ss.handlers[sid]; ok {
		delete(ss.handlers, sid)
		return true
	}
	return false
}

func (ss *SessionStore) all() []*Handler {
	ss.RLock()
	defer ss.RUnlock()
	out := make([]*Handler, 0, len(ss.handlers))
	for _, h := range ss.handlers {
		out = append(out, h)
	}
	return out
}

// identities snapshots the joined identities. Sessions that have not joined
// yet contribute nothing; several sessions may carry the same user id and
// each contributes its own entry.
func (ss *SessionStore) identities() []*auth.UserInfo {
	ss.RLock()
	defer ss.RUnlock()
	out := make([]*auth.UserInfo, 0, len(ss.handlers))
	for _, h := range ss.handlers {
		if id := h.getIdentity(); id != nil {
			out = append(out, id)
		}
	}
	return out
}

func (ss *SessionStore) close() {
	for _, h := range ss.all() {
		h.close(ServerStop)
	}
}
