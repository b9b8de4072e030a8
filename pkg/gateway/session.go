package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	sessionIdleTimeout = 30 * time.Minute
	sessionScanEvery   = 5 * time.Minute
)

// session is one downstream client's bound state: a server-issued id
// and the timestamp of its last request, used to evict idle sessions.
type session struct {
	id           string
	lastActivity time.Time
}

// sessionTable tracks every live downstream session, keyed by the
// mcp-session-id header value minted at initialize.
type sessionTable struct {
	mu       sync.Mutex
	sessions map[string]*session
	stop     chan struct{}
	stopOnce sync.Once
}

func newSessionTable() *sessionTable {
	t := &sessionTable{
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
	}
	go t.evictLoop()
	return t
}

// create mints a new session id and registers it.
func (t *sessionTable) create() string {
	id := uuid.NewString()
	t.mu.Lock()
	t.sessions[id] = &session{id: id, lastActivity: time.Now()}
	t.mu.Unlock()
	return id
}

// touch reports whether id is a known session, bumping its last
// activity timestamp if so.
func (t *sessionTable) touch(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return false
	}
	s.lastActivity = time.Now()
	return true
}

// delete removes a session, e.g. on an explicit DELETE request.
func (t *sessionTable) delete(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// count reports the number of live sessions.
func (t *sessionTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *sessionTable) evictLoop() {
	ticker := time.NewTicker(sessionScanEvery)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.evictIdle()
		}
	}
}

func (t *sessionTable) evictIdle() {
	cutoff := time.Now().Add(-sessionIdleTimeout)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		if s.lastActivity.Before(cutoff) {
			delete(t.sessions, id)
		}
	}
}

func (t *sessionTable) close() {
	t.stopOnce.Do(func() { close(t.stop) })
}
