package relay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/deepgram-starters/voice-agent-relay/internal/metrics"
)

// SessionManager tracks live relay sessions and enforces the optional
// concurrent-session cap. Sessions do not share state beyond this registry;
// one session failing never affects another.
type SessionManager struct {
	maxSessions int
	metrics     *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionManager(maxSessions int, m *metrics.Metrics) *SessionManager {
	return &SessionManager{
		maxSessions: maxSessions,
		metrics:     m,
		sessions:    make(map[string]*Session),
	}
}

func (sm *SessionManager) CreateSession() (*Session, error) {
	id := uuid.NewString()

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.metrics.Inc(metrics.RelayQuotaRejections)
		return nil, ErrTooManySessions
	}

	session := &Session{
		id:   id,
		done: make(chan struct{}),
		onClose: func() {
			sm.deleteSession(id)
		},
	}
	sm.sessions[id] = session
	sm.metrics.Inc(metrics.RelaySessionsOpened)
	return session, nil
}

func (sm *SessionManager) deleteSession(id string) {
	sm.mu.Lock()
	delete(sm.sessions, id)
	sm.mu.Unlock()
	sm.metrics.Inc(metrics.RelaySessionsClosed)
}

// ActiveSessions reports the number of live sessions.
func (sm *SessionManager) ActiveSessions() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// CloseAll tears down every live session. Used on shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Session pairs one client connection with one upstream connection for
// bookkeeping. The two legs share a lifetime; Done is closed exactly once
// when either leg begins closing.
type Session struct {
	id string

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	onClose func()
}

func (s *Session) ID() string { return s.id }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close releases the session. Safe to call multiple times.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}
