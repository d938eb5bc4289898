// Package session holds the shared session context passed to every
// engine component, replacing any ambient global state.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/identity"
)

// Session describes one whiteboard/call session. Host status is fixed at
// creation: the host is whoever initiated the call, regardless of
// profile kind, and it never changes for the session's lifetime.
type Session struct {
	ID    uuid.UUID
	Local identity.Local

	mu           sync.RWMutex
	host         identity.Ref
	participants map[string]identity.Local
}

func New(id uuid.UUID, local identity.Local) *Session {
	return &Session{
		ID:           id,
		Local:        local,
		participants: make(map[string]identity.Local),
	}
}

// SetHost records the call initiator. It is a no-op once set.
func (s *Session) SetHost(ref identity.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.host.IsZero() {
		s.host = ref
	}
}

func (s *Session) Host() identity.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.host
}

// IsHost reports whether the local participant initiated this session.
func (s *Session) IsHost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.host == s.Local.Ref
}

func (s *Session) AddParticipant(p identity.Local) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.participants[p.Key()] = p
}

func (s *Session) RemoveParticipant(ref identity.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.participants, ref.Key())
}

func (s *Session) Participant(ref identity.Ref) (identity.Local, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[ref.Key()]
	return p, ok
}

// Participants returns every known remote participant.
func (s *Session) Participants() []identity.Local {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]identity.Local, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}

// Refs returns participant addresses for fan-out.
func (s *Session) Refs() []identity.Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]identity.Ref, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p.Ref)
	}
	return out
}
