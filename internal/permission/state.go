// Package permission owns the per-session record of who may draw,
// write, and erase. The host mutates it; everyone else converges on it
// through addressed grant/revoke messages.
package permission

import (
	"log/slog"
	"time"

	"sync"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

// Messenger sends addressed messages. Satisfied by *router.Router.
type Messenger interface {
	Send(t protocol.Type, payload any, to ...identity.Ref) error
}

// Sessioner answers the two questions permission logic needs from the
// session context.
type Sessioner interface {
	IsHost() bool
	Host() identity.Ref
}

type State struct {
	sess Sessioner
	msgr Messenger

	mu        sync.Mutex
	sets      map[string]board.PermissionSet
	pending   []board.PendingRequest
	grants    map[string]board.ActiveGrant
	requested bool
	onToggle  func(enabled bool)
	now       func() time.Time
}

func New(sess Sessioner, msgr Messenger) *State {
	return &State{
		sess:   sess,
		msgr:   msgr,
		sets:   make(map[string]board.PermissionSet),
		grants: make(map[string]board.ActiveGrant),
		now:    time.Now,
	}
}

// Load seeds the capability sets from a restored session snapshot.
// Active grants are call-scoped and are not rebuilt from storage.
func (s *State) Load(sets map[string]board.PermissionSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, set := range sets {
		s.sets[key] = set
	}
}

// OnInteractionToggle registers the host-visible "interaction enabled"
// switch; it flips off when the last active grant is revoked.
func (s *State) OnInteractionToggle(f func(enabled bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onToggle = f
}

// Request asks the host for a grant. Safe to call repeatedly; a request
// already in flight is not re-sent.
func (s *State) Request(local identity.Local) error {
	if s.sess.IsHost() {
		return nil
	}

	s.mu.Lock()
	if s.requested {
		s.mu.Unlock()
		return nil
	}
	s.requested = true
	s.mu.Unlock()

	return s.msgr.Send(
		protocol.TypePermissionRequest,
		protocol.PermissionRequestEvent{RequesterName: local.DisplayName},
		s.sess.Host(),
	)
}

// HandleRequest queues an inbound grant request, deduplicated by
// requester identity.
func (s *State) HandleRequest(requester identity.Ref, displayName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pending {
		if p.Requester == requester {
			return
		}
	}

	s.pending = append(s.pending, board.PendingRequest{
		Requester:   requester,
		DisplayName: displayName,
		RequestedAt: s.now(),
	})
}

// Grant consumes the pending request and turns on all three
// capabilities for the requester. Granting an already-granted
// participant changes nothing. Canvas content is never touched here.
func (s *State) Grant(requester identity.Ref) error {
	s.mu.Lock()

	if _, granted := s.grants[requester.Key()]; granted {
		s.dropPending(requester)
		s.mu.Unlock()
		return nil
	}

	name := s.dropPending(requester)

	s.sets[requester.Key()] = board.PermissionSet{CanDraw: true, CanWrite: true, CanErase: true}
	s.grants[requester.Key()] = board.ActiveGrant{Participant: requester, DisplayName: name}

	toggle := s.onToggle
	s.mu.Unlock()

	if toggle != nil {
		toggle(true)
	}

	return s.msgr.Send(
		protocol.TypePermissionGranted,
		protocol.PermissionGrantEvent{CanDraw: true, CanWrite: true, CanErase: true},
		requester,
	)
}

func (s *State) GrantAll() error {
	for _, p := range s.snapshotPending() {
		if err := s.Grant(p.Requester); err != nil {
			return err
		}
	}
	return nil
}

// Deny removes the pending request and tells the requester.
func (s *State) Deny(requester identity.Ref) error {
	s.mu.Lock()
	s.dropPending(requester)
	s.mu.Unlock()

	return s.msgr.Send(protocol.TypePermissionDenied, protocol.PermissionGrantEvent{}, requester)
}

func (s *State) DenyAll() error {
	for _, p := range s.snapshotPending() {
		if err := s.Deny(p.Requester); err != nil {
			return err
		}
	}
	return nil
}

// Revoke resets the participant's capabilities and removes the active
// grant. Revoking an already-revoked participant changes nothing.
func (s *State) Revoke(participant identity.Ref) error {
	s.mu.Lock()

	if _, granted := s.grants[participant.Key()]; !granted {
		s.mu.Unlock()
		return nil
	}

	delete(s.grants, participant.Key())
	s.sets[participant.Key()] = board.PermissionSet{}

	var toggle func(bool)
	if len(s.grants) == 0 {
		toggle = s.onToggle
	}
	s.mu.Unlock()

	if toggle != nil {
		toggle(false)
	}

	return s.msgr.Send(protocol.TypePermissionRevoked, protocol.PermissionGrantEvent{}, participant)
}

func (s *State) RevokeAll() error {
	for _, g := range s.Grants() {
		if err := s.Revoke(g.Participant); err != nil {
			return err
		}
	}
	return nil
}

// Capability checks for the local participant. The host is never gated,
// whatever the stored sets say.

func (s *State) CanDraw(local identity.Ref) bool {
	if s.sess.IsHost() {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[local.Key()].CanDraw
}

func (s *State) CanWrite(local identity.Ref) bool {
	if s.sess.IsHost() {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[local.Key()].CanWrite
}

func (s *State) CanErase(local identity.Ref) bool {
	if s.sess.IsHost() {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[local.Key()].CanErase
}

// CanChangeColor: color affects both the pen and text.
func (s *State) CanChangeColor(local identity.Ref) bool {
	return s.CanDraw(local) || s.CanWrite(local)
}

// ForParticipant returns the stored set for host-side gating.
func (s *State) ForParticipant(ref identity.Ref) board.PermissionSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sets[ref.Key()]
}

// Apply* mutate the local view from inbound addressed messages. They
// never re-broadcast.

func (s *State) ApplyGranted(local identity.Ref, ev protocol.PermissionGrantEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requested = false
	s.sets[local.Key()] = board.PermissionSet{
		CanDraw:  ev.CanDraw,
		CanWrite: ev.CanWrite,
		CanErase: ev.CanErase,
	}
}

func (s *State) ApplyDenied(local identity.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requested = false
	slog.Info("permission request denied", slog.String(constant.ProfileID, local.Key()))
}

func (s *State) ApplyRevoked(local identity.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requested = false
	s.sets[local.Key()] = board.PermissionSet{}
}

func (s *State) Pending() []board.PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]board.PendingRequest(nil), s.pending...)
}

func (s *State) Grants() []board.ActiveGrant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]board.ActiveGrant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g)
	}
	return out
}

func (s *State) snapshotPending() []board.PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]board.PendingRequest(nil), s.pending...)
}

// dropPending removes the entry and returns its display name. Caller
// holds the lock.
func (s *State) dropPending(requester identity.Ref) string {
	for i, p := range s.pending {
		if p.Requester == requester {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return p.DisplayName
		}
	}
	return ""
}
