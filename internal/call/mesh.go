// Package call runs the multi-party mesh: invitation, offer/answer and
// candidate exchange per peer, link lifecycle, leave-vs-end semantics,
// and reconnection for recent leavers.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/application/metric"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
	"github.com/slateroom/slateroom/internal/session"
	"github.com/slateroom/slateroom/internal/store"
)

// CallState is the call-level state, distinct from per-link states.
type CallState string

const (
	StateIdle            CallState = "idle"
	StateOutgoingPending CallState = "outgoing_pending"
	StateIncomingPending CallState = "incoming_pending"
	StateConnected       CallState = "connected"
	StateEnded           CallState = "ended"
)

var (
	ErrBusy             = errors.New("call: another call is in progress")
	ErrNotInCall        = errors.New("call: no call in progress")
	ErrNotHost          = errors.New("call: host only")
	ErrRecipientOffline = errors.New("call: recipient offline")
)

// Messenger sends addressed signaling messages.
type Messenger interface {
	Send(t protocol.Type, payload any, to ...identity.Ref) error
}

// Presence answers whether a participant is currently reachable.
type Presence interface {
	Online(ref identity.Ref) bool
}

// Recorder persists call history.
type Recorder interface {
	SaveCallRecord(ctx context.Context, rec *store.CallRecord) error
}

// Manager owns the set of PeerLinks for the active call. Every piece of
// negotiation state is keyed by remote identity so multi-party
// negotiations never cross-talk.
type Manager struct {
	sess     *session.Session
	msgr     Messenger
	neg      Negotiator
	presence Presence
	rec      Recorder

	mu    sync.Mutex
	state CallState
	links map[string]*PeerLink

	inviter    identity.Ref
	callerName string
	roster     []identity.Ref
	invited    []identity.Ref

	bufferedOffers  map[identity.Ref]protocol.SDPEvent
	earlyCandidates map[string][]webrtc.ICECandidateInit

	// recentLeavers holds voluntary leavers eligible for auto-accepted
	// reconnection.
	recentLeavers map[string]time.Time

	startedAt time.Time
	now       func() time.Time

	onIncoming   func(from identity.Ref, ev protocol.CallInvitationEvent)
	onState      func(s CallState)
	onMediaError func(err *MediaError)
}

func NewManager(sess *session.Session, msgr Messenger, neg Negotiator, presence Presence, rec Recorder) *Manager {
	return &Manager{
		sess:            sess,
		msgr:            msgr,
		neg:             neg,
		presence:        presence,
		rec:             rec,
		state:           StateIdle,
		links:           make(map[string]*PeerLink),
		bufferedOffers:  make(map[identity.Ref]protocol.SDPEvent),
		earlyCandidates: make(map[string][]webrtc.ICECandidateInit),
		recentLeavers:   make(map[string]time.Time),
		now:             time.Now,
	}
}

// OnIncoming surfaces an invitation to the user.
func (m *Manager) OnIncoming(f func(from identity.Ref, ev protocol.CallInvitationEvent)) {
	m.onIncoming = f
}

func (m *Manager) OnStateChange(f func(s CallState)) { m.onState = f }

// OnMediaError surfaces acquisition failures with their category.
func (m *Manager) OnMediaError(f func(err *MediaError)) { m.onMediaError = f }

// CallerName returns the inviter's display name for the incoming-call
// surface.
func (m *Manager) CallerName() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.callerName
}

// State returns the call-level state.
func (m *Manager) State() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Active reports whether a call is being set up or running.
func (m *Manager) Active() bool {
	switch m.State() {
	case StateOutgoingPending, StateIncomingPending, StateConnected:
		return true
	}
	return false
}

// Links returns the current mesh edges, for display.
func (m *Manager) Links() []PeerLink {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PeerLink, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, PeerLink{Remote: l.Remote, State: l.State, hasLocalOffer: l.hasLocalOffer})
	}
	return out
}

func (m *Manager) setState(s CallState) {
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
	slog.Info("call state", slog.String(constant.CallState, string(s)))
}

// Initiate starts a call: acquire media, mark self host, one link and
// one pre-computed offer per reachable recipient, then invitation +
// offer per recipient. Offline recipients are dropped individually; an
// offline sole recipient cancels the whole attempt with a missed-call
// record.
func (m *Manager) Initiate(ctx context.Context, recipients []identity.Local) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle && m.state != StateEnded {
		return ErrBusy
	}
	if len(recipients) == 0 {
		return errors.New("call: no recipients")
	}

	if err := m.neg.Acquire(); err != nil {
		mediaErr := ClassifyMediaError(err)
		if m.onMediaError != nil {
			m.onMediaError(mediaErr)
		}
		return mediaErr
	}

	m.sess.SetHost(m.sess.Local.Ref)

	roster := make([]identity.Ref, 0, len(recipients)+1)
	roster = append(roster, m.sess.Local.Ref)
	for _, r := range recipients {
		roster = append(roster, r.Ref)
	}

	multi := len(recipients) > 1
	invitation := protocol.CallInvitationEvent{
		CallerName:       m.sess.Local.DisplayName,
		IsMultiParty:     multi,
		ParticipantCount: len(recipients) + 1,
		Roster:           addressesOf(roster),
	}

	m.invited = m.invited[:0]
	created := 0

	for _, r := range recipients {
		if !m.presence.Online(r.Ref) {
			m.recordCall(ctx, m.sess.Local.Ref, r.Ref, store.CallOffline)
			slog.Info("invitee offline, skipping", slog.String(constant.Peer, r.Ref.Key()))
			continue
		}

		link, err := m.newLinkLocked(r.Ref)
		if err != nil {
			slog.Error("create peer link", slog.Any(constant.Error, err), slog.String(constant.Peer, r.Ref.Key()))
			continue
		}

		offer, err := link.offer()
		if err != nil {
			m.dropLinkLocked(r.Ref)
			slog.Error("create offer", slog.Any(constant.Error, err), slog.String(constant.Peer, r.Ref.Key()))
			continue
		}

		m.sess.AddParticipant(r)
		m.invited = append(m.invited, r.Ref)

		if err := m.msgr.Send(protocol.TypeCallInvitation, invitation, r.Ref); err != nil {
			slog.Error("send invitation", slog.Any(constant.Error, err))
		}
		if err := m.msgr.Send(protocol.TypeCallOffer, offer, r.Ref); err != nil {
			slog.Error("send offer", slog.Any(constant.Error, err))
		}
		created++
	}

	if created == 0 {
		m.neg.Release()
		m.setState(StateIdle)
		return ErrRecipientOffline
	}

	m.roster = roster
	m.startedAt = m.now()
	m.setState(StateOutgoingPending)
	return nil
}

// HandleInvitation surfaces an incoming call. A second invitation while
// busy is declined automatically.
func (m *Manager) HandleInvitation(from identity.Ref, ev protocol.CallInvitationEvent) error {
	m.mu.Lock()

	if m.state != StateIdle && m.state != StateEnded {
		m.mu.Unlock()
		return m.msgr.Send(protocol.TypeCallDeclined, struct{}{}, from)
	}

	m.inviter = from
	m.callerName = ev.CallerName
	m.sess.SetHost(from)

	m.roster = m.roster[:0]
	for _, a := range ev.Roster {
		m.roster = append(m.roster, a.Ref())
	}

	m.setState(StateIncomingPending)
	onIncoming := m.onIncoming
	m.mu.Unlock()

	if onIncoming != nil {
		onIncoming(from, ev)
	}
	return nil
}

// HandleOffer either buffers (while the local user decides) or answers
// immediately (mid-call mesh completion, reconnects, added
// participants).
func (m *Manager) HandleOffer(from identity.Ref, ev protocol.SDPEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateIncomingPending:
		m.bufferedOffers[from] = ev
		return nil
	case StateConnected:
		return m.answerLocked(from, ev)
	default:
		slog.Warn("offer outside a call, ignoring",
			slog.String(constant.Peer, from.Key()),
			slog.String(constant.CallState, string(m.state)),
		)
		return nil
	}
}

// Accept consumes every buffered offer, answering each to its own
// sender, then offers to the roster peers this side is responsible for.
func (m *Manager) Accept(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIncomingPending {
		return ErrNotInCall
	}

	if err := m.neg.Acquire(); err != nil {
		mediaErr := ClassifyMediaError(err)
		if m.onMediaError != nil {
			m.onMediaError(mediaErr)
		}
		m.msgr.Send(protocol.TypeCallDeclined, struct{}{}, m.inviter)
		m.setState(StateIdle)
		return mediaErr
	}

	for from, offer := range m.bufferedOffers {
		if err := m.answerLocked(from, offer); err != nil {
			slog.Error("answer buffered offer", slog.Any(constant.Error, err), slog.String(constant.Peer, from.Key()))
		}
	}
	m.bufferedOffers = make(map[identity.Ref]protocol.SDPEvent)

	// Between two invitees the lexicographically smaller identity
	// offers; the other waits. The host has offered to everyone already.
	for _, peer := range m.roster {
		if peer == m.sess.Local.Ref || peer == m.inviter {
			continue
		}
		if _, ok := m.links[peer.Key()]; ok {
			continue
		}
		if !offersTo(m.sess.Local.Ref, peer) {
			continue
		}

		link, err := m.newLinkLocked(peer)
		if err != nil {
			slog.Error("create mesh link", slog.Any(constant.Error, err), slog.String(constant.Peer, peer.Key()))
			continue
		}
		offer, err := link.offer()
		if err != nil {
			m.dropLinkLocked(peer)
			continue
		}
		if err := m.msgr.Send(protocol.TypeCallOffer, offer, peer); err != nil {
			slog.Error("send mesh offer", slog.Any(constant.Error, err))
		}
	}

	m.startedAt = m.now()
	m.setState(StateConnected)
	return nil
}

// HandleAnswer applies a remote answer. An answer for a link we never
// offered on is dropped. The call state is not touched here: an applied
// answer only means negotiation can proceed, and the pending call
// becomes connected when the media layer reports the first link up.
func (m *Manager) HandleAnswer(from identity.Ref, ev protocol.SDPEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[from.Key()]
	if !ok || !link.hasLocalOffer {
		slog.Warn("answer without matching offer, ignoring", slog.String(constant.Peer, from.Key()))
		return nil
	}

	return link.acceptAnswer(ev)
}

// HandleCandidate routes a candidate to its link, buffering if the link
// or its remote description does not exist yet.
func (m *Manager) HandleCandidate(from identity.Ref, ev protocol.CandidateEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[from.Key()]
	if !ok {
		m.earlyCandidates[from.Key()] = append(m.earlyCandidates[from.Key()], ev.Candidate)
		return nil
	}

	return link.bufferOrAdd(ev.Candidate)
}

// Cancel withdraws an outgoing call before anyone answered. Invitees
// get a cancellation, not an "ended"; the two are distinct teardowns.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateOutgoingPending {
		return ErrNotInCall
	}

	for _, ref := range m.invited {
		if err := m.msgr.Send(protocol.TypeCallCancelled, struct{}{}, ref); err != nil {
			slog.Error("send cancel", slog.Any(constant.Error, err))
		}
	}

	m.teardownLocked()
	m.setState(StateIdle)
	return nil
}

// HandleCancelled tears down a pending incoming call quietly.
func (m *Manager) HandleCancelled(from identity.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIncomingPending || from != m.inviter {
		return nil
	}

	m.bufferedOffers = make(map[identity.Ref]protocol.SDPEvent)
	m.roster = nil
	m.setState(StateIdle)
	return nil
}

// Decline refuses an incoming call. No media was acquired, so there is
// nothing to release.
func (m *Manager) Decline() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIncomingPending {
		return ErrNotInCall
	}

	inviter := m.inviter
	m.bufferedOffers = make(map[identity.Ref]protocol.SDPEvent)
	m.setState(StateIdle)

	return m.msgr.Send(protocol.TypeCallDeclined, struct{}{}, inviter)
}

// HandleDeclined removes the decliner's link; a sole-recipient call
// ends with a declined record.
func (m *Manager) HandleDeclined(ctx context.Context, from identity.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropLinkLocked(from)
	m.recordCall(ctx, m.sess.Local.Ref, from, store.CallDeclined)

	if len(m.links) == 0 && m.state == StateOutgoingPending {
		m.teardownLocked()
		m.setState(StateIdle)
	}
	return nil
}

// Leave exits the call. With exactly two total participants, or when the
// host leaves, the call ends for everyone; otherwise the others continue
// and this side keeps a rejoin affordance.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected && m.state != StateOutgoingPending {
		return ErrNotInCall
	}

	total := len(m.links) + 1
	if total <= 2 || m.sess.IsHost() {
		return m.endForAllLocked(ctx)
	}

	for _, link := range m.links {
		if err := m.msgr.Send(protocol.TypeCallParticipantLeft, protocol.ParticipantLeftEvent{
			LeaverName: m.sess.Local.DisplayName,
		}, link.Remote); err != nil {
			slog.Error("send participant left", slog.Any(constant.Error, err))
		}
	}

	m.teardownLocked()
	m.setState(StateEnded)
	return nil
}

// endForAllLocked broadcasts the mandatory teardown and records the
// call. Caller holds the lock.
func (m *Manager) endForAllLocked(ctx context.Context) error {
	ev := protocol.CallEndedEvent{EnderName: m.sess.Local.DisplayName}

	for key, link := range m.links {
		if err := m.msgr.Send(protocol.TypeCallEnded, ev, link.Remote); err != nil {
			slog.Error("send call ended", slog.Any(constant.Error, err), slog.String(constant.Peer, key))
		}
		m.recordCall(ctx, m.sess.Host(), link.Remote, store.CallCompleted)
	}

	m.teardownLocked()
	m.setState(StateEnded)
	return nil
}

// HandleEnded is a mandatory full teardown, never a mere removal.
func (m *Manager) HandleEnded(from identity.Ref, ev protocol.CallEndedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	slog.Info("call ended by peer", slog.String(constant.Peer, from.Key()))
	m.bufferedOffers = make(map[identity.Ref]protocol.SDPEvent)
	m.teardownLocked()
	m.setState(StateEnded)
	return nil
}

// HandleParticipantLeft closes one link; the call continues while links
// remain. The leaver is remembered for auto-accepted reconnection.
func (m *Manager) HandleParticipantLeft(from identity.Ref, ev protocol.ParticipantLeftEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropLinkLocked(from)
	m.recentLeavers[from.Key()] = m.now()
	m.sess.RemoveParticipant(from)

	if len(m.links) == 0 && m.state == StateConnected {
		m.teardownLocked()
		m.setState(StateEnded)
	}
	return nil
}

// AddParticipant brings one more peer into a connected call. Host only;
// existing links are untouched.
func (m *Manager) AddParticipant(ctx context.Context, recipient identity.Local) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sess.IsHost() {
		return ErrNotHost
	}
	if m.state != StateConnected {
		return ErrNotInCall
	}

	if !m.presence.Online(recipient.Ref) {
		m.recordCall(ctx, m.sess.Local.Ref, recipient.Ref, store.CallOffline)
		return ErrRecipientOffline
	}

	link, err := m.newLinkLocked(recipient.Ref)
	if err != nil {
		return err
	}
	offer, err := link.offer()
	if err != nil {
		m.dropLinkLocked(recipient.Ref)
		return err
	}

	m.sess.AddParticipant(recipient)
	m.roster = append(m.roster, recipient.Ref)

	invitation := protocol.CallInvitationEvent{
		CallerName:       m.sess.Local.DisplayName,
		IsMultiParty:     true,
		ParticipantCount: len(m.links) + 1,
		Roster:           addressesOf(m.roster),
	}

	if err := m.msgr.Send(protocol.TypeCallInvitation, invitation, recipient.Ref); err != nil {
		return err
	}
	return m.msgr.Send(protocol.TypeCallOffer, offer, recipient.Ref)
}

// Reconnect rejoins a call this side voluntarily left: a reconnect
// request announces us, then we offer to every remaining participant.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateEnded {
		return ErrBusy
	}

	if err := m.neg.Acquire(); err != nil {
		mediaErr := ClassifyMediaError(err)
		if m.onMediaError != nil {
			m.onMediaError(mediaErr)
		}
		return mediaErr
	}

	created := 0
	for _, peer := range m.roster {
		if peer == m.sess.Local.Ref {
			continue
		}
		if !m.presence.Online(peer) {
			continue
		}

		if err := m.msgr.Send(protocol.TypeCallReconnectRequest, protocol.PresenceEvent{
			ProfileID:   m.sess.Local.ProfileID,
			ProfileKind: string(m.sess.Local.Kind),
			DisplayName: m.sess.Local.DisplayName,
		}, peer); err != nil {
			slog.Error("send reconnect request", slog.Any(constant.Error, err))
			continue
		}

		link, err := m.newLinkLocked(peer)
		if err != nil {
			continue
		}
		offer, err := link.offer()
		if err != nil {
			m.dropLinkLocked(peer)
			continue
		}
		if err := m.msgr.Send(protocol.TypeCallOffer, offer, peer); err != nil {
			slog.Error("send reconnect offer", slog.Any(constant.Error, err))
		}
		created++
	}

	if created == 0 {
		m.neg.Release()
		return ErrRecipientOffline
	}

	m.setState(StateOutgoingPending)
	return nil
}

// HandleReconnectRequest auto-accepts a known-recent leaver; anyone else
// is surfaced as a fresh invitation.
func (m *Manager) HandleReconnectRequest(from identity.Ref, ev protocol.PresenceEvent) error {
	m.mu.Lock()

	leftAt, known := m.recentLeavers[from.Key()]
	recent := known && m.now().Sub(leftAt) <= constant.RecentLeaverWindow

	if recent && m.state == StateConnected {
		// The offer that follows will be answered immediately by
		// HandleOffer in the connected state.
		delete(m.recentLeavers, from.Key())
		m.sess.AddParticipant(identity.Local{
			Ref:         from,
			DisplayName: ev.DisplayName,
		})
		m.mu.Unlock()
		return nil
	}

	m.mu.Unlock()

	return m.HandleInvitation(from, protocol.CallInvitationEvent{
		CallerName:       ev.DisplayName,
		IsMultiParty:     false,
		ParticipantCount: 2,
	})
}

// newLinkLocked mints a link and wires its callbacks. Early candidates
// buffered before the link existed are adopted. Caller holds the lock.
func (m *Manager) newLinkLocked(remote identity.Ref) (*PeerLink, error) {
	media, err := m.neg.NewLink(remote)
	if err != nil {
		return nil, err
	}

	link := newPeerLink(remote, media)
	if early, ok := m.earlyCandidates[remote.Key()]; ok {
		link.candidates = append(link.candidates, early...)
		delete(m.earlyCandidates, remote.Key())
	}
	m.links[remote.Key()] = link

	media.OnCandidate(func(c webrtc.ICECandidateInit) {
		if err := m.msgr.Send(protocol.TypeIceCandidate, protocol.CandidateEvent{Candidate: c}, remote); err != nil {
			slog.Error("send candidate", slog.Any(constant.Error, err), slog.String(constant.Peer, remote.Key()))
		}
	})
	media.OnStateChange(func(s LinkState) {
		m.linkStateChanged(remote, s)
	})

	metric.SetActivePeerLinks(len(m.links))
	return link, nil
}

// answerLocked answers an offer from a specific sender, creating the
// link on demand. Caller holds the lock.
func (m *Manager) answerLocked(from identity.Ref, offer protocol.SDPEvent) error {
	link, ok := m.links[from.Key()]
	if !ok {
		var err error
		link, err = m.newLinkLocked(from)
		if err != nil {
			return err
		}
	}

	answer, err := link.answer(offer)
	if err != nil {
		return err
	}

	return m.msgr.Send(protocol.TypeCallAnswer, answer, from)
}

// linkStateChanged reacts to media-layer transitions: failed removes the
// link (ending the call if it was the last), disconnected only warns.
func (m *Manager) linkStateChanged(remote identity.Ref, s LinkState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[remote.Key()]
	if !ok {
		return
	}

	switch s {
	case LinkConnected:
		link.State = LinkConnected
		if m.state == StateOutgoingPending || m.state == StateIncomingPending {
			m.setState(StateConnected)
		}

	case LinkDisconnected:
		link.State = LinkDisconnected
		slog.Warn("peer link disconnected", slog.String(constant.Peer, remote.Key()))

	case LinkFailed:
		slog.Warn("peer link failed", slog.String(constant.Peer, remote.Key()))
		m.dropLinkLocked(remote)
		m.sess.RemoveParticipant(remote)

		if len(m.links) == 0 && (m.state == StateConnected || m.state == StateOutgoingPending) {
			m.teardownLocked()
			m.setState(StateEnded)
		}
	}
}

// dropLinkLocked closes and removes one link. Caller holds the lock.
func (m *Manager) dropLinkLocked(remote identity.Ref) {
	if link, ok := m.links[remote.Key()]; ok {
		link.close()
		delete(m.links, remote.Key())
	}
	metric.SetActivePeerLinks(len(m.links))
}

// teardownLocked closes every link and releases media. Caller holds the
// lock.
func (m *Manager) teardownLocked() {
	for _, link := range m.links {
		link.close()
	}
	m.links = make(map[string]*PeerLink)
	m.earlyCandidates = make(map[string][]webrtc.ICECandidateInit)
	m.invited = nil
	m.neg.Release()
	metric.SetActivePeerLinks(0)
}

func (m *Manager) recordCall(ctx context.Context, caller, callee identity.Ref, status store.CallStatus) {
	started := m.startedAt
	if started.IsZero() {
		started = m.now()
	}
	ended := m.now()

	rec := &store.CallRecord{
		ID:        uuid.New(),
		SessionID: m.sess.ID,
		Caller:    caller,
		Callee:    callee,
		Status:    status,
		StartedAt: started,
		EndedAt:   &ended,
	}

	if err := m.rec.SaveCallRecord(ctx, rec); err != nil {
		slog.Error("save call record", slog.Any(constant.Error, err), slog.String(constant.SessionID, m.sess.ID.String()))
	}
}

// offersTo decides which of two non-host invitees creates the offer:
// the lexicographically smaller identity key, deterministically, so both
// sides agree without coordination.
func offersTo(local, peer identity.Ref) bool {
	return local.Key() < peer.Key()
}

func addressesOf(refs []identity.Ref) []protocol.Address {
	out := make([]protocol.Address, 0, len(refs))
	for _, r := range refs {
		out = append(out, protocol.Addr(r))
	}
	return out
}
