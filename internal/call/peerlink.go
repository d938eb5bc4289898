package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

// LinkState tracks one direct media connection to one remote
// participant.
type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkPending      LinkState = "pending"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
)

// PeerLink is one edge of the mesh. All negotiation state is keyed by
// the remote identity; there is no ambient "the peer".
type PeerLink struct {
	Remote identity.Ref
	State  LinkState

	media MediaLink

	// hasLocalOffer guards answer application: an answer arriving for a
	// link we never offered on is a protocol violation and is dropped.
	hasLocalOffer bool

	// Candidates arriving before the remote description is set are held
	// here and flushed once it lands.
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
}

func newPeerLink(remote identity.Ref, media MediaLink) *PeerLink {
	return &PeerLink{
		Remote: remote,
		State:  LinkNew,
		media:  media,
	}
}

// bufferOrAdd applies a candidate when the remote description is set,
// otherwise holds it.
func (l *PeerLink) bufferOrAdd(c webrtc.ICECandidateInit) error {
	if !l.remoteSet {
		l.candidates = append(l.candidates, c)
		return nil
	}
	return l.media.AddCandidate(c)
}

// flushCandidates replays buffered candidates after the remote
// description lands.
func (l *PeerLink) flushCandidates() error {
	l.remoteSet = true
	for _, c := range l.candidates {
		if err := l.media.AddCandidate(c); err != nil {
			return err
		}
	}
	l.candidates = nil
	return nil
}

// offer creates and stores the local offer for this link.
func (l *PeerLink) offer() (protocol.SDPEvent, error) {
	sdp, err := l.media.CreateOffer()
	if err != nil {
		return protocol.SDPEvent{}, err
	}
	l.hasLocalOffer = true
	l.State = LinkPending
	return sdp, nil
}

// answer consumes a remote offer and produces the local answer. Setting
// the remote description unblocks buffered candidates.
func (l *PeerLink) answer(remote protocol.SDPEvent) (protocol.SDPEvent, error) {
	sdp, err := l.media.CreateAnswer(remote)
	if err != nil {
		return protocol.SDPEvent{}, err
	}
	l.State = LinkPending
	if err := l.flushCandidates(); err != nil {
		return protocol.SDPEvent{}, err
	}
	return sdp, nil
}

// acceptAnswer applies the remote answer to a link we offered on.
func (l *PeerLink) acceptAnswer(remote protocol.SDPEvent) error {
	if err := l.media.AcceptAnswer(remote); err != nil {
		return err
	}
	return l.flushCandidates()
}

func (l *PeerLink) close() {
	if l.media != nil {
		l.media.Close()
	}
}
