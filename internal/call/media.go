package call

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

// MediaErrorCategory classifies acquisition failures so the user gets a
// specific message. Fatal to the current call attempt only; no retries.
type MediaErrorCategory string

const (
	MediaPermissionDenied MediaErrorCategory = "permission_denied"
	MediaDeviceBusy       MediaErrorCategory = "device_busy"
	MediaDeviceNotFound   MediaErrorCategory = "device_not_found"
	MediaUnknown          MediaErrorCategory = "unknown"
)

type MediaError struct {
	Category MediaErrorCategory
	Err      error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.Category, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// ClassifyMediaError maps a device-layer failure onto a category by its
// message. Unrecognized failures stay MediaUnknown.
func ClassifyMediaError(err error) *MediaError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return &MediaError{Category: MediaPermissionDenied, Err: err}
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return &MediaError{Category: MediaDeviceBusy, Err: err}
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no device"):
		return &MediaError{Category: MediaDeviceNotFound, Err: err}
	default:
		return &MediaError{Category: MediaUnknown, Err: err}
	}
}

// MediaLink is one peer connection's negotiation surface. The mesh
// manager never touches pion types beyond candidates.
type MediaLink interface {
	CreateOffer() (protocol.SDPEvent, error)
	CreateAnswer(remote protocol.SDPEvent) (protocol.SDPEvent, error)
	AcceptAnswer(remote protocol.SDPEvent) error
	AddCandidate(c webrtc.ICECandidateInit) error
	OnCandidate(f func(c webrtc.ICECandidateInit))
	OnStateChange(f func(s LinkState))
	Close() error
}

// Negotiator acquires local media once per call attempt and mints one
// MediaLink per remote participant.
type Negotiator interface {
	Acquire() error
	Release()
	NewLink(remote identity.Ref) (MediaLink, error)
}

// webrtcNegotiator is the production Negotiator backed by pion.
type webrtcNegotiator struct {
	iceServers []webrtc.ICEServer
	sink       RTPSink
}

// RTPSink receives decoded inbound audio, keyed by sender, for local
// playback or fan-out.
type RTPSink interface {
	WriteRTP(from identity.Ref, pkt *rtp.Packet) error
}

func NewWebRTCNegotiator(iceServers []webrtc.ICEServer, sink RTPSink) Negotiator {
	return &webrtcNegotiator{iceServers: iceServers, sink: sink}
}

// Acquire is where device capture would be claimed. The RTP-level agent
// has no exclusive device, so acquisition always succeeds here and the
// MediaError paths exercise on the client edge.
func (n *webrtcNegotiator) Acquire() error { return nil }

func (n *webrtcNegotiator) Release() {}

func (n *webrtcNegotiator) NewLink(remote identity.Ref) (MediaLink, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: n.iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "slateroom",
	)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	if _, err = pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	link := &webrtcLink{pc: pc, track: audioTrack}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		go func() {
			for {
				pkt, _, err := track.ReadRTP()
				if err != nil {
					if !errors.Is(err, io.EOF) {
						slog.Error("RTP read error", slog.Any(constant.Error, err))
					}
					return
				}

				if track.Kind() == webrtc.RTPCodecTypeAudio && n.sink != nil {
					if err := n.sink.WriteRTP(remote, pkt); err != nil {
						slog.Error("write RTP", slog.Any(constant.Error, err), slog.String(constant.Peer, remote.Key()))
					}
				}
			}
		}()
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		link.mu.Lock()
		f := link.onCandidate
		link.mu.Unlock()
		if f != nil {
			f(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		link.mu.Lock()
		f := link.onState
		link.mu.Unlock()
		if f != nil {
			f(mapConnectionState(s))
		}
	})

	return link, nil
}

func mapConnectionState(s webrtc.PeerConnectionState) LinkState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return LinkDisconnected
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return LinkFailed
	case webrtc.PeerConnectionStateNew:
		return LinkNew
	default:
		return LinkPending
	}
}

type webrtcLink struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticRTP

	mu          sync.Mutex
	onCandidate func(c webrtc.ICECandidateInit)
	onState     func(s LinkState)
}

func (l *webrtcLink) CreateOffer() (protocol.SDPEvent, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SDPEvent{}, fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return protocol.SDPEvent{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.SDPEvent{SDP: offer.SDP, SDPType: offer.Type.String()}, nil
}

func (l *webrtcLink) CreateAnswer(remote protocol.SDPEvent) (protocol.SDPEvent, error) {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  remote.SDP,
	}); err != nil {
		return protocol.SDPEvent{}, fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SDPEvent{}, fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return protocol.SDPEvent{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.SDPEvent{SDP: answer.SDP, SDPType: answer.Type.String()}, nil
}

func (l *webrtcLink) AcceptAnswer(remote protocol.SDPEvent) error {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  remote.SDP,
	}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

func (l *webrtcLink) AddCandidate(c webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(c)
}

func (l *webrtcLink) OnCandidate(f func(c webrtc.ICECandidateInit)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onCandidate = f
}

func (l *webrtcLink) OnStateChange(f func(s LinkState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = f
}

func (l *webrtcLink) Close() error {
	return l.pc.Close()
}
