package protocol

import (
	"github.com/pion/webrtc/v4"

	"github.com/slateroom/slateroom/internal/domain/board"
)

// CallInvitationEvent surfaces the incoming-call UI. The roster lets a
// multi-party invitee build its side of the mesh without extra round
// trips: invitees offer to each other, host offers to everyone.
type CallInvitationEvent struct {
	CallerName       string    `json:"callerName"`
	IsMultiParty     bool      `json:"isMultiParty"`
	ParticipantCount int       `json:"participantCount"`
	Roster           []Address `json:"roster,omitempty"`
}

type SDPEvent struct {
	SDP     string `json:"sdp"`
	SDPType string `json:"sdpType"`
}

type CandidateEvent struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type CallEndedEvent struct {
	EnderName string `json:"enderName"`
}

type ParticipantLeftEvent struct {
	LeaverName string `json:"leaverName"`
}

type StrokeEvent struct {
	PageID string       `json:"pageId"`
	Stroke board.Stroke `json:"stroke"`
}

type TextTypingEvent struct {
	Text  string  `json:"text"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
}

type CursorEvent struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UndoEvent carries the expected stroke count after the pop so receivers
// can detect divergence instead of drifting silently.
type UndoEvent struct {
	PageID    string `json:"pageId"`
	Remaining int    `json:"remaining"`
}

type ClearEvent struct {
	PageID string `json:"pageId"`
}

type PermissionRequestEvent struct {
	RequesterName string `json:"requesterName"`
}

type PermissionGrantEvent struct {
	CanDraw  bool `json:"canDraw"`
	CanWrite bool `json:"canWrite"`
	CanErase bool `json:"canErase"`
}

type PageAction string

const (
	PageActionAdd      PageAction = "add"
	PageActionNavigate PageAction = "navigate"
	PageActionDelete   PageAction = "delete"
)

// PageChangeEvent carries the full page payload so receivers never have
// to re-request it from durable storage.
type PageChangeEvent struct {
	Action PageAction  `json:"action"`
	PageID string      `json:"pageId"`
	Page   *board.Page `json:"page,omitempty"`
}

type ValueEvent struct {
	Value string `json:"value"`
}

type PresenceEvent struct {
	ProfileID   int64  `json:"profileId"`
	ProfileKind string `json:"profileKind"`
	DisplayName string `json:"displayName,omitempty"`
}
