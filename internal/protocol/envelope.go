package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/slateroom/slateroom/internal/identity"
)

type Type string

const (
	TypeCallInvitation       Type = "call_invitation"
	TypeCallOffer            Type = "call_offer"
	TypeCallAnswer           Type = "call_answer"
	TypeIceCandidate         Type = "ice_candidate"
	TypeCallDeclined         Type = "call_declined"
	TypeCallCancelled        Type = "call_cancelled"
	TypeCallEnded            Type = "call_ended"
	TypeCallParticipantLeft  Type = "call_participant_left"
	TypeCallReconnectRequest Type = "call_reconnect_request"

	TypeStroke     Type = "stroke"
	TypeTextTyping Type = "text_typing"
	TypeCursor     Type = "cursor"
	TypeClear      Type = "clear"
	TypeUndo       Type = "undo"

	TypePermissionRequest Type = "permission_request"
	TypePermissionGranted Type = "permission_granted"
	TypePermissionDenied  Type = "permission_denied"
	TypePermissionRevoked Type = "permission_revoked"

	TypePageChange  Type = "page_change"
	TypeColorChange Type = "color_change"
	TypeToolChange  Type = "tool_change"

	TypeUserOnline  Type = "user_online"
	TypeUserOffline Type = "user_offline"

	TypePing Type = "ping"
	TypePong Type = "pong"
)

// Address is one recipient or sender on the wire.
type Address struct {
	ProfileID   int64         `json:"profileId"`
	ProfileKind identity.Kind `json:"profileKind"`
}

func Addr(r identity.Ref) Address {
	return Address{ProfileID: r.ProfileID, ProfileKind: r.Kind}
}

func (a Address) Ref() identity.Ref {
	return identity.Ref{ProfileID: a.ProfileID, Kind: a.ProfileKind}
}

// Envelope is the wire frame every channel message travels in. Core code
// only ever sees the canonical From/To addressing; the legacy dual-field
// form for older peers exists purely inside the JSON codec below.
type Envelope struct {
	Type      Type
	SessionID string
	From      Address
	To        []Address
	Data      json.RawMessage
}

// New builds an envelope with the payload marshalled in place.
func New(t Type, sessionID string, from identity.Ref, payload any, to ...identity.Ref) (*Envelope, error) {
	env := &Envelope{
		Type:      t,
		SessionID: sessionID,
		From:      Addr(from),
		To:        make([]Address, 0, len(to)),
	}

	for _, r := range to {
		env.To = append(env.To, Addr(r))
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		env.Data = data
	}

	return env, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope carries no payload", e.Type)
	}

	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}

	return nil
}

// FromSelf reports whether the local participant sent this envelope.
func (e *Envelope) FromSelf(local identity.Ref) bool {
	return e.From.Ref() == local
}

type wireEnvelope struct {
	Type      Type            `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	FromID    int64           `json:"fromProfileId"`
	FromKind  identity.Kind   `json:"fromProfileKind"`
	To        []Address       `json:"to,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// Legacy dual-field addressing, kept for older peers. Populated on
	// encode for single-recipient envelopes, consulted on decode only
	// when the generic list is absent.
	ToStudentProfileID *int64 `json:"toStudentProfileId,omitempty"`
	ToTutorProfileID   *int64 `json:"toTutorProfileId,omitempty"`
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		Type:      e.Type,
		SessionID: e.SessionID,
		FromID:    e.From.ProfileID,
		FromKind:  e.From.ProfileKind,
		To:        e.To,
		Data:      e.Data,
	}

	if len(e.To) == 1 {
		id := e.To[0].ProfileID
		switch e.To[0].ProfileKind {
		case identity.KindStudent:
			w.ToStudentProfileID = &id
		case identity.KindTutor:
			w.ToTutorProfileID = &id
		}
	}

	return json.Marshal(w)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	e.Type = w.Type
	e.SessionID = w.SessionID
	e.From = Address{ProfileID: w.FromID, ProfileKind: w.FromKind}
	e.To = w.To
	e.Data = w.Data

	if len(e.To) == 0 {
		if w.ToStudentProfileID != nil {
			e.To = append(e.To, Address{ProfileID: *w.ToStudentProfileID, ProfileKind: identity.KindStudent})
		}
		if w.ToTutorProfileID != nil {
			e.To = append(e.To, Address{ProfileID: *w.ToTutorProfileID, ProfileKind: identity.KindTutor})
		}
	}

	return nil
}
