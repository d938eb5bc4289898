package permission

import (
	"testing"

	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

type fakeSession struct {
	host  identity.Ref
	local identity.Ref
}

func (f *fakeSession) IsHost() bool       { return f.host == f.local }
func (f *fakeSession) Host() identity.Ref { return f.host }

type sentMessage struct {
	Type protocol.Type
	To   []identity.Ref
}

type fakeMessenger struct {
	sent []sentMessage
}

func (f *fakeMessenger) Send(t protocol.Type, payload any, to ...identity.Ref) error {
	f.sent = append(f.sent, sentMessage{Type: t, To: to})
	return nil
}

var (
	hostRef    = identity.Ref{ProfileID: 1, Kind: identity.KindTutor}
	studentRef = identity.Ref{ProfileID: 2, Kind: identity.KindStudent}
)

func newHostState() (*State, *fakeMessenger) {
	msgr := &fakeMessenger{}
	return New(&fakeSession{host: hostRef, local: hostRef}, msgr), msgr
}

func newParticipantState() (*State, *fakeMessenger) {
	msgr := &fakeMessenger{}
	return New(&fakeSession{host: hostRef, local: studentRef}, msgr), msgr
}

func TestLoadSeedsRestoredSets(t *testing.T) {
	s, _ := newParticipantState()

	s.Load(map[string]board.PermissionSet{
		studentRef.Key(): {CanDraw: true, CanWrite: true},
	})

	if !s.CanDraw(studentRef) || !s.CanWrite(studentRef) {
		t.Error("restored capabilities must gate tools like live grants")
	}
	if s.CanErase(studentRef) {
		t.Error("capabilities absent from the snapshot must stay off")
	}
}

func TestHostSupremacy(t *testing.T) {
	s, _ := newHostState()

	// Whatever the stored sets say, the host can do everything.
	s.sets[hostRef.Key()] = s.sets[hostRef.Key()] // untouched, all false

	if !s.CanDraw(hostRef) || !s.CanWrite(hostRef) || !s.CanErase(hostRef) {
		t.Error("host capability checks must always be true")
	}
	if !s.CanChangeColor(hostRef) {
		t.Error("host must be able to change color")
	}
}

func TestParticipantStartsWithNothing(t *testing.T) {
	s, _ := newParticipantState()

	if s.CanDraw(studentRef) || s.CanWrite(studentRef) || s.CanErase(studentRef) {
		t.Error("non-host participants must start with all capabilities off")
	}
	if s.CanChangeColor(studentRef) {
		t.Error("color change requires draw or write")
	}
}

func TestNoDuplicatePendingRequests(t *testing.T) {
	s, _ := newHostState()

	s.HandleRequest(studentRef, "P")
	s.HandleRequest(studentRef, "P")

	if got := len(s.Pending()); got != 1 {
		t.Errorf("expected exactly 1 pending request, got %d", got)
	}
}

func TestGrantConsumesRequestAndEmitsAddressedMessage(t *testing.T) {
	s, msgr := newHostState()

	s.HandleRequest(studentRef, "P")
	if err := s.Grant(studentRef); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if len(s.Pending()) != 0 {
		t.Error("grant must consume the pending request")
	}
	if len(s.Grants()) != 1 {
		t.Errorf("expected 1 active grant, got %d", len(s.Grants()))
	}

	set := s.ForParticipant(studentRef)
	if !set.CanDraw || !set.CanWrite || !set.CanErase {
		t.Errorf("grant must turn on all three flags, got %+v", set)
	}

	if len(msgr.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgr.sent))
	}
	if msgr.sent[0].Type != protocol.TypePermissionGranted {
		t.Errorf("expected permission_granted, got %s", msgr.sent[0].Type)
	}
	if len(msgr.sent[0].To) != 1 || msgr.sent[0].To[0] != studentRef {
		t.Errorf("grant must be addressed to the requester, got %v", msgr.sent[0].To)
	}
}

func TestGrantIdempotence(t *testing.T) {
	s, msgr := newHostState()

	s.HandleRequest(studentRef, "P")
	if err := s.Grant(studentRef); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := s.Grant(studentRef); err != nil {
		t.Fatalf("second grant: %v", err)
	}

	if len(s.Grants()) != 1 {
		t.Errorf("expected 1 active grant after double grant, got %d", len(s.Grants()))
	}
	if len(msgr.sent) != 1 {
		t.Errorf("second grant must not re-emit, got %d messages", len(msgr.sent))
	}
}

func TestRevokeIdempotence(t *testing.T) {
	s, msgr := newHostState()

	s.HandleRequest(studentRef, "P")
	s.Grant(studentRef)

	if err := s.Revoke(studentRef); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	before := len(msgr.sent)

	if err := s.Revoke(studentRef); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	if len(s.Grants()) != 0 {
		t.Errorf("expected no active grants, got %d", len(s.Grants()))
	}
	if set := s.ForParticipant(studentRef); set.CanDraw || set.CanWrite || set.CanErase {
		t.Errorf("revoke must reset all flags, got %+v", set)
	}
	if len(msgr.sent) != before {
		t.Error("revoking an already-revoked participant must not emit")
	}
}

func TestRevokeLastGrantTurnsInteractionOff(t *testing.T) {
	s, _ := newHostState()

	var toggles []bool
	s.OnInteractionToggle(func(enabled bool) { toggles = append(toggles, enabled) })

	other := identity.Ref{ProfileID: 3, Kind: identity.KindStudent}

	s.HandleRequest(studentRef, "P")
	s.HandleRequest(other, "Q")
	s.GrantAll()

	s.Revoke(studentRef)
	if len(toggles) > 0 && !toggles[len(toggles)-1] {
		t.Error("interaction must stay on while a grant remains")
	}

	s.Revoke(other)
	if len(toggles) == 0 || toggles[len(toggles)-1] {
		t.Error("revoking the last grant must turn interaction off")
	}
}

func TestDenyConsumesRequest(t *testing.T) {
	s, msgr := newHostState()

	s.HandleRequest(studentRef, "P")
	if err := s.Deny(studentRef); err != nil {
		t.Fatalf("deny: %v", err)
	}

	if len(s.Pending()) != 0 {
		t.Error("deny must consume the pending request")
	}
	if len(s.Grants()) != 0 {
		t.Error("deny must not create a grant")
	}
	if len(msgr.sent) != 1 || msgr.sent[0].Type != protocol.TypePermissionDenied {
		t.Errorf("expected a single permission_denied, got %+v", msgr.sent)
	}
}

func TestRequestSentOnceWhilePending(t *testing.T) {
	s, msgr := newParticipantState()

	local := identity.Local{Ref: studentRef, DisplayName: "P"}
	s.Request(local)
	s.Request(local)

	if len(msgr.sent) != 1 {
		t.Errorf("expected 1 request on the wire, got %d", len(msgr.sent))
	}
	if msgr.sent[0].To[0] != hostRef {
		t.Errorf("request must be addressed to the host, got %v", msgr.sent[0].To)
	}

	// After a denial the participant may ask again.
	s.ApplyDenied(studentRef)
	s.Request(local)
	if len(msgr.sent) != 2 {
		t.Errorf("expected a fresh request after denial, got %d", len(msgr.sent))
	}
}

func TestApplyGrantedMutatesLocalFlagsOnly(t *testing.T) {
	s, msgr := newParticipantState()

	s.ApplyGranted(studentRef, protocol.PermissionGrantEvent{CanDraw: true, CanWrite: true, CanErase: true})

	if !s.CanDraw(studentRef) || !s.CanWrite(studentRef) || !s.CanErase(studentRef) {
		t.Error("applying a grant must enable local capabilities")
	}
	if len(msgr.sent) != 0 {
		t.Error("applying an inbound grant must not re-broadcast")
	}

	s.ApplyRevoked(studentRef)
	if s.CanDraw(studentRef) {
		t.Error("applying a revoke must disable local capabilities")
	}
}
