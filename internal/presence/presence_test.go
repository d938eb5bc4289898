package presence

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
	"github.com/slateroom/slateroom/internal/store"
)

type fakeHistorian struct {
	records []store.CallRecord
}

func (f *fakeHistorian) SaveCallRecord(ctx context.Context, rec *store.CallRecord) error {
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeHistorian) CallHistory(ctx context.Context, profile identity.Ref, limit int) ([]store.CallRecord, error) {
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit], nil
}

var (
	me   = identity.Ref{ProfileID: 1, Kind: identity.KindStudent}
	peer = identity.Ref{ProfileID: 2, Kind: identity.KindTutor}
)

func TestOnlineOfflineRoundTrip(t *testing.T) {
	tr := NewTracker(me, &fakeHistorian{})

	if tr.Online(peer) {
		t.Error("peer must start offline")
	}

	tr.ApplyOnline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "tutor", DisplayName: "T"})
	if !tr.Online(peer) {
		t.Error("peer must be online after user_online")
	}

	tr.ApplyOffline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "tutor"})
	if tr.Online(peer) {
		t.Error("peer must be offline after user_offline")
	}
}

func TestKindsDoNotCollide(t *testing.T) {
	tr := NewTracker(me, &fakeHistorian{})

	tr.ApplyOnline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "tutor"})

	student := identity.Ref{ProfileID: 2, Kind: identity.KindStudent}
	if tr.Online(student) {
		t.Error("a profile id is unique only within its kind")
	}
}

func TestOwnHeartbeatIgnored(t *testing.T) {
	tr := NewTracker(me, &fakeHistorian{})

	tr.ApplyOnline(protocol.PresenceEvent{ProfileID: 1, ProfileKind: "student"})

	if len(tr.Roster()) != 0 {
		t.Error("the local participant must not appear in its own roster")
	}
}

func TestUnknownKindRejected(t *testing.T) {
	tr := NewTracker(me, &fakeHistorian{})

	if err := tr.ApplyOnline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "admin"}); err == nil {
		t.Error("expected an error for an unknown profile kind")
	}
}

func TestChangeHookFiresOnTransitionsOnly(t *testing.T) {
	tr := NewTracker(me, &fakeHistorian{})

	changes := 0
	tr.OnChange(func() { changes++ })

	tr.ApplyOnline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "tutor"})
	tr.ApplyOnline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "tutor"}) // heartbeat refresh
	tr.ApplyOffline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "tutor"})
	tr.ApplyOffline(protocol.PresenceEvent{ProfileID: 2, ProfileKind: "tutor"}) // already gone

	if changes != 2 {
		t.Errorf("expected 2 roster changes, got %d", changes)
	}
}

func TestRecordMissedAndHistory(t *testing.T) {
	hist := &fakeHistorian{}
	tr := NewTracker(me, hist)

	rec := &store.CallRecord{ID: uuid.New(), SessionID: uuid.New(), Caller: peer, Callee: me}
	if err := tr.RecordMissed(context.Background(), rec); err != nil {
		t.Fatalf("record missed: %v", err)
	}

	if len(hist.records) != 1 || hist.records[0].Status != store.CallMissed {
		t.Errorf("expected one missed record, got %+v", hist.records)
	}

	got, err := tr.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(got))
	}
}
