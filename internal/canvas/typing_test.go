package canvas

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

var errChannelDown = errors.New("channel not connected")

type lockedBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (f *lockedBroadcaster) Broadcast(t protocol.Type, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{Type: t, Payload: payload})
	return nil
}

func (f *lockedBroadcaster) snapshot() []broadcastCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]broadcastCall(nil), f.calls...)
}

func TestPreviewRequiresWriteCapability(t *testing.T) {
	bcast := &lockedBroadcaster{}
	p := NewPreview(me.Ref, &fakeCaps{}, bcast)

	if err := p.Update(protocol.TextTypingEvent{Text: "h"}); err != ErrNotPermitted {
		t.Errorf("expected ErrNotPermitted, got %v", err)
	}
	if len(bcast.snapshot()) != 0 {
		t.Error("an ungranted preview must never reach the wire")
	}
}

func TestPreviewThrottlesAndFlushesLatest(t *testing.T) {
	bcast := &lockedBroadcaster{}
	p := NewPreview(me.Ref, &fakeCaps{write: true}, bcast)
	p.gap = 20 * time.Millisecond

	// A burst faster than the gap: the first goes out, the rest collapse
	// into one trailing flush carrying the final text.
	p.Update(protocol.TextTypingEvent{Text: "h"})
	p.Update(protocol.TextTypingEvent{Text: "he"})
	p.Update(protocol.TextTypingEvent{Text: "hel"})
	p.Update(protocol.TextTypingEvent{Text: "hello"})

	time.Sleep(60 * time.Millisecond)

	calls := bcast.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected first send + trailing flush, got %d", len(calls))
	}
	if got := calls[1].Payload.(protocol.TextTypingEvent).Text; got != "hello" {
		t.Errorf("trailing flush must carry the latest text, got %q", got)
	}
}

func TestPreviewCancelDropsPending(t *testing.T) {
	bcast := &lockedBroadcaster{}
	p := NewPreview(me.Ref, &fakeCaps{write: true}, bcast)
	p.gap = 20 * time.Millisecond

	p.Update(protocol.TextTypingEvent{Text: "h"})
	p.Update(protocol.TextTypingEvent{Text: "he"})
	p.Cancel()

	time.Sleep(60 * time.Millisecond)

	if len(bcast.snapshot()) != 1 {
		t.Errorf("cancel must drop the held update, got %d sends", len(bcast.snapshot()))
	}
}

type failingThenOKBroadcaster struct {
	lockedBroadcaster
	failures int
}

func (f *failingThenOKBroadcaster) Broadcast(t protocol.Type, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, broadcastCall{Type: t, Payload: payload})
	if f.failures > 0 {
		f.failures--
		return errChannelDown
	}
	return nil
}

func TestPreviewSurvivesFlushFailure(t *testing.T) {
	bcast := &failingThenOKBroadcaster{failures: 2}
	p := NewPreview(me.Ref, &fakeCaps{write: true}, bcast)
	p.gap = 20 * time.Millisecond

	// First send and the trailing flush both fail; the preview must keep
	// working and the next keystroke after the gap still goes out.
	p.Update(protocol.TextTypingEvent{Text: "h"})
	p.Update(protocol.TextTypingEvent{Text: "he"})
	time.Sleep(60 * time.Millisecond)

	if err := p.Update(protocol.TextTypingEvent{Text: "hel"}); err != nil {
		t.Fatalf("update after failed flush: %v", err)
	}

	calls := bcast.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected all three attempts on the wire, got %d", len(calls))
	}
	if got := calls[2].Payload.(protocol.TextTypingEvent).Text; got != "hel" {
		t.Errorf("expected the post-failure update to send, got %q", got)
	}
}

func TestOverlaySkipsSelf(t *testing.T) {
	o := NewOverlay(me.Ref)

	o.Apply(me.Ref, protocol.TextTypingEvent{Text: "mine"})

	if len(o.Active()) != 0 {
		t.Error("a participant must never render its own typing preview")
	}
}

func TestOverlayExpiresPerSender(t *testing.T) {
	o := NewOverlay(me.Ref)
	o.ttl = 30 * time.Millisecond

	other := identity.Ref{ProfileID: 3, Kind: identity.KindStudent}

	o.Apply(peer, protocol.TextTypingEvent{Text: "a"})
	time.Sleep(20 * time.Millisecond)
	o.Apply(other, protocol.TextTypingEvent{Text: "b"})

	if len(o.Active()) != 2 {
		t.Fatalf("expected 2 live previews, got %d", len(o.Active()))
	}

	// peer's timer fires first; other's is independent and still live.
	time.Sleep(20 * time.Millisecond)
	if got := len(o.Active()); got != 1 {
		t.Fatalf("expected only the fresher preview to remain, got %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	if len(o.Active()) != 0 {
		t.Error("all previews should expire after their senders go quiet")
	}
}

func TestOverlayUpdateRestartsExpiry(t *testing.T) {
	o := NewOverlay(me.Ref)
	o.ttl = 40 * time.Millisecond

	o.Apply(peer, protocol.TextTypingEvent{Text: "a"})
	time.Sleep(25 * time.Millisecond)
	o.Apply(peer, protocol.TextTypingEvent{Text: "ab"})
	time.Sleep(25 * time.Millisecond)

	active := o.Active()
	if len(active) != 1 {
		t.Fatalf("an updated preview must stay live past the original deadline, got %d", len(active))
	}
	if active[0].Text != "ab" {
		t.Errorf("expected latest text, got %q", active[0].Text)
	}
}

func TestOverlayRemoveIsImmediate(t *testing.T) {
	o := NewOverlay(me.Ref)

	o.Apply(peer, protocol.TextTypingEvent{Text: "a"})
	o.Remove(peer)

	if len(o.Active()) != 0 {
		t.Error("remove must drop the preview without waiting for expiry")
	}
}
