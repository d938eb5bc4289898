package canvas

import (
	"log/slog"
	"sync"
	"time"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

// Preview throttles outbound typing updates to one per TypingMinGap.
// When keystrokes arrive faster, the latest state is held and flushed
// when the gap elapses, so receivers always converge on the final text.
type Preview struct {
	local identity.Ref
	caps  Capabilities
	bcast Broadcaster

	gap time.Duration

	mu       sync.Mutex
	lastSent time.Time
	pending  *protocol.TextTypingEvent
	flushSet bool
}

func NewPreview(local identity.Ref, caps Capabilities, bcast Broadcaster) *Preview {
	return &Preview{
		local: local,
		caps:  caps,
		bcast: bcast,
		gap:   constant.TypingMinGap,
	}
}

// Update is called on every local keystroke with the full in-progress
// text and anchor.
func (p *Preview) Update(ev protocol.TextTypingEvent) error {
	if !p.caps.CanWrite(p.local) {
		return ErrNotPermitted
	}

	p.mu.Lock()

	elapsed := time.Since(p.lastSent)
	if elapsed < p.gap {
		p.pending = &ev
		if !p.flushSet {
			p.flushSet = true
			time.AfterFunc(p.gap-elapsed, p.flush)
		}
		p.mu.Unlock()
		return nil
	}

	p.lastSent = time.Now()
	p.mu.Unlock()

	return p.bcast.Broadcast(protocol.TypeTextTyping, ev)
}

// Cancel drops any held update, typically on Escape or a revoke.
func (p *Preview) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = nil
}

func (p *Preview) flush() {
	p.mu.Lock()
	p.flushSet = false
	ev := p.pending
	p.pending = nil
	if ev == nil {
		p.mu.Unlock()
		return
	}
	p.lastSent = time.Now()
	p.mu.Unlock()

	if err := p.bcast.Broadcast(protocol.TypeTextTyping, *ev); err != nil {
		slog.Error("flush typing preview", slog.Any(constant.Error, err))
	}
}

// Overlay holds remote typing previews. Each sender's entry self-expires
// TypingExpiry after that sender's last update; expiry timers are
// independent across senders.
type Overlay struct {
	local identity.Ref
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*overlayEntry

	onChange func()
}

type overlayEntry struct {
	From  identity.Ref
	Event protocol.TextTypingEvent
	timer *time.Timer
}

func NewOverlay(local identity.Ref) *Overlay {
	return &Overlay{
		local:   local,
		ttl:     constant.TypingExpiry,
		entries: make(map[string]*overlayEntry),
	}
}

// OnChange registers the render hook fired whenever the overlay set
// changes.
func (o *Overlay) OnChange(f func()) { o.onChange = f }

// Apply records a remote preview and restarts that sender's expiry.
func (o *Overlay) Apply(from identity.Ref, ev protocol.TextTypingEvent) {
	if from == o.local {
		return
	}

	o.mu.Lock()
	key := from.Key()

	if existing, ok := o.entries[key]; ok {
		existing.Event = ev
		existing.timer.Reset(o.ttl)
		o.mu.Unlock()
		o.changed()
		return
	}

	entry := &overlayEntry{From: from, Event: ev}
	entry.timer = time.AfterFunc(o.ttl, func() { o.expire(key) })
	o.entries[key] = entry
	o.mu.Unlock()
	o.changed()
}

// Remove drops a sender's preview immediately, e.g. when they commit the
// text or leave the session.
func (o *Overlay) Remove(from identity.Ref) {
	o.mu.Lock()
	if entry, ok := o.entries[from.Key()]; ok {
		entry.timer.Stop()
		delete(o.entries, from.Key())
	}
	o.mu.Unlock()
	o.changed()
}

// Active returns the previews currently on screen.
func (o *Overlay) Active() []protocol.TextTypingEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]protocol.TextTypingEvent, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, e.Event)
	}
	return out
}

func (o *Overlay) expire(key string) {
	o.mu.Lock()
	delete(o.entries, key)
	o.mu.Unlock()
	o.changed()
}

func (o *Overlay) changed() {
	if o.onChange != nil {
		o.onChange()
	}
}
