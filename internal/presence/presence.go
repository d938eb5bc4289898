// Package presence tracks who is reachable right now and keeps the
// call-history view fed from the durable store.
package presence

import (
	"context"
	"log/slog"
	"sync"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
	"github.com/slateroom/slateroom/internal/store"
)

// Historian is the slice of the store presence needs.
type Historian interface {
	SaveCallRecord(ctx context.Context, rec *store.CallRecord) error
	CallHistory(ctx context.Context, profile identity.Ref, limit int) ([]store.CallRecord, error)
}

// Tracker maintains the online set from user_online/user_offline
// traffic.
type Tracker struct {
	local identity.Ref
	hist  Historian

	mu     sync.RWMutex
	online map[string]identity.Local

	onChange func()
}

func NewTracker(local identity.Ref, hist Historian) *Tracker {
	return &Tracker{
		local:  local,
		hist:   hist,
		online: make(map[string]identity.Local),
	}
}

// OnChange registers the roster-render hook.
func (t *Tracker) OnChange(f func()) { t.onChange = f }

// ApplyOnline records a participant as reachable.
func (t *Tracker) ApplyOnline(ev protocol.PresenceEvent) error {
	kind, err := identity.ParseKind(ev.ProfileKind)
	if err != nil {
		return err
	}

	ref := identity.Ref{ProfileID: ev.ProfileID, Kind: kind}
	if ref == t.local {
		return nil
	}

	t.mu.Lock()
	_, known := t.online[ref.Key()]
	t.online[ref.Key()] = identity.Local{Ref: ref, DisplayName: ev.DisplayName}
	t.mu.Unlock()

	if !known {
		slog.Debug("participant online", slog.String(constant.Peer, ref.Key()))
		t.changed()
	}
	return nil
}

// ApplyOffline removes a participant from the online set.
func (t *Tracker) ApplyOffline(ev protocol.PresenceEvent) error {
	kind, err := identity.ParseKind(ev.ProfileKind)
	if err != nil {
		return err
	}

	ref := identity.Ref{ProfileID: ev.ProfileID, Kind: kind}

	t.mu.Lock()
	_, known := t.online[ref.Key()]
	delete(t.online, ref.Key())
	t.mu.Unlock()

	if known {
		slog.Debug("participant offline", slog.String(constant.Peer, ref.Key()))
		t.changed()
	}
	return nil
}

// Online reports whether a participant is currently reachable.
func (t *Tracker) Online(ref identity.Ref) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.online[ref.Key()]
	return ok
}

// Roster returns everyone currently online.
func (t *Tracker) Roster() []identity.Local {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]identity.Local, 0, len(t.online))
	for _, p := range t.online {
		out = append(out, p)
	}
	return out
}

// RecordMissed books a missed call against the history.
func (t *Tracker) RecordMissed(ctx context.Context, rec *store.CallRecord) error {
	rec.Status = store.CallMissed
	return t.hist.SaveCallRecord(ctx, rec)
}

// History returns the local participant's recent calls, newest first.
func (t *Tracker) History(ctx context.Context, limit int) ([]store.CallRecord, error) {
	return t.hist.CallHistory(ctx, t.local, limit)
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}
