// Package agent assembles the participant-side engine: one channel, one
// router, and every component hanging off them, with exactly one
// handler registered per message kind.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/slateroom/slateroom/internal/application/config"
	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/call"
	"github.com/slateroom/slateroom/internal/canvas"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/pages"
	"github.com/slateroom/slateroom/internal/permission"
	"github.com/slateroom/slateroom/internal/presence"
	"github.com/slateroom/slateroom/internal/protocol"
	"github.com/slateroom/slateroom/internal/router"
	"github.com/slateroom/slateroom/internal/session"
	"github.com/slateroom/slateroom/internal/store"
)

// Agent is one participant's running engine.
type Agent struct {
	sess    *session.Session
	channel *router.Channel
	router  *router.Router

	Permissions *permission.State
	Canvas      *canvas.Engine
	Preview     *canvas.Preview
	Overlay     *canvas.Overlay
	Pages       *pages.Coordinator
	Call        *call.Manager
	Presence    *presence.Tracker

	sessionOpen atomic.Bool
}

// discardSink drops inbound audio; playback belongs to the presentation
// layer, which attaches its own sink.
type discardSink struct{}

func (discardSink) WriteRTP(from identity.Ref, pkt *rtp.Packet) error { return nil }

// New resolves the local identity from the session token and wires the
// full component graph. A configured session id resumes that session
// from the store; otherwise a fresh one is created and persisted.
func New(ctx context.Context, cfg *config.Config, st store.Store) (*Agent, error) {
	local, err := identity.Resolve(cfg.SessionToken, []byte(cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	sessID := uuid.New()
	if cfg.SessionID != "" {
		sessID, err = uuid.Parse(cfg.SessionID)
		if err != nil {
			return nil, fmt.Errorf("parse session id: %w", err)
		}
	}

	sess := session.New(sessID, local)
	channel := router.NewChannel(cfg.RelayURL, cfg.SessionToken, local)
	rt := router.New(sess, channel)

	perms := permission.New(sess, rt)
	tracker := presence.NewTracker(local.Ref, st)

	negotiator := call.NewWebRTCNegotiator(cfg.ICEServers(), discardSink{})
	mgr := call.NewManager(sess, rt, negotiator, tracker, st)

	coord := pages.NewCoordinator(sess.ID, local, sess.IsHost, perms, rt, st)
	coord.SetCallActive(mgr.Active)

	if err := restoreSession(ctx, st, sess, perms, coord); err != nil {
		return nil, err
	}

	engine := canvas.NewEngine(local, perms, rt, st, coord)
	preview := canvas.NewPreview(local.Ref, perms, rt)
	overlay := canvas.NewOverlay(local.Ref)

	a := &Agent{
		sess:        sess,
		channel:     channel,
		router:      rt,
		Permissions: perms,
		Canvas:      engine,
		Preview:     preview,
		Overlay:     overlay,
		Pages:       coord,
		Call:        mgr,
		Presence:    tracker,
	}

	channel.OnEnvelope(rt.Dispatch)
	channel.SetCallActive(mgr.Active)
	channel.SetSessionOpen(a.sessionOpen.Load)

	a.registerHandlers(local)
	return a, nil
}

// restoreSession rehydrates the page collection and permission sets for
// a known session, or persists the initial record and seed page for a
// new one.
func restoreSession(ctx context.Context, st store.Store, sess *session.Session, perms *permission.State, coord *pages.Coordinator) error {
	snap, err := st.LoadSession(ctx, sess.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec := &store.SessionRecord{ID: sess.ID, CreatedAt: time.Now()}
		if err := st.SaveSession(ctx, rec); err != nil {
			return fmt.Errorf("save session record: %w", err)
		}
		if err := st.SavePage(ctx, sess.ID, coord.Current()); err != nil {
			return fmt.Errorf("save seed page: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	}

	coord.Load(snap.Pages)
	perms.Load(snap.Permissions)
	return nil
}

// Run keeps the channel alive until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	a.sessionOpen.Store(true)
	defer a.sessionOpen.Store(false)

	return a.channel.Run(ctx)
}

// Session exposes the shared session context.
func (a *Agent) Session() *session.Session { return a.sess }

func (a *Agent) registerHandlers(local identity.Local) {
	rt := a.router

	rt.Handle(protocol.TypeCallInvitation, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.CallInvitationEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Call.HandleInvitation(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeCallOffer, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.SDPEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Call.HandleOffer(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeCallAnswer, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.SDPEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Call.HandleAnswer(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeIceCandidate, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.CandidateEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Call.HandleCandidate(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeCallDeclined, func(ctx context.Context, env *protocol.Envelope) error {
		return a.Call.HandleDeclined(ctx, env.From.Ref())
	})

	rt.Handle(protocol.TypeCallCancelled, func(ctx context.Context, env *protocol.Envelope) error {
		return a.Call.HandleCancelled(env.From.Ref())
	})

	rt.Handle(protocol.TypeCallEnded, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.CallEndedEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Call.HandleEnded(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeCallParticipantLeft, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.ParticipantLeftEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		a.Overlay.Remove(env.From.Ref())
		return a.Call.HandleParticipantLeft(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeCallReconnectRequest, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.PresenceEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Call.HandleReconnectRequest(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeStroke, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.StrokeEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Canvas.ApplyRemoteStroke(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeTextTyping, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.TextTypingEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		a.Overlay.Apply(env.From.Ref(), ev)
		return nil
	})

	rt.Handle(protocol.TypeCursor, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.CursorEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		a.Canvas.ApplyRemoteCursor(env.From.Ref(), ev)
		return nil
	})

	rt.Handle(protocol.TypeUndo, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.UndoEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Canvas.ApplyRemoteUndo(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeClear, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.ClearEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Canvas.ApplyRemoteClear(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypePermissionRequest, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.PermissionRequestEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		a.Permissions.HandleRequest(env.From.Ref(), ev.RequesterName)
		return nil
	})

	rt.Handle(protocol.TypePermissionGranted, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.PermissionGrantEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		a.Permissions.ApplyGranted(local.Ref, ev)
		return nil
	})

	rt.Handle(protocol.TypePermissionDenied, func(ctx context.Context, env *protocol.Envelope) error {
		a.Permissions.ApplyDenied(local.Ref)
		return nil
	})

	rt.Handle(protocol.TypePermissionRevoked, func(ctx context.Context, env *protocol.Envelope) error {
		// A revoke terminates any in-flight local action; committed
		// state stays untouched.
		a.Permissions.ApplyRevoked(local.Ref)
		a.Preview.Cancel()
		a.Canvas.CancelComposing()
		return nil
	})

	rt.Handle(protocol.TypePageChange, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.PageChangeEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Pages.ApplyRemote(env.From.Ref(), ev)
	})

	rt.Handle(protocol.TypeColorChange, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.ValueEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		a.Canvas.ApplyRemoteColor(env.From.Ref(), ev)
		return nil
	})

	rt.Handle(protocol.TypeToolChange, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.ValueEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		a.Canvas.ApplyRemoteTool(env.From.Ref(), ev)
		return nil
	})

	rt.Handle(protocol.TypeUserOnline, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.PresenceEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Presence.ApplyOnline(ev)
	})

	rt.Handle(protocol.TypeUserOffline, func(ctx context.Context, env *protocol.Envelope) error {
		var ev protocol.PresenceEvent
		if err := env.Decode(&ev); err != nil {
			return err
		}
		return a.Presence.ApplyOffline(ev)
	})

	rt.Handle(protocol.TypePong, func(ctx context.Context, env *protocol.Envelope) error {
		slog.Debug("pong", slog.String(constant.Peer, env.From.Ref().Key()))
		return nil
	})
}
