// Package canvas implements local-first stroke capture and the
// synchronization protocol that keeps every participant's page state
// consistent: commit = append + persist + broadcast, idempotent remote
// replay, and undo/clear carrying the expected remaining count.
package canvas

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/application/metric"
	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

// ErrNotPermitted rejects a local action before any message is built.
// It never crosses the wire.
var ErrNotPermitted = errors.New("canvas: not permitted")

// ErrNotComposing signals commit/extend without a pointer-down first.
var ErrNotComposing = errors.New("canvas: no stroke in progress")

// Capabilities answers what the local participant may do right now.
// Satisfied by *permission.State.
type Capabilities interface {
	CanDraw(local identity.Ref) bool
	CanWrite(local identity.Ref) bool
	CanErase(local identity.Ref) bool
}

// Broadcaster fans a message out to every session participant.
// Satisfied by *router.Router.
type Broadcaster interface {
	Broadcast(t protocol.Type, payload any) error
}

// Persister is the slice of the durable store the engine needs.
type Persister interface {
	SaveStroke(ctx context.Context, pageID uuid.UUID, stroke *board.Stroke) error
	DeleteLastStroke(ctx context.Context, pageID uuid.UUID) error
	ClearStrokes(ctx context.Context, pageID uuid.UUID) error
}

// Pages resolves page state owned by the page coordinator.
type Pages interface {
	Current() *board.Page
	ByID(id uuid.UUID) (*board.Page, bool)
}

// Engine runs the per-page composing state machine. A stroke accumulates
// locally between pointer-down and pointer-up; only on commit does it
// reach the page list, the store, and the wire.
type Engine struct {
	local identity.Local
	caps  Capabilities
	bcast Broadcaster
	store Persister
	pages Pages

	composing *board.Stroke

	onRepaint func(pageID uuid.UUID)
	onCursor  func(from identity.Ref, ev protocol.CursorEvent)
	onColor   func(from identity.Ref, value string)
	onTool    func(from identity.Ref, value string)
}

func NewEngine(local identity.Local, caps Capabilities, bcast Broadcaster, store Persister, pages Pages) *Engine {
	return &Engine{
		local: local,
		caps:  caps,
		bcast: bcast,
		store: store,
		pages: pages,
	}
}

// OnRepaint registers the full-page redraw hook fired after any stroke
// list mutation that is not a simple append.
func (e *Engine) OnRepaint(f func(pageID uuid.UUID)) { e.onRepaint = f }

func (e *Engine) OnCursor(f func(from identity.Ref, ev protocol.CursorEvent)) { e.onCursor = f }
func (e *Engine) OnColor(f func(from identity.Ref, value string))             { e.onColor = f }
func (e *Engine) OnTool(f func(from identity.Ref, value string))              { e.onTool = f }

// allowed maps a stroke kind to the capability that gates it.
func (e *Engine) allowed(kind board.StrokeKind) bool {
	switch kind {
	case board.StrokeErase:
		return e.caps.CanErase(e.local.Ref)
	case board.StrokeText:
		return e.caps.CanWrite(e.local.Ref)
	default:
		return e.caps.CanDraw(e.local.Ref)
	}
}

// Begin enters the composing state on pointer-down. A permission
// violation is rejected here, locally, before anything is constructed.
func (e *Engine) Begin(kind board.StrokeKind, color string, width float64) error {
	if !e.allowed(kind) {
		return ErrNotPermitted
	}

	e.composing = &board.Stroke{
		ID:     uuid.New(),
		Kind:   kind,
		Color:  color,
		Width:  width,
		Author: e.local.Ref,
	}
	return nil
}

// Extend accumulates a point while composing. Rendering of the
// in-progress stroke is the presentation layer's job; the engine only
// tracks the points.
func (e *Engine) Extend(p board.Point) error {
	if e.composing == nil {
		return ErrNotComposing
	}

	e.composing.Points = append(e.composing.Points, p)
	return nil
}

// CancelComposing discards the in-progress stroke. Committed state is
// untouched.
func (e *Engine) CancelComposing() {
	e.composing = nil
}

// Composing reports whether a stroke is currently in progress.
func (e *Engine) Composing() bool { return e.composing != nil }

// Commit finalizes the in-progress stroke on pointer-up: append to the
// current page, persist, broadcast. A store failure is logged but does
// not roll back the local append; the wire copy is authoritative for
// remote peers either way.
func (e *Engine) Commit(ctx context.Context) error {
	if e.composing == nil {
		return ErrNotComposing
	}

	stroke := *e.composing
	e.composing = nil

	page := e.pages.Current()
	if page == nil {
		return errors.New("canvas: no current page")
	}

	page.Append(stroke)

	if err := e.store.SaveStroke(ctx, page.ID, &stroke); err != nil {
		slog.Error("persist stroke",
			slog.Any(constant.Error, err),
			slog.String(constant.StrokeID, stroke.ID.String()),
			slog.String(constant.PageID, page.ID.String()),
		)
	}

	metric.RecordStrokeCommitted()

	return e.bcast.Broadcast(protocol.TypeStroke, protocol.StrokeEvent{
		PageID: page.ID.String(),
		Stroke: stroke,
	})
}

// CommitText places a text stroke, first shifting its bounding box to a
// slot that does not overlap text already on the page.
func (e *Engine) CommitText(ctx context.Context, text string, bounds board.Rect, color string, size float64) error {
	if !e.caps.CanWrite(e.local.Ref) {
		return ErrNotPermitted
	}

	page := e.pages.Current()
	if page == nil {
		return errors.New("canvas: no current page")
	}

	stroke := board.Stroke{
		ID:     uuid.New(),
		Kind:   board.StrokeText,
		Text:   text,
		Color:  color,
		Size:   size,
		Bounds: FindSlot(bounds, page.TextBounds(), PageHeight),
		Author: e.local.Ref,
	}

	page.Append(stroke)

	if err := e.store.SaveStroke(ctx, page.ID, &stroke); err != nil {
		slog.Error("persist text stroke",
			slog.Any(constant.Error, err),
			slog.String(constant.StrokeID, stroke.ID.String()),
		)
	}

	metric.RecordStrokeCommitted()

	return e.bcast.Broadcast(protocol.TypeStroke, protocol.StrokeEvent{
		PageID: page.ID.String(),
		Stroke: stroke,
	})
}

// ApplyRemoteStroke replays a committed stroke from another participant.
// Our own strokes echo back from the relay and are skipped.
func (e *Engine) ApplyRemoteStroke(from identity.Ref, ev protocol.StrokeEvent) error {
	if from == e.local.Ref {
		return nil
	}

	pageID, err := uuid.Parse(ev.PageID)
	if err != nil {
		return err
	}

	page, ok := e.pages.ByID(pageID)
	if !ok {
		slog.Warn("stroke for unknown page", slog.String(constant.PageID, ev.PageID))
		return nil
	}

	page.Append(ev.Stroke)

	if e.onRepaint != nil {
		e.onRepaint(page.ID)
	}
	return nil
}

// Undo pops the most recent stroke from the current page and tells
// everyone to do the same. The notification carries the expected
// remaining count so receivers can detect drift.
func (e *Engine) Undo(ctx context.Context) error {
	if !e.caps.CanErase(e.local.Ref) {
		return ErrNotPermitted
	}

	page := e.pages.Current()
	if page == nil {
		return errors.New("canvas: no current page")
	}

	if _, ok := page.PopLast(); !ok {
		return nil
	}

	if err := e.store.DeleteLastStroke(ctx, page.ID); err != nil {
		slog.Error("persist undo", slog.Any(constant.Error, err), slog.String(constant.PageID, page.ID.String()))
	}

	if e.onRepaint != nil {
		e.onRepaint(page.ID)
	}

	return e.bcast.Broadcast(protocol.TypeUndo, protocol.UndoEvent{
		PageID:    page.ID.String(),
		Remaining: len(page.Strokes),
	})
}

// ApplyRemoteUndo pops our copy of the last stroke. When our count
// disagrees with the announced remaining count the lists have diverged;
// we log it and converge on the announced length rather than drifting
// further.
func (e *Engine) ApplyRemoteUndo(from identity.Ref, ev protocol.UndoEvent) error {
	if from == e.local.Ref {
		return nil
	}

	pageID, err := uuid.Parse(ev.PageID)
	if err != nil {
		return err
	}

	page, ok := e.pages.ByID(pageID)
	if !ok {
		return nil
	}

	page.PopLast()

	if len(page.Strokes) != ev.Remaining {
		slog.Warn("stroke lists diverged on undo",
			slog.String(constant.PageID, ev.PageID),
			slog.Int("local", len(page.Strokes)),
			slog.Int("announced", ev.Remaining),
		)
		if ev.Remaining >= 0 && ev.Remaining < len(page.Strokes) {
			page.Strokes = page.Strokes[:ev.Remaining]
		}
	}

	if e.onRepaint != nil {
		e.onRepaint(page.ID)
	}
	return nil
}

// Clear wipes the current page's stroke list and broadcasts the wipe.
func (e *Engine) Clear(ctx context.Context) error {
	if !e.caps.CanErase(e.local.Ref) {
		return ErrNotPermitted
	}

	page := e.pages.Current()
	if page == nil {
		return errors.New("canvas: no current page")
	}

	page.Clear()

	if err := e.store.ClearStrokes(ctx, page.ID); err != nil {
		slog.Error("persist clear", slog.Any(constant.Error, err), slog.String(constant.PageID, page.ID.String()))
	}

	if e.onRepaint != nil {
		e.onRepaint(page.ID)
	}

	return e.bcast.Broadcast(protocol.TypeClear, protocol.ClearEvent{PageID: page.ID.String()})
}

func (e *Engine) ApplyRemoteClear(from identity.Ref, ev protocol.ClearEvent) error {
	if from == e.local.Ref {
		return nil
	}

	pageID, err := uuid.Parse(ev.PageID)
	if err != nil {
		return err
	}

	page, ok := e.pages.ByID(pageID)
	if !ok {
		return nil
	}

	page.Clear()

	if e.onRepaint != nil {
		e.onRepaint(page.ID)
	}
	return nil
}

// MoveCursor broadcasts the local pointer position. Ephemeral; not
// persisted, not gated.
func (e *Engine) MoveCursor(x, y float64) error {
	return e.bcast.Broadcast(protocol.TypeCursor, protocol.CursorEvent{X: x, Y: y})
}

func (e *Engine) ApplyRemoteCursor(from identity.Ref, ev protocol.CursorEvent) {
	if from == e.local.Ref {
		return
	}
	if e.onCursor != nil {
		e.onCursor(from, ev)
	}
}

// ChangeColor syncs the active pen/text color. Color touches both
// drawing and writing, so either capability suffices.
func (e *Engine) ChangeColor(value string) error {
	if !e.caps.CanDraw(e.local.Ref) && !e.caps.CanWrite(e.local.Ref) {
		return ErrNotPermitted
	}
	return e.bcast.Broadcast(protocol.TypeColorChange, protocol.ValueEvent{Value: value})
}

func (e *Engine) ApplyRemoteColor(from identity.Ref, ev protocol.ValueEvent) {
	if from == e.local.Ref {
		return
	}
	if e.onColor != nil {
		e.onColor(from, ev.Value)
	}
}

// ChangeTool is cosmetic sync only; no gating.
func (e *Engine) ChangeTool(value string) error {
	return e.bcast.Broadcast(protocol.TypeToolChange, protocol.ValueEvent{Value: value})
}

func (e *Engine) ApplyRemoteTool(from identity.Ref, ev protocol.ValueEvent) {
	if from == e.local.Ref {
		return
	}
	if e.onTool != nil {
		e.onTool(from, ev.Value)
	}
}
