// Package pages owns the session's page collection and the
// current-page pointer, and propagates add/navigate/delete to every
// participant.
package pages

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/protocol"
)

var (
	ErrNotPermitted = errors.New("pages: not permitted")
	ErrLastPage     = errors.New("pages: cannot delete the only page")
	ErrUnknownPage  = errors.New("pages: unknown page")
)

// Capabilities is the slice of permission state page management needs.
type Capabilities interface {
	CanDraw(local identity.Ref) bool
}

// Broadcaster fans a message out to every session participant.
type Broadcaster interface {
	Broadcast(t protocol.Type, payload any) error
}

// Pager persists page-level mutations.
type Pager interface {
	SavePage(ctx context.Context, sessionID uuid.UUID, page *board.Page) error
	DeletePage(ctx context.Context, pageID uuid.UUID) error
}

// Coordinator tracks the ordered page list. Exactly one page is current
// at a time.
type Coordinator struct {
	sessionID uuid.UUID
	local     identity.Local
	isHost    func() bool
	caps      Capabilities
	bcast     Broadcaster
	store     Pager

	callActive func() bool

	mu      sync.Mutex
	ordered []*board.Page
	current int

	onAnimate func(page *board.Page)
}

func NewCoordinator(sessionID uuid.UUID, local identity.Local, isHost func() bool, caps Capabilities, bcast Broadcaster, store Pager) *Coordinator {
	first := board.NewPage(1)
	return &Coordinator{
		sessionID:  sessionID,
		local:      local,
		isHost:     isHost,
		caps:       caps,
		bcast:      bcast,
		store:      store,
		callActive: func() bool { return false },
		ordered:    []*board.Page{first},
	}
}

// SetCallActive supplies the in-call check used for gating.
func (c *Coordinator) SetCallActive(f func() bool) { c.callActive = f }

// OnAnimate registers the page-transition hook fired when a remote
// navigate or add moves the current pointer.
func (c *Coordinator) OnAnimate(f func(page *board.Page)) { c.onAnimate = f }

// Load replaces the collection with pages restored from the store. The
// store hands them back in no particular order; page numbers decide.
func (c *Coordinator) Load(pages []*board.Page) {
	if len(pages) == 0 {
		return
	}

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].PageNumber < pages[j].PageNumber
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ordered = pages
	c.current = 0
}

// canManage: the host always; a participant only while holding canDraw
// during an active call.
func (c *Coordinator) canManage() bool {
	if c.isHost() {
		return true
	}
	return c.caps.CanDraw(c.local.Ref) && c.callActive()
}

// canNavigate additionally permits anyone using the whiteboard solo.
func (c *Coordinator) canNavigate() bool {
	return c.canManage() || !c.callActive()
}

// Current returns the page under the pointer.
func (c *Coordinator) Current() *board.Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ordered[c.current]
}

// ByID resolves a page for remote stroke application.
func (c *Coordinator) ByID(id uuid.UUID) (*board.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.ordered {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// Count returns how many pages the session has.
func (c *Coordinator) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.ordered)
}

// Add appends a new page, makes it current, persists it, and tells
// everyone.
func (c *Coordinator) Add(ctx context.Context) (*board.Page, error) {
	if !c.canManage() {
		return nil, ErrNotPermitted
	}

	c.mu.Lock()
	page := board.NewPage(len(c.ordered) + 1)
	c.ordered = append(c.ordered, page)
	c.current = len(c.ordered) - 1
	c.mu.Unlock()

	if err := c.store.SavePage(ctx, c.sessionID, page); err != nil {
		slog.Error("persist page", slog.Any(constant.Error, err), slog.String(constant.PageID, page.ID.String()))
	}

	err := c.bcast.Broadcast(protocol.TypePageChange, protocol.PageChangeEvent{
		Action: protocol.PageActionAdd,
		PageID: page.ID.String(),
		Page:   page,
	})
	return page, err
}

// Navigate moves the current pointer to the given page and tells
// everyone.
func (c *Coordinator) Navigate(id uuid.UUID) error {
	if !c.canNavigate() {
		return ErrNotPermitted
	}

	c.mu.Lock()
	idx := -1
	for i, p := range c.ordered {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownPage
	}
	c.current = idx
	page := c.ordered[idx]
	c.mu.Unlock()

	return c.bcast.Broadcast(protocol.TypePageChange, protocol.PageChangeEvent{
		Action: protocol.PageActionNavigate,
		PageID: page.ID.String(),
		Page:   page,
	})
}

// Delete removes a page. The last remaining page cannot be deleted; the
// pointer snaps to the previous page when the current one goes.
func (c *Coordinator) Delete(ctx context.Context, id uuid.UUID) error {
	if !c.canManage() {
		return ErrNotPermitted
	}

	c.mu.Lock()
	if len(c.ordered) <= 1 {
		c.mu.Unlock()
		return ErrLastPage
	}

	idx := -1
	for i, p := range c.ordered {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownPage
	}

	c.ordered = append(c.ordered[:idx], c.ordered[idx+1:]...)
	if c.current >= len(c.ordered) {
		c.current = len(c.ordered) - 1
	} else if c.current > idx {
		c.current--
	}
	c.renumber()
	c.mu.Unlock()

	if err := c.store.DeletePage(ctx, id); err != nil {
		slog.Error("delete page", slog.Any(constant.Error, err), slog.String(constant.PageID, id.String()))
	}

	return c.bcast.Broadcast(protocol.TypePageChange, protocol.PageChangeEvent{
		Action: protocol.PageActionDelete,
		PageID: id.String(),
	})
}

// ApplyRemote mutates the local collection from a broadcast. The payload
// is trusted as-is; receivers never re-fetch the page from the store.
func (c *Coordinator) ApplyRemote(from identity.Ref, ev protocol.PageChangeEvent) error {
	if from == c.local.Ref {
		return nil
	}

	id, err := uuid.Parse(ev.PageID)
	if err != nil {
		return err
	}

	switch ev.Action {
	case protocol.PageActionAdd:
		if ev.Page == nil {
			return errors.New("pages: add without payload")
		}
		c.mu.Lock()
		c.ordered = append(c.ordered, ev.Page)
		c.current = len(c.ordered) - 1
		c.mu.Unlock()
		c.animate(ev.Page)

	case protocol.PageActionNavigate:
		c.mu.Lock()
		var target *board.Page
		for i, p := range c.ordered {
			if p.ID == id {
				c.current = i
				target = p
				break
			}
		}
		c.mu.Unlock()
		if target == nil {
			slog.Warn("navigate to unknown page", slog.String(constant.PageID, ev.PageID))
			return nil
		}
		c.animate(target)

	case protocol.PageActionDelete:
		c.mu.Lock()
		// A diverged sender may ask us to delete our only page; the
		// collection must never empty out, whatever arrives.
		if len(c.ordered) <= 1 {
			c.mu.Unlock()
			slog.Warn("remote delete would remove the only page, ignoring", slog.String(constant.PageID, ev.PageID))
			return nil
		}
		for i, p := range c.ordered {
			if p.ID == id {
				c.ordered = append(c.ordered[:i], c.ordered[i+1:]...)
				if c.current >= len(c.ordered) {
					c.current = len(c.ordered) - 1
				} else if c.current > i {
					c.current--
				}
				break
			}
		}
		c.renumber()
		c.mu.Unlock()

	default:
		slog.Warn("unknown page action", slog.String(constant.MessageType, string(ev.Action)))
	}

	return nil
}

// renumber keeps PageNumber dense after a delete. Caller holds the lock.
func (c *Coordinator) renumber() {
	for i, p := range c.ordered {
		p.PageNumber = i + 1
	}
}

func (c *Coordinator) animate(page *board.Page) {
	if c.onAnimate != nil {
		c.onAnimate(page)
	}
}
