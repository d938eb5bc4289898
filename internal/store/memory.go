package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
)

// memoryStore backs solo (store-less) runs and tests.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*SessionRecord
	pages    map[uuid.UUID]*board.Page
	pageSess map[uuid.UUID]uuid.UUID
	strokes  map[uuid.UUID][]board.Stroke
	calls    []CallRecord
}

func NewMemory() Store {
	return &memoryStore{
		sessions: make(map[uuid.UUID]*SessionRecord),
		pages:    make(map[uuid.UUID]*board.Page),
		pageSess: make(map[uuid.UUID]uuid.UUID),
		strokes:  make(map[uuid.UUID][]board.Stroke),
	}
}

func (m *memoryStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.sessions[rec.ID] = &cp
	return nil
}

func (m *memoryStore) LoadSession(ctx context.Context, id uuid.UUID) (*SessionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	snap := &SessionSnapshot{
		Record:      *rec,
		Permissions: make(map[string]board.PermissionSet),
	}

	for pageID, sessID := range m.pageSess {
		if sessID != id {
			continue
		}
		page := *m.pages[pageID]
		page.Strokes = append([]board.Stroke(nil), m.strokes[pageID]...)
		snap.Pages = append(snap.Pages, &page)
	}

	return snap, nil
}

func (m *memoryStore) SavePage(ctx context.Context, sessionID uuid.UUID, page *board.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *page
	m.pages[page.ID] = &cp
	m.pageSess[page.ID] = sessionID
	return nil
}

func (m *memoryStore) DeletePage(ctx context.Context, pageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pages, pageID)
	delete(m.pageSess, pageID)
	delete(m.strokes, pageID)
	return nil
}

func (m *memoryStore) SaveStroke(ctx context.Context, pageID uuid.UUID, stroke *board.Stroke) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strokes[pageID] = append(m.strokes[pageID], *stroke)
	return nil
}

func (m *memoryStore) DeleteLastStroke(ctx context.Context, pageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.strokes[pageID]
	if len(list) > 0 {
		m.strokes[pageID] = list[:len(list)-1]
	}
	return nil
}

func (m *memoryStore) ClearStrokes(ctx context.Context, pageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.strokes[pageID] = nil
	return nil
}

func (m *memoryStore) SaveCallRecord(ctx context.Context, rec *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, *rec)
	return nil
}

func (m *memoryStore) CallHistory(ctx context.Context, profile identity.Ref, limit int) ([]CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CallRecord
	for i := len(m.calls) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.calls[i]
		if rec.Caller == profile || rec.Callee == profile {
			out = append(out, rec)
		}
	}
	return out, nil
}
