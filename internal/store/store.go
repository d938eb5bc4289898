// Package store defines the durable-store contract the engine depends
// on. Persistence guarantees and retries live behind this boundary.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
)

var ErrNotFound = errors.New("store: not found")

type SessionRecord struct {
	ID          uuid.UUID    `db:"id"`
	Host        identity.Ref `db:"-"`
	Participant identity.Ref `db:"-"`
	CreatedAt   time.Time    `db:"created_at"`
	EndedAt     *time.Time   `db:"ended_at"`
}

// SessionSnapshot is what LoadSession hands back: everything a client
// needs to rebuild local state.
type SessionSnapshot struct {
	Record      SessionRecord
	Pages       []*board.Page
	Permissions map[string]board.PermissionSet
}

type CallStatus string

const (
	CallCompleted CallStatus = "completed"
	CallMissed    CallStatus = "missed"
	CallDeclined  CallStatus = "declined"
	CallOffline   CallStatus = "offline"
)

type CallRecord struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Caller    identity.Ref
	Callee    identity.Ref
	Status    CallStatus
	StartedAt time.Time
	EndedAt   *time.Time
}

type Store interface {
	SaveSession(ctx context.Context, rec *SessionRecord) error
	LoadSession(ctx context.Context, id uuid.UUID) (*SessionSnapshot, error)

	SavePage(ctx context.Context, sessionID uuid.UUID, page *board.Page) error
	DeletePage(ctx context.Context, pageID uuid.UUID) error

	SaveStroke(ctx context.Context, pageID uuid.UUID, stroke *board.Stroke) error
	DeleteLastStroke(ctx context.Context, pageID uuid.UUID) error
	ClearStrokes(ctx context.Context, pageID uuid.UUID) error

	SaveCallRecord(ctx context.Context, rec *CallRecord) error
	CallHistory(ctx context.Context, profile identity.Ref, limit int) ([]CallRecord, error)
}
