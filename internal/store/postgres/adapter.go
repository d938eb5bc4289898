package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/store"
)

type pgStore struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) store.Store {
	return &pgStore{db: db}
}

type sessionRow struct {
	ID              uuid.UUID  `db:"id"`
	HostProfileID   int64      `db:"host_profile_id"`
	HostKind        string     `db:"host_profile_kind"`
	PartProfileID   int64      `db:"participant_profile_id"`
	PartProfileKind string     `db:"participant_profile_kind"`
	CreatedAt       time.Time  `db:"created_at"`
	EndedAt         *time.Time `db:"ended_at"`
}

type pageRow struct {
	ID              uuid.UUID `db:"id"`
	SessionID       uuid.UUID `db:"session_id"`
	PageNumber      int       `db:"page_number"`
	BackgroundColor string    `db:"background_color"`
}

type strokeRow struct {
	ID      uuid.UUID       `db:"id"`
	PageID  uuid.UUID       `db:"page_id"`
	Seq     int64           `db:"seq"`
	Payload json.RawMessage `db:"payload"`
}

func (s *pgStore) SaveSession(ctx context.Context, rec *store.SessionRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (id, host_profile_id, host_profile_kind, participant_profile_id, participant_profile_kind, created_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET ended_at = EXCLUDED.ended_at`,
		rec.ID,
		rec.Host.ProfileID,
		rec.Host.Kind,
		rec.Participant.ProfileID,
		rec.Participant.Kind,
		rec.CreatedAt,
		rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

func (s *pgStore) LoadSession(ctx context.Context, id uuid.UUID) (*store.SessionSnapshot, error) {
	var row sessionRow

	err := s.db.GetContext(ctx, &row, "SELECT * FROM sessions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	snap := &store.SessionSnapshot{
		Record: store.SessionRecord{
			ID:          row.ID,
			Host:        identity.Ref{ProfileID: row.HostProfileID, Kind: identity.Kind(row.HostKind)},
			Participant: identity.Ref{ProfileID: row.PartProfileID, Kind: identity.Kind(row.PartProfileKind)},
			CreatedAt:   row.CreatedAt,
			EndedAt:     row.EndedAt,
		},
		Permissions: make(map[string]board.PermissionSet),
	}

	var pageRows []pageRow
	err = s.db.SelectContext(ctx, &pageRows,
		"SELECT * FROM pages WHERE session_id = $1 ORDER BY page_number", id)
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}

	for _, pr := range pageRows {
		page := &board.Page{
			ID:              pr.ID,
			PageNumber:      pr.PageNumber,
			BackgroundColor: pr.BackgroundColor,
			Strokes:         make([]board.Stroke, 0),
		}

		var strokeRows []strokeRow
		err = s.db.SelectContext(ctx, &strokeRows,
			"SELECT * FROM strokes WHERE page_id = $1 ORDER BY seq", pr.ID)
		if err != nil {
			return nil, fmt.Errorf("load strokes: %w", err)
		}

		for _, sr := range strokeRows {
			var stroke board.Stroke
			if err := json.Unmarshal(sr.Payload, &stroke); err != nil {
				return nil, fmt.Errorf("decode stroke %s: %w", sr.ID, err)
			}
			page.Strokes = append(page.Strokes, stroke)
		}

		snap.Pages = append(snap.Pages, page)
	}

	return snap, nil
}

func (s *pgStore) SavePage(ctx context.Context, sessionID uuid.UUID, page *board.Page) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO pages (id, session_id, page_number, background_color)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET page_number = EXCLUDED.page_number, background_color = EXCLUDED.background_color`,
		page.ID,
		sessionID,
		page.PageNumber,
		page.BackgroundColor,
	)
	if err != nil {
		return fmt.Errorf("save page: %w", err)
	}

	return nil
}

func (s *pgStore) DeletePage(ctx context.Context, pageID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pages WHERE id = $1", pageID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}

	return nil
}

func (s *pgStore) SaveStroke(ctx context.Context, pageID uuid.UUID, stroke *board.Stroke) error {
	payload, err := json.Marshal(stroke)
	if err != nil {
		return fmt.Errorf("encode stroke: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO strokes (id, page_id, seq, payload)
		 VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM strokes WHERE page_id = $2), $3)`,
		stroke.ID,
		pageID,
		payload,
	)
	if err != nil {
		return fmt.Errorf("save stroke: %w", err)
	}

	return nil
}

func (s *pgStore) DeleteLastStroke(ctx context.Context, pageID uuid.UUID) error {
	_, err := s.db.ExecContext(
		ctx,
		`DELETE FROM strokes WHERE page_id = $1
		 AND seq = (SELECT MAX(seq) FROM strokes WHERE page_id = $1)`,
		pageID,
	)
	if err != nil {
		return fmt.Errorf("delete last stroke: %w", err)
	}

	return nil
}

func (s *pgStore) ClearStrokes(ctx context.Context, pageID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM strokes WHERE page_id = $1", pageID)
	if err != nil {
		return fmt.Errorf("clear strokes: %w", err)
	}

	return nil
}

func (s *pgStore) SaveCallRecord(ctx context.Context, rec *store.CallRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO call_history (id, session_id, caller_profile_id, caller_profile_kind, callee_profile_id, callee_profile_kind, status, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, ended_at = EXCLUDED.ended_at`,
		rec.ID,
		rec.SessionID,
		rec.Caller.ProfileID,
		rec.Caller.Kind,
		rec.Callee.ProfileID,
		rec.Callee.Kind,
		rec.Status,
		rec.StartedAt,
		rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("save call record: %w", err)
	}

	return nil
}

type callRow struct {
	ID         uuid.UUID  `db:"id"`
	SessionID  uuid.UUID  `db:"session_id"`
	CallerID   int64      `db:"caller_profile_id"`
	CallerKind string     `db:"caller_profile_kind"`
	CalleeID   int64      `db:"callee_profile_id"`
	CalleeKind string     `db:"callee_profile_kind"`
	Status     string     `db:"status"`
	StartedAt  time.Time  `db:"started_at"`
	EndedAt    *time.Time `db:"ended_at"`
}

func (s *pgStore) CallHistory(ctx context.Context, profile identity.Ref, limit int) ([]store.CallRecord, error) {
	var rows []callRow

	query := `
		SELECT * FROM call_history
		WHERE (caller_profile_id = $1 AND caller_profile_kind = $2)
		   OR (callee_profile_id = $1 AND callee_profile_kind = $2)
		ORDER BY started_at DESC
		LIMIT $3
	`

	err := s.db.SelectContext(ctx, &rows, query, profile.ProfileID, profile.Kind, limit)
	if err != nil {
		return nil, fmt.Errorf("load call history: %w", err)
	}

	out := make([]store.CallRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.CallRecord{
			ID:        r.ID,
			SessionID: r.SessionID,
			Caller:    identity.Ref{ProfileID: r.CallerID, Kind: identity.Kind(r.CallerKind)},
			Callee:    identity.Ref{ProfileID: r.CalleeID, Kind: identity.Kind(r.CalleeKind)},
			Status:    store.CallStatus(r.Status),
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
		})
	}

	return out, nil
}
