package agent

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/slateroom/slateroom/internal/application/config"
	"github.com/slateroom/slateroom/internal/domain/board"
	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/store"
)

const testSecret = "agent-test-secret"

func mintToken(t *testing.T, profileID int64, kind identity.Kind, name string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{
		ProfileID:   profileID,
		ProfileKind: string(kind),
		DisplayName: name,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testConfig(t *testing.T, sessionID string) *config.Config {
	t.Helper()

	return &config.Config{
		JWTSecret:    testSecret,
		SessionToken: mintToken(t, 7, identity.KindStudent, "Dana"),
		SessionID:    sessionID,
		RelayURL:     "ws://127.0.0.1:1/api/v1/ws",
		StunURL:      "stun:stun.example.org:3478",
	}
}

func TestNewRestoresPersistedSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sessID := uuid.New()

	if err := st.SaveSession(ctx, &store.SessionRecord{ID: sessID}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	first := board.NewPage(1)
	second := board.NewPage(2)
	for _, p := range []*board.Page{second, first} {
		if err := st.SavePage(ctx, sessID, p); err != nil {
			t.Fatalf("save page: %v", err)
		}
	}
	stroke := board.Stroke{ID: uuid.New(), Kind: board.StrokeFreehand, Author: identity.Ref{ProfileID: 7, Kind: identity.KindStudent}}
	if err := st.SaveStroke(ctx, first.ID, &stroke); err != nil {
		t.Fatalf("save stroke: %v", err)
	}

	a, err := New(ctx, testConfig(t, sessID.String()), st)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	if got := a.Pages.Count(); got != 2 {
		t.Fatalf("expected both pages restored, got %d", got)
	}
	cur := a.Pages.Current()
	if cur.ID != first.ID {
		t.Errorf("restore must start on page 1, got page %d", cur.PageNumber)
	}
	if len(cur.Strokes) != 1 || cur.Strokes[0].ID != stroke.ID {
		t.Errorf("restored page must carry its committed strokes, got %d", len(cur.Strokes))
	}
}

func TestNewPersistsFreshSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	sessID := uuid.New()

	a, err := New(ctx, testConfig(t, sessID.String()), st)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	snap, err := st.LoadSession(ctx, sessID)
	if err != nil {
		t.Fatalf("an unknown session id must be created on startup: %v", err)
	}
	if len(snap.Pages) != 1 {
		t.Fatalf("the seed page must be persisted, got %d pages", len(snap.Pages))
	}
	if snap.Pages[0].ID != a.Pages.Current().ID {
		t.Error("the persisted seed page must match the live one")
	}
}

func TestNewRejectsMalformedSessionID(t *testing.T) {
	if _, err := New(context.Background(), testConfig(t, "not-a-uuid"), store.NewMemory()); err == nil {
		t.Fatal("a malformed session id must fail startup")
	}
}

func TestRunClearsSessionOpenOnExit(t *testing.T) {
	st := store.NewMemory()

	a, err := New(context.Background(), testConfig(t, ""), st)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Run(ctx); err != context.Canceled {
		t.Errorf("run with a cancelled context must return its error, got %v", err)
	}
	if a.sessionOpen.Load() {
		t.Error("the presence heartbeat gate must close when the session ends")
	}
}
