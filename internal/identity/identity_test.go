package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret []byte, claims *Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestResolve(t *testing.T) {
	secret := []byte("test-secret")

	token := signToken(t, secret, &Claims{
		ProfileID:   42,
		ProfileKind: "tutor",
		DisplayName: "Ada Lovelace",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	local, err := Resolve(token, secret)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if local.ProfileID != 42 {
		t.Errorf("expected profile id 42, got %d", local.ProfileID)
	}
	if local.Kind != KindTutor {
		t.Errorf("expected kind tutor, got %s", local.Kind)
	}
	if local.DisplayName != "Ada Lovelace" {
		t.Errorf("expected display name Ada Lovelace, got %q", local.DisplayName)
	}
}

func TestResolveRejectsWrongSecret(t *testing.T) {
	token := signToken(t, []byte("right"), &Claims{ProfileID: 1, ProfileKind: "student"})

	if _, err := Resolve(token, []byte("wrong")); err == nil {
		t.Error("expected error for token signed with a different secret")
	}
}

func TestResolveRejectsUnknownKind(t *testing.T) {
	secret := []byte("s")
	token := signToken(t, secret, &Claims{ProfileID: 1, ProfileKind: "admin"})

	if _, err := Resolve(token, secret); err == nil {
		t.Error("expected error for unknown profile kind")
	}
}

func TestRefKeyCarriesBothHalves(t *testing.T) {
	a := Ref{ProfileID: 7, Kind: KindStudent}
	b := Ref{ProfileID: 7, Kind: KindTutor}

	if a.Key() == b.Key() {
		t.Errorf("keys must differ across kinds, both were %q", a.Key())
	}
}

func TestInitials(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"Ada Lovelace", "AL"},
		{"Grace Brewster Murray Hopper", "GH"},
		{"ada", "A"},
		{"", ""},
		{"  ", ""},
	}

	for _, c := range cases {
		if got := Initials(c.name); got != c.want {
			t.Errorf("Initials(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}
