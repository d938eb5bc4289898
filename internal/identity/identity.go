package identity

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Kind is the profile namespace. A profile id is unique only within its
// kind, so addressing always carries both halves.
type Kind string

const (
	KindStudent Kind = "student"
	KindTutor   Kind = "tutor"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindStudent, KindTutor:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown profile kind %q", s)
	}
}

// Ref addresses one participant.
type Ref struct {
	ProfileID int64 `json:"profileId"`
	Kind      Kind  `json:"profileKind"`
}

func (r Ref) Key() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ProfileID)
}

func (r Ref) IsZero() bool {
	return r.ProfileID == 0 && r.Kind == ""
}

func (r Ref) String() string {
	return r.Key()
}

// Local is the resolved identity of this process's participant.
type Local struct {
	Ref
	DisplayName string
}

type Claims struct {
	ProfileID   int64  `json:"profile_id"`
	ProfileKind string `json:"profile_kind"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Resolve verifies the backend-issued session token and extracts the
// local participant identity. Tokens are never minted here.
func Resolve(token string, secret []byte) (Local, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return Local{}, fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Local{}, fmt.Errorf("invalid session token")
	}

	kind, err := ParseKind(claims.ProfileKind)
	if err != nil {
		return Local{}, err
	}

	if claims.ProfileID == 0 {
		return Local{}, fmt.Errorf("session token carries no profile id")
	}

	return Local{
		Ref:         Ref{ProfileID: claims.ProfileID, Kind: kind},
		DisplayName: claims.DisplayName,
	}, nil
}

// Initials derives the avatar fallback text from a display name. The
// presentation layer owns rendering; this is the only piece of it the
// engine exposes.
func Initials(name string) string {
	fields := strings.Fields(name)

	switch len(fields) {
	case 0:
		return ""
	case 1:
		return strings.ToUpper(firstRune(fields[0]))
	default:
		return strings.ToUpper(firstRune(fields[0]) + firstRune(fields[len(fields)-1]))
	}
}

func firstRune(s string) string {
	for _, r := range s {
		return string(r)
	}
	return ""
}
