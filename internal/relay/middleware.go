package relay

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/slateroom/slateroom/internal/identity"
	"github.com/slateroom/slateroom/internal/relay/appctx"
)

// AuthMiddleware verifies the backend-issued token, from the
// Authorization header or the jwt cookie, and stores the resolved
// identity in the request context.
func AuthMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := bearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				cookie, err := c.Cookie("jwt")
				if err != nil {
					return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing or malformed jwt"})
				}
				token = cookie.Value
			}

			local, err := identity.Resolve(token, []byte(secret))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired jwt"})
			}

			c.SetRequest(
				c.Request().WithContext(
					appctx.WithLocal(c.Request().Context(), local),
				),
			)

			return next(c)
		}
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
