package relay

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/slateroom/slateroom/internal/application/config"
	"github.com/slateroom/slateroom/internal/relay/appctx"
)

// NewServer builds the relay's HTTP surface: the websocket channel, the
// ICE credential endpoint, and the online roster.
func NewServer(
	cfg *config.Config,
	wsHandler *WebSocketHandler,
	iceHandler *IceHandler,
	registry Registry,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	api := e.Group("/api")
	{
		v1 := api.Group("/v1")
		v1.Use(AuthMiddleware(cfg.JWTSecret))
		{
			v1.GET("/ws", wsHandler.Handle)

			v1.GET("/ice", iceHandler.IceServers)

			v1.GET("/users/online", func(c echo.Context) error {
				online, err := registry.Online(c.Request().Context())
				if err != nil {
					return c.JSON(http.StatusInternalServerError, map[string]string{"error": "list online users"})
				}
				return c.JSON(http.StatusOK, online)
			})

			v1.GET("/me", func(c echo.Context) error {
				local, ok := appctx.LocalFrom(c.Request().Context())
				if !ok {
					return c.JSON(http.StatusUnauthorized, map[string]string{"error": "no identity"})
				}
				return c.JSON(http.StatusOK, local)
			})
		}
	}

	return e
}
