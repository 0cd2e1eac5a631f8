package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/util"
)

// NewRouter builds the relay's HTTP surface: a health endpoint and the
// websocket signaling endpoint.
func NewRouter(cfg config.Relay, r *Relay) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", serveWS(cfg, r))

	return router
}

// serveWS upgrades the request and hands the connection to the relay.
func serveWS(cfg config.Relay, r *Relay) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  maxMessageSize,
		WriteBufferSize: maxMessageSize,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			util.LogWarning("websocket upgrade failed: %v", err)
			return
		}
		r.Accept(conn)
	}
}

// originChecker allows every origin when the allowlist is empty (non-browser
// participants send no Origin header at all), otherwise requires a match.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
