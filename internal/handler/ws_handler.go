package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"forumdm/internal/app/chat"
	"forumdm/internal/pkg/auth/jwt"
	"forumdm/internal/pkg/limiter"
)

// HandleWebSocket upgrades /ws and hands the socket to a hub connection.
// The connection authenticates itself: its first frame must be auth, whose
// token may be left empty when the upgrade carried the session cookie.
func HandleWebSocket(upgrader websocket.Upgrader, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := zerolog.Ctx(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("ip", limiter.ClientIP(r)).Msg("WebSocket upgrade rejected")
			return
		}

		cc := deps.connConfig()
		cc.RequestID = middleware.GetReqID(r.Context())
		cc.UpgradeToken = jwt.TokenFromRequest(r, deps.Config.SessionCookie)

		client := chat.NewClient(deps.Hub, conn, deps.Sessions, cc)
		logger.Debug().Str("conn_id", client.ID()).Msg("WebSocket connection established, awaiting auth")

		client.Serve()
	}
}
