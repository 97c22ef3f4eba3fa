package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// Handler upgrades the request and serves it as a change-feed session.
func Handler(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // single-user app served on the owner's network
		})
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}
		NewClient(hub, conn).Run(r.Context())
	}
}
