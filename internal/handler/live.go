package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cropscan/internal/logger"
	"cropscan/internal/service"
)

const pongWait = 60 * time.Second

// Upgrader upgrades HTTP connections to WebSocket; origins are checked by the CORS setting, not here.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// LiveWebsocketHandler registers viewers in the hub so they receive prediction events.
func LiveWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hub := manager.GetWebsocketService()
		if hub == nil {
			http.Error(w, "Live feed disabled", http.StatusServiceUnavailable)
			return
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(pongWait))
		connection.SetPongHandler(func(string) error {
			connection.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		hub.Register(connection)
		defer hub.Unregister(connection)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				return
			}
			connection.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}
