package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokenledger/activity-service/internal/service/activity"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingPeriod   = 30 * time.Second
)

// StreamHandler tails the live event feed over a websocket. Each
// connection gets its own subscription; slow clients miss events instead
// of backing up ingest.
type StreamHandler struct {
	svc      *activity.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewStreamHandler(svc *activity.Service, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	events, cancel := h.svc.Subscribe()
	defer cancel()

	// Drain client frames so close/ping control messages are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
