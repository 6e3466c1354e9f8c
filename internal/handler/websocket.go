package handler

import (
	"net/http"
	"time"

	"github.com/benchrunr/api/internal/apperrors"
	"github.com/benchrunr/api/internal/auth"
	"github.com/benchrunr/api/internal/session"
	"github.com/benchrunr/api/internal/types"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Attach upgrades to a websocket and pushes the active job's output as it
// becomes available, one frame per read, until the job is reaped or the
// client goes away. It is the push-style twin of the polling /out and /err
// endpoints.
func (h *Handler) Attach(w http.ResponseWriter, r *http.Request) {
	ref := auth.RefFrom(r.Context())
	sess := ref.Session()

	if !sess.Active() {
		h.sendError(w, apperrors.NotFound("job"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := h.logger.WithField("component", "attach")

	// The auth middleware releases its session reference when this handler
	// returns, so the streaming loop holds its own.
	strong := ref.Clone()
	defer strong.Release()

	// Drain client frames so close handshakes are noticed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		default:
		}

		idle := true
		for _, stream := range []types.Stream{types.StreamStdout, types.StreamStderr} {
			n, err := strong.Session().ReadOutput(stream, buf)
			if session.IsNoJob(err) {
				_ = writeFrame(conn, types.WebSocketMessage{Type: "exit"})
				return
			}
			if err != nil {
				logger.WithError(err).Error("Stream read failed")
				_ = writeFrame(conn, types.WebSocketMessage{Type: "error", Error: "stream read failed"})
				return
			}
			if n > 0 {
				idle = false
				msg := types.WebSocketMessage{
					Type:   "output",
					Stream: stream.String(),
					Data:   string(buf[:n]),
				}
				if err := writeFrame(conn, msg); err != nil {
					logger.WithError(err).Debug("Client write failed")
					return
				}
			}
		}

		// ReadOutput already waits out the read deadline when nothing is
		// available; only back off extra when both streams were idle.
		if idle {
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func writeFrame(conn *websocket.Conn, msg types.WebSocketMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}
