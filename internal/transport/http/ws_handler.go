package http

import (
	"net/http"

	"go.uber.org/zap"
)

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeLeaderboardWS upgrades the request to a websocket and streams leaderboard snapshots
// for the event until the client disconnects.
func (h *Handler) ServeLeaderboardWS(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")

	// Validate before upgrading so bad requests get a plain HTTP error.
	updates, cancel, err := h.boards.Subscribe(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				if err := conn.WriteJSON(outboundMessage[any]{Type: "leaderboard", Payload: update}); err != nil {
					h.log.Debug("ws write error", zap.String("event_id", eventID), zap.Error(err))
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// Inbound frames are ignored; reading only detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-writerDone
}
