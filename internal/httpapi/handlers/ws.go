package handlers

import (
	"net/http"
	"time"

	"storyforge/internal/httpkit"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The HTTP layer already enforces CORS; websocket clients are
	// accepted from any origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchStory upgrades to a websocket and pushes job snapshots until
// the job reaches a terminal state. One final snapshot is sent after
// a short delay so clients that reconnect right at completion still
// receive the terminal status.
func (h *Handler) WatchStory(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	if _, err := h.svc.Status(jobID); err != nil {
		httpkit.WriteError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	log := h.log.WithJobID(jobID)
	log.Debug("status subscriber connected")

	ticker := time.NewTicker(h.statusInterval)
	defer ticker.Stop()

	for {
		st, err := h.svc.Status(jobID)
		if err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			return
		}

		if err := conn.WriteJSON(st); err != nil {
			log.Debug("status subscriber disconnected", "error", err)
			return
		}

		if st.State.Terminal() {
			break
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}

	// Final push after a delay, then close.
	select {
	case <-r.Context().Done():
		return
	case <-time.After(h.finalPushDelay):
	}

	if st, err := h.svc.Status(jobID); err == nil {
		_ = conn.WriteJSON(st)
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(time.Second),
	)
}
