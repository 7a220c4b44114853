package activity_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-activity/internal/auth"
)

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Stream delivers the caller's pushes and every broadcast as server-sent
// events until the client goes away.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	userID := auth.UserID(r.Context())
	ctx := r.Context()

	setupSSEHeaders(w)
	messages := h.Hub.Subscribe(ctx, userID)

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"user_id\":%q}\n\n", userID)
	flusher.Flush()
	h.Logger.Debug("SSE", fmt.Sprintf("client connected for user %s", userID))

	keepAlive := h.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Data)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("failed to serialize %s: %v", msg.Event, err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("client disconnected for user %s", userID))
			return
		}
	}
}
