package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/callbridge/callbridge/internal/engine"
)

// handleTelcoWebhook receives provider call-event callbacks. Once the body
// parses as JSON the response is always 200: the provider retries non-2xx
// deliveries, and an event the engine cannot route will never become
// routable on retry.
func (s *Server) handleTelcoWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	var ev engine.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "malformed json")
		return
	}

	s.engine.ProcessWebhook(r.Context(), ev)

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
