package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/callbridge/callbridge/internal/api/middleware"
	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/database/models"
)

// dialRequest is the JSON body for POST /api/v1/calls/dial.
type dialRequest struct {
	ToNumber string `json:"to_number"`
}

// dialResponse identifies the call the engine started.
type dialResponse struct {
	SessionID string `json:"session_id"`
	CallLogID int64  `json:"call_log_id"`
}

// handleDial starts a two-leg outbound call to the requested number.
func (s *Server) handleDial(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validatePhoneNumber("to_number", req.ToNumber); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	userID := middleware.AgentUserIDFromContext(r.Context())

	res, err := s.engine.Dial(r.Context(), req.ToNumber, userID)
	if err != nil {
		s.logger.Error("dial failed", "to", req.ToNumber, "error", err)
		writeError(w, http.StatusBadGateway, "could not start call")
		return
	}

	writeJSON(w, http.StatusCreated, dialResponse{
		SessionID: res.SessionID,
		CallLogID: res.CallLogID,
	})
}

// handleHangupCall tears down both legs of an in-flight call.
func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	if err := s.engine.RequestHangup(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "hangup requested"})
}

// callLogResponse is the JSON response for a single call record.
type callLogResponse struct {
	ID           int64   `json:"id"`
	SessionID    string  `json:"session_id,omitempty"`
	Direction    string  `json:"direction"`
	ToNumber     string  `json:"to_number"`
	FromNumber   string  `json:"from_number"`
	ContactID    *int64  `json:"contact_id"`
	CompanyID    *int64  `json:"company_id"`
	Status       string  `json:"status"`
	Outcome      string  `json:"outcome,omitempty"`
	StartedAt    string  `json:"started_at"`
	AnsweredAt   *string `json:"answered_at"`
	EndedAt      *string `json:"ended_at"`
	DurationSecs int     `json:"duration_secs"`
	RecordingURL string  `json:"recording_url,omitempty"`
}

// toCallLogResponse converts a models.CallLog to the API response.
func toCallLogResponse(c *models.CallLog) callLogResponse {
	resp := callLogResponse{
		ID:           c.ID,
		SessionID:    c.SessionID,
		Direction:    c.Direction,
		ToNumber:     c.ToNumber,
		FromNumber:   c.FromNumber,
		ContactID:    c.ContactID,
		CompanyID:    c.CompanyID,
		Status:       c.Status,
		Outcome:      c.Outcome,
		StartedAt:    c.StartedAt.Format(time.RFC3339),
		DurationSecs: c.DurationSecs,
		RecordingURL: c.RecordingURL,
	}
	if c.AnsweredAt != nil {
		t := c.AnsweredAt.Format(time.RFC3339)
		resp.AnsweredAt = &t
	}
	if c.EndedAt != nil {
		t := c.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &t
	}
	return resp
}

// handleListCalls returns call history with pagination and optional filters.
// Query params: limit, offset, search, outcome, start_date, end_date.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	pg, errMsg := parsePagination(r)
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	q := r.URL.Query()
	outcome := q.Get("outcome")
	if outcome != "" && !validOutcomes[outcome] {
		writeError(w, http.StatusBadRequest, "outcome must be one of completed, busy, no_answer, cancelled, failed")
		return
	}
	if errMsg := validateStringLen("search", q.Get("search"), maxSearchLen); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	filter := database.CallLogListFilter{
		Limit:     pg.Limit,
		Offset:    pg.Offset,
		Search:    q.Get("search"),
		Outcome:   outcome,
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	}

	logs, total, err := s.callLogs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callLogResponse, len(logs))
	for i := range logs {
		items[i] = toCallLogResponse(&logs[i])
	}

	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  items,
		Total:  total,
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
}

var validOutcomes = map[string]bool{
	models.OutcomeCompleted: true,
	models.OutcomeBusy:      true,
	models.OutcomeNoAnswer:  true,
	models.OutcomeCancelled: true,
	models.OutcomeFailed:    true,
}
