package api

import (
	"net/http"
	"time"

	"github.com/callbridge/callbridge/internal/api/middleware"
	"github.com/callbridge/callbridge/internal/identity"
)

// loginRequest is the JSON body for POST /api/v1/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse carries the issued JWT.
type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
}

// handleLogin authenticates an agent and issues a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if errMsg := readJSON(r, &req); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.agentUsers.GetByUsername(r.Context(), req.Username)
	if err != nil {
		s.logger.Error("login: failed to query user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		// Same response as a bad password so usernames cannot be probed.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	match, err := identity.CheckPassword(req.Password, user.PasswordHash)
	if err != nil {
		s.logger.Error("login: failed to verify password", "error", err, "username", req.Username)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !match {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := middleware.GenerateAgentToken(s.jwtSecret, user.ID, user.Username)
	if err != nil {
		s.logger.Error("login: failed to sign token", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		UserID:    user.ID,
		Username:  user.Username,
	})
}

// handleMe returns the authenticated agent's identity.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.AgentUserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]int64{"user_id": userID})
}
