package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/callbridge/callbridge/internal/config"
	"github.com/callbridge/callbridge/internal/database"
	"github.com/callbridge/callbridge/internal/database/models"
	"github.com/callbridge/callbridge/internal/engine"
	"github.com/callbridge/callbridge/internal/events"
	"github.com/callbridge/callbridge/internal/identity"
	"github.com/callbridge/callbridge/internal/session"
)

type stubProvider struct {
	nextID  int
	hangups int
}

func (p *stubProvider) CreatePSTNLeg(context.Context, string, string, string, int) (string, error) {
	p.nextID++
	return fmt.Sprintf("leg-%d", p.nextID), nil
}

func (p *stubProvider) CreateSIPLeg(context.Context, string, string, string) (string, error) {
	p.nextID++
	return fmt.Sprintf("leg-%d", p.nextID), nil
}

func (p *stubProvider) Bridge(context.Context, string, string) error { return nil }

func (p *stubProvider) Hangup(context.Context, string) error {
	p.hangups++
	return nil
}

func (p *stubProvider) StartRecording(context.Context, string) error { return nil }

type stubSIPSource struct{}

func (stubSIPSource) SIPAddress(context.Context) (string, error) {
	return "sip:agent@sip.example.com", nil
}

type stubCallerID struct{}

func (stubCallerID) Next() string { return "+15559990000" }

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

type testServer struct {
	srv      *Server
	provider *stubProvider
	token    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	callLogs := database.NewCallLogRepository(db)
	agentUsers := database.NewAgentUserRepository(db)
	provider := &stubProvider{}

	eng := engine.New(engine.Config{
		Store:      session.NewStore(0, logger),
		Provider:   provider,
		SIPSource:  stubSIPSource{},
		CallerIDs:  stubCallerID{},
		CallLogs:   callLogs,
		Activities: database.NewActivityRepository(db),
		Resolver:   identity.NewResolver(database.NewContactRepository(db)),
		Publisher:  nopPublisher{},
		Logger:     logger,
	})

	hash, err := identity.HashPassword("agent-pass")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	if err := agentUsers.Create(context.Background(), &models.AgentUser{
		Username:     "agent1",
		PasswordHash: hash,
	}); err != nil {
		t.Fatalf("seeding agent user: %v", err)
	}

	secret := []byte("0123456789abcdef0123456789abcdef")
	cfg := &config.Config{HTTPPort: 8080, LogLevel: "info", LogFormat: "text"}
	hub := events.NewHub(logger, func(*http.Request) bool { return true })

	srv := NewServer(cfg, eng, hub, callLogs, agentUsers, secret, nil, logger)

	ts := &testServer{srv: srv, provider: provider}
	ts.token = ts.login(t, "agent1", "agent-pass")
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	r := httptest.NewRequest(method, path, rd)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, r)
	return w
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": username, "password": password})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", w.Code, w.Body.String())
	}
	var env struct {
		Data loginResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return env.Data.Token
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "agent1", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}

	// Unknown user gets the same response.
	w = ts.do(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"username": "nobody", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for unknown user", w.Code)
	}
}

func TestDialRequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/calls/dial", "",
		map[string]string{"to_number": "+15550001111"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestDialStartsCall(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/calls/dial", ts.token,
		map[string]string{"to_number": "+15550001111"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var env struct {
		Data dialResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Data.SessionID == "" || env.Data.CallLogID == 0 {
		t.Errorf("dial response = %+v", env.Data)
	}
}

func TestDialRejectsBadNumber(t *testing.T) {
	ts := newTestServer(t)
	for _, num := range []string{"", "not-a-number", "+1555000111122223333"} {
		w := ts.do(t, http.MethodPost, "/api/v1/calls/dial", ts.token,
			map[string]string{"to_number": num})
		if w.Code != http.StatusBadRequest {
			t.Errorf("dial %q: status = %d, want 400", num, w.Code)
		}
	}
}

func TestHangupUnknownSession(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/calls/no-such-session/hangup", ts.token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHangupLiveSession(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/calls/dial", ts.token,
		map[string]string{"to_number": "+15550001111"})
	var env struct {
		Data dialResponse `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding dial response: %v", err)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/calls/"+env.Data.SessionID+"/hangup", ts.token, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if ts.provider.hangups != 2 {
		t.Errorf("provider hangups = %d, want both legs", ts.provider.hangups)
	}
}

func TestWebhookMalformedJSON(t *testing.T) {
	ts := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/telco",
		bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWebhookUnroutableStillAcked(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/webhooks/telco", "", map[string]any{
		"event_type": "call.hangup",
		"payload": map[string]string{
			"call_control_id": "unknown-leg",
			"client_state":    "garbage-token",
			"hangup_cause":    "normal_clearing",
		},
	})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for unroutable but parseable webhook", w.Code)
	}
}

func TestListCalls(t *testing.T) {
	ts := newTestServer(t)

	// Start one call so there is history.
	ts.do(t, http.MethodPost, "/api/v1/calls/dial", ts.token,
		map[string]string{"to_number": "+15550001111"})

	w := ts.do(t, http.MethodGet, "/api/v1/calls/", ts.token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var env struct {
		Data struct {
			Items []callLogResponse `json:"items"`
			Total int               `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if env.Data.Total != 1 || len(env.Data.Items) != 1 {
		t.Fatalf("list = %+v, want 1 call", env.Data)
	}
	if env.Data.Items[0].ToNumber != "+15550001111" {
		t.Errorf("ToNumber = %q", env.Data.Items[0].ToNumber)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/calls/?outcome=bogus", ts.token, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus outcome: status = %d, want 400", w.Code)
	}
}
