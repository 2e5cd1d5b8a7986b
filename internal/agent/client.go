package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/callbridge/callbridge/internal/events"
)

// Client talks to the call server's HTTP API and event stream on behalf of
// the agent process. Login must succeed before any other call.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *slog.Logger
}

// NewClient creates a client for the server at baseURL (scheme and host,
// no trailing slash required).
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.With("subsystem", "server-client"),
	}
}

// apiEnvelope mirrors the server's response wrapper.
type apiEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

// Login authenticates and stores the issued token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/api/v1/auth/login", body, &resp); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	c.token = resp.Token
	return nil
}

// Dial asks the server to start an outbound call.
func (c *Client) Dial(ctx context.Context, toNumber string) (string, int64, error) {
	body := map[string]string{"to_number": toNumber}
	var resp struct {
		SessionID string `json:"session_id"`
		CallLogID int64  `json:"call_log_id"`
	}
	if err := c.post(ctx, "/api/v1/calls/dial", body, &resp); err != nil {
		return "", 0, err
	}
	return resp.SessionID, resp.CallLogID, nil
}

// Hangup asks the server to tear down the given session.
func (c *Client) Hangup(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/api/v1/calls/"+url.PathEscape(sessionID)+"/hangup", nil, nil)
}

// Events connects to the server's websocket stream and returns a channel of
// pushed call events. The channel closes when the connection drops or the
// context is cancelled.
func (c *Client) Events(ctx context.Context) (<-chan events.Event, error) {
	wsURL, err := c.eventsURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting event stream: %w", err)
	}

	ch := make(chan events.Event, 16)
	go func() {
		defer close(ch)
		defer conn.Close()
		for {
			var ev events.Event
			if err := conn.ReadJSON(&ev); err != nil {
				c.logger.Info("event stream closed", "error", err)
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return ch, nil
}

// eventsURL converts the base HTTP URL into the websocket endpoint, passing
// the token as a query parameter since websocket handshakes cannot carry an
// Authorization header from every client.
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/events"
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// post sends a JSON request and decodes the enveloped response into out
// when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding response from %s (status %d): %w", path, res.StatusCode, err)
	}
	if res.StatusCode >= 400 {
		if env.Error != "" {
			return fmt.Errorf("%s: %s", path, env.Error)
		}
		return fmt.Errorf("%s: status %d", path, res.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}
