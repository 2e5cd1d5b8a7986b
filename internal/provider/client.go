// Package provider wraps the telephony provider's call-control REST API.
// The engine needs five operations: create a PSTN leg, create a SIP leg,
// bridge two legs, hang up a leg, and start recording. Everything else the
// provider offers is out of scope.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ring timeouts. The PSTN side gets the usual 30 seconds; the SIP side is
// a soft phone that should answer near-instantly once signaled, so it gets
// a short leash.
const (
	DefaultPSTNRingTimeout = 30
	SIPRingTimeout         = 15
)

// Client issues call-control commands to the provider over HTTPS with
// bearer authentication.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
}

// NewClient creates a call-control API client.
// baseURL is the provider API root (e.g., "https://api.telco.example").
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logger.With("subsystem", "callcontrol"),
	}
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error (%d): %s", e.StatusCode, e.Body)
}

// createCallRequest is the payload for POST /v2/calls.
type createCallRequest struct {
	To          string `json:"to"`
	From        string `json:"from"`
	ClientState string `json:"client_state,omitempty"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
}

// createCallResponse is the data envelope returned on call creation.
type createCallResponse struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
	} `json:"data"`
}

// CreatePSTNLeg dials an external number. The returned call-control ID is
// the handle for all later commands and webhooks on this leg.
func (c *Client) CreatePSTNLeg(ctx context.Context, to, from, clientState string, timeoutSecs int) (string, error) {
	if timeoutSecs <= 0 {
		timeoutSecs = DefaultPSTNRingTimeout
	}
	return c.createCall(ctx, createCallRequest{
		To:          to,
		From:        from,
		ClientState: clientState,
		TimeoutSecs: timeoutSecs,
	})
}

// CreateSIPLeg dials the agent's soft phone at its SIP address.
func (c *Client) CreateSIPLeg(ctx context.Context, sipAddress, from, clientState string) (string, error) {
	return c.createCall(ctx, createCallRequest{
		To:          sipAddress,
		From:        from,
		ClientState: clientState,
		TimeoutSecs: SIPRingTimeout,
	})
}

func (c *Client) createCall(ctx context.Context, req createCallRequest) (string, error) {
	var resp createCallResponse
	if err := c.post(ctx, "/v2/calls", req, &resp); err != nil {
		return "", fmt.Errorf("creating call leg to %s: %w", req.To, err)
	}
	if resp.Data.CallControlID == "" {
		return "", fmt.Errorf("creating call leg to %s: provider returned no call_control_id", req.To)
	}
	return resp.Data.CallControlID, nil
}

// Bridge connects two live legs into one audio path. It fails if either
// leg is no longer active; the caller treats that as terminal for the
// session.
func (c *Client) Bridge(ctx context.Context, callControlID, otherCallControlID string) error {
	body := map[string]string{"call_control_id": otherCallControlID}
	path := fmt.Sprintf("/v2/calls/%s/actions/bridge", callControlID)
	if err := c.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("bridging %s with %s: %w", callControlID, otherCallControlID, err)
	}
	return nil
}

// Hangup terminates a leg. The provider answers 404 or 422 when the call
// has already ended; that race is routine and reported as success.
func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	path := fmt.Sprintf("/v2/calls/%s/actions/hangup", callControlID)
	err := c.post(ctx, path, struct{}{}, nil)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusUnprocessableEntity) {
		c.logger.Debug("hangup on already-ended call", "call_control_id", callControlID, "status", apiErr.StatusCode)
		return nil
	}
	return fmt.Errorf("hanging up %s: %w", callControlID, err)
}

// StartRecording begins dual-channel recording on a leg. Best-effort:
// callers log failures and continue.
func (c *Client) StartRecording(ctx context.Context, callControlID string) error {
	body := map[string]string{"format": "mp3", "channels": "dual"}
	path := fmt.Sprintf("/v2/calls/%s/actions/record_start", callControlID)
	if err := c.post(ctx, path, body, nil); err != nil {
		return fmt.Errorf("starting recording on %s: %w", callControlID, err)
	}
	return nil
}

// credentialResponse is the envelope for the agent SIP credential lookup.
type credentialResponse struct {
	Data struct {
		SIPAddress string `json:"sip_address"`
	} `json:"data"`
}

// FetchSIPAddress resolves the SIP address the agent's soft phone is
// reachable at. Callers should go through the CredentialCache rather than
// hitting the provider on every dial.
func (c *Client) FetchSIPAddress(ctx context.Context, credentialID string) (string, error) {
	var resp credentialResponse
	path := fmt.Sprintf("/v2/credentials/%s", credentialID)
	if err := c.get(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("fetching sip credential %s: %w", credentialID, err)
	}
	if resp.Data.SIPAddress == "" {
		return "", fmt.Errorf("fetching sip credential %s: provider returned no sip_address", credentialID)
	}
	return resp.Data.SIPAddress, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
