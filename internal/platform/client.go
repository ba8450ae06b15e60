// Package platform implements the PlatformClient (spec component 4.G):
// outbound, best-effort HTTP calls to the external GameBuddies platform for
// return-to-lobby redirects and player status updates.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/logging"
	"github.com/ennuiii/gamebuddies-server/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// requestTimeout bounds every outbound call; a timeout is treated exactly
// like a failure and triggers fallback URL assembly.
const requestTimeout = 5 * time.Second

// ReturnToLobbyRequest is the body of a requestReturnToLobby call.
type ReturnToLobbyRequest struct {
	ReturnAll   bool           `json:"returnAll"`
	PlayerID    string         `json:"playerId,omitempty"`
	InitiatedBy string         `json:"initiatedBy"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ReturnToLobbyResult is the outcome of a requestReturnToLobby call. When
// the platform is unreachable, Ok remains true with APIError set and
// ReturnURL holding the locally-assembled fallback, so callers can proceed
// without special-casing failure (per the TransientExternal error kind).
type ReturnToLobbyResult struct {
	Ok              bool   `json:"ok"`
	ReturnURL       string `json:"returnUrl"`
	SessionToken    string `json:"sessionToken,omitempty"`
	PlayersReturned int    `json:"playersReturned,omitempty"`
	APIError        string `json:"apiError,omitempty"`
}

// Client is the outbound-only HTTP collaborator for the external platform.
// All operations are best-effort: failures are logged and degrade to a
// locally-computed fallback rather than propagating to the caller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

// New constructs a Client. baseURL may be empty, in which case every
// operation short-circuits to its fallback behavior without attempting a
// network call.
func New(baseURL string) *Client {
	st := gobreaker.Settings{
		Name:        "platform",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.PlatformCircuitBreakerState.WithLabelValues("requestReturnToLobby").Set(stateVal)
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

// Healthy reports whether the platform circuit breaker is not currently
// open. An empty baseURL (no platform configured) is always healthy.
func (c *Client) Healthy() bool {
	if c.baseURL == "" {
		return true
	}
	return c.cb.State() != gobreaker.StateOpen
}

// GetFallbackReturnUrl assembles a deterministic return URL locally,
// without any network call, still embedding the room code. Used both as
// the direct fallback source and whenever the platform API fails.
func (c *Client) GetFallbackReturnUrl(roomCode string) string {
	if c.baseURL == "" {
		return fmt.Sprintf("/rooms/%s", roomCode)
	}
	return fmt.Sprintf("%s/rooms/%s", c.baseURL, roomCode)
}

// RequestReturnToLobby asks the platform for a return URL (and, for group
// returns, reassigns players). On any failure (timeout, non-2xx, circuit
// open), it degrades to Ok:true with the locally-assembled fallback URL
// and APIError set, so the caller can proceed unconditionally.
func (c *Client) RequestReturnToLobby(ctx context.Context, gameID, roomCode string, req ReturnToLobbyRequest) ReturnToLobbyResult {
	if c.baseURL == "" {
		return ReturnToLobbyResult{Ok: true, ReturnURL: c.GetFallbackReturnUrl(roomCode)}
	}

	url := fmt.Sprintf("%s/api/games/%s/rooms/%s/return", c.baseURL, gameID, roomCode)

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.postJSON(ctx, url, req)
	})

	metrics.PlatformRequestsTotal.WithLabelValues("requestReturnToLobby", statusLabel(err)).Inc()

	if err != nil {
		logging.Warn(ctx, "platform requestReturnToLobby failed, using fallback",
			zap.String("room_code", roomCode), zap.Error(err))
		return ReturnToLobbyResult{
			Ok:        true,
			ReturnURL: c.GetFallbackReturnUrl(roomCode),
			APIError:  err.Error(),
		}
	}

	var parsed ReturnToLobbyResult
	if err := json.Unmarshal(result.([]byte), &parsed); err != nil {
		logging.Warn(ctx, "platform response decode failed, using fallback", zap.Error(err))
		return ReturnToLobbyResult{
			Ok:        true,
			ReturnURL: c.GetFallbackReturnUrl(roomCode),
			APIError:  err.Error(),
		}
	}
	if parsed.ReturnURL == "" {
		parsed.ReturnURL = c.GetFallbackReturnUrl(roomCode)
	}
	parsed.Ok = true
	return parsed
}

// UpdatePlayerStatus is fire-and-forget: failures are logged and never
// returned to the caller.
func (c *Client) UpdatePlayerStatus(ctx context.Context, gameID, roomCode, playerID, status, note string, data map[string]any) {
	if c.baseURL == "" {
		return
	}

	url := fmt.Sprintf("%s/api/games/%s/rooms/%s/players/%s/status", c.baseURL, gameID, roomCode, playerID)
	body := map[string]any{"status": status, "note": note, "data": data}

	_, err := c.cb.Execute(func() (interface{}, error) {
		return c.postJSON(ctx, url, body)
	})

	metrics.PlatformRequestsTotal.WithLabelValues("updatePlayerStatus", statusLabel(err)).Inc()

	if err != nil {
		logging.Warn(ctx, "platform updatePlayerStatus failed (best-effort, ignored)",
			zap.String("room_code", roomCode), zap.String("player_id", playerID), zap.Error(err))
	}
}

func (c *Client) postJSON(ctx context.Context, url string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("platform returned status %d", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return buf.Bytes(), nil
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if err == gobreaker.ErrOpenState {
		return "circuit_open"
	}
	return "error"
}
