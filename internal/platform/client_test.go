package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetFallbackReturnUrlEmbedsRoomCode(t *testing.T) {
	c := New("")
	require.Equal(t, "/rooms/ABC123", c.GetFallbackReturnUrl("ABC123"))

	c2 := New("https://platform.example.com")
	require.Equal(t, "https://platform.example.com/rooms/ABC123", c2.GetFallbackReturnUrl("ABC123"))
}

func TestRequestReturnToLobbyWithNoBaseURLReturnsFallback(t *testing.T) {
	c := New("")
	result := c.RequestReturnToLobby(context.Background(), "lightcycles", "ABC123", ReturnToLobbyRequest{InitiatedBy: "host"})
	require.True(t, result.Ok)
	require.Equal(t, "/rooms/ABC123", result.ReturnURL)
	require.Empty(t, result.APIError)
}

func TestRequestReturnToLobbySucceedsAgainstLiveServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ReturnToLobbyResult{Ok: true, ReturnURL: "https://platform.example.com/rooms/ABC123"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result := c.RequestReturnToLobby(context.Background(), "lightcycles", "ABC123", ReturnToLobbyRequest{InitiatedBy: "host"})
	require.True(t, result.Ok)
	require.Equal(t, "https://platform.example.com/rooms/ABC123", result.ReturnURL)
	require.Empty(t, result.APIError)
}

func TestRequestReturnToLobbyDegradesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	result := c.RequestReturnToLobby(context.Background(), "lightcycles", "ABC123", ReturnToLobbyRequest{InitiatedBy: "host"})
	require.True(t, result.Ok)
	require.Equal(t, srv.URL+"/rooms/ABC123", result.ReturnURL)
	require.NotEmpty(t, result.APIError)
}

func TestUpdatePlayerStatusNeverPanicsOnFailure(t *testing.T) {
	c := New("http://127.0.0.1:0")
	require.NotPanics(t, func() {
		c.UpdatePlayerStatus(context.Background(), "lightcycles", "ABC123", "p1", "disconnected", "", nil)
	})
}
