package liveavatar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/macahealth/maca-server/domain/entities"
)

func newTestServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var requests []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/sessions/token":
			if r.Header.Get("X-API-KEY") != "test-api-key" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"message": "bad api key"}`))
				return
			}
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			if payload["avatar_id"] != "avatar-1" {
				t.Errorf("avatar_id = %q", payload["avatar_id"])
			}
			if payload["mode"] != "CUSTOM" {
				t.Errorf("mode = %q, want CUSTOM", payload["mode"])
			}
			w.Write([]byte(`{"session_id": "sess-1", "session_token": "tok-1"}`))

		case "/sessions/start":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"session_id": "sess-1", "livekit_url": "wss://transport.example", "livekit_client_token": "client-tok"}`))

		case "/sessions/stop", "/sessions/keep-alive":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	return server, &requests
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:     "test-api-key",
		AvatarID:   "avatar-1",
		APIBaseURL: baseURL,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestValidateConfig(t *testing.T) {
	if err := ValidateConfig(Config{}); err == nil {
		t.Error("Expected error for missing API key")
	}
	if err := ValidateConfig(Config{APIKey: "k"}); err == nil {
		t.Error("Expected error for missing avatar ID")
	}
	if err := ValidateConfig(Config{APIKey: "k", AvatarID: "a"}); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}
}

func TestIssueSession(t *testing.T) {
	server, requests := newTestServer(t)
	defer server.Close()

	client := newTestClient(t, server.URL)
	creds, err := client.IssueSession(context.Background(), entities.AvatarModeCustom)
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}

	if creds.SessionID != "sess-1" || creds.SessionToken != "tok-1" {
		t.Errorf("session identity = %s/%s", creds.SessionID, creds.SessionToken)
	}
	if creds.TransportURL != "wss://transport.example" {
		t.Errorf("transport URL = %s", creds.TransportURL)
	}
	if creds.TransportClientToken != "client-tok" {
		t.Errorf("client token = %s", creds.TransportClientToken)
	}

	want := []string{"/sessions/token", "/sessions/start"}
	if len(*requests) != len(want) {
		t.Fatalf("made %d requests, want 2: %v", len(*requests), *requests)
	}
	for i := range want {
		if (*requests)[i] != want[i] {
			t.Errorf("request[%d] = %s, want %s", i, (*requests)[i], want[i])
		}
	}
}

func TestIssueSessionVendorError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"message": "plan exhausted"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.IssueSession(context.Background(), entities.AvatarModeCustom)
	if err == nil {
		t.Fatal("issue succeeded despite vendor error")
	}
}

func TestIssueSessionIncompleteStart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sessions/token":
			w.Write([]byte(`{"session_id": "sess-1", "session_token": "tok-1"}`))
		case "/sessions/start":
			w.Write([]byte(`{"session_id": "sess-1"}`))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	if _, err := client.IssueSession(context.Background(), entities.AvatarModeCustom); err == nil {
		t.Fatal("issue succeeded despite missing transport data")
	}
}

func TestStopAndKeepAlive(t *testing.T) {
	server, requests := newTestServer(t)
	defer server.Close()

	client := newTestClient(t, server.URL)
	creds := &entities.SessionCredentials{
		SessionID:            "sess-1",
		SessionToken:         "tok-1",
		TransportURL:         "wss://transport.example",
		TransportClientToken: "client-tok",
	}

	if err := client.StopSession(context.Background(), creds); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	if err := client.KeepAlive(context.Background(), creds); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}

	want := []string{"/sessions/stop", "/sessions/keep-alive"}
	if len(*requests) != 2 {
		t.Fatalf("made %d requests, want 2", len(*requests))
	}
	for i := range want {
		if (*requests)[i] != want[i] {
			t.Errorf("request[%d] = %s, want %s", i, (*requests)[i], want[i])
		}
	}
}
