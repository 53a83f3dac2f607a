package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"opsassist/internal/domain"
	"opsassist/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	creds := domain.StaticCredentials{Token: "tok-1", TenantID: "acme"}
	return NewClient(config.ConsoleConfig{BaseURL: srv.URL}, creds, testLogger())
}

func TestAppendMessageSendsAuthAndBody(t *testing.T) {
	var gotAuth, gotTenant, gotPath string
	var gotBody map[string]string

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotTenant = r.Header.Get("X-Tenant-ID")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.ChatMessage{ID: "msg-1", Role: domain.RoleUser, Content: gotBody["content"]})
	})

	msg, err := client.AppendMessage(context.Background(), "sess-1", domain.RoleUser, "restart the ingest worker")
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.ID != "msg-1" || msg.Content != "restart the ingest worker" {
		t.Errorf("message = %+v", msg)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotTenant != "acme" {
		t.Errorf("X-Tenant-ID = %q", gotTenant)
	}
	if gotPath != "/sessions/sess-1/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["role"] != domain.RoleUser {
		t.Errorf("role = %q", gotBody["role"])
	}
}

func TestListSessionsDecodesSummaries(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `[{"id":"s1","title":"deploy incident","message_count":4},{"id":"s2","title":"disk alerts","message_count":2}]`)
	})

	sessions, err := client.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s1" || sessions[1].MessageCount != 2 {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestCreateSessionInvalidatesNothingOnError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	if _, err := client.CreateSession(context.Background(), "new"); err == nil {
		t.Fatal("expected error from 500 response")
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusNotFound, domain.ErrSessionNotFound},
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusInternalServerError, domain.ErrConsoleUnavailable},
		{http.StatusBadGateway, domain.ErrConsoleUnavailable},
	}
	for _, tc := range cases {
		client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "detail", tc.status)
		})
		_, err := client.ListMessages(context.Background(), "sess-1")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestUnreachableBackendMapsToUnavailable(t *testing.T) {
	creds := domain.StaticCredentials{Token: "tok-1"}
	client := NewClient(config.ConsoleConfig{BaseURL: "http://127.0.0.1:1"}, creds, testLogger())
	_, err := client.ListSessions(context.Background())
	if !errors.Is(err, domain.ErrConsoleUnavailable) {
		t.Errorf("err = %v, want ErrConsoleUnavailable", err)
	}
}
