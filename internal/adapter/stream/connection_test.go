package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"opsassist/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCreds() domain.CredentialSupplier {
	return domain.StaticCredentials{Token: "tok-1", TenantID: "acme"}
}

// sseServer serves one canned SSE body and records the request for
// inspection.
func sseServer(t *testing.T, body string) (*httptest.Server, *http.Request) {
	t.Helper()
	var captured http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func collect(t *testing.T, conn *Connection) []domain.StreamChunk {
	t.Helper()
	var chunks []domain.StreamChunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-conn.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-timeout:
			t.Fatal("timed out waiting for stream to end")
		}
	}
}

func TestOpenDeliversChunksInOrder(t *testing.T) {
	body := "data: {\"type\":\"text\",\"content\":\"Hello\"}\n\n" +
		"data: {\"type\":\"text\",\"content\":\" world\"}\n\n" +
		"data: {\"type\":\"done\"}\n\n"
	srv, captured := sseServer(t, body)

	client := NewClient(srv.URL, testCreds(), testLogger())
	conn, err := client.Open(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	chunks := collect(t, conn)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Content != "Hello" || chunks[1].Content != " world" {
		t.Errorf("text chunks out of order: %+v", chunks[:2])
	}
	if chunks[2].Tag != domain.ChunkDone {
		t.Errorf("last chunk tag = %q, want done", chunks[2].Tag)
	}

	if got := captured.URL.Query().Get("access_token"); got != "tok-1" {
		t.Errorf("access_token = %q", got)
	}
	if got := captured.URL.Query().Get("tenant_id"); got != "acme" {
		t.Errorf("tenant_id = %q", got)
	}
	if got := captured.Header.Get("Accept"); got != "text/event-stream" {
		t.Errorf("Accept = %q", got)
	}
}

func TestOpenMapsHTTPStatus(t *testing.T) {
	for _, tc := range []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusNotFound, domain.ErrSessionNotFound},
		{http.StatusBadGateway, domain.ErrConsoleUnavailable},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewClient(srv.URL, testCreds(), testLogger())
		_, err := client.Open(context.Background(), "sess-1")
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestTransportDropSynthesizesErrorChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"type\":\"text\",\"content\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		// Kill the connection without ever sending done.
		hj, _ := w.(http.Hijacker)
		conn, _, _ := hj.Hijack()
		conn.Close()
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testCreds(), testLogger())
	conn, err := client.Open(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	chunks := collect(t, conn)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want partial text + synthesized error", len(chunks))
	}
	last := chunks[len(chunks)-1]
	if last.Tag != domain.ChunkError {
		t.Fatalf("last chunk tag = %q, want error", last.Tag)
	}
	if last.Content != "Connection lost. Please try again." {
		t.Errorf("synthesized message = %q", last.Content)
	}
}

func TestCleanEOFWithoutTerminalCountsAsDrop(t *testing.T) {
	srv, _ := sseServer(t, "data: {\"type\":\"text\",\"content\":\"half\"}\n\n")

	client := NewClient(srv.URL, testCreds(), testLogger())
	conn, err := client.Open(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	chunks := collect(t, conn)
	last := chunks[len(chunks)-1]
	if last.Tag != domain.ChunkError || last.Content != "Connection lost. Please try again." {
		t.Errorf("expected synthesized error chunk, got %+v", last)
	}
}

func TestCloseStopsStreamWithoutSyntheticError(t *testing.T) {
	blockForever := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "data: {\"type\":\"text\",\"content\":\"before close\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-blockForever:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(blockForever)

	client := NewClient(srv.URL, testCreds(), testLogger())
	conn, err := client.Open(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := <-conn.Chunks()
	if first.Content != "before close" {
		t.Fatalf("first chunk = %+v", first)
	}

	conn.Close()
	conn.Close() // idempotent

	for chunk := range conn.Chunks() {
		if chunk.Tag == domain.ChunkError {
			t.Errorf("deliberate close must not synthesize an error chunk, got %+v", chunk)
		}
	}
}

func TestChannelClosesAfterTerminalChunk(t *testing.T) {
	srv, _ := sseServer(t, "data: {\"type\":\"error\",\"content\":\"backend failed\"}\n\n")

	client := NewClient(srv.URL, testCreds(), testLogger())
	conn, err := client.Open(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	chunks := collect(t, conn)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Tag != domain.ChunkError || chunks[0].Content != "backend failed" {
		t.Errorf("chunk = %+v", chunks[0])
	}
}
