// Package stream implements the SSE transport for assistant turn streams.
// One Connection owns exactly one live subscription to a session's stream
// and delivers decoded chunks until a terminal chunk, a transport failure,
// or an explicit Close.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"opsassist/internal/domain"
)

// connectionLostMessage is the fixed user-facing message synthesized when the
// transport drops mid-stream. It deliberately carries no detail from the
// underlying error.
const connectionLostMessage = "Connection lost. Please try again."

// Client opens turn streams against the console backend.
type Client struct {
	baseURL string
	creds   domain.CredentialSupplier
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a stream client. baseURL is the console API root,
// without a trailing slash.
func NewClient(baseURL string, creds domain.CredentialSupplier, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		// No overall timeout: the stream stays open for the whole turn.
		http:   &http.Client{Timeout: 0, Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second}},
		logger: logger,
	}
}

// Open establishes the event stream for one session and starts delivering
// chunks. The transport does not support custom headers, so credentials
// travel as query parameters.
func (c *Client) Open(ctx context.Context, sessionID string) (*Connection, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, domain.WrapOp("Stream.Open", err)
	}

	u, err := url.Parse(fmt.Sprintf("%s/sessions/%s/stream", c.baseURL, url.PathEscape(sessionID)))
	if err != nil {
		return nil, domain.WrapOp("Stream.Open", err)
	}
	q := u.Query()
	q.Set("access_token", creds.Token)
	if creds.TenantID != "" {
		q.Set("tenant_id", creds.TenantID)
	}
	u.RawQuery = q.Encode()

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, domain.WrapOp("Stream.Open", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, domain.WrapOp("Stream.Open", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, domain.NewDomainError("Stream.Open", domain.ErrAuthInvalid, resp.Status)
		case http.StatusNotFound:
			return nil, domain.NewDomainError("Stream.Open", domain.ErrSessionNotFound, sessionID)
		default:
			return nil, domain.NewDomainError("Stream.Open", domain.ErrConsoleUnavailable, resp.Status)
		}
	}

	conn := &Connection{
		cancel: cancel,
		body:   resp.Body,
		ch:     make(chan domain.StreamChunk, 16),
		logger: c.logger,
	}
	go conn.readLoop(streamCtx)

	c.logger.Debug("stream opened", "session", sessionID)
	return conn, nil
}

// Connection is one live turn stream. Chunks are delivered on the channel
// returned by Chunks; the channel is closed after the terminal chunk, after
// a synthesized transport-failure chunk, or after Close.
type Connection struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	ch     chan domain.StreamChunk
	logger *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// Chunks returns the delivery channel. It is closed when the stream ends;
// ranging over it terminates for every outcome.
func (c *Connection) Chunks() <-chan domain.StreamChunk {
	return c.ch
}

// Close tears down the transport. Idempotent: closing twice, or closing a
// connection whose stream already ended, is a no-op.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.body.Close()
	})
}

// readLoop scans the SSE body, decodes data payloads, and sends chunks until
// the stream ends. The loop owns the channel: it is the only closer.
func (c *Connection) readLoop(ctx context.Context) {
	defer close(c.ch)
	defer c.body.Close()

	terminal, err := scanSSE(ctx, c.body, func(data []byte) bool {
		chunk := domain.ParseChunk(data)
		select {
		case c.ch <- chunk:
		case <-ctx.Done():
			return false
		}
		return !chunk.Terminal()
	})

	if terminal || c.closed.Load() {
		return
	}
	if err != nil {
		c.logger.Warn("stream transport failed", "error", err)
	} else {
		// Clean EOF without a done/error chunk is still a drop from the
		// consumer's point of view.
		c.logger.Warn("stream ended without terminal chunk")
	}

	select {
	case c.ch <- domain.StreamChunk{Tag: domain.ChunkError, Content: connectionLostMessage}:
	case <-ctx.Done():
	}
}
