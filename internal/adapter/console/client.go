// Package console is the REST client for the ops-console backend: session
// listing, transcript retrieval, and appending user messages before a turn
// stream is opened.
package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"opsassist/internal/domain"
	"opsassist/internal/infra/config"
	"opsassist/internal/infra/tracer"
)

// maxErrorBody caps how much of an error response body is read for detail.
const maxErrorBody = 4 << 10

// Client talks to the console REST API. All methods attach the bearer token
// and tenant header from the credential supplier.
type Client struct {
	baseURL string
	creds   domain.CredentialSupplier
	http    *http.Client
	logger  *slog.Logger
}

// NewClient builds a console client with a pooled transport.
func NewClient(cfg config.ConsoleConfig, creds domain.CredentialSupplier, logger *slog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		creds:   creds,
		http:    NewHTTPClient(cfg),
		logger:  logger,
	}
}

// CreateSession creates a new chat session and returns its summary.
func (c *Client) CreateSession(ctx context.Context, title string) (*domain.SessionSummary, error) {
	ctx, span := tracer.StartSpan(ctx, "console.CreateSession")
	defer span.End()

	body := map[string]string{"title": title}
	var out domain.SessionSummary
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Console.CreateSession", err)
	}
	tracer.SetOK(span)
	c.logger.Info("session created", "session", out.ID)
	return &out, nil
}

// ListSessions returns the caller's sessions, most recently updated first.
func (c *Client) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	ctx, span := tracer.StartSpan(ctx, "console.ListSessions")
	defer span.End()

	var out []domain.SessionSummary
	if err := c.do(ctx, http.MethodGet, "/sessions", nil, &out); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Console.ListSessions", err)
	}
	span.SetAttributes(tracer.IntAttr("sessions", len(out)))
	tracer.SetOK(span)
	return out, nil
}

// ListMessages returns the full transcript of one session in order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "console.ListMessages")
	defer span.End()

	var out []domain.ChatMessage
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Console.ListMessages", err)
	}
	span.SetAttributes(tracer.StringAttr("session", sessionID), tracer.IntAttr("messages", len(out)))
	tracer.SetOK(span)
	return out, nil
}

// AppendMessage persists one message to a session's transcript. For user
// messages this must succeed before a turn stream is opened.
func (c *Client) AppendMessage(ctx context.Context, sessionID, role, content string) (*domain.ChatMessage, error) {
	ctx, span := tracer.StartSpan(ctx, "console.AppendMessage")
	defer span.End()

	body := map[string]string{"role": role, "content": content}
	var out domain.ChatMessage
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Console.AppendMessage", err)
	}
	tracer.SetOK(span)
	return &out, nil
}

// do executes one JSON request/response round trip against the API.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return err
	}

	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	if creds.TenantID != "" {
		req.Header.Set("X-Tenant-ID", creds.TenantID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConsoleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return mapHTTPError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mapHTTPError converts a non-2xx response into a domain sentinel error,
// keeping a short slice of the body as detail.
func mapHTTPError(resp *http.Response) error {
	detail := resp.Status
	if snippet, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil && len(snippet) > 0 {
		detail = fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	default:
		return fmt.Errorf("%w: %s", domain.ErrConsoleUnavailable, detail)
	}
}
