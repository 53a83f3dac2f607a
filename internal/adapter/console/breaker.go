package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"opsassist/internal/domain"
	"opsassist/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// messageAppender is the slice of Client that the breaker protects.
type messageAppender interface {
	AppendMessage(ctx context.Context, sessionID, role, content string) (*domain.ChatMessage, error)
}

// GuardedAppender wraps the append-message call with a rate limiter and a
// circuit breaker. Appending the user message is the one write on the turn
// hot path; when the console fails repeatedly the circuit opens and sends
// fail fast instead of piling up requests against a dead backend.
type GuardedAppender struct {
	inner   messageAppender
	breaker *gobreaker.CircuitBreaker[*domain.ChatMessage]
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGuardedAppender wraps inner using the breaker and rate settings from
// cfg. SendsPerMinute of 0 disables the rate limiter.
func NewGuardedAppender(inner messageAppender, cfg config.ConsoleConfig, logger *slog.Logger) *GuardedAppender {
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Breaker.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Breaker.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ChatMessage](gobreaker.Settings{
		Name:        "console:append",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// Client-side mistakes must not open the circuit.
			return err == nil || errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrAuthInvalid)
		},
	})

	var limiter *rate.Limiter
	if cfg.SendsPerMinute > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SendsPerMinute)/60.0, burst)
	}

	return &GuardedAppender{
		inner:   inner,
		breaker: cb,
		limiter: limiter,
		logger:  logger,
	}
}

// AppendMessage routes the call through the rate limiter and breaker.
func (g *GuardedAppender) AppendMessage(ctx context.Context, sessionID, role, content string) (*domain.ChatMessage, error) {
	if g.limiter != nil && !g.limiter.Allow() {
		return nil, domain.NewDomainError("Console.AppendMessage", domain.ErrRateLimit, "local send limit")
	}

	msg, err := g.breaker.Execute(func() (*domain.ChatMessage, error) {
		return g.inner.AppendMessage(ctx, sessionID, role, content)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("console circuit open: %w", domain.ErrConsoleUnavailable)
		}
		return nil, err
	}
	return msg, nil
}

// State returns the current circuit breaker state for monitoring.
func (g *GuardedAppender) State() gobreaker.State {
	return g.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (g *GuardedAppender) Counts() gobreaker.Counts {
	return g.breaker.Counts()
}
