// Package usecase contains the turn orchestration logic: one user message in,
// one fully accumulated assistant response out, with lifecycle, cancellation,
// and cache invalidation handled in one place.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"opsassist/internal/domain"
	"opsassist/internal/infra/tracer"
)

// submitFailedMessage is the fixed user-facing message for a failed
// append-message call. Like the connection-lost message it carries no
// detail from the underlying error.
const submitFailedMessage = "Failed to send message. Please try again."

// connectionLostMessage settles turns whose stream failed before or without
// a terminal chunk. Matches the message the connection itself synthesizes
// on a mid-stream drop, so the UI shows one message for all transport loss.
const connectionLostMessage = "Connection lost. Please try again."

// MessageSender appends a message to a session transcript.
type MessageSender interface {
	AppendMessage(ctx context.Context, sessionID, role, content string) (*domain.ChatMessage, error)
}

// StreamConnection is one live turn stream. The channel is closed after the
// terminal chunk, a synthesized transport-failure chunk, or Close.
type StreamConnection interface {
	Chunks() <-chan domain.StreamChunk
	Close()
}

// StreamOpener establishes the event stream for a session's next turn.
type StreamOpener interface {
	Open(ctx context.Context, sessionID string) (StreamConnection, error)
}

// TurnRecorder persists completed turns.
type TurnRecorder interface {
	Record(ctx context.Context, rec domain.TurnRecord) error
}

// OrchestratorDeps are the collaborators wired into an Orchestrator.
// Cache, Bus, History, and OnUpdate are optional.
type OrchestratorDeps struct {
	Sender  MessageSender
	Streams StreamOpener
	Cache   domain.CacheInvalidator
	Bus     domain.EventBus
	History TurnRecorder
	Logger  *slog.Logger

	// OnUpdate is called with a state snapshot after every change. Calls
	// happen from the turn goroutine (and from Stop); the callback must not
	// call back into the orchestrator.
	OnUpdate func(domain.TurnState)
}

// Orchestrator drives one session's turns: it appends the user message,
// opens the stream, folds chunks into TurnState, and ends the turn. At most
// one turn is in flight at a time; Send during a live turn is a no-op.
//
// No method returns an error to the caller. Every failure ends up as data
// in TurnState.Error so the UI has a single surface to render.
type Orchestrator struct {
	sessionID string
	tenantID  string
	deps      OrchestratorDeps
	logger    *slog.Logger

	mu     sync.Mutex
	state  domain.TurnState
	cancel context.CancelFunc
	conn   StreamConnection
	// turnDone is closed when the current turn's goroutine exits. Nil when
	// no turn has ever started.
	turnDone chan struct{}
}

// NewOrchestrator creates an orchestrator bound to one session.
func NewOrchestrator(sessionID, tenantID string, deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessionID: sessionID,
		tenantID:  tenantID,
		deps:      deps,
		logger:    logger,
		state:     domain.TurnState{},
	}
}

// State returns a snapshot of the current turn state. The snapshot shares
// its slices with future states only in a copy-on-append fashion, so the
// caller may read it without synchronization.
func (o *Orchestrator) State() domain.TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Send starts a new turn for content. It is a no-op while a turn is already
// streaming, and for empty content. The append-message call and the stream
// run on a background goroutine; progress is observable via State, OnUpdate,
// and the event bus.
func (o *Orchestrator) Send(ctx context.Context, content string) {
	if strings.TrimSpace(content) == "" {
		o.logger.Warn("ignoring send of empty message")
		return
	}

	o.mu.Lock()
	if o.state.IsStreaming {
		o.mu.Unlock()
		o.logger.Debug("send ignored, turn already in flight", "session", o.sessionID)
		return
	}
	if o.sessionID == "" {
		// No session bound: fail the turn the same way a rejected append does.
		o.state = domain.TurnState{Error: submitFailedMessage}
		snapshot := o.state
		o.mu.Unlock()
		o.logger.Error("send without a bound session", "error", domain.ErrNoSession)
		o.notify(snapshot)
		o.publish(ctx, domain.EventTurnFailed, domain.TurnFailedPayload{Error: submitFailedMessage})
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	o.state = domain.NewTurnState()
	o.cancel = cancel
	o.conn = nil
	o.turnDone = make(chan struct{})
	done := o.turnDone
	snapshot := o.state
	o.mu.Unlock()

	o.notify(snapshot)
	o.publish(turnCtx, domain.EventTurnStarted, domain.TurnStartedPayload{Content: content})

	go func() {
		defer close(done)
		o.runTurn(turnCtx, content)
	}()
}

// Stop cancels the in-flight turn, if any. Accumulated content, tool
// executions, and chart data are preserved; no caches are invalidated.
// Stopping an idle orchestrator is a no-op, as is stopping twice.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.state.IsStreaming {
		o.mu.Unlock()
		return
	}
	o.state.IsStreaming = false
	snapshot := o.state
	cancel := o.cancel
	conn := o.conn
	o.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}

	o.logger.Info("turn cancelled", "session", o.sessionID)
	o.notify(snapshot)
	o.publish(context.Background(), domain.EventTurnCancelled, nil)
}

// Close behaves like Stop and then waits for the turn goroutine to exit.
// Intended for teardown.
func (o *Orchestrator) Close() {
	o.Stop()
	o.mu.Lock()
	done := o.turnDone
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

// runTurn is the single writer of TurnState for one turn. It appends the
// user message, opens the stream, and folds chunks until a terminal chunk
// arrives or the turn is cancelled.
func (o *Orchestrator) runTurn(ctx context.Context, content string) {
	ctx, span := tracer.StartSpan(ctx, "turn.run")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("session", o.sessionID))

	if _, err := o.deps.Sender.AppendMessage(ctx, o.sessionID, domain.RoleUser, content); err != nil {
		if wasCancelled(ctx, err) {
			// Stop already settled the state and published the event.
			return
		}
		o.logger.Error("append message failed", "session", o.sessionID, "error", err, "code", domain.ErrorCodeOf(err))
		tracer.RecordError(span, err)
		o.failTurn(ctx, submitFailedMessage)
		return
	}

	conn, err := o.deps.Streams.Open(ctx, o.sessionID)
	if err != nil {
		if wasCancelled(ctx, err) {
			return
		}
		o.logger.Error("stream open failed", "session", o.sessionID, "error", err, "code", domain.ErrorCodeOf(err))
		tracer.RecordError(span, err)
		o.failTurn(ctx, connectionLostMessage)
		return
	}

	o.mu.Lock()
	if !o.state.IsStreaming {
		// Stop won the race between Open returning and registration.
		o.mu.Unlock()
		conn.Close()
		return
	}
	o.conn = conn
	o.mu.Unlock()

	var terminal domain.ChunkTag
	chunks := 0
	for chunk := range conn.Chunks() {
		chunks++
		o.mu.Lock()
		if !o.state.IsStreaming {
			// Stop settled the turn; buffered chunks, terminal ones
			// included, no longer count.
			o.mu.Unlock()
			break
		}
		o.state = domain.Reduce(o.state, chunk)
		snapshot := o.state
		o.mu.Unlock()

		o.notify(snapshot)
		o.publish(ctx, domain.EventTurnDelta, domain.TurnDeltaPayload{Tag: chunk.Tag, State: snapshot})

		if chunk.Terminal() {
			terminal = chunk.Tag
			break
		}
	}
	conn.Close()
	span.SetAttributes(tracer.IntAttr("chunks", chunks))

	final := o.State()
	switch {
	case terminal == domain.ChunkDone && final.Error == "":
		o.completeTurn(ctx, content, final)
		tracer.SetOK(span)
	case terminal != "":
		o.logger.Warn("turn failed", "session", o.sessionID, "error", final.Error)
		o.publish(ctx, domain.EventTurnFailed, domain.TurnFailedPayload{Error: final.Error})
	case final.IsStreaming:
		// The channel closed without a terminal chunk and without Stop.
		// The connection contract says this cannot happen; settle the turn
		// anyway rather than leave the UI streaming forever.
		o.failTurn(ctx, connectionLostMessage)
	default:
		// Channel closed without a terminal chunk: the turn was cancelled
		// and Stop already published the event.
	}
}

// completeTurn runs the successful-completion effects exactly once per turn:
// cache invalidation, history recording, and the completed event.
func (o *Orchestrator) completeTurn(ctx context.Context, userMessage string, final domain.TurnState) {
	if o.deps.Cache != nil {
		o.deps.Cache.Invalidate(domain.CacheKeySessions, domain.CacheKeyMessages(o.sessionID))
	}
	if o.deps.History != nil {
		rec := domain.TurnRecord{
			SessionID:        o.sessionID,
			TenantID:         o.tenantID,
			UserMessage:      userMessage,
			AssistantContent: final.StreamedContent,
			ToolExecutions:   final.ToolExecutions,
			Chart:            final.ChartData,
			CreatedAt:        time.Now().UTC(),
		}
		if err := o.deps.History.Record(ctx, rec); err != nil {
			// History is best effort: the turn still completed.
			o.logger.Warn("recording turn failed", "session", o.sessionID, "error", err)
		}
	}
	o.logger.Info("turn completed",
		"session", o.sessionID,
		"content_len", len(final.StreamedContent),
		"tools", len(final.ToolExecutions),
	)
	o.publish(ctx, domain.EventTurnCompleted, domain.TurnCompletedPayload{
		Content:        final.StreamedContent,
		ToolExecutions: len(final.ToolExecutions),
	})
}

// failTurn settles a turn that never produced a terminal chunk.
func (o *Orchestrator) failTurn(ctx context.Context, message string) {
	o.mu.Lock()
	if !o.state.IsStreaming {
		// Stop got there first; a cancelled turn does not become a failed one.
		o.mu.Unlock()
		return
	}
	o.state.IsStreaming = false
	o.state.Error = message
	snapshot := o.state
	o.mu.Unlock()

	o.notify(snapshot)
	o.publish(ctx, domain.EventTurnFailed, domain.TurnFailedPayload{Error: message})
}

func (o *Orchestrator) notify(state domain.TurnState) {
	if o.deps.OnUpdate != nil {
		o.deps.OnUpdate(state)
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if o.deps.Bus == nil {
		return
	}
	event := domain.Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		SessionID: o.sessionID,
	}
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			o.logger.Error("marshal event payload", "type", eventType, "error", err)
			return
		}
		event.Payload = buf
	}
	o.deps.Bus.Publish(ctx, event)
}

// wasCancelled reports whether a failed call was the result of the turn
// context being cancelled by Stop rather than a genuine backend failure.
// HTTP transports do not always surface context.Canceled verbatim, so the
// context's own error is the authority.
func wasCancelled(ctx context.Context, _ error) bool {
	return ctx.Err() != nil
}
