// Command assistant is the terminal client for the ops console's chat
// assistant: it appends the user's message, streams the assistant's answer
// chunk by chunk, and renders text, tool executions, and charts as they
// arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"opsassist/internal/adapter/console"
	"opsassist/internal/adapter/history"
	"opsassist/internal/adapter/stream"
	"opsassist/internal/adapter/tui/chat"
	"opsassist/internal/domain"
	"opsassist/internal/infra/config"
	"opsassist/internal/infra/logger"
	"opsassist/internal/infra/tracer"
	"opsassist/internal/usecase"
	"opsassist/internal/usecase/eventbus"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to the YAML config file")
		sessionID  = flag.String("session", "", "session to attach to (default: most recent, or a new one)")
		oneshot    = flag.String("oneshot", "", "send one message, print the full answer, and exit")
	)
	flag.Parse()

	if err := run(*configPath, *sessionID, *oneshot); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, sessionFlag, oneshot string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	creds := domain.StaticCredentials{Token: cfg.Auth.Token, TenantID: cfg.Auth.TenantID}

	client := console.NewClient(cfg.Console, creds, logger.Component(log, "console"))
	cached := console.NewCachedLister(client, cfg.Cache.TTL)
	guarded := console.NewGuardedAppender(client, cfg.Console, logger.Component(log, "console"))
	streams := streamOpener{client: stream.NewClient(cfg.Console.BaseURL, creds, logger.Component(log, "stream"))}

	var recorder usecase.TurnRecorder
	if cfg.History.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o700); err != nil {
			return fmt.Errorf("history dir: %w", err)
		}
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	bus := eventbus.New(logger.Component(log, "events"))
	defer bus.Close()

	session, err := resolveSession(ctx, cached, sessionFlag)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	log.Info("attached to session", "session", session)

	// The TUI program does not exist yet when the orchestrator is built;
	// updates route through an atomic pointer set just before Run.
	var program atomic.Pointer[tea.Program]
	var updates chan domain.TurnState
	if oneshot != "" {
		updates = make(chan domain.TurnState, 64)
	}

	orch := usecase.NewOrchestrator(session, cfg.Auth.TenantID, usecase.OrchestratorDeps{
		Sender:  guarded,
		Streams: streams,
		Cache:   cached,
		Bus:     bus,
		History: recorder,
		Logger:  logger.Component(log, "turns"),
		OnUpdate: func(state domain.TurnState) {
			if updates != nil {
				updates <- state
				return
			}
			if p := program.Load(); p != nil {
				p.Send(chat.TurnUpdateMsg{State: state})
			}
		},
	})
	defer orch.Close()

	if oneshot != "" {
		return runOneshot(ctx, orch, oneshot, updates)
	}

	model := chat.New(chat.Deps{
		Turns:      orch,
		Transcript: cached,
		SessionID:  session,
		Markdown:   cfg.UI.Markdown,
		Logger:     logger.Component(log, "tui"),
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	program.Store(p)

	_, err = p.Run()
	return err
}

// resolveSession picks the session to chat in: the explicit flag, else the
// most recently updated existing session, else a fresh one.
func resolveSession(ctx context.Context, client *console.CachedLister, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	if len(sessions) > 0 {
		return sessions[0].ID, nil
	}
	created, err := client.CreateSession(ctx, "terminal session")
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// runOneshot sends one message and streams the answer to stdout without the
// full-screen UI.
func runOneshot(ctx context.Context, orch *usecase.Orchestrator, content string, updates <-chan domain.TurnState) error {
	orch.Send(ctx, content)

	printed := 0
	for {
		select {
		case <-ctx.Done():
			orch.Stop()
			return ctx.Err()
		case state := <-updates:
			if len(state.StreamedContent) > printed {
				fmt.Print(state.StreamedContent[printed:])
				printed = len(state.StreamedContent)
			}
			if state.IsStreaming {
				continue
			}
			fmt.Println()
			for _, tool := range state.ToolExecutions {
				fmt.Printf("[tool %s: %s, %dms]\n", tool.ToolName, tool.Status, tool.ExecutionTimeMs)
			}
			if state.ChartData != nil {
				fmt.Printf("[chart %s: %s, %d rows]\n", state.ChartData.Type, state.ChartData.Title, len(state.ChartData.Data))
			}
			if state.Error != "" {
				return fmt.Errorf("%s", state.Error)
			}
			return nil
		}
	}
}

// streamOpener adapts the stream client's concrete connection type to the
// orchestrator's interface.
type streamOpener struct {
	client *stream.Client
}

func (s streamOpener) Open(ctx context.Context, sessionID string) (usecase.StreamConnection, error) {
	conn, err := s.client.Open(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
