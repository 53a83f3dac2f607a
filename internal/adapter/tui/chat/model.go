package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"opsassist/internal/domain"
)

const loadTimeout = 10 * time.Second

// TurnDriver is the slice of the orchestrator the chat screen drives.
type TurnDriver interface {
	Send(ctx context.Context, content string)
	Stop()
	State() domain.TurnState
}

// TranscriptLoader fetches the session backlog shown above the live turn.
type TranscriptLoader interface {
	ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
}

// Deps are the collaborators injected into the chat model.
type Deps struct {
	Turns      TurnDriver
	Transcript TranscriptLoader
	SessionID  string
	Markdown   bool
	Logger     *slog.Logger
}

// entry is one finished transcript item.
type entry struct {
	role    string
	content string
	tools   []domain.ToolExecution
	chart   *domain.ChartData
	isError bool
}

// Model is the root Bubble Tea model for the chat screen.
type Model struct {
	deps Deps

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	transcript []entry
	turn       domain.TurnState
	streaming  bool
	pending    string // user message of the in-flight turn
	status     string

	width    int
	height   int
	ready    bool
	quitting bool
}

// New creates the chat model.
func New(deps Deps) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask about stock, sales, pricing..."
	ta.CharLimit = 4000
	ta.SetHeight(2)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))

	return Model{
		deps:    deps,
		input:   ta,
		spinner: sp,
		status:  "enter to send · ctrl+x to stop · ctrl+c to quit",
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.loadTranscript())
}

func (m Model) loadTranscript() tea.Cmd {
	if m.deps.Transcript == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		messages, err := m.deps.Transcript.ListMessages(ctx, m.deps.SessionID)
		if err != nil {
			return TranscriptFailedMsg{Err: err}
		}
		return TranscriptLoadedMsg{Messages: messages}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.deps.Turns.Stop()
			m.quitting = true
			return m, tea.Quit
		case tea.KeyCtrlX:
			if m.streaming {
				m.deps.Turns.Stop()
				m.status = "stopped"
			}
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		}

	case TurnUpdateMsg:
		m.applyTurnUpdate(msg.State)
		m.refreshViewport()

	case TranscriptLoadedMsg:
		m.transcript = append(historyEntries(msg.Messages), m.transcript...)
		m.refreshViewport()

	case TranscriptFailedMsg:
		if m.deps.Logger != nil {
			m.deps.Logger.Warn("transcript load failed", "session", m.deps.SessionID, "error", msg.Err)
		}
		m.status = "could not load history"

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) submit() (tea.Model, tea.Cmd) {
	content := strings.TrimSpace(m.input.Value())
	if content == "" || m.streaming {
		return *m, nil
	}
	m.input.Reset()
	m.pending = content
	m.streaming = true
	m.turn = domain.NewTurnState()
	m.transcript = append(m.transcript, entry{role: domain.RoleUser, content: content})
	m.status = "thinking..."
	m.refreshViewport()

	// Send never blocks: the append call and stream run on the
	// orchestrator's goroutine, progress arrives as TurnUpdateMsg.
	m.deps.Turns.Send(context.Background(), content)
	return *m, nil
}

// applyTurnUpdate folds a state snapshot in. When a turn settles, its
// accumulated output moves from the live area into the transcript.
func (m *Model) applyTurnUpdate(state domain.TurnState) {
	m.turn = state
	if state.IsStreaming {
		m.streaming = true
		return
	}
	if !m.streaming {
		return
	}
	m.streaming = false

	e := entry{
		role:    domain.RoleAssistant,
		content: state.StreamedContent,
		tools:   state.ToolExecutions,
		chart:   state.ChartData,
	}
	if state.Error != "" {
		e.isError = true
		e.content = strings.TrimSpace(state.StreamedContent + "\n\n" + state.Error)
		m.status = "turn failed"
	} else if state.StreamedContent == "" && len(state.ToolExecutions) == 0 && state.ChartData == nil {
		// Cancelled before anything arrived; nothing to keep.
		m.pending = ""
		m.status = "stopped"
		return
	} else {
		m.status = "enter to send · ctrl+x to stop · ctrl+c to quit"
	}
	m.transcript = append(m.transcript, e)
	m.pending = ""
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	inputHeight := m.input.Height() + 1
	vpHeight := height - inputHeight - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.SetWidth(width - 2)

	if m.deps.Markdown {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(min(width-2, 100)),
		); err == nil {
			m.renderer = r
		}
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("opsassist · "+m.deps.SessionID) + "\n")
	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(m.input.View() + "\n")

	status := m.status
	if m.streaming {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(statusStyle.Render(status))
	return b.String()
}

func historyEntries(messages []domain.ChatMessage) []entry {
	entries := make([]entry, 0, len(messages))
	for _, msg := range messages {
		entries = append(entries, entry{role: msg.Role, content: msg.Content})
	}
	return entries
}

