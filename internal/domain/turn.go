package domain

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ToolStatus is the outcome of a server-side tool invocation.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ToolExecution records one completed server-side tool invocation performed
// while answering a turn. Identity is ID; executions are append-only within
// a turn.
type ToolExecution struct {
	ID              string         `json:"id"`
	ToolName        string         `json:"toolName"`
	Input           map[string]any `json:"input"`
	Output          map[string]any `json:"output"`
	Status          ToolStatus     `json:"status"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
}

// NewToolExecutionID generates a ULID for tool executions whose payload
// arrived without an id.
func NewToolExecutionID() string {
	return ulid.Make().String()
}

// ChartType is the renderable chart kind.
type ChartType string

const (
	ChartBar  ChartType = "bar"
	ChartLine ChartType = "line"
	ChartPie  ChartType = "pie"
)

// ChartData is a renderable chart result. At most one is live per turn;
// a later chart chunk fully replaces an earlier one.
type ChartData struct {
	Type  ChartType        `json:"type"`
	Title string           `json:"title"`
	Data  []map[string]any `json:"data"`
	XKey  string           `json:"xKey"`
	YKey  string           `json:"yKey"`
}

// TurnState is the externally observed state of one assistant turn.
// It is built exclusively by Reduce; observers treat it as read-only.
// An empty Error means no error.
type TurnState struct {
	IsStreaming     bool
	StreamedContent string
	ToolExecutions  []ToolExecution
	ChartData       *ChartData
	Error           string
}

// NewTurnState returns the clean initial state for a freshly accepted turn.
func NewTurnState() TurnState {
	return TurnState{IsStreaming: true}
}

// Reduce folds a single chunk into the turn state. It is pure: the input
// state is never mutated, and appends never alias its backing array. Once a
// state has gone non-streaming it is terminal — every further chunk returns
// it unchanged, so feeding a chunk after done/error can never un-terminate
// a turn.
func Reduce(state TurnState, chunk StreamChunk) TurnState {
	if !state.IsStreaming {
		return state
	}

	switch chunk.Tag {
	case ChunkText, ChunkToolStart:
		state.StreamedContent += chunk.Content

	case ChunkToolEnd:
		if chunk.Tool != nil {
			execs := make([]ToolExecution, len(state.ToolExecutions), len(state.ToolExecutions)+1)
			copy(execs, state.ToolExecutions)
			state.ToolExecutions = append(execs, *chunk.Tool)
		}

	case ChunkChart:
		if chunk.Chart != nil {
			chart := *chunk.Chart
			state.ChartData = &chart
		}

	case ChunkDone:
		state.IsStreaming = false

	case ChunkError:
		state.IsStreaming = false
		state.Error = chunk.Content
	}

	return state
}

// TurnRecord is a completed turn as persisted by the history store.
// Only successfully completed turns are recorded; cancelled and failed
// turns never reach the store.
type TurnRecord struct {
	ID               string
	SessionID        string
	TenantID         string
	UserMessage      string
	AssistantContent string
	ToolExecutions   []ToolExecution
	Chart            *ChartData
	CreatedAt        time.Time
}
