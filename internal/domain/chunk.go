package domain

import "encoding/json"

// ChunkTag identifies the kind of chunk delivered on a turn stream.
type ChunkTag string

const (
	ChunkText      ChunkTag = "text"
	ChunkToolStart ChunkTag = "tool_start"
	ChunkToolEnd   ChunkTag = "tool_end"
	ChunkChart     ChunkTag = "chart"
	ChunkDone      ChunkTag = "done"
	ChunkError     ChunkTag = "error"
)

// StreamChunk is a single decoded event from an assistant turn stream.
// Exactly one of Tool/Chart is set, and only for the matching tag.
type StreamChunk struct {
	Tag     ChunkTag
	Content string
	Tool    *ToolExecution // tool_end only; nil when the payload carried no data
	Chart   *ChartData     // chart only; nil when the payload carried no data
}

// Terminal reports whether this chunk ends the turn.
func (c StreamChunk) Terminal() bool {
	return c.Tag == ChunkDone || c.Tag == ChunkError
}

// wireChunk is the JSON shape the console backend emits on the stream.
type wireChunk struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	Data    json.RawMessage `json:"data"`
}

// ParseChunk decodes a raw stream payload into a StreamChunk. It never fails:
// payloads that are not valid JSON, or not the expected shape, come back as a
// text chunk carrying the raw bytes verbatim. The stream may legitimately
// deliver bare partial tokens, so garbage is indistinguishable from content
// here and must not be dropped.
func ParseChunk(raw []byte) StreamChunk {
	var wire wireChunk
	if err := json.Unmarshal(raw, &wire); err != nil {
		return StreamChunk{Tag: ChunkText, Content: string(raw)}
	}

	switch ChunkTag(wire.Type) {
	case ChunkText, ChunkToolStart:
		return StreamChunk{Tag: ChunkTag(wire.Type), Content: wire.Content}

	case ChunkToolEnd:
		return StreamChunk{Tag: ChunkToolEnd, Tool: decodeToolExecution(wire.Data)}

	case ChunkChart:
		return StreamChunk{Tag: ChunkChart, Chart: decodeChart(wire.Data)}

	case ChunkDone:
		// Content on a done chunk carries nothing the accumulator uses.
		return StreamChunk{Tag: ChunkDone}

	case ChunkError:
		return StreamChunk{Tag: ChunkError, Content: wire.Content}

	default:
		return StreamChunk{Tag: ChunkText, Content: string(raw)}
	}
}

// decodeToolExecution decodes and normalizes a tool_end data payload.
// Returns nil when data is absent or not an object; the reducer treats
// a nil Tool as a no-op.
func decodeToolExecution(data json.RawMessage) *ToolExecution {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	var wire struct {
		ID              string         `json:"id"`
		ToolName        string         `json:"toolName"`
		Input           map[string]any `json:"input"`
		Output          map[string]any `json:"output"`
		Status          string         `json:"status"`
		ExecutionTimeMs int64          `json:"executionTimeMs"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil
	}

	exec := ToolExecution{
		ID:              wire.ID,
		ToolName:        wire.ToolName,
		Input:           wire.Input,
		Output:          wire.Output,
		Status:          ToolStatusSuccess,
		ExecutionTimeMs: wire.ExecutionTimeMs,
	}
	if exec.ID == "" {
		exec.ID = NewToolExecutionID()
	}
	if exec.ToolName == "" {
		exec.ToolName = "unknown"
	}
	if exec.Input == nil {
		exec.Input = map[string]any{}
	}
	if exec.Output == nil {
		exec.Output = map[string]any{}
	}
	if wire.Status == string(ToolStatusError) {
		exec.Status = ToolStatusError
	}
	if exec.ExecutionTimeMs < 0 {
		exec.ExecutionTimeMs = 0
	}
	return &exec
}

func decodeChart(data json.RawMessage) *ChartData {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	var chart ChartData
	if err := json.Unmarshal(data, &chart); err != nil {
		return nil
	}
	return &chart
}
