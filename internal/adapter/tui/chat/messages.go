// Package chat implements the Bubble Tea chat screen: it renders the live
// turn state while a response streams and folds finished turns into the
// transcript view.
package chat

import "opsassist/internal/domain"

// TurnUpdateMsg carries a turn state snapshot into the update loop. The
// orchestrator's OnUpdate hook injects these via Program.Send.
type TurnUpdateMsg struct {
	State domain.TurnState
}

// TranscriptLoadedMsg delivers the session's persisted messages on startup.
type TranscriptLoadedMsg struct {
	Messages []domain.ChatMessage
}

// TranscriptFailedMsg signals that the transcript could not be loaded.
// The chat still works; only the backlog is missing.
type TranscriptFailedMsg struct {
	Err error
}
