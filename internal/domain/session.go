package domain

import "time"

// Message roles within a session transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SessionSummary is one entry of the console's session list.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	TenantID     string    `json:"tenant_id,omitempty"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChatMessage is one persisted message of a session transcript.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
