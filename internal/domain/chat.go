package domain

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the handler,
// the gateway and the LLM integrations.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// AssistantReply wraps user-facing text into the only message shape the
// gateway returns to its caller.
func AssistantReply(content string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content}
}
