package models

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat session.
type Message struct {
	Role    Role             `json:"role"`
	Content string           `json:"content"`
	Sources []SourceCitation `json:"sources,omitempty"`
}

// Conversation is the append-only message list of a single chat session.
// It is never persisted.
type Conversation struct {
	messages []Message
}

func (c *Conversation) Append(msg Message) {
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	return len(c.messages)
}

// PromptResponse is the outcome of one retrieval-augmented question.
type PromptResponse struct {
	Query   string           `json:"query"`
	Answer  string           `json:"answer"`
	Sources []SourceCitation `json:"sources"`
}
