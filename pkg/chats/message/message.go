// Package message defines the Message type stored in a transcript.
package message

import "github.com/germanamz/chatrelay/pkg/chats/role"

// Message is one entry of a conversation. It is a value type; once appended
// to a chat it is only ever handed out by copy.
type Message struct {
	Role    role.Role
	Content string
}

// New creates a message with the given role and text content.
func New(r role.Role, text string) Message {
	return Message{Role: r, Content: text}
}

// System creates a system message.
func System(text string) Message { return New(role.System, text) }

// User creates a user message.
func User(text string) Message { return New(role.User, text) }

// Assistant creates an assistant message. An empty text is a valid reply.
func Assistant(text string) Message { return New(role.Assistant, text) }

// IsZero reports whether m carries neither a role nor content.
func (m Message) IsZero() bool {
	return m.Role == "" && m.Content == ""
}
