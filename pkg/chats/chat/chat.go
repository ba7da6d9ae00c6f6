// Package chat provides the append-only transcript of a relayed conversation.
package chat

import (
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/chats/role"
)

// Chat is an ordered, append-only conversation. The zero value is ready to
// use. Chat is not safe for concurrent use; a Chat belongs to exactly one
// session.
type Chat struct {
	messages []message.Message
}

// New creates a Chat pre-populated with the given messages.
func New(msgs ...message.Message) *Chat {
	c := &Chat{}
	c.Append(msgs...)
	return c
}

// Append adds one or more messages to the end of the conversation.
func (c *Chat) Append(msgs ...message.Message) {
	c.messages = append(c.messages, msgs...)
}

// Len returns the number of messages in the conversation.
func (c *Chat) Len() int {
	return len(c.messages)
}

// At returns the message at the given index.
// It panics if the index is out of range.
func (c *Chat) At(index int) message.Message {
	return c.messages[index]
}

// Last returns the most recent message and true, or a zero Message and false
// if the conversation is empty.
func (c *Chat) Last() (message.Message, bool) {
	if len(c.messages) == 0 {
		return message.Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Messages returns a copy of all messages in the conversation.
func (c *Chat) Messages() []message.Message {
	cp := make([]message.Message, len(c.messages))
	copy(cp, c.messages)
	return cp
}

// Each iterates over messages, calling fn for each one. If fn returns false,
// iteration stops early.
func (c *Chat) Each(fn func(int, message.Message) bool) {
	for i, m := range c.messages {
		if !fn(i, m) {
			return
		}
	}
}

// SystemPrompt returns the content of the leading system message, or an
// empty string if the conversation does not start with one.
func (c *Chat) SystemPrompt() string {
	if len(c.messages) == 0 || c.messages[0].Role != role.System {
		return ""
	}
	return c.messages[0].Content
}

// Sizer reports the cost of a single message in some budget unit (usually
// estimated tokens).
type Sizer func(message.Message) int

// Window returns a new Chat holding the leading system message followed by
// the longest suffix of the remaining messages whose summed size fits in
// budget. The most recent message is always included even if it alone
// exceeds the budget. A budget <= 0 returns a full copy. The receiver is
// never modified.
func (c *Chat) Window(budget int, size Sizer) *Chat {
	if budget <= 0 || size == nil {
		return New(c.messages...)
	}

	var head []message.Message
	rest := c.messages
	if len(rest) > 0 && rest[0].Role == role.System {
		head = rest[:1]
		budget -= size(rest[0])
		rest = rest[1:]
	}

	start := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := size(rest[i])
		if used+cost > budget && i != len(rest)-1 {
			break
		}
		used += cost
		start = i
	}

	out := New(head...)
	out.Append(rest[start:]...)
	return out
}
