package modeladapter

import (
	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/chats/message"
)

// perMessageOverhead is the estimated token overhead for each message (role,
// structure delimiters, etc.).
const perMessageOverhead = 4

// TokenEstimator estimates token counts for transcript messages using a
// character-to-token heuristic (about 1 token per 4 characters of English
// text). The zero value is ready to use.
type TokenEstimator struct{}

func charsToTokens(chars int) int {
	return (chars + 3) / 4 // round up
}

// EstimateMessage estimates the input tokens one message costs. Its
// signature matches chat.Sizer.
func (e TokenEstimator) EstimateMessage(m message.Message) int {
	return charsToTokens(len(m.Content)) + perMessageOverhead
}

// EstimateChat estimates the total input tokens of a transcript.
func (e TokenEstimator) EstimateChat(c *chat.Chat) int {
	tokens := 0
	c.Each(func(_ int, m message.Message) bool {
		tokens += e.EstimateMessage(m)
		return true
	})
	return tokens
}
