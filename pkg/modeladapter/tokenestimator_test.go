package modeladapter_test

import (
	"testing"

	"github.com/germanamz/chatrelay/pkg/chats/chat"
	"github.com/germanamz/chatrelay/pkg/chats/message"
	"github.com/germanamz/chatrelay/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
)

func TestTokenEstimator_EstimateMessage(t *testing.T) {
	var e modeladapter.TokenEstimator

	assert.Equal(t, 4, e.EstimateMessage(message.Assistant("")))
	assert.Equal(t, 5, e.EstimateMessage(message.User("abcd")))
	assert.Equal(t, 6, e.EstimateMessage(message.User("abcde")))
}

func TestTokenEstimator_EstimateChat(t *testing.T) {
	var e modeladapter.TokenEstimator
	c := chat.New(message.System("abcd"), message.User("abcdefgh"))

	assert.Equal(t, 5+6, e.EstimateChat(c))
	assert.Equal(t, 0, e.EstimateChat(chat.New()))
}

func TestTokenEstimator_AsWindowSizer(t *testing.T) {
	var e modeladapter.TokenEstimator
	c := chat.New(
		message.System("sys"),
		message.User("first question"),
		message.Assistant("first answer"),
		message.User("second"),
	)

	w := c.Window(e.EstimateMessage(c.At(0))+e.EstimateMessage(c.At(3)), e.EstimateMessage)

	assert.Equal(t, 2, w.Len())
	assert.Equal(t, "second", w.At(1).Content)
}
