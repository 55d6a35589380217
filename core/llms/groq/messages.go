package groq

import (
	"github.com/jinzhu/copier"
	"github.com/unamentis/tutor-core/core/llms"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

func toMessages(history []llms.Message) []message {
	var messages []message
	copier.Copy(&messages, history)
	return messages
}
