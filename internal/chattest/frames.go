package chattest

import (
	"encoding/json"

	"github.com/npezzotti/go-ticketchat/internal/types"
)

// clientFrame is any intent a client may send.
type clientFrame struct {
	Action     string `json:"action"`
	Content    string `json:"content"`
	ReplyTo    *int   `json:"reply_to"`
	IsTyping   bool   `json:"is_typing"`
	MessageId  int    `json:"message_id"`
	Emoji      string `json:"emoji"`
	MessageIds []int  `json:"message_ids"`
}

type clientMessage struct {
	client *client
	frame  clientFrame
}

type historyFrame struct {
	Type     string              `json:"type"`
	Messages []types.ChatMessage `json:"messages"`
}

type newMessageFrame struct {
	Type    string            `json:"type"`
	Message types.ChatMessage `json:"message"`
}

type typingFrame struct {
	Type     string `json:"type"`
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type reaction struct {
	Id       int    `json:"id"`
	Emoji    string `json:"emoji"`
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
}

type reactionData struct {
	MessageId int        `json:"message_id"`
	Reactions []reaction `json:"reactions"`
}

type reactionFrame struct {
	Type string       `json:"type"`
	Data reactionData `json:"data"`
}

type receipt struct {
	MessageId int             `json:"message_id"`
	UserId    int             `json:"user_id"`
	Username  string          `json:"username"`
	ReadAt    types.Timestamp `json:"read_at"`
}

type receiptFrame struct {
	Type string    `json:"type"`
	Data []receipt `json:"data"`
}

type forceDisconnectFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
