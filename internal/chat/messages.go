package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-ticketchat/internal/types"
)

var ErrMalformedFrame = errors.New("malformed frame")

const (
	actionSendMessage = "send_message"
	actionTyping      = "typing"
	actionReact       = "react"
	actionMarkRead    = "mark_read"
)

const (
	frameMessageHistory  = "message_history"
	frameNewMessage      = "new_message"
	frameTyping          = "typing"
	frameReactionUpdate  = "reaction_update"
	frameReadReceipt     = "read_receipt"
	frameForceDisconnect = "force_disconnect"
)

// Event is delivered by a Transport. Inbound protocol frames and
// connection lifecycle changes share one stream.
type Event interface {
	isEvent()
}

// Opened is emitted each time a connection is established.
type Opened struct{}

// Closed is emitted when an established connection ends.
type Closed struct {
	Code   int
	Reason string
}

// TransportError reports a socket level failure. It is informational;
// closure is reported separately.
type TransportError struct {
	Err error
}

// ReconnectScheduled reports that the transport will dial again after
// Delay. Attempt counts consecutive reconnects since the last open.
type ReconnectScheduled struct {
	Attempt int
	Delay   time.Duration
}

// MessageHistory is the full conversation replayed on every connect.
type MessageHistory struct {
	Messages []types.ChatMessage
}

type NewMessage struct {
	Message types.ChatMessage
}

type Typing struct {
	UserId   int
	Username string
	IsTyping bool
}

// ReactionUpdate carries the complete current reaction list of one
// message, flat as it is sent on the wire.
type ReactionUpdate struct {
	MessageId int
	Reactions []Reaction
}

type Reaction struct {
	Id       int    `json:"id"`
	Emoji    string `json:"emoji"`
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
}

type ReadReceipts struct {
	Receipts []Receipt
}

type Receipt struct {
	MessageId int             `json:"message_id"`
	UserId    int             `json:"user_id"`
	Username  string          `json:"username"`
	ReadAt    types.Timestamp `json:"read_at"`
}

// ForcedDisconnect is terminal: the server has revoked this
// connection and the transport will not reconnect.
type ForcedDisconnect struct {
	Reason string
}

func (Opened) isEvent()             {}
func (Closed) isEvent()             {}
func (TransportError) isEvent()     {}
func (ReconnectScheduled) isEvent() {}
func (MessageHistory) isEvent()     {}
func (NewMessage) isEvent()         {}
func (Typing) isEvent()             {}
func (ReactionUpdate) isEvent()     {}
func (ReadReceipts) isEvent()       {}
func (ForcedDisconnect) isEvent()   {}

type serverFrame struct {
	Type     string              `json:"type"`
	Messages []types.ChatMessage `json:"messages"`
	Message  *types.ChatMessage  `json:"message"`
	UserId   int                 `json:"user_id"`
	Username string              `json:"username"`
	IsTyping bool                `json:"is_typing"`
	Reason   string              `json:"reason"`
	Data     json.RawMessage     `json:"data"`
}

type reactionData struct {
	MessageId int        `json:"message_id"`
	Reactions []Reaction `json:"reactions"`
}

const defaultForceReason = "disconnected by server"

// decodeFrame turns one inbound text frame into an Event. Frames that
// are not JSON or do not match a known shape yield ErrMalformedFrame.
func decodeFrame(raw []byte) (Event, error) {
	var f serverFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Type {
	case frameMessageHistory:
		if f.Messages == nil {
			return nil, fmt.Errorf("%w: history without messages", ErrMalformedFrame)
		}
		return MessageHistory{Messages: f.Messages}, nil
	case frameNewMessage:
		if f.Message == nil {
			return nil, fmt.Errorf("%w: new_message without message", ErrMalformedFrame)
		}
		return NewMessage{Message: *f.Message}, nil
	case frameTyping:
		if f.UserId == 0 {
			return nil, fmt.Errorf("%w: typing without user", ErrMalformedFrame)
		}
		return Typing{UserId: f.UserId, Username: f.Username, IsTyping: f.IsTyping}, nil
	case frameReactionUpdate:
		var d reactionData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.MessageId == 0 {
			return nil, fmt.Errorf("%w: bad reaction_update data", ErrMalformedFrame)
		}
		return ReactionUpdate{MessageId: d.MessageId, Reactions: d.Reactions}, nil
	case frameReadReceipt:
		var receipts []Receipt
		if err := json.Unmarshal(f.Data, &receipts); err != nil {
			return nil, fmt.Errorf("%w: bad read_receipt data", ErrMalformedFrame)
		}
		return ReadReceipts{Receipts: receipts}, nil
	case frameForceDisconnect:
		reason := f.Reason
		if reason == "" {
			reason = defaultForceReason
		}
		return ForcedDisconnect{Reason: reason}, nil
	}

	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
}

type sendMessageFrame struct {
	Action  string `json:"action"`
	Content string `json:"content"`
	ReplyTo *int   `json:"reply_to"`
}

type typingFrame struct {
	Action   string `json:"action"`
	IsTyping bool   `json:"is_typing"`
}

type reactFrame struct {
	Action    string `json:"action"`
	MessageId int    `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type markReadFrame struct {
	Action     string `json:"action"`
	MessageIds []int  `json:"message_ids"`
}

// newSendMessage builds a send_message frame. A zero replyToId is sent
// as null.
func newSendMessage(content string, replyToId int) sendMessageFrame {
	f := sendMessageFrame{Action: actionSendMessage, Content: content}
	if replyToId != 0 {
		f.ReplyTo = &replyToId
	}
	return f
}

func newTyping(isTyping bool) typingFrame {
	return typingFrame{Action: actionTyping, IsTyping: isTyping}
}

func newReact(messageId int, emoji string) reactFrame {
	return reactFrame{Action: actionReact, MessageId: messageId, Emoji: emoji}
}

func newMarkRead(ids []int) markReadFrame {
	return markReadFrame{Action: actionMarkRead, MessageIds: ids}
}
