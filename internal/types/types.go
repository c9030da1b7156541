package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
}

// ChannelType selects which pair of roles a ticket conversation connects.
type ChannelType string

const (
	ChannelClientEmployee ChannelType = "client_employee"
	ChannelAdminEmployee  ChannelType = "admin_employee"
)

func (c ChannelType) Valid() bool {
	return c == ChannelClientEmployee || c == ChannelAdminEmployee
}

func ParseChannelType(s string) (ChannelType, error) {
	c := ChannelType(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid channel type %q", s)
	}
	return c, nil
}

// ChatMessage is a single message in a ticket conversation. Id is zero
// for messages the server has not acknowledged yet.
type ChatMessage struct {
	Id              int                       `json:"id"`
	SenderId        int                       `json:"sender_id"`
	SenderUsername  string                    `json:"sender_username"`
	SenderRole      string                    `json:"sender_role"`
	Content         string                    `json:"content"`
	ReplyTo         *ReplyRef                 `json:"reply_to"`
	IsSystemMessage bool                      `json:"is_system_message"`
	Reactions       map[string][]ReactionUser `json:"reactions"`
	ReadBy          []ReadReceipt             `json:"read_by"`
	CreatedAt       Timestamp                 `json:"created_at"`
}

// ReplyRef points back at another message in the same conversation.
// The referenced message may not be present locally.
type ReplyRef struct {
	Id             int    `json:"id"`
	Content        string `json:"content"`
	SenderId       int    `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
}

type ReactionUser struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
}

type ReadReceipt struct {
	UserId   int       `json:"user_id"`
	Username string    `json:"username"`
	ReadAt   Timestamp `json:"read_at"`
}

// Clone returns a deep copy of m so snapshots never share maps or
// slices with the live conversation state.
func (m ChatMessage) Clone() ChatMessage {
	c := m
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		c.ReplyTo = &r
	}
	if m.Reactions != nil {
		c.Reactions = make(map[string][]ReactionUser, len(m.Reactions))
		for emoji, users := range m.Reactions {
			c.Reactions[emoji] = append([]ReactionUser(nil), users...)
		}
	}
	if m.ReadBy != nil {
		c.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	}
	return c
}

// ReadByUser reports whether userId has a read receipt on m.
func (m ChatMessage) ReadByUser(userId int) bool {
	for _, r := range m.ReadBy {
		if r.UserId == userId {
			return true
		}
	}
	return false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a server timestamp. The chat server emits ISO-8601 with
// or without a zone offset; values without an offset are taken as UTC.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

func ParseTimestamp(s string) (Timestamp, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = Timestamp{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		*t = Timestamp{}
		return nil
	}

	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}
