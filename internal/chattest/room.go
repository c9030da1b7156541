package chattest

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-ticketchat/internal/types"
)

const (
	replySnippetLen      = 100
	defaultForceReason   = "You are no longer assigned to this ticket."
	actionSendMessage    = "send_message"
	actionTyping         = "typing"
	actionReact          = "react"
	actionMarkRead       = "mark_read"
	frameMessageHistory  = "message_history"
	frameNewMessage      = "new_message"
	frameTyping          = "typing"
	frameReactionUpdate  = "reaction_update"
	frameReadReceipt     = "read_receipt"
	frameForceDisconnect = "force_disconnect"
)

type roomKey struct {
	ticketId int
	channel  types.ChannelType
}

func (k roomKey) String() string {
	return fmt.Sprintf("%d/%s", k.ticketId, k.channel)
}

// room is one (ticket, channel) conversation. All of its state is owned
// by the start loop.
type room struct {
	key       roomKey
	srv       *Server
	log       *log.Logger
	clients   map[*client]struct{}
	messages  []types.ChatMessage
	reactions map[int][]reaction

	joinChan      chan *client
	leaveChan     chan *client
	clientMsgChan chan *clientMessage
	cmdChan       chan func()
	exit          chan struct{}
	done          chan struct{}
}

func newRoom(key roomKey, srv *Server) *room {
	return &room{
		key:           key,
		srv:           srv,
		log:           srv.log,
		clients:       make(map[*client]struct{}),
		reactions:     make(map[int][]reaction),
		joinChan:      make(chan *client),
		leaveChan:     make(chan *client, 256),
		clientMsgChan: make(chan *clientMessage, 256),
		cmdChan:       make(chan func()),
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *room) start() {
	r.log.Printf("starting room %q", r.key)
	defer close(r.done)

	for {
		select {
		case c := <-r.joinChan:
			r.handleJoin(c)
		case c := <-r.leaveChan:
			r.handleLeave(c)
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		case fn := <-r.cmdChan:
			fn()
		case <-r.exit:
			r.log.Printf("room %q is exiting", r.key)
			for c := range r.clients {
				c.kick(websocket.CloseGoingAway, "server shutting down")
			}
			return
		}
	}
}

func (r *room) join(c *client) bool {
	select {
	case r.joinChan <- c:
		return true
	case <-r.done:
		return false
	}
}

func (r *room) leave(c *client) {
	select {
	case r.leaveChan <- c:
	case <-r.done:
	}
}

func (r *room) receive(msg *clientMessage) {
	select {
	case r.clientMsgChan <- msg:
	case <-r.done:
	}
}

// do runs fn on the room loop and waits for it.
func (r *room) do(fn func()) bool {
	finished := make(chan struct{})
	select {
	case r.cmdChan <- func() { fn(); close(finished) }:
	case <-r.done:
		return false
	}
	<-finished
	return true
}

func (r *room) handleJoin(c *client) {
	r.clients[c] = struct{}{}
	r.log.Printf("%s joined room %q", c.user.Username, r.key)

	history := make([]types.ChatMessage, len(r.messages))
	for i, m := range r.messages {
		history[i] = m.Clone()
	}
	c.queueMessage(&historyFrame{Type: frameMessageHistory, Messages: history})
}

func (r *room) handleLeave(c *client) {
	if _, ok := r.clients[c]; !ok {
		return
	}
	delete(r.clients, c)
	r.log.Printf("%s left room %q", c.user.Username, r.key)

	r.broadcastTyping(c.user, false)
}

func (r *room) handleClientMessage(msg *clientMessage) {
	if _, ok := r.clients[msg.client]; !ok {
		return
	}

	user := msg.client.user
	switch msg.frame.Action {
	case actionSendMessage:
		replyTo := 0
		if msg.frame.ReplyTo != nil {
			replyTo = *msg.frame.ReplyTo
		}
		r.post(user, msg.frame.Content, replyTo, false)
	case actionTyping:
		r.broadcastTyping(user, msg.frame.IsTyping)
	case actionReact:
		r.toggleReaction(user, msg.frame.MessageId, msg.frame.Emoji)
	case actionMarkRead:
		r.markRead(user, msg.frame.MessageIds)
	default:
		r.log.Printf("unknown action %q from %s", msg.frame.Action, user.Username)
	}
}

// post stores a message and broadcasts it to every client, sender
// included. Blank content is ignored.
func (r *room) post(sender types.User, content string, replyToId int, system bool) (types.ChatMessage, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return types.ChatMessage{}, false
	}

	msg := types.ChatMessage{
		Id:              r.srv.nextId(),
		SenderId:        sender.Id,
		SenderUsername:  sender.Username,
		SenderRole:      sender.Role,
		Content:         content,
		IsSystemMessage: system,
		Reactions:       map[string][]types.ReactionUser{},
		ReadBy:          []types.ReadReceipt{},
		CreatedAt:       types.NewTimestamp(time.Now()),
	}

	if idx := r.indexOf(replyToId); idx >= 0 {
		target := r.messages[idx]
		snippet := []rune(target.Content)
		if len(snippet) > replySnippetLen {
			snippet = snippet[:replySnippetLen]
		}
		msg.ReplyTo = &types.ReplyRef{
			Id:             target.Id,
			Content:        string(snippet),
			SenderId:       target.SenderId,
			SenderUsername: target.SenderUsername,
		}
	}

	r.messages = append(r.messages, msg)
	r.broadcast(&newMessageFrame{Type: frameNewMessage, Message: msg.Clone()}, nil)

	return msg, true
}

func (r *room) broadcastTyping(user types.User, isTyping bool) {
	frame := &typingFrame{Type: frameTyping, UserId: user.Id, Username: user.Username, IsTyping: isTyping}
	r.broadcast(frame, func(c *client) bool { return c.user.Id == user.Id })
}

func (r *room) toggleReaction(user types.User, messageId int, emoji string) {
	idx := r.indexOf(messageId)
	if idx < 0 || emoji == "" {
		return
	}

	flat := r.reactions[messageId]
	existing := slices.IndexFunc(flat, func(re reaction) bool { return re.UserId == user.Id && re.Emoji == emoji })
	if existing >= 0 {
		flat = slices.Delete(slices.Clone(flat), existing, existing+1)
	} else {
		flat = append(flat, reaction{Id: r.srv.nextId(), Emoji: emoji, UserId: user.Id, Username: user.Username})
	}
	r.reactions[messageId] = flat

	grouped := make(map[string][]types.ReactionUser)
	for _, re := range flat {
		grouped[re.Emoji] = append(grouped[re.Emoji], types.ReactionUser{UserId: re.UserId, Username: re.Username})
	}
	r.messages[idx].Reactions = grouped

	r.broadcast(&reactionFrame{
		Type: frameReactionUpdate,
		Data: reactionData{MessageId: messageId, Reactions: slices.Clone(flat)},
	}, nil)
}

// markRead records a receipt per message the user has not read yet and
// broadcasts only the new ones.
func (r *room) markRead(user types.User, ids []int) {
	var created []receipt
	now := types.NewTimestamp(time.Now())

	for _, id := range ids {
		idx := r.indexOf(id)
		if idx < 0 || r.messages[idx].ReadByUser(user.Id) {
			continue
		}
		r.messages[idx].ReadBy = append(r.messages[idx].ReadBy, types.ReadReceipt{
			UserId:   user.Id,
			Username: user.Username,
			ReadAt:   now,
		})
		created = append(created, receipt{MessageId: id, UserId: user.Id, Username: user.Username, ReadAt: now})
	}

	if len(created) == 0 {
		return
	}
	r.broadcast(&receiptFrame{Type: frameReadReceipt, Data: created}, nil)
}

// forceDisconnect tells every connection of userId it is no longer
// allowed in the conversation and closes it.
func (r *room) forceDisconnect(userId int, reason string) int {
	if reason == "" {
		reason = defaultForceReason
	}

	n := 0
	for c := range r.clients {
		if c.user.Id != userId {
			continue
		}
		c.queueMessage(&forceDisconnectFrame{Type: frameForceDisconnect, Reason: reason})
		c.kick(websocket.CloseNormalClosure, "")
		delete(r.clients, c)
		n++
	}
	return n
}

func (r *room) dropAll() int {
	n := len(r.clients)
	for c := range r.clients {
		c.drop()
		delete(r.clients, c)
	}
	return n
}

func (r *room) broadcast(frame any, skip func(*client) bool) {
	raw, err := encode(frame)
	if err != nil {
		r.log.Println("failed to serialize frame:", err)
		return
	}

	for c := range r.clients {
		if skip != nil && skip(c) {
			continue
		}
		c.queue(outbound{data: raw})
	}
}

func (r *room) indexOf(id int) int {
	if id == 0 {
		return -1
	}
	return slices.IndexFunc(r.messages, func(m types.ChatMessage) bool { return m.Id == id })
}

func (r *room) snapshot() []types.ChatMessage {
	out := make([]types.ChatMessage, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Clone()
	}
	return out
}
