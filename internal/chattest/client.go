package chattest

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-ticketchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// outbound is a queued frame. A non-zero closeCode ends the connection
// with a close frame after everything queued before it.
type outbound struct {
	data      []byte
	closeCode int
	closeText string
}

type client struct {
	conn     *websocket.Conn
	room     *room
	log      *log.Logger
	user     types.User
	send     chan outbound
	stop     chan struct{}
	stopOnce sync.Once
}

func newClient(user types.User, conn *websocket.Conn, r *room, l *log.Logger) *client {
	return &client{
		conn: conn,
		room: r,
		log:  l,
		user: user,
		send: make(chan outbound, sendBuffer),
		stop: make(chan struct{}),
	}
}

func (c *client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if msg.closeCode != 0 {
				c.sendMessage(websocket.CloseMessage, websocket.FormatCloseMessage(msg.closeCode, msg.closeText))
				return
			}
			if !c.sendMessage(websocket.TextMessage, msg.data) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *client) read() {
	defer func() {
		c.conn.Close()
		c.room.leave(c)
		c.stopClient()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.log.Println("error parsing frame:", err)
			continue
		}

		c.room.receive(&clientMessage{client: c, frame: frame})
	}
}

func (c *client) queueMessage(frame any) bool {
	raw, err := encode(frame)
	if err != nil {
		c.log.Println("failed to serialize frame:", err)
		return false
	}
	return c.queue(outbound{data: raw})
}

func (c *client) queue(msg outbound) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send frame to client, channel is full")
		return false
	}

	return true
}

// kick closes the connection with code after the queued frames.
func (c *client) kick(code int, text string) {
	if !c.queue(outbound{closeCode: code, closeText: text}) {
		c.stopClient()
	}
}

// drop closes the socket without a close frame.
func (c *client) drop() {
	c.conn.Close()
}

func (c *client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}
