// Package chattest provides an in-process ticket chat server speaking
// the production wire protocol, for exercising clients end to end.
package chattest

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-ticketchat/internal/types"
)

// CloseRejected is sent to a connection the server refuses after the
// upgrade.
const CloseRejected = 4001

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	log    *log.Logger
	router *mux.Router

	mu     sync.Mutex
	tokens map[string]types.User
	denied map[int]bool
	rooms  map[roomKey]*room
	lastId int
	closed bool
	wg     sync.WaitGroup
}

// NewServer returns a server with no known users. A nil logger
// discards output.
func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{
		log:    logger,
		router: mux.NewRouter(),
		tokens: make(map[string]types.User),
		denied: make(map[int]bool),
		rooms:  make(map[roomKey]*room),
	}
	s.router.HandleFunc("/ws/chat/{ticket:[0-9]+}/{channel}/", s.serveChat).Methods(http.MethodGet)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser makes token authenticate as u.
func (s *Server) AddUser(token string, u types.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = u
}

// Deny makes the server accept and then immediately close connections
// of userId with CloseRejected.
func (s *Server) Deny(userId int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[userId] = true
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ticketId, err := strconv.Atoi(vars["ticket"])
	if err != nil || ticketId <= 0 {
		http.NotFound(w, r)
		return
	}
	channel, err := types.ParseChannelType(vars["channel"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	user, ok := s.tokens[r.URL.Query().Get("token")]
	denied := s.denied[user.Id]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("upgrade:", err)
		return
	}

	if denied {
		s.log.Printf("rejecting %s", user.Username)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(CloseRejected, "unauthorized"))
		conn.Close()
		return
	}

	rm := s.room(roomKey{ticketId: ticketId, channel: channel})
	if rm == nil {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	c := newClient(user, conn, rm, s.log)
	go c.write()
	if !rm.join(c) {
		c.stopClient()
		return
	}
	c.read()
}

// room returns the conversation for key, starting it on first use. It
// returns nil after Shutdown.
func (s *Server) room(key roomKey) *room {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if r, ok := s.rooms[key]; ok {
		return r
	}

	r := newRoom(key, s)
	s.rooms[key] = r
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		r.start()
	}()
	return r
}

func (s *Server) nextId() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastId++
	return s.lastId
}

func (s *Server) withRoom(ticketId int, channel types.ChannelType, fn func(r *room)) bool {
	r := s.room(roomKey{ticketId: ticketId, channel: channel})
	if r == nil {
		return false
	}
	return r.do(func() { fn(r) })
}

// Messages returns the stored conversation.
func (s *Server) Messages(ticketId int, channel types.ChannelType) []types.ChatMessage {
	var msgs []types.ChatMessage
	s.withRoom(ticketId, channel, func(r *room) {
		msgs = r.snapshot()
	})
	return msgs
}

// Post stores and broadcasts a message as if sender had sent it.
func (s *Server) Post(ticketId int, channel types.ChannelType, sender types.User, content string) types.ChatMessage {
	var msg types.ChatMessage
	s.withRoom(ticketId, channel, func(r *room) {
		msg, _ = r.post(sender, content, 0, false)
	})
	return msg
}

// SystemMessage stores and broadcasts a system notice.
func (s *Server) SystemMessage(ticketId int, channel types.ChannelType, content string) types.ChatMessage {
	var msg types.ChatMessage
	s.withRoom(ticketId, channel, func(r *room) {
		msg, _ = r.post(types.User{}, content, 0, true)
	})
	return msg
}

// ForceDisconnect removes userId from the conversation and reports how
// many connections were closed.
func (s *Server) ForceDisconnect(ticketId int, channel types.ChannelType, userId int, reason string) int {
	var n int
	s.withRoom(ticketId, channel, func(r *room) {
		n = r.forceDisconnect(userId, reason)
	})
	return n
}

// DropConnections closes every socket of the conversation without a
// close frame, as a network failure would.
func (s *Server) DropConnections(ticketId int, channel types.ChannelType) int {
	var n int
	s.withRoom(ticketId, channel, func(r *room) {
		n = r.dropAll()
	})
	return n
}

// Connected reports how many connections the conversation holds.
func (s *Server) Connected(ticketId int, channel types.ChannelType) int {
	var n int
	s.withRoom(ticketId, channel, func(r *room) {
		n = len(r.clients)
	})
	return n
}

// Shutdown closes every connection with CloseGoingAway and stops all
// rooms.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, r := range s.rooms {
		close(r.exit)
	}
	s.mu.Unlock()

	s.wg.Wait()
}
