package chat

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/npezzotti/go-ticketchat/internal/clock"
	"github.com/npezzotti/go-ticketchat/internal/stats"
	"github.com/npezzotti/go-ticketchat/internal/types"
	"github.com/teris-io/shortid"
)

// transport is what a Session needs from a Transport.
type transport interface {
	Events() <-chan Event
	SendMessage(content string, replyToId int) bool
	SetTyping(isTyping bool) bool
	React(messageId int, emoji string) bool
	MarkRead(messageIds []int) bool
	Disconnect()
}

type SessionOptions struct {
	Clock  clock.Clock
	Stats  stats.StatsProvider
	Logger *log.Logger
}

// Session folds a transport's events into State on a single loop
// goroutine and exposes the conversation commands. A Session belongs
// to one (ticket, channel) pair; Close tears it down.
type Session struct {
	tr     transport
	self   types.User
	log    *log.Logger
	stats  stats.StatsProvider
	typing *typingMachine

	cmds      chan func()
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	stateLock sync.RWMutex
	state     State

	subsLock   sync.Mutex
	subs       map[chan State]struct{}
	subsClosed bool

	// requested holds ids a mark_read was already sent for on the
	// current connection.
	requested map[int]struct{}
}

// Open dials the conversation described by opts and starts a session
// for self on it. Log lines carry a short session id so concurrently
// open tickets can be told apart.
func Open(ctx context.Context, opts Options, self types.User) (*Session, error) {
	if opts.Logger != nil {
		id, err := shortid.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		prefix := fmt.Sprintf("%s[chat %s ticket=%d channel=%s] ", opts.Logger.Prefix(), id, opts.TicketId, opts.Channel)
		opts.Logger = log.New(opts.Logger.Writer(), prefix, opts.Logger.Flags())
	}

	tr, err := Dial(ctx, opts)
	if err != nil {
		return nil, err
	}

	return NewSession(tr, self, SessionOptions{
		Clock:  opts.Clock,
		Stats:  opts.Stats,
		Logger: opts.Logger,
	}), nil
}

// NewSession starts a session over tr. The session owns tr from now
// on and disconnects it on Close.
func NewSession(tr transport, self types.User, opts SessionOptions) *Session {
	s := &Session{
		tr:        tr,
		self:      self,
		log:       opts.Logger,
		stats:     opts.Stats,
		cmds:      make(chan func()),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     State{Conn: StateConnecting},
		subs:      make(map[chan State]struct{}),
		requested: make(map[int]struct{}),
	}

	if s.log == nil {
		s.log = log.New(io.Discard, "", 0)
	}
	if s.stats == nil {
		s.stats = stats.Nop{}
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	s.typing = newTypingMachine(clk, func(isTyping bool) {
		s.tr.SetTyping(isTyping)
	})

	s.stats.Incr(stats.ActiveSessions)
	go s.run()

	return s
}

func (s *Session) run() {
	defer func() {
		s.typing.reset()
		s.closeSubscribers()
		s.stats.Decr(stats.ActiveSessions)
		close(s.done)
	}()

	events := s.tr.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handle(ev)
		case fn := <-s.cmds:
			fn()
		case <-s.typing.C():
			s.typing.expire()
		case <-s.stop:
			return
		}
	}
}

func (s *Session) handle(ev Event) {
	select {
	case <-s.stop:
		return
	default:
	}

	prev := s.Snapshot()
	if prev.Conn == StateForcedDisconnect {
		return
	}
	next := prev.Apply(ev)

	switch e := ev.(type) {
	case Opened:
		clear(s.requested)
	case Closed:
		s.typing.reset()
	case ForcedDisconnect:
		s.log.Println("session ended by server:", e.Reason)
		s.typing.reset()
	case MessageHistory:
		s.markUnread(next.Messages)
	case NewMessage:
		s.markUnread([]types.ChatMessage{e.Message})
	}

	s.setState(next)
}

// markUnread sends one mark_read covering every message in msgs that
// was written by someone else and is not yet read by the local user.
func (s *Session) markUnread(msgs []types.ChatMessage) {
	var ids []int
	for _, m := range msgs {
		if m.Id == 0 || m.SenderId == s.self.Id {
			continue
		}
		if m.ReadByUser(s.self.Id) {
			continue
		}
		if _, ok := s.requested[m.Id]; ok {
			continue
		}
		ids = append(ids, m.Id)
	}

	if len(ids) == 0 {
		return
	}

	if s.tr.MarkRead(ids) {
		for _, id := range ids {
			s.requested[id] = struct{}{}
		}
	}
}

func (s *Session) setState(next State) {
	s.stateLock.Lock()
	s.state = next
	s.stateLock.Unlock()

	s.publish(next)
}

// Snapshot returns the current conversation state. The returned value
// must be treated as read-only.
func (s *Session) Snapshot() State {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.state
}

func (s *Session) Self() types.User {
	return s.self
}

// Subscribe returns a channel that receives the state after every
// fold, starting with the current one. Only the latest state is kept
// for a slow reader. The channel is closed by cancel or when the
// session ends.
func (s *Session) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	if s.subsClosed {
		close(ch)
		return ch, func() {}
	}

	ch <- s.Snapshot()
	s.subs[ch] = struct{}{}

	cancel := func() {
		s.subsLock.Lock()
		defer s.subsLock.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (s *Session) publish(st State) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
}

func (s *Session) closeSubscribers() {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	for ch := range s.subs {
		close(ch)
	}
	s.subs = nil
	s.subsClosed = true
}

// do runs fn on the session loop and waits for it. It reports false
// if the session is closed.
func (s *Session) do(fn func()) bool {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(finished) }:
	case <-s.stop:
		return false
	case <-s.done:
		return false
	}
	<-finished
	return true
}

// InputChanged drives the typing indicator from the compose box: the
// first non-empty edit announces typing, and two seconds without edits
// withdraws it.
func (s *Session) InputChanged(text string) {
	s.do(func() {
		if s.Snapshot().Conn == StateForcedDisconnect {
			return
		}
		s.typing.input(text)
	})
}

// SendMessage sends content, replying to replyToId when non-zero. The
// message is not added locally; it appears once the server echoes it.
func (s *Session) SendMessage(content string, replyToId int) bool {
	var ok bool
	s.do(func() {
		if s.Snapshot().Conn == StateForcedDisconnect {
			return
		}
		ok = s.tr.SendMessage(content, replyToId)
		if ok {
			s.typing.sent()
		}
	})
	return ok
}

// SetTyping sends a raw typing intent, bypassing the inactivity timer.
func (s *Session) SetTyping(isTyping bool) bool {
	var ok bool
	s.do(func() {
		ok = s.tr.SetTyping(isTyping)
	})
	return ok
}

func (s *Session) React(messageId int, emoji string) bool {
	var ok bool
	s.do(func() {
		ok = s.tr.React(messageId, emoji)
	})
	return ok
}

func (s *Session) MarkRead(messageIds []int) bool {
	var ok bool
	s.do(func() {
		ok = s.tr.MarkRead(messageIds)
	})
	return ok
}

// Close disconnects the transport, stops the timers and waits for the
// loop to exit. No state changes are published after Close returns.
// It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.tr.Disconnect()
	})
	<-s.done
}

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
