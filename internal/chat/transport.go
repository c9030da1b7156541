package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-ticketchat/internal/auth"
	"github.com/npezzotti/go-ticketchat/internal/clock"
	"github.com/npezzotti/go-ticketchat/internal/stats"
	"github.com/npezzotti/go-ticketchat/internal/types"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 50 * time.Second
	maxFrameSize   = 1 << 20
	sendBufferSize = 64
	eventBuffer    = 64

	defaultIntentRate  = 20
	defaultIntentBurst = 40

	// CloseRejected is the close code the chat server uses to refuse a
	// connection. It suppresses automatic reconnects.
	CloseRejected = 4001
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRejected        = errors.New("connection rejected")
)

type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
	StateForcedDisconnect
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateForcedDisconnect:
		return "forced_disconnect"
	}
	return "unknown"
}

// Conn is the subset of *websocket.Conn the transport uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (Conn, *http.Response, error)
}

type wsDialer struct {
	*websocket.Dialer
}

// NewWebsocketDialer adapts a gorilla dialer. A nil d uses a copy of
// websocket.DefaultDialer.
func NewWebsocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		dd := *websocket.DefaultDialer
		d = &dd
	}
	return wsDialer{Dialer: d}
}

func (d wsDialer) DialContext(ctx context.Context, urlStr string, hdr http.Header) (Conn, *http.Response, error) {
	conn, resp, err := d.Dialer.DialContext(ctx, urlStr, hdr)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

type Options struct {
	// BaseURL is the chat server origin, e.g. ws://localhost:8000.
	// http and https schemes are mapped to ws and wss.
	BaseURL  string
	TicketId int
	Channel  types.ChannelType
	Tokens   auth.TokenSource

	// IntentRate and IntentBurst bound outbound intents per second.
	// Intents over the limit are dropped like any other undeliverable
	// intent. Zero values select 20/s with a burst of 40.
	IntentRate  rate.Limit
	IntentBurst int

	Dialer Dialer
	Clock  clock.Clock
	Stats  stats.StatsProvider
	Logger *log.Logger
}

func (o *Options) validate() error {
	if o.BaseURL == "" {
		return fmt.Errorf("base url cannot be empty")
	}
	if o.TicketId <= 0 {
		return fmt.Errorf("invalid ticket id %d", o.TicketId)
	}
	if !o.Channel.Valid() {
		return fmt.Errorf("invalid channel type %q", o.Channel)
	}
	if o.Tokens == nil {
		return fmt.Errorf("token source cannot be nil")
	}
	return nil
}

// ChatURL builds the connection URL for a ticket conversation,
// carrying the bearer token as a query parameter.
func ChatURL(base string, ticketId int, channel types.ChannelType, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/chat/" + strconv.Itoa(ticketId) + "/" + string(channel) + "/"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	return u.String(), nil
}

// Transport owns the WebSocket connection of one (ticket, channel)
// conversation. It reconnects with backoff until it is disconnected
// locally, forced off by the server, or rejected.
type Transport struct {
	opts    Options
	dialer  Dialer
	clock   clock.Clock
	stats   stats.StatsProvider
	log     *log.Logger
	backoff *Backoff
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	state   ConnState
	reason  string
	out     chan []byte
	stopped bool

	// emitMu is held for the duration of every event send.
	emitMu sync.Mutex
}

// Dial validates opts, reads the credential and starts connecting in
// the background. With no usable credential it fails immediately with
// ErrUnauthenticated and never touches the network.
func Dial(ctx context.Context, opts Options) (*Transport, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	t := newTransport(ctx, opts)

	token, err := t.token()
	if err != nil {
		t.cancel()
		return nil, err
	}

	go t.run(token)

	return t, nil
}

func newTransport(ctx context.Context, opts Options) *Transport {
	t := &Transport{
		opts:    opts,
		dialer:  opts.Dialer,
		clock:   opts.Clock,
		stats:   opts.Stats,
		log:     opts.Logger,
		backoff: NewBackoff(initialReconnectDelay, maxReconnectDelay),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		state:   StateConnecting,
	}

	if t.dialer == nil {
		t.dialer = NewWebsocketDialer(nil)
	}
	if t.clock == nil {
		t.clock = clock.Real()
	}
	if t.stats == nil {
		t.stats = stats.Nop{}
	}
	if t.log == nil {
		t.log = log.New(io.Discard, "", 0)
	}

	limit, burst := opts.IntentRate, opts.IntentBurst
	if limit <= 0 {
		limit = defaultIntentRate
	}
	if burst <= 0 {
		burst = defaultIntentBurst
	}
	t.limiter = rate.NewLimiter(limit, burst)

	t.ctx, t.cancel = context.WithCancel(ctx)
	return t
}

// token reads the credential fresh. Opaque tokens are passed through;
// JWTs whose exp has passed are refused.
func (t *Transport) token() (string, error) {
	tok, err := t.opts.Tokens.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	if tok == "" {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, auth.ErrNoCredential)
	}
	if err := auth.CheckExpiry(tok, t.clock.Now()); errors.Is(err, auth.ErrTokenExpired) {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return tok, nil
}

// Events returns the event stream. It is closed when the transport
// stops for good.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Done is closed once the transport has stopped.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reason returns the server's text for a forced disconnect.
func (t *Transport) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Disconnect stops the transport: pending reconnects are cancelled, a
// live socket is closed and no further events are emitted. It is
// idempotent and safe to call from any goroutine.
func (t *Transport) Disconnect() {
	t.stop()
	t.cancel()

	// Wait out a send already in flight so nothing is emitted once
	// Disconnect has returned.
	t.emitMu.Lock()
	t.emitMu.Unlock()
}

// stop makes the current state final: Closed, or ForcedDisconnect if
// the server ended the session.
func (t *Transport) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateForcedDisconnect {
		t.state = StateClosed
	}
	t.stopped = true
	t.out = nil
}

// SendMessage queues a send_message intent. Content is trimmed; empty
// content and intents issued while not open are dropped.
func (t *Transport) SendMessage(content string, replyToId int) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return false
	}
	return t.enqueue(newSendMessage(content, replyToId))
}

func (t *Transport) SetTyping(isTyping bool) bool {
	return t.enqueue(newTyping(isTyping))
}

func (t *Transport) React(messageId int, emoji string) bool {
	if messageId == 0 || emoji == "" {
		return false
	}
	return t.enqueue(newReact(messageId, emoji))
}

// MarkRead sends all ids in a single frame.
func (t *Transport) MarkRead(messageIds []int) bool {
	if len(messageIds) == 0 {
		return false
	}
	return t.enqueue(newMarkRead(messageIds))
}

func (t *Transport) enqueue(frame any) bool {
	raw, err := json.Marshal(frame)
	if err != nil {
		t.log.Println("failed to serialize intent:", err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.state != StateOpen || t.out == nil || t.ctx.Err() != nil {
		t.stats.Incr(stats.IntentsDropped)
		return false
	}

	if !t.limiter.AllowN(t.clock.Now(), 1) {
		t.log.Println("intent rate exceeded, dropping intent")
		t.stats.Incr(stats.IntentsDropped)
		return false
	}

	select {
	case t.out <- raw:
		t.stats.Incr(stats.IntentsSent)
		return true
	default:
		t.log.Println("outbound buffer full, dropping intent")
		t.stats.Incr(stats.IntentsDropped)
		return false
	}
}

func (t *Transport) emit(ev Event) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.ctx.Err() != nil {
		return
	}

	select {
	case t.events <- ev:
	case <-t.ctx.Done():
	}
}

func (t *Transport) setState(s ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.state == StateForcedDisconnect {
		return
	}
	t.state = s
}

func (t *Transport) run(token string) {
	defer close(t.done)
	defer close(t.events)
	defer t.stop()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			tok, err := t.token()
			if err != nil {
				t.log.Println("reconnect aborted:", err)
				t.setState(StateClosed)
				t.emit(TransportError{Err: err})
				return
			}
			token = tok
		}

		if t.ctx.Err() != nil {
			return
		}

		rawURL, err := ChatURL(t.opts.BaseURL, t.opts.TicketId, t.opts.Channel, token)
		if err != nil {
			t.setState(StateClosed)
			t.emit(TransportError{Err: err})
			return
		}

		t.setState(StateConnecting)
		conn, resp, err := t.dialer.DialContext(t.ctx, rawURL, nil)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				t.log.Printf("handshake rejected with status %d", resp.StatusCode)
				t.setState(StateClosed)
				t.emit(TransportError{Err: fmt.Errorf("%w: handshake status %d", ErrRejected, resp.StatusCode)})
				return
			}
			t.log.Println("dial:", err)
			t.emit(TransportError{Err: err})
		} else {
			t.backoff.Reset()
			code, reason := t.serve(conn)
			if t.ctx.Err() != nil {
				return
			}

			t.setState(StateClosed)
			t.emit(Closed{Code: code, Reason: reason})

			if t.State() == StateForcedDisconnect {
				return
			}
			if code == CloseRejected {
				t.log.Println("connection rejected by server, not reconnecting")
				return
			}
		}

		if !t.waitReconnect() {
			return
		}
	}
}

func (t *Transport) waitReconnect() bool {
	delay := t.backoff.Next()
	t.stats.Incr(stats.Reconnects)
	t.log.Printf("reconnecting in %s", delay)
	t.emit(ReconnectScheduled{Attempt: t.backoff.Attempts(), Delay: delay})

	timer := t.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-t.ctx.Done():
		return false
	}
}

// serve runs one established connection until it ends and returns its
// close code and reason.
func (t *Transport) serve(conn Conn) (int, string) {
	out := make(chan []byte, sendBufferSize)
	quit := make(chan struct{})

	t.mu.Lock()
	if t.stopped || t.ctx.Err() != nil {
		t.mu.Unlock()
		conn.Close()
		return websocket.CloseNormalClosure, ""
	}
	t.state = StateOpen
	t.out = out
	t.mu.Unlock()

	t.log.Println("connected")
	t.emit(Opened{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t.writePump(conn, out, quit)
	}()

	code, reason := t.readLoop(conn)

	t.mu.Lock()
	t.out = nil
	t.mu.Unlock()

	close(quit)
	conn.Close()
	wg.Wait()

	return code, reason
}

func (t *Transport) readLoop(conn Conn) (int, string) {
	conn.SetReadLimit(maxFrameSize)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code, ce.Text
			}
			if t.ctx.Err() == nil {
				t.log.Println("read:", err)
				t.emit(TransportError{Err: err})
			}
			return websocket.CloseAbnormalClosure, ""
		}

		t.stats.Incr(stats.FramesReceived)
		ev, err := decodeFrame(raw)
		if err != nil {
			t.stats.Incr(stats.FramesDropped)
			t.log.Println("dropping frame:", err)
			continue
		}

		if fd, ok := ev.(ForcedDisconnect); ok {
			t.mu.Lock()
			if !t.stopped {
				t.state = StateForcedDisconnect
				t.reason = fd.Reason
			}
			t.out = nil
			t.mu.Unlock()
			t.log.Println("forced disconnect:", fd.Reason)
		}

		t.emit(ev)
	}
}

func (t *Transport) writePump(conn Conn, out <-chan []byte, quit <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-out:
			if err := t.write(conn, websocket.TextMessage, frame); err != nil {
				t.log.Println("write:", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := t.write(conn, websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-t.ctx.Done():
			t.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-quit:
			return
		}
	}
}

func (t *Transport) write(conn Conn, msgType int, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(msgType, data)
}
