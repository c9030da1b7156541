package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/npezzotti/go-ticketchat/internal/chat"
	"github.com/npezzotti/go-ticketchat/internal/types"
)

const snippetLen = 40

var errQuit = errors.New("quit")

type commandKind int

const (
	cmdSend commandKind = iota
	cmdReply
	cmdReact
	cmdDraft
	cmdHelp
	cmdQuit
)

type command struct {
	kind      commandKind
	text      string
	messageId int
	emoji     string
}

const helpText = `commands:
  <text>               send a message
  <text>\              continue the message on the next line
  /reply <id> <text>   reply to message <id>
  /react <id> <emoji>  toggle a reaction on message <id>
  /help                show this help
  /quit                leave the conversation`

// parseCommand interprets one line of input. A trailing backslash marks
// a draft line that continues on the next one.
func parseCommand(line string) (command, error) {
	if strings.HasSuffix(line, `\`) {
		return command{kind: cmdDraft, text: strings.TrimSuffix(line, `\`)}, nil
	}

	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdSend, text: line}, nil
	}

	name, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/quit", "/exit":
		return command{kind: cmdQuit}, nil
	case "/help":
		return command{kind: cmdHelp}, nil
	case "/reply", "/react":
		idArg, arg, _ := strings.Cut(rest, " ")
		id, err := strconv.Atoi(idArg)
		if err != nil || id <= 0 {
			return command{}, fmt.Errorf("%s: invalid message id %q", name, idArg)
		}
		arg = strings.TrimSpace(arg)
		if name == "/reply" {
			if arg == "" {
				return command{}, errors.New("usage: /reply <id> <text>")
			}
			return command{kind: cmdReply, messageId: id, text: arg}, nil
		}
		if arg == "" {
			return command{}, errors.New("usage: /react <id> <emoji>")
		}
		return command{kind: cmdReact, messageId: id, emoji: arg}, nil
	}

	return command{}, fmt.Errorf("unknown command %s, try /help", name)
}

// conversation is what the console drives.
type conversation interface {
	InputChanged(text string)
	SendMessage(content string, replyToId int) bool
	React(messageId int, emoji string) bool
}

// console turns input lines into session commands and folded state
// into terminal output.
type console struct {
	conv  conversation
	self  types.User
	out   io.Writer
	draft []string

	printed   map[int]struct{}
	reactions map[int]string
	readers   map[int]int
	typing    string
	conn      chat.ConnState
}

func newConsole(conv conversation, self types.User, out io.Writer) *console {
	return &console{
		conv:      conv,
		self:      self,
		out:       out,
		printed:   make(map[int]struct{}),
		reactions: make(map[int]string),
		readers:   make(map[int]int),
		conn:      chat.StateConnecting,
	}
}

// handleLine executes one input line. It returns errQuit when the user
// asks to leave.
func (c *console) handleLine(line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		fmt.Fprintln(c.out, err)
		return nil
	}

	switch cmd.kind {
	case cmdQuit:
		return errQuit
	case cmdHelp:
		fmt.Fprintln(c.out, helpText)
	case cmdDraft:
		c.draft = append(c.draft, cmd.text)
		c.conv.InputChanged(strings.Join(c.draft, "\n"))
	case cmdSend, cmdReply:
		text := strings.TrimSpace(strings.Join(append(c.draft, cmd.text), "\n"))
		c.draft = nil
		if text == "" {
			return nil
		}
		c.conv.InputChanged(text)
		if !c.conv.SendMessage(text, cmd.messageId) {
			fmt.Fprintln(c.out, "-- not connected, message not sent")
		}
	case cmdReact:
		if !c.conv.React(cmd.messageId, cmd.emoji) {
			fmt.Fprintln(c.out, "-- not connected, reaction not sent")
		}
	}

	return nil
}

// render prints what changed in st since the last call.
func (c *console) render(st chat.State) {
	if st.Conn != c.conn {
		c.conn = st.Conn
		if line := connLine(st); line != "" {
			fmt.Fprintln(c.out, line)
		}
	}

	for _, m := range st.Messages {
		if m.Id == 0 {
			continue
		}
		if _, ok := c.printed[m.Id]; !ok {
			c.printed[m.Id] = struct{}{}
			c.reactions[m.Id] = formatReactions(chat.ReactionSummary(m, c.self.Id))
			c.readers[m.Id] = len(m.ReadBy)
			fmt.Fprintln(c.out, formatMessage(st, m, c.reactions[m.Id]))
			continue
		}

		if r := formatReactions(chat.ReactionSummary(m, c.self.Id)); r != c.reactions[m.Id] {
			c.reactions[m.Id] = r
			if r == "" {
				r = "none"
			}
			fmt.Fprintf(c.out, "   [%d] reactions: %s\n", m.Id, r)
		}

		if m.SenderId == c.self.Id && len(m.ReadBy) > c.readers[m.Id] {
			names := make([]string, 0, len(m.ReadBy)-c.readers[m.Id])
			for _, r := range m.ReadBy[c.readers[m.Id]:] {
				names = append(names, r.Username)
			}
			c.readers[m.Id] = len(m.ReadBy)
			fmt.Fprintf(c.out, "   [%d] read by %s\n", m.Id, strings.Join(names, ", "))
		}
	}

	if t := typingLine(st.TypingUsers()); t != c.typing {
		c.typing = t
		if t != "" {
			fmt.Fprintln(c.out, t)
		}
	}
}

func connLine(st chat.State) string {
	switch st.Conn {
	case chat.StateOpen:
		return "-- connected"
	case chat.StateConnecting:
		return "-- reconnecting..."
	case chat.StateClosed:
		if st.LastError != nil {
			return "-- disconnected: " + st.LastError.Error()
		}
		return "-- disconnected"
	case chat.StateForcedDisconnect:
		return "-- disconnected by server: " + st.Reason
	}
	return ""
}

func formatMessage(st chat.State, m types.ChatMessage, reactions string) string {
	var b strings.Builder

	if m.ReplyTo != nil {
		target := st.ReplyTarget(m)
		if target != nil {
			fmt.Fprintf(&b, "   > %s: %s\n", target.SenderUsername, snippet(target.Content))
		} else {
			fmt.Fprintf(&b, "   > %s: %s\n", m.ReplyTo.SenderUsername, snippet(m.ReplyTo.Content))
		}
	}

	if m.IsSystemMessage {
		fmt.Fprintf(&b, "[%d] * %s", m.Id, m.Content)
		return b.String()
	}

	stamp := ""
	if !m.CreatedAt.IsZero() {
		stamp = m.CreatedAt.Local().Format("15:04") + " "
	}
	fmt.Fprintf(&b, "[%d] %s%s: %s", m.Id, stamp, m.SenderUsername, m.Content)
	if reactions != "" {
		fmt.Fprintf(&b, "  (%s)", reactions)
	}
	return b.String()
}

func formatReactions(summary []chat.ReactionCount) string {
	parts := make([]string, 0, len(summary))
	for _, r := range summary {
		p := r.Emoji + " " + strconv.Itoa(r.Count)
		if r.Mine {
			p += "*"
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

func typingLine(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return "-- " + names[0] + " is typing..."
	}
	return "-- " + strings.Join(names, ", ") + " are typing..."
}

func snippet(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen]) + "..."
}
