package chat

import (
	"maps"
	"slices"
	"sort"

	"github.com/npezzotti/go-ticketchat/internal/types"
)

// State is the client-visible conversation. Apply never modifies its
// receiver, so a State handed out as a snapshot stays valid; callers
// must not modify it either.
type State struct {
	Messages []types.ChatMessage
	// Typing maps user id to username for users currently composing.
	Typing map[int]string
	Conn   ConnState
	// Reason is set when Conn is StateForcedDisconnect.
	Reason string
	// LastError is the most recent transport error, if any.
	LastError error
}

// Apply folds one event into s and returns the resulting state. Once
// the state is StateForcedDisconnect every event is ignored.
func (s State) Apply(ev Event) State {
	if s.Conn == StateForcedDisconnect {
		return s
	}

	switch e := ev.(type) {
	case Opened:
		s.Conn = StateOpen
		s.Typing = nil
		s.LastError = nil
	case Closed:
		s.Conn = StateClosed
		s.Typing = nil
	case ReconnectScheduled:
		s.Conn = StateConnecting
	case TransportError:
		s.LastError = e.Err
	case MessageHistory:
		s.Messages = cloneMessages(e.Messages)
	case NewMessage:
		s.Messages = appendMessage(s.Messages, e.Message)
	case ReactionUpdate:
		idx := s.indexOf(e.MessageId)
		if idx < 0 {
			return s
		}
		s.Messages = slices.Clone(s.Messages)
		s.Messages[idx].Reactions = GroupReactions(e.Reactions)
	case ReadReceipts:
		s.Messages = applyReceipts(s, e.Receipts)
	case Typing:
		typing := maps.Clone(s.Typing)
		if typing == nil {
			typing = make(map[int]string)
		}
		if e.IsTyping {
			typing[e.UserId] = e.Username
		} else {
			delete(typing, e.UserId)
		}
		s.Typing = typing
	case ForcedDisconnect:
		s.Conn = StateForcedDisconnect
		s.Reason = e.Reason
		s.Typing = nil
	}

	return s
}

func cloneMessages(msgs []types.ChatMessage) []types.ChatMessage {
	out := make([]types.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// appendMessage appends msg, or replaces an existing entry with the
// same server id in place so the log never reorders.
func appendMessage(msgs []types.ChatMessage, msg types.ChatMessage) []types.ChatMessage {
	msg = msg.Clone()
	if msg.Id != 0 {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Id == msg.Id {
				out := slices.Clone(msgs)
				out[i] = msg
				return out
			}
		}
	}

	out := make([]types.ChatMessage, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, msg)
}

func applyReceipts(s State, receipts []Receipt) []types.ChatMessage {
	msgs := s.Messages
	copied := false

	for _, r := range receipts {
		idx := s.indexOf(r.MessageId)
		if idx < 0 {
			continue
		}

		if !copied {
			msgs = slices.Clone(msgs)
			copied = true
		}

		msgs[idx].ReadBy = MergeReceipt(msgs[idx].ReadBy, types.ReadReceipt{
			UserId:   r.UserId,
			Username: r.Username,
			ReadAt:   r.ReadAt,
		})
	}

	return msgs
}

// GroupReactions turns the flat wire list into emoji -> users. A user
// appears at most once per emoji; order of first appearance is kept.
func GroupReactions(flat []Reaction) map[string][]types.ReactionUser {
	grouped := make(map[string][]types.ReactionUser)
	for _, r := range flat {
		if r.Emoji == "" {
			continue
		}
		users := grouped[r.Emoji]
		if slices.ContainsFunc(users, func(u types.ReactionUser) bool { return u.UserId == r.UserId }) {
			continue
		}
		grouped[r.Emoji] = append(users, types.ReactionUser{UserId: r.UserId, Username: r.Username})
	}
	return grouped
}

// MergeReceipt adds r to readBy, keyed by user. An existing receipt of
// the same user is replaced unless its ReadAt is later than r's.
// readBy is not modified.
func MergeReceipt(readBy []types.ReadReceipt, r types.ReadReceipt) []types.ReadReceipt {
	for i, existing := range readBy {
		if existing.UserId != r.UserId {
			continue
		}
		if r.ReadAt.Before(existing.ReadAt.Time) {
			return readBy
		}
		out := slices.Clone(readBy)
		out[i] = r
		return out
	}

	out := make([]types.ReadReceipt, len(readBy), len(readBy)+1)
	copy(out, readBy)
	return append(out, r)
}

func (s State) indexOf(id int) int {
	if id == 0 {
		return -1
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Id == id {
			return i
		}
	}
	return -1
}

// Message looks up a message by server id.
func (s State) Message(id int) (types.ChatMessage, bool) {
	if idx := s.indexOf(id); idx >= 0 {
		return s.Messages[idx], true
	}
	return types.ChatMessage{}, false
}

// ReplyTarget returns the locally present message msg replies to, or
// nil when msg is not a reply or its target is not loaded.
func (s State) ReplyTarget(msg types.ChatMessage) *types.ChatMessage {
	if msg.ReplyTo == nil {
		return nil
	}
	if target, ok := s.Message(msg.ReplyTo.Id); ok {
		return &target
	}
	return nil
}

// TypingUsers returns the usernames currently composing, sorted.
func (s State) TypingUsers() []string {
	names := make([]string, 0, len(s.Typing))
	for _, name := range s.Typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type ReactionCount struct {
	Emoji string
	Count int
	// Mine reports whether the local user applied this reaction.
	Mine bool
}

// ReactionSummary orders a message's reactions by count, then emoji.
func ReactionSummary(msg types.ChatMessage, selfId int) []ReactionCount {
	summary := make([]ReactionCount, 0, len(msg.Reactions))
	for emoji, users := range msg.Reactions {
		if len(users) == 0 {
			continue
		}
		summary = append(summary, ReactionCount{
			Emoji: emoji,
			Count: len(users),
			Mine:  slices.ContainsFunc(users, func(u types.ReactionUser) bool { return u.UserId == selfId }),
		})
	}

	sort.Slice(summary, func(i, j int) bool {
		if summary[i].Count != summary[j].Count {
			return summary[i].Count > summary[j].Count
		}
		return summary[i].Emoji < summary[j].Emoji
	})
	return summary
}
