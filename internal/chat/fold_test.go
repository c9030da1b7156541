package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/npezzotti/go-ticketchat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, sender int, content string) types.ChatMessage {
	return types.ChatMessage{Id: id, SenderId: sender, Content: content}
}

func ids(msgs []types.ChatMessage) []int {
	out := make([]int, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Id)
	}
	return out
}

func fold(s State, events ...Event) State {
	for _, ev := range events {
		s = s.Apply(ev)
	}
	return s
}

func TestApplyHistoryReplaces(t *testing.T) {
	s := fold(State{},
		NewMessage{Message: msg(1, 1, "a")},
		NewMessage{Message: msg(2, 1, "b")},
		NewMessage{Message: msg(3, 1, "c")},
	)
	require.Len(t, s.Messages, 3)

	s = s.Apply(MessageHistory{Messages: []types.ChatMessage{msg(10, 2, "x"), msg(5, 2, "y")}})
	assert.Equal(t, []int{10, 5}, ids(s.Messages), "expected history to replace the log in server order")

	s = s.Apply(MessageHistory{Messages: []types.ChatMessage{}})
	assert.Empty(t, s.Messages, "expected empty history to clear the log")
}

func TestApplyNewMessageOrder(t *testing.T) {
	s := fold(State{},
		NewMessage{Message: msg(3, 1, "c")},
		NewMessage{Message: msg(1, 1, "a")},
		NewMessage{Message: msg(2, 1, "b")},
	)
	assert.Equal(t, []int{3, 1, 2}, ids(s.Messages), "expected arrival order to be kept")
}

func TestApplyDuplicateMessage(t *testing.T) {
	s := fold(State{},
		NewMessage{Message: msg(6, 1, "before")},
		NewMessage{Message: msg(7, 1, "hi")},
		NewMessage{Message: msg(8, 1, "after")},
		NewMessage{Message: msg(7, 1, "hi (edited)")},
	)

	assert.Equal(t, []int{6, 7, 8}, ids(s.Messages), "expected duplicate to be replaced in place")
	m, ok := s.Message(7)
	require.True(t, ok)
	assert.Equal(t, "hi (edited)", m.Content, "expected later copy to win")
}

func TestApplyUnacknowledgedMessagesNotDeduplicated(t *testing.T) {
	s := fold(State{},
		NewMessage{Message: types.ChatMessage{IsSystemMessage: true, Content: "joined"}},
		NewMessage{Message: types.ChatMessage{IsSystemMessage: true, Content: "joined"}},
	)
	assert.Len(t, s.Messages, 2, "expected messages without an id to be appended")
}

func TestApplyReactionUpdateOverwrites(t *testing.T) {
	s := State{}.Apply(NewMessage{Message: msg(7, 1, "hi")})

	s = s.Apply(ReactionUpdate{MessageId: 7, Reactions: []Reaction{
		{Emoji: "👍", UserId: 1, Username: "a"},
		{Emoji: "👍", UserId: 2, Username: "b"},
	}})
	m, _ := s.Message(7)
	assert.Equal(t, []types.ReactionUser{{UserId: 1, Username: "a"}, {UserId: 2, Username: "b"}}, m.Reactions["👍"])

	s = s.Apply(ReactionUpdate{MessageId: 7, Reactions: []Reaction{
		{Emoji: "👍", UserId: 1, Username: "a"},
	}})
	m, _ = s.Message(7)
	assert.Equal(t, []types.ReactionUser{{UserId: 1, Username: "a"}}, m.Reactions["👍"], "expected full overwrite, not merge")

	s = s.Apply(ReactionUpdate{MessageId: 7})
	m, _ = s.Message(7)
	assert.Empty(t, m.Reactions, "expected empty update to clear reactions")
}

func TestApplyReadReceiptLatestWins(t *testing.T) {
	t1 := types.NewTimestamp(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	t2 := types.NewTimestamp(t1.Add(time.Minute))

	s := State{}.Apply(NewMessage{Message: msg(7, 1, "hi")})
	s = s.Apply(ReadReceipts{Receipts: []Receipt{{MessageId: 7, UserId: 3, Username: "c", ReadAt: t1}}})
	s = s.Apply(ReadReceipts{Receipts: []Receipt{{MessageId: 7, UserId: 3, Username: "c", ReadAt: t2}}})

	m, _ := s.Message(7)
	require.Len(t, m.ReadBy, 1, "expected one receipt per user")
	assert.True(t, t2.Equal(m.ReadBy[0].ReadAt.Time), "expected latest read_at to win")

	s = s.Apply(ReadReceipts{Receipts: []Receipt{{MessageId: 7, UserId: 3, Username: "c", ReadAt: t1}}})
	m, _ = s.Message(7)
	require.Len(t, m.ReadBy, 1)
	assert.True(t, t2.Equal(m.ReadBy[0].ReadAt.Time), "expected older receipt not to regress read_at")

	s = s.Apply(ReadReceipts{Receipts: []Receipt{{MessageId: 7, UserId: 3, Username: "carol", ReadAt: t2}}})
	m, _ = s.Message(7)
	require.Len(t, m.ReadBy, 1)
	assert.Equal(t, "carol", m.ReadBy[0].Username, "expected a receipt with the same read_at to replace the stored one")

	s = s.Apply(ReadReceipts{Receipts: []Receipt{{MessageId: 7, UserId: 4, Username: "d", ReadAt: t1}}})
	m, _ = s.Message(7)
	assert.Len(t, m.ReadBy, 2, "expected receipts from other users to accumulate")
}

func TestApplyOrphanEvents(t *testing.T) {
	s := State{}.Apply(NewMessage{Message: msg(1, 1, "a")})

	var next State
	assert.NotPanics(t, func() {
		next = fold(s,
			ReactionUpdate{MessageId: 99, Reactions: []Reaction{{Emoji: "🎉", UserId: 1}}},
			ReadReceipts{Receipts: []Receipt{{MessageId: 99, UserId: 2}}},
		)
	})
	assert.Equal(t, s.Messages, next.Messages, "expected orphan events to leave the log unchanged")
}

func TestApplyTyping(t *testing.T) {
	s := fold(State{},
		Typing{UserId: 2, Username: "bob", IsTyping: true},
		Typing{UserId: 3, Username: "amy", IsTyping: true},
	)
	assert.Equal(t, []string{"amy", "bob"}, s.TypingUsers())

	s = s.Apply(Typing{UserId: 2, Username: "bob", IsTyping: false})
	assert.Equal(t, map[int]string{3: "amy"}, s.Typing)

	s = s.Apply(Closed{Code: 1006})
	assert.Empty(t, s.Typing, "expected typing to reset when the connection drops")
}

func TestApplyForcedDisconnectIsTerminal(t *testing.T) {
	s := fold(State{},
		Opened{},
		NewMessage{Message: msg(1, 1, "a")},
		ForcedDisconnect{Reason: "policy violation"},
	)
	require.Equal(t, StateForcedDisconnect, s.Conn)

	after := fold(s,
		Closed{Code: 1000},
		ReconnectScheduled{Attempt: 1, Delay: time.Second},
		Opened{},
		NewMessage{Message: msg(2, 1, "b")},
		MessageHistory{},
		Typing{UserId: 2, Username: "x", IsTyping: true},
	)

	assert.Equal(t, StateForcedDisconnect, after.Conn)
	assert.Equal(t, "policy violation", after.Reason)
	assert.Equal(t, []int{1}, ids(after.Messages), "expected no folds after forced disconnect")
	assert.Empty(t, after.Typing)
}

func TestApplyConnectionLifecycle(t *testing.T) {
	s := State{Conn: StateConnecting}

	s = s.Apply(Opened{})
	assert.Equal(t, StateOpen, s.Conn)

	s = s.Apply(TransportError{Err: errors.New("reset by peer")})
	assert.EqualError(t, s.LastError, "reset by peer")
	assert.Equal(t, StateOpen, s.Conn, "expected transport errors not to change the connection state")

	s = s.Apply(Closed{Code: 1006})
	assert.Equal(t, StateClosed, s.Conn)

	s = s.Apply(ReconnectScheduled{Attempt: 1, Delay: time.Second})
	assert.Equal(t, StateConnecting, s.Conn)

	s = s.Apply(Opened{})
	assert.Equal(t, StateOpen, s.Conn)
	assert.NoError(t, s.LastError)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	s := fold(State{},
		NewMessage{Message: msg(1, 1, "a")},
		Typing{UserId: 2, Username: "b", IsTyping: true},
	)
	before := s.Messages[0].Clone()

	_ = fold(s,
		NewMessage{Message: msg(1, 1, "replaced")},
		ReactionUpdate{MessageId: 1, Reactions: []Reaction{{Emoji: "👍", UserId: 2}}},
		ReadReceipts{Receipts: []Receipt{{MessageId: 1, UserId: 2}}},
		Typing{UserId: 2, IsTyping: false},
	)

	assert.Equal(t, before, s.Messages[0], "expected original state to be untouched")
	assert.Equal(t, map[int]string{2: "b"}, s.Typing)
}

func TestGroupReactions(t *testing.T) {
	grouped := GroupReactions([]Reaction{
		{Emoji: "👍", UserId: 1, Username: "a"},
		{Emoji: "🎉", UserId: 2, Username: "b"},
		{Emoji: "👍", UserId: 2, Username: "b"},
		{Emoji: "👍", UserId: 1, Username: "a"},
		{Emoji: "", UserId: 3, Username: "c"},
	})

	assert.Equal(t, map[string][]types.ReactionUser{
		"👍": {{UserId: 1, Username: "a"}, {UserId: 2, Username: "b"}},
		"🎉": {{UserId: 2, Username: "b"}},
	}, grouped)
}

func TestStateQueries(t *testing.T) {
	reply := msg(3, 2, "re")
	reply.ReplyTo = &types.ReplyRef{Id: 1}
	orphanReply := msg(4, 2, "re?")
	orphanReply.ReplyTo = &types.ReplyRef{Id: 42}

	s := fold(State{},
		NewMessage{Message: msg(1, 1, "q")},
		NewMessage{Message: reply},
		NewMessage{Message: orphanReply},
	)

	target := s.ReplyTarget(reply)
	require.NotNil(t, target)
	assert.Equal(t, "q", target.Content)
	assert.Nil(t, s.ReplyTarget(orphanReply), "expected missing reply target to be nil")
	assert.Nil(t, s.ReplyTarget(msg(5, 1, "plain")))

	_, ok := s.Message(0)
	assert.False(t, ok, "expected zero id lookups to miss")
}

func TestReactionSummary(t *testing.T) {
	m := types.ChatMessage{Reactions: map[string][]types.ReactionUser{
		"👍": {{UserId: 1}, {UserId: 2}},
		"🎉": {{UserId: 2}},
		"❤":  {{UserId: 3}},
		"😢":  {},
	}}

	assert.Equal(t, []ReactionCount{
		{Emoji: "👍", Count: 2, Mine: true},
		{Emoji: "❤", Count: 1},
		{Emoji: "🎉", Count: 1},
	}, ReactionSummary(m, 1))
}
