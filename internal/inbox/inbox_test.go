package inbox

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicom/internal/conversation"
	"civicom/internal/feed"
)

func conv(participants []string, lastMessage string, lastUpdated time.Time) conversation.ConversationDTO {
	return conversation.ConversationDTO{
		ID:           uuid.New(),
		Participants: participants,
		LastMessage:  lastMessage,
		LastUpdated:  lastUpdated,
	}
}

func TestInbox_OrderedByLastUpdatedDesc(t *testing.T) {
	in := New("alice")
	t1 := time.Now()

	older := conv([]string{"alice", "bob"}, "old", t1)
	newer := conv([]string{"alice", "carol"}, "new", t1.Add(time.Minute))
	in.Load([]conversation.ConversationDTO{older, newer})

	got := in.List()
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
	assert.Equal(t, older.ID, got[1].ID)
}

func TestInbox_DuplicateCreateYieldsOneEntry(t *testing.T) {
	in := New("alice")
	c := conv([]string{"alice", "bob"}, "hi", time.Now())

	in.Apply(feed.Event{Op: feed.OpCreate, Conversation: &c})
	in.Apply(feed.Event{Op: feed.OpCreate, Conversation: &c})

	assert.Len(t, in.List(), 1)
}

func TestInbox_UpdateResortsStably(t *testing.T) {
	in := New("alice")
	t1 := time.Now()

	a := conv([]string{"alice", "bob"}, "a", t1.Add(2*time.Minute))
	b := conv([]string{"alice", "carol"}, "b", t1.Add(time.Minute))
	c := conv([]string{"alice", "dave"}, "c", t1)
	in.Load([]conversation.ConversationDTO{a, b, c})

	// c gets a new message and jumps to the top.
	c.LastMessage = "fresh"
	c.LastUpdated = t1.Add(3 * time.Minute)
	in.Apply(feed.Event{Op: feed.OpUpdate, Conversation: &c})

	got := in.List()
	require.Len(t, got, 3)
	assert.Equal(t, c.ID, got[0].ID)
	assert.Equal(t, "fresh", got[0].LastMessage)
	assert.Equal(t, a.ID, got[1].ID)
	assert.Equal(t, b.ID, got[2].ID)
}

func TestInbox_TiesKeepPriorOrder(t *testing.T) {
	in := New("alice")
	ts := time.Now()

	first := conv([]string{"alice", "bob"}, "x", ts)
	second := conv([]string{"alice", "carol"}, "y", ts)
	in.Load([]conversation.ConversationDTO{first, second})

	// Same lastUpdated: relative order must not shuffle across applies.
	refresh := first
	in.Apply(feed.Event{Op: feed.OpUpdate, Conversation: &refresh})

	got := in.List()
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
}

func TestInbox_DiscardsEventsAfterLeaving(t *testing.T) {
	in := New("alice")
	c := conv([]string{"alice", "bob"}, "hi", time.Now())
	in.Apply(feed.Event{Op: feed.OpCreate, Conversation: &c})
	require.Len(t, in.List(), 1)

	// alice is removed from the participant set; the next update both
	// drops the entry and is not shown.
	left := c
	left.Participants = []string{"bob"}
	left.LastUpdated = c.LastUpdated.Add(time.Minute)
	in.Apply(feed.Event{Op: feed.OpUpdate, Conversation: &left})

	assert.Empty(t, in.List())

	// Further events for that conversation stay discarded.
	in.Apply(feed.Event{Op: feed.OpUpdate, Conversation: &left})
	assert.Empty(t, in.List())
}

func TestInbox_StaleUpdateDoesNotMoveLastUpdatedBack(t *testing.T) {
	in := New("alice")
	t1 := time.Now()

	c := conv([]string{"alice", "bob"}, "new", t1.Add(time.Minute))
	in.Apply(feed.Event{Op: feed.OpCreate, Conversation: &c})

	stale := c
	stale.LastMessage = "old"
	stale.LastUpdated = t1
	in.Apply(feed.Event{Op: feed.OpUpdate, Conversation: &stale})

	got := in.List()
	require.Len(t, got, 1)
	assert.True(t, got[0].LastUpdated.Equal(c.LastUpdated),
		"lastUpdated is monotonically non-decreasing")
	assert.Equal(t, "new", got[0].LastMessage,
		"a stale event must not regress the preview either")
}

func TestInbox_DeleteRemoves(t *testing.T) {
	in := New("alice")
	c := conv([]string{"alice", "bob"}, "hi", time.Now())
	in.Apply(feed.Event{Op: feed.OpCreate, Conversation: &c})

	in.Apply(feed.Event{Op: feed.OpDelete, Conversation: &c})
	assert.Empty(t, in.List())
}

func TestInbox_IgnoresMessageEvents(t *testing.T) {
	in := New("alice")
	in.Apply(feed.Event{Op: feed.OpCreate, Message: &conversation.MessageDTO{ID: uuid.New()}})
	assert.Empty(t, in.List())
}
