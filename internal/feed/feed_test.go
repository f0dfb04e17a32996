package feed

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicom/internal/conversation"
	"civicom/pkg/logger"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "channel closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event, got none")
		return Event{}
	}
}

func TestBroker_DeliversToScope(t *testing.T) {
	b := NewBroker(logger.Logger{})
	convID := uuid.New()

	msgSub := b.Subscribe(MessagesScope(convID))
	otherSub := b.Subscribe(MessagesScope(uuid.New()))
	defer msgSub.Cancel()
	defer otherSub.Cancel()

	ev := Event{Op: OpCreate, Message: &conversation.MessageDTO{ID: uuid.New(), ConversationID: convID}}
	b.Publish(MessagesScope(convID), ev)

	got := recv(t, msgSub)
	assert.Equal(t, ev.Message.ID, got.Message.ID)

	select {
	case <-otherSub.C():
		t.Fatal("event leaked across scopes")
	default:
	}
}

func TestBroker_MultipleSubscribersEachReceive(t *testing.T) {
	b := NewBroker(logger.Logger{})
	scope := InboxScope("alice")

	s1 := b.Subscribe(scope)
	s2 := b.Subscribe(scope)
	defer s1.Cancel()
	defer s2.Cancel()

	b.Publish(scope, Event{Op: OpUpdate, Conversation: &conversation.ConversationDTO{ID: uuid.New()}})

	recv(t, s1)
	recv(t, s2)
}

func TestBroker_CancelStopsDeliveryAndClosesChannel(t *testing.T) {
	b := NewBroker(logger.Logger{})
	scope := InboxScope("alice")

	sub := b.Subscribe(scope)
	sub.Cancel()

	// Publishing after cancel must not panic or deliver.
	b.Publish(scope, Event{Op: OpCreate})

	_, ok := <-sub.C()
	assert.False(t, ok, "channel must be closed after Cancel")

	// Cancel is idempotent.
	sub.Cancel()
}

func TestBroker_ReopenedScopeDoesNotDoubleDeliver(t *testing.T) {
	b := NewBroker(logger.Logger{})
	convID := uuid.New()

	old := b.Subscribe(MessagesScope(convID))
	old.Cancel()

	fresh := b.Subscribe(MessagesScope(convID))
	defer fresh.Cancel()

	b.Publish(MessagesScope(convID), Event{Op: OpCreate, Message: &conversation.MessageDTO{ID: uuid.New()}})

	recv(t, fresh)
	select {
	case ev := <-fresh.C():
		t.Fatalf("unexpected second delivery: %+v", ev)
	default:
	}
}

func TestBroker_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroker(logger.Logger{})
	scope := InboxScope("alice")
	sub := b.Subscribe(scope)
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer+10; i++ {
			b.Publish(scope, Event{Op: OpCreate})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
