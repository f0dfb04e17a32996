package feed

import (
	"sync"

	"github.com/google/uuid"

	"civicom/internal/conversation"
	"civicom/pkg/logger"
)

type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event carries a change notification for one record. Exactly one of
// Conversation/Message is set, depending on the scope it is published to.
type Event struct {
	Op           Op                            `json:"op"`
	Conversation *conversation.ConversationDTO `json:"conversation,omitempty"`
	Message      *conversation.MessageDTO      `json:"message,omitempty"`
}

// Scope identifies one live stream: a conversation's messages, or a
// user's conversation list.
type Scope struct {
	Kind string
	ID   string
}

func MessagesScope(conversationID uuid.UUID) Scope {
	return Scope{Kind: "messages", ID: conversationID.String()}
}

func InboxScope(userID string) Scope {
	return Scope{Kind: "inbox", ID: userID}
}

const subscriptionBuffer = 64

// Broker fans change events out to per-scope subscribers. Delivery is
// at-least-once and unordered across scopes; consumers are expected to
// be idempotent and to order messages by (timestamp, seq), not arrival.
type Broker struct {
	mu     sync.RWMutex
	subs   map[Scope]map[*Subscription]struct{}
	logger logger.Logger
}

func NewBroker(logger logger.Logger) *Broker {
	return &Broker{
		subs:   map[Scope]map[*Subscription]struct{}{},
		logger: logger,
	}
}

func (b *Broker) Subscribe(scope Scope) *Subscription {
	s := &Subscription{
		broker: b,
		scope:  scope,
		ch:     make(chan Event, subscriptionBuffer),
	}

	b.mu.Lock()
	if b.subs[scope] == nil {
		b.subs[scope] = map[*Subscription]struct{}{}
	}
	b.subs[scope][s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Publish never blocks: a subscriber whose buffer is full loses the
// event (logged). Re-syncing after a drop is the consumer's job.
func (b *Broker) Publish(scope Scope, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs[scope] {
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn("dropping event for slow subscriber", "scope", scope.Kind, "id", scope.ID)
		}
	}
}

type Subscription struct {
	broker *Broker
	scope  Scope
	ch     chan Event
	once   sync.Once
}

// C is the event stream. It is closed by Cancel.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Scope() Scope { return s.scope }

// Cancel tears the subscription down synchronously: once it returns, no
// further events are delivered and C is closed. Safe to call twice.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		if set, ok := b.subs[s.scope]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, s.scope)
			}
		}
		close(s.ch)
		b.mu.Unlock()
	})
}
