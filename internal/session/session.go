package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"civicom/internal/conversation"
	"civicom/internal/conversation/timeline"
	"civicom/internal/feed"
	"civicom/internal/inbox"
	"civicom/pkg/logger"
)

// Session is the per-user client context: the current user, the open
// views and their live subscriptions. Nothing here is ambient global
// state; two sessions for different users coexist in one process.
type Session struct {
	userID string
	uc     conversation.Usecase
	broker *feed.Broker
	logger logger.Logger

	mu        sync.Mutex
	inbox     *inbox.Inbox
	inboxSub  *feed.Subscription
	inboxDone chan struct{}
	views     map[uuid.UUID]*View
}

// View is one open conversation: its ordered timeline plus the
// subscription feeding it.
type View struct {
	conversationID uuid.UUID
	timeline       *timeline.Timeline
	sub            *feed.Subscription
	done           chan struct{}
}

func New(userID string, uc conversation.Usecase, broker *feed.Broker, logger logger.Logger) *Session {
	return &Session{
		userID: userID,
		uc:     uc,
		broker: broker,
		logger: logger,
		views:  map[uuid.UUID]*View{},
	}
}

func (s *Session) UserID() string { return s.userID }

// OpenInbox starts the conversation-list view: subscribe first, then
// load, so no event falls between the two (overlap is safe, Apply is
// idempotent). A dedicated goroutine consumes the feed.
func (s *Session) OpenInbox(ctx context.Context) (*inbox.Inbox, error) {
	s.mu.Lock()
	if s.inbox != nil {
		in := s.inbox
		s.mu.Unlock()
		return in, nil
	}
	in := inbox.New(s.userID)
	sub := s.broker.Subscribe(feed.InboxScope(s.userID))
	done := make(chan struct{})
	s.inbox, s.inboxSub, s.inboxDone = in, sub, done
	s.mu.Unlock()

	convs, err := s.uc.ListConversations(ctx, s.userID)
	if err != nil {
		sub.Cancel()
		close(done)
		s.mu.Lock()
		s.inbox, s.inboxSub, s.inboxDone = nil, nil, nil
		s.mu.Unlock()
		return nil, err
	}
	in.Load(convs)

	// Events buffered since Subscribe drain after Load; Apply dedups.
	go func() {
		defer close(done)
		for ev := range sub.C() {
			in.Apply(ev)
		}
	}()
	return in, nil
}

// CloseInbox tears the inbox subscription down synchronously: once it
// returns, the consumer goroutine has exited.
func (s *Session) CloseInbox() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeInboxLocked()
}

func (s *Session) closeInboxLocked() {
	if s.inboxSub == nil {
		return
	}
	s.inboxSub.Cancel()
	if s.inboxDone != nil {
		<-s.inboxDone
	}
	s.inbox, s.inboxSub, s.inboxDone = nil, nil, nil
}

// OpenConversation starts a message view for one conversation.
func (s *Session) OpenConversation(ctx context.Context, conversationID uuid.UUID) (*View, error) {
	s.mu.Lock()
	if v, ok := s.views[conversationID]; ok {
		s.mu.Unlock()
		return v, nil
	}
	v := &View{
		conversationID: conversationID,
		timeline:       timeline.New(),
		sub:            s.broker.Subscribe(feed.MessagesScope(conversationID)),
		done:           make(chan struct{}),
	}
	s.views[conversationID] = v
	s.mu.Unlock()

	msgs, err := s.uc.ListMessages(ctx, conversationID, s.userID)
	if err != nil {
		v.sub.Cancel()
		close(v.done)
		s.mu.Lock()
		delete(s.views, conversationID)
		s.mu.Unlock()
		return nil, err
	}
	v.timeline.Load(msgs)

	go func() {
		defer close(v.done)
		for ev := range v.sub.C() {
			v.timeline.Apply(ev)
		}
	}()
	return v, nil
}

// CloseConversation tears the view's subscription down synchronously,
// so a re-opened view never double-delivers through a leaked handler.
func (s *Session) CloseConversation(conversationID uuid.UUID) {
	s.mu.Lock()
	v, ok := s.views[conversationID]
	if ok {
		delete(s.views, conversationID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	v.sub.Cancel()
	<-v.done
}

// Send runs an optimistic send: the message shows up in the open view
// immediately (Pending), then is reconciled in place by its correlation
// token when the authoritative record lands. On failure the optimistic
// entry is dropped.
func (s *Session) Send(ctx context.Context, cmd conversation.SendMessageCommand) (*conversation.MessageDTO, error) {
	cmd.SenderID = s.userID
	if cmd.ClientToken == uuid.Nil {
		cmd.ClientToken = uuid.New()
	}

	s.mu.Lock()
	v := s.views[cmd.ConversationID]
	s.mu.Unlock()

	if v != nil {
		v.timeline.AppendPending(conversation.MessageDTO{
			ConversationID: cmd.ConversationID,
			SenderID:       cmd.SenderID,
			Text:           cmd.Text,
			ClientToken:    cmd.ClientToken,
		})
	}

	msg, err := s.uc.SendMessage(ctx, cmd)
	if err != nil {
		if v != nil {
			v.timeline.DropPending(cmd.ClientToken)
		}
		return nil, err
	}
	if v != nil {
		// The feed delivers this too; Apply is idempotent.
		v.timeline.Apply(feed.Event{Op: feed.OpCreate, Message: msg})
	}
	return msg, nil
}

// Close tears down every open view and the inbox.
func (s *Session) Close() {
	s.mu.Lock()
	views := make([]*View, 0, len(s.views))
	for id, v := range s.views {
		views = append(views, v)
		delete(s.views, id)
	}
	s.mu.Unlock()

	for _, v := range views {
		v.sub.Cancel()
		<-v.done
	}
	s.CloseInbox()
}

func (v *View) ConversationID() uuid.UUID { return v.conversationID }

// Messages returns the view's current display order.
func (v *View) Messages() []timeline.Entry {
	return v.timeline.Messages()
}
