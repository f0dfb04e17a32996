package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicom/internal/conversation"
	"civicom/internal/feed"
	"civicom/pkg/errors"
	"civicom/pkg/logger"
)

// feedUsecase serves canned snapshots; onListMessages runs inside the
// snapshot read, right where a concurrently committed send would land.
type feedUsecase struct {
	messages       []conversation.MessageDTO
	conversations  []conversation.ConversationDTO
	listErr        error
	onListMessages func()
}

func (f *feedUsecase) ListMessages(ctx context.Context, conversationID uuid.UUID, userID string) ([]conversation.MessageDTO, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if f.onListMessages != nil {
		f.onListMessages()
	}
	return f.messages, nil
}

func (f *feedUsecase) ListConversations(ctx context.Context, userID string) ([]conversation.ConversationDTO, error) {
	return f.conversations, nil
}

func (f *feedUsecase) CreateConversation(ctx context.Context, cmd conversation.CreateConversationCommand) (*conversation.ConversationDTO, error) {
	return nil, errors.Internal("not used by feed tests")
}

func (f *feedUsecase) SendMessage(ctx context.Context, cmd conversation.SendMessageCommand) (*conversation.MessageDTO, error) {
	return nil, errors.Internal("not used by feed tests")
}

func (f *feedUsecase) DeleteMessage(ctx context.Context, messageID uuid.UUID, requesterID string) error {
	return errors.Internal("not used by feed tests")
}

func (f *feedUsecase) AttachmentURL(ctx context.Context, messageID uuid.UUID, userID string) (string, error) {
	return "", errors.Internal("not used by feed tests")
}

func newFeedServer(t *testing.T, h *FeedHandler) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("username", "alice")
		h.Handle(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dialFeed(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func TestFeedHandler_SendDuringSnapshotIsNotLost(t *testing.T) {
	broker := feed.NewBroker(logger.Logger{})
	convID := uuid.New()

	loaded := conversation.MessageDTO{
		ID: uuid.New(), ConversationID: convID, SenderID: "bob",
		Text: "already there", Timestamp: time.Now(), Seq: 1,
	}
	racer := conversation.MessageDTO{
		ID: uuid.New(), ConversationID: convID, SenderID: "bob",
		Text: "landed mid-snapshot", Timestamp: time.Now().Add(time.Second), Seq: 2,
	}

	uc := &feedUsecase{messages: []conversation.MessageDTO{loaded}}
	// A send commits while the snapshot is being read: too late for the
	// snapshot, but the connection's subscription must already exist.
	uc.onListMessages = func() {
		broker.Publish(feed.MessagesScope(convID), feed.Event{Op: feed.OpCreate, Message: &racer})
	}

	srv := newFeedServer(t, &FeedHandler{Conversations: uc, Broker: broker, Logger: logger.Logger{}})
	conn := dialFeed(t, srv, "?conversation_id="+convID.String())

	var snapshot struct {
		Messages []conversation.MessageDTO `json:"messages"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Len(t, snapshot.Messages, 1)
	assert.Equal(t, loaded.ID, snapshot.Messages[0].ID)

	var ev feed.Event
	require.NoError(t, conn.ReadJSON(&ev), "the mid-snapshot send must arrive as the first event")
	assert.Equal(t, feed.OpCreate, ev.Op)
	require.NotNil(t, ev.Message)
	assert.Equal(t, racer.ID, ev.Message.ID)
}

func TestFeedHandler_InboxSnapshotThenLiveEvents(t *testing.T) {
	broker := feed.NewBroker(logger.Logger{})
	existing := conversation.ConversationDTO{
		ID: uuid.New(), Participants: []string{"alice", "bob"}, LastUpdated: time.Now(),
	}
	uc := &feedUsecase{conversations: []conversation.ConversationDTO{existing}}

	srv := newFeedServer(t, &FeedHandler{Conversations: uc, Broker: broker, Logger: logger.Logger{}})
	conn := dialFeed(t, srv, "")

	var snapshot struct {
		Conversations []conversation.ConversationDTO `json:"conversations"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Len(t, snapshot.Conversations, 1)

	fresh := conversation.ConversationDTO{
		ID: uuid.New(), Participants: []string{"alice", "carol"}, LastUpdated: time.Now(),
	}
	broker.Publish(feed.InboxScope("alice"), feed.Event{Op: feed.OpCreate, Conversation: &fresh})

	var ev feed.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, feed.OpCreate, ev.Op)
	require.NotNil(t, ev.Conversation)
	assert.Equal(t, fresh.ID, ev.Conversation.ID)
}

func TestFeedHandler_InvalidConversationIDRejectedBeforeUpgrade(t *testing.T) {
	broker := feed.NewBroker(logger.Logger{})
	srv := newFeedServer(t, &FeedHandler{Conversations: &feedUsecase{}, Broker: broker, Logger: logger.Logger{}})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?conversation_id=not-a-uuid"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Nil(t, conn)
}

func TestFeedHandler_GuardFailureRejectsConnection(t *testing.T) {
	broker := feed.NewBroker(logger.Logger{})
	uc := &feedUsecase{listErr: errors.ErrNotParticipant}
	srv := newFeedServer(t, &FeedHandler{Conversations: uc, Broker: broker, Logger: logger.Logger{}})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?conversation_id=" + uuid.NewString()
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
