package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"civicom/internal/conversation"
	"civicom/internal/feed"
	"civicom/internal/http/middleware"
	"civicom/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// FeedHandler bridges broker subscriptions onto a websocket. One
// connection serves one scope; the subscription lives exactly as long
// as the connection, so closing the view closes the feed.
type FeedHandler struct {
	Conversations conversation.Usecase
	Broker        *feed.Broker
	Logger        logger.Logger
	Upgrader      websocket.Upgrader
}

// Handle serves GET /ws?scope=inbox or GET /ws?conversation_id=<uuid>.
// The first frame is a snapshot; change events follow.
func (h *FeedHandler) Handle(c *gin.Context) {
	username := middleware.MustUsername(c)
	ctx := c.Request.Context()

	var scope feed.Scope
	var conversationID uuid.UUID
	messagesView := false
	if raw := c.Query("conversation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid conversation id"})
			return
		}
		conversationID = id
		messagesView = true
		scope = feed.MessagesScope(id)
	} else {
		scope = feed.InboxScope(username)
	}

	// Subscribe before reading the snapshot, so a change landing during
	// the snapshot fetch or the upgrade round trip waits in the buffer
	// instead of vanishing. Overlap with the snapshot is fine, clients
	// dedup by id.
	sub := h.Broker.Subscribe(scope)
	defer sub.Cancel()

	snapshot := gin.H{}
	if messagesView {
		// Doubles as the participant guard.
		msgs, err := h.Conversations.ListMessages(ctx, conversationID, username)
		if err != nil {
			writeError(c, err)
			return
		}
		snapshot["messages"] = msgs
	} else {
		convs, err := h.Conversations.ListConversations(ctx, username)
		if err != nil {
			writeError(c, err)
			return
		}
		snapshot["conversations"] = convs
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snapshot); err != nil {
		return
	}

	// Reader only watches for the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
