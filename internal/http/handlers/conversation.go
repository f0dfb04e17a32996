package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"civicom/internal/conversation"
	"civicom/internal/http/middleware"
	appErrors "civicom/pkg/errors"
	"civicom/pkg/logger"
)

type ConversationHandler struct {
	Conversations conversation.Usecase
	Logger        logger.Logger
}

type createConversationRequest struct {
	Participants []string `json:"participants"`
}

func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
		return
	}

	dto, err := h.Conversations.CreateConversation(c.Request.Context(), conversation.CreateConversationCommand{
		CreatorID:      middleware.MustUsername(c),
		ParticipantIDs: req.Participants,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto)
}

func (h *ConversationHandler) ListConversations(c *gin.Context) {
	convs, err := h.Conversations.ListConversations(c.Request.Context(), middleware.MustUsername(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid conversation id"})
		return
	}

	msgs, err := h.Conversations.ListMessages(c.Request.Context(), conversationID, middleware.MustUsername(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	Text        string `json:"text"`
	ClientToken string `json:"client_token"`
}

// SendMessage accepts JSON for text-only sends and multipart form data
// (fields: text, client_token, file) when an attachment rides along.
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid conversation id"})
		return
	}

	cmd := conversation.SendMessageCommand{
		ConversationID: conversationID,
		SenderID:       middleware.MustUsername(c),
	}

	var tokenStr string
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		cmd.Text = c.PostForm("text")
		tokenStr = c.PostForm("client_token")

		if file, header, err := c.Request.FormFile("file"); err == nil {
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"message": "could not read attachment"})
				return
			}
			cmd.Attachment = data
			cmd.AttachmentName = header.Filename
		}
	} else {
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}
		cmd.Text = req.Text
		tokenStr = req.ClientToken
	}

	if tokenStr != "" {
		token, err := uuid.Parse(tokenStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid client token"})
			return
		}
		cmd.ClientToken = token
	}

	msg, err := h.Conversations.SendMessage(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ConversationHandler) DeleteMessage(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid message id"})
		return
	}

	if err := h.Conversations.DeleteMessage(c.Request.Context(), messageID, middleware.MustUsername(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) AttachmentURL(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid message id"})
		return
	}

	url, err := h.Conversations.AttachmentURL(c.Request.Context(), messageID, middleware.MustUsername(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// writeError maps the error taxonomy onto HTTP statuses. ABORTED (the
// partial-failure case) gets 409 so the UI knows a retry with the same
// client token is the right move.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch appErrors.CodeOf(err) {
	case appErrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case appErrors.CodeNotFound:
		status = http.StatusNotFound
	case appErrors.CodePermissionDenied:
		status = http.StatusForbidden
	case appErrors.CodeUnauthenticated:
		status = http.StatusUnauthorized
	case appErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	case appErrors.CodeAborted:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"message": err.Error()})
}
