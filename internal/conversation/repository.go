package conversation

import (
	"context"

	"github.com/google/uuid"

	"civicom/internal/conversation/model"
)

type ConversationRepository interface {
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	GetConversation(ctx context.Context, id uuid.UUID) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)

	// AppendMessage atomically assigns (Timestamp, Seq) under a lock on
	// the conversation row, inserts the message, and folds the
	// lastMessage/lastUpdated projection update into the same tx.
	// msg.Timestamp and msg.Seq are set on return.
	AppendMessage(ctx context.Context, msg *model.Message, preview string) error

	GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error)
	GetMessageByClientToken(ctx context.Context, token uuid.UUID) (*model.Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*model.Message, error)
	DeleteMessage(ctx context.Context, id uuid.UUID) error
}
