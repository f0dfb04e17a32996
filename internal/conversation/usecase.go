package conversation

import (
	"context"

	"github.com/google/uuid"
)

type Usecase interface {
	// CreateConversation validates and deduplicates the participant set
	// (the creator is always included) and persists the thread.
	CreateConversation(ctx context.Context, cmd CreateConversationCommand) (*ConversationDTO, error)

	// ListConversations returns the user's threads, lastUpdated descending.
	ListConversations(ctx context.Context, userID string) ([]ConversationDTO, error)

	// ListMessages is participant-guarded and returns (timestamp, seq)
	// ascending order.
	ListMessages(ctx context.Context, conversationID uuid.UUID, userID string) ([]MessageDTO, error)

	// SendMessage runs the full pipeline: validate, upload attachment,
	// transactional ordered append, retry with backoff on transient
	// failures, compensating blob delete when the write never lands.
	SendMessage(ctx context.Context, cmd SendMessageCommand) (*MessageDTO, error)

	// DeleteMessage removes a message (sender only) and emits a delete
	// event; the attachment blob is deleted best-effort.
	DeleteMessage(ctx context.Context, messageID uuid.UUID, requesterID string) error

	// AttachmentURL returns an expiring signed URL for the message's
	// attachment, participant-guarded.
	AttachmentURL(ctx context.Context, messageID uuid.UUID, userID string) (string, error)
}
