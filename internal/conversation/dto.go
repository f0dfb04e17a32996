package conversation

import (
	"time"

	"github.com/google/uuid"
)

// NOTE: commands travel from handler to usecase
// Note: DTO travels from usecase to handler
// Input commands
type CreateConversationCommand struct {
	CreatorID      string
	ParticipantIDs []string
}

type SendMessageCommand struct {
	ConversationID uuid.UUID
	SenderID       string
	Text           string

	// Optional attachment payload; Text may be empty when present.
	Attachment     []byte
	AttachmentName string

	// Correlation token. The caller keeps it across retries so a send
	// that partially failed can resume without re-uploading; a zero
	// token gets one assigned.
	ClientToken uuid.UUID
}

// Output DTOs
type ConversationDTO struct {
	ID           uuid.UUID `json:"id"`
	Participants []string  `json:"participants"`
	LastMessage  string    `json:"last_message"`
	LastUpdated  time.Time `json:"last_updated"`
}

type MessageDTO struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text,omitempty"`
	AttachmentPath string    `json:"attachment_path,omitempty"`
	ClientToken    uuid.UUID `json:"client_token"`
	Timestamp      time.Time `json:"timestamp"`
	Seq            int64     `json:"seq"`
}
