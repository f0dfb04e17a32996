package model

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID             uuid.UUID     `bun:",pk,type:uuid,default:gen_random_uuid()"`
	ConversationID uuid.UUID     `bun:",notnull,type:uuid"`
	Conversation   *Conversation `bun:"rel:belongs-to,join:conversation_id=id"`

	SenderID string `bun:",notnull"`

	// At least one of Text/AttachmentPath is set.
	Text           string `bun:",null"`
	AttachmentPath string `bun:",null"`

	// Client-generated correlation token. Unique, so a retried send can
	// never insert the same message twice.
	ClientToken uuid.UUID `bun:",unique,notnull,type:uuid"`

	// Server-assigned. Messages within a conversation are totally
	// ordered by (Timestamp, Seq); client wall clocks play no part.
	Timestamp time.Time `bun:",notnull"`
	Seq       int64     `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
