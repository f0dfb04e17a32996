package model

import (
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID uuid.UUID `bun:",pk,type:uuid,default:gen_random_uuid()"`

	// Participant usernames. Non-empty, members unique.
	Participants []string `bun:",array,notnull"`

	// Denormalized projection over the message set. LastUpdated never
	// decreases and is >= the newest persisted message timestamp;
	// LastSeq is the per-conversation sequence high-water mark.
	LastMessage string    `bun:",null"`
	LastUpdated time.Time `bun:",nullzero"`
	LastSeq     int64     `bun:",notnull,default:0"`

	CreatedAt time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
	DeletedAt *time.Time `bun:",soft_delete"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
