package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID uuid.UUID `bun:",pk,type:uuid,default:gen_random_uuid()"`

	// Username = unique @handle, used as the participant key everywhere
	Username string `bun:",unique,notnull"`

	// Name = display name shown in chats (can be changed freely)
	Name string `bun:",notnull"`

	Role string `bun:",notnull,default:'member'"` // member, assistant, admin

	// Nullable: a user belongs to at most one group
	GroupID *uuid.UUID `bun:",type:uuid,nullzero"`
	Group   *Group     `bun:"rel:belongs-to,join:group_id=id"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type Group struct {
	ID uuid.UUID `bun:",pk,type:uuid,default:gen_random_uuid()"`

	RoleName string `bun:",notnull"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
