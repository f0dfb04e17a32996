package user

import (
	"context"

	"github.com/google/uuid"

	models "civicom/internal/user/model"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUserDisplayName(ctx context.Context, userID uuid.UUID, newName string) error
	ListUsers(ctx context.Context, limit int) ([]*models.User, error)

	CreateGroup(ctx context.Context, group *models.Group) error
	AssignUserToGroup(ctx context.Context, userID, groupID uuid.UUID) error
	ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]*models.User, error)
}
