package user

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrDuplicateTelegramID = errors.New("user with this telegram_id already exists")
)

// Repository defines the operations on the user directory.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	Update(ctx context.Context, u *User) error
	// ListActiveByRoles returns active users holding any of roles.
	ListActiveByRoles(ctx context.Context, roles ...Role) ([]*User, error)
}
