package user

import "time"

// Role is the organisational role of a user. It is translated into a
// capability set once, at the request boundary.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleLawyer    Role = "lawyer"
	RoleAssistant Role = "assistant"
)

// User is a known person of the firm.
type User struct {
	ID         string
	Name       string
	Email      string
	TelegramID int64 // 0 when the user never linked a Telegram account
	Role       Role
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
