package memstore

import (
	"context"
	"sort"
	"sync"

	"legal_agenda/internal/domain/user"
)

type UserRepository struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*user.User)}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.TelegramID != 0 {
		for _, existing := range r.users {
			if existing.TelegramID == u.TelegramID {
				return user.ErrDuplicateTelegramID
			}
		}
	}
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, user.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if telegramID != 0 && u.TelegramID == telegramID {
			c := *u
			return &c, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (r *UserRepository) Update(ctx context.Context, u *user.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.ID]; !ok {
		return user.ErrUserNotFound
	}
	c := *u
	r.users[u.ID] = &c
	return nil
}

func (r *UserRepository) ListActiveByRoles(ctx context.Context, roles ...user.Role) ([]*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[user.Role]bool, len(roles))
	for _, role := range roles {
		want[role] = true
	}
	var out []*user.User
	for _, u := range r.users {
		if u.IsActive && want[u.Role] {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
