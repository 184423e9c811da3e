package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/domain/user"
	"legal_agenda/internal/infra/clock"

	"github.com/google/uuid"
)

// Custom application-level errors for admin service
var (
	ErrUserAlreadyExists   = errors.New("user with this Telegram ID already exists")
	ErrUserAlreadyInactive = errors.New("user is already inactive")
)

// AdminService groups the operations reserved to PermAdmin holders.
type AdminService struct {
	userRepo  user.Repository
	apptRepo  appointment.Repository
	notifRepo notification.Repository
	reminders *ReminderService
	clock     clock.Clock
}

func NewAdminService(
	ur user.Repository,
	ar appointment.Repository,
	nr notification.Repository,
	reminders *ReminderService,
	c clock.Clock,
) *AdminService {
	return &AdminService{
		userRepo:  ur,
		apptRepo:  ar,
		notifRepo: nr,
		reminders: reminders,
		clock:     c,
	}
}

// AddUser registers a user reachable through Telegram.
func (s *AdminService) AddUser(ctx context.Context, actor Actor, telegramID int64, name, email string, role user.Role) (*user.User, error) {
	if !actor.Perms.Has(PermAdmin) {
		return nil, ErrNotAuthorized
	}
	switch role {
	case user.RoleAdmin, user.RoleLawyer, user.RoleAssistant:
	default:
		verr := &appointment.ValidationError{}
		verr.Add("role", "unknown role")
		return nil, verr
	}
	if email != "" {
		normalized, err := appointment.NormalizeEmail(email)
		if err != nil {
			return nil, err
		}
		email = normalized
	}

	_, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err == nil {
		return nil, ErrUserAlreadyExists
	}
	if !errors.Is(err, user.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	now := s.clock.Now()
	u := &user.User{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		Email:      email,
		TelegramID: telegramID,
		Role:       role,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrDuplicateTelegramID) {
			return nil, ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user in repository: %w", err)
	}
	return u, nil
}

// DeactivateUser stops a user from acting and from receiving notifications.
func (s *AdminService) DeactivateUser(ctx context.Context, actor Actor, telegramID int64) (*user.User, error) {
	if !actor.Perms.Has(PermAdmin) {
		return nil, ErrNotAuthorized
	}
	u, err := s.userRepo.GetByTelegramID(ctx, telegramID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user by Telegram ID for removal: %w", err)
	}
	if !u.IsActive {
		return u, ErrUserAlreadyInactive
	}
	u.IsActive = false
	u.UpdatedAt = s.clock.Now()
	if err := s.userRepo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to update user to inactive in repository: %w", err)
	}
	return u, nil
}

// ListPending returns requested-equivalent appointments that have not started yet.
func (s *AdminService) ListPending(ctx context.Context, actor Actor) ([]*appointment.Appointment, error) {
	if !actor.Perms.Has(PermApprove) {
		return nil, ErrNotAuthorized
	}
	return s.apptRepo.List(ctx, appointment.Filter{
		Statuses:  appointment.StatusesOf(appointment.StatusRequested),
		StartFrom: s.clock.Now(),
	})
}

// ListDeliveries is the delivery-status view over the notification log.
func (s *AdminService) ListDeliveries(ctx context.Context, actor Actor, f notification.LogFilter) ([]*notification.LogEntry, error) {
	if !actor.Perms.Has(PermAdmin) {
		return nil, ErrNotAuthorized
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.notifRepo.ListLogs(ctx, f)
}

// RunSweep triggers a sweep outside the schedule.
func (s *AdminService) RunSweep(ctx context.Context, actor Actor) (SweepResult, error) {
	if !actor.Perms.Has(PermAdmin) {
		return SweepResult{}, ErrNotAuthorized
	}
	return s.reminders.RunSweep(ctx)
}

// MarkReminderSent suppresses the reminders of one appointment.
func (s *AdminService) MarkReminderSent(ctx context.Context, actor Actor, appointmentID string) (int, error) {
	if !actor.Perms.Has(PermAdmin) {
		return 0, ErrNotAuthorized
	}
	return s.reminders.MarkReminderSent(ctx, appointmentID)
}

// SetPreference toggles one notification flag of userID. Users may change
// their own flags; admins anyone's.
func (s *AdminService) SetPreference(ctx context.Context, actor Actor, userID string, cat notification.Category, ch notification.Channel, on bool) (*notification.Preference, error) {
	if actor.UserID != userID && !actor.Perms.Has(PermAdmin) {
		return nil, ErrNotAuthorized
	}
	pref, err := s.notifRepo.GetPreferences(ctx, userID)
	if errors.Is(err, notification.ErrPreferenceNotFound) {
		pref, err = notification.DefaultPreference(userID), nil
	}
	if err != nil {
		return nil, err
	}
	pref.Set(cat, ch, on)
	if err := s.notifRepo.UpsertPreferences(ctx, pref); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}
	return pref, nil
}
