package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"legal_agenda/internal/domain/notification"
)

type logKey struct {
	appointmentID string
	t             notification.Type
	metaKey       string
}

type NotificationRepository struct {
	mu    sync.Mutex
	logs  map[logKey]*notification.LogEntry
	byID  map[string]logKey
	prefs map[string]*notification.Preference
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{
		logs:  make(map[logKey]*notification.LogEntry),
		byID:  make(map[string]logKey),
		prefs: make(map[string]*notification.Preference),
	}
}

func copyEntry(e *notification.LogEntry) *notification.LogEntry {
	c := *e
	if e.SentAt != nil {
		t := *e.SentAt
		c.SentAt = &t
	}
	return &c
}

func (r *NotificationRepository) InsertLogIfAbsent(ctx context.Context, e *notification.LogEntry) (*notification.LogEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := logKey{e.AppointmentID, e.Type, e.MetaKey}
	if existing, ok := r.logs[k]; ok {
		return copyEntry(existing), false, nil
	}
	r.logs[k] = copyEntry(e)
	r.byID[e.ID] = k
	return copyEntry(e), true, nil
}

func (r *NotificationRepository) ReclaimLog(ctx context.Context, id string, staleBefore, claimedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.byID[id]
	if !ok {
		return false, notification.ErrLogEntryNotFound
	}
	e := r.logs[k]
	if e.Status != notification.DeliveryPending || !e.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	e.ClaimedAt = claimedAt
	e.UpdatedAt = claimedAt
	return true, nil
}

func (r *NotificationRepository) RenewClaim(ctx context.Context, id string, held, renewed time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.heldLocked(id, held)
	if err != nil {
		return err
	}
	e.ClaimedAt = renewed
	e.UpdatedAt = renewed
	return nil
}

func (r *NotificationRepository) UpdateLog(ctx context.Context, e *notification.LogEntry, held time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.heldLocked(e.ID, held); err != nil {
		return err
	}
	r.logs[r.byID[e.ID]] = copyEntry(e)
	return nil
}

// heldLocked returns the entry id if it is pending under claim held.
func (r *NotificationRepository) heldLocked(id string, held time.Time) (*notification.LogEntry, error) {
	k, ok := r.byID[id]
	if !ok {
		return nil, notification.ErrLogEntryNotFound
	}
	e := r.logs[k]
	if e.Status != notification.DeliveryPending || !e.ClaimedAt.Equal(held) {
		return nil, notification.ErrClaimLost
	}
	return e, nil
}

func (r *NotificationRepository) GetLog(ctx context.Context, appointmentID string, t notification.Type, metaKey string) (*notification.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.logs[logKey{appointmentID, t, metaKey}]
	if !ok {
		return nil, notification.ErrLogEntryNotFound
	}
	return copyEntry(e), nil
}

// ListLogs returns matching entries, most recently updated first.
func (r *NotificationRepository) ListLogs(ctx context.Context, f notification.LogFilter) ([]*notification.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	statuses := make(map[notification.DeliveryStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}
	var out []*notification.LogEntry
	for _, e := range r.logs {
		if f.AppointmentID != "" && e.AppointmentID != f.AppointmentID {
			continue
		}
		if len(statuses) > 0 && !statuses[e.Status] {
			continue
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func copyPreference(p *notification.Preference) *notification.Preference {
	c := &notification.Preference{UserID: p.UserID}
	for cat, chans := range p.Flags {
		for ch, on := range chans {
			c.Set(cat, ch, on)
		}
	}
	return c
}

func (r *NotificationRepository) GetPreferences(ctx context.Context, userID string) (*notification.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prefs[userID]
	if !ok {
		return nil, notification.ErrPreferenceNotFound
	}
	return copyPreference(p), nil
}

func (r *NotificationRepository) UpsertPreferences(ctx context.Context, p *notification.Preference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs[p.UserID] = copyPreference(p)
	return nil
}
