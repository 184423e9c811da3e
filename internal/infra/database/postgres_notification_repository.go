// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"legal_agenda/internal/domain/notification"

	"github.com/lib/pq" // For pq.Array
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

// --- Notification log ---

const logColumns = `id, appointment_id, type, meta_key, status, attempts, last_error, recipients,
               claimed_at, sent_at, created_at, updated_at`

func scanLogEntry(row interface{ Scan(...any) error }) (*notification.LogEntry, error) {
	e := &notification.LogEntry{}
	err := row.Scan(
		&e.ID, &e.AppointmentID, &e.Type, &e.MetaKey, &e.Status, &e.Attempts, &e.LastError, &e.Recipients,
		&e.ClaimedAt, &e.SentAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// InsertLogIfAbsent relies on the notification_log_unique constraint; the
// loser of a concurrent insert reads back the winner's row.
func (r *PostgresNotificationRepository) InsertLogIfAbsent(ctx context.Context, e *notification.LogEntry) (*notification.LogEntry, bool, error) {
	query := `INSERT INTO notification_log (id, appointment_id, type, meta_key, status, attempts, last_error, recipients,
                   claimed_at, sent_at, created_at, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
               ON CONFLICT ON CONSTRAINT notification_log_unique DO NOTHING
               RETURNING id`
	var id string
	err := r.db.QueryRowContext(ctx, query,
		e.ID, e.AppointmentID, e.Type, e.MetaKey, e.Status, e.Attempts, e.LastError, e.Recipients,
		e.ClaimedAt, e.SentAt, e.CreatedAt, e.UpdatedAt,
	).Scan(&id)
	if err == nil {
		stored := *e
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("error inserting notification log entry: %w", err)
	}
	existing, err := r.GetLog(ctx, e.AppointmentID, e.Type, e.MetaKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresNotificationRepository) ReclaimLog(ctx context.Context, id string, staleBefore, claimedAt time.Time) (bool, error) {
	query := `UPDATE notification_log
               SET claimed_at = $3, updated_at = $3
               WHERE id = $1 AND status = $4 AND claimed_at < $2`
	res, err := r.db.ExecContext(ctx, query, id, staleBefore, claimedAt, notification.DeliveryPending)
	if err != nil {
		return false, fmt.Errorf("error reclaiming notification log entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading reclaim result: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresNotificationRepository) RenewClaim(ctx context.Context, id string, held, renewed time.Time) error {
	query := `UPDATE notification_log
               SET claimed_at = $3, updated_at = $3
               WHERE id = $1 AND status = $4 AND claimed_at = $2`
	res, err := r.db.ExecContext(ctx, query, id, held, renewed, notification.DeliveryPending)
	if err != nil {
		return fmt.Errorf("error renewing notification claim: %w", err)
	}
	return claimResult(res)
}

func (r *PostgresNotificationRepository) UpdateLog(ctx context.Context, e *notification.LogEntry, held time.Time) error {
	query := `UPDATE notification_log
               SET status = $1, attempts = $2, last_error = $3, recipients = $4, claimed_at = $5, sent_at = $6, updated_at = $7
               WHERE id = $8 AND status = $9 AND claimed_at = $10`
	res, err := r.db.ExecContext(ctx, query, e.Status, e.Attempts, e.LastError, e.Recipients, e.ClaimedAt, e.SentAt, e.UpdatedAt,
		e.ID, notification.DeliveryPending, held)
	if err != nil {
		return fmt.Errorf("error updating notification log entry: %w", err)
	}
	return claimResult(res)
}

// claimResult maps a fenced update touching no row to ErrClaimLost.
func claimResult(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading update result: %w", err)
	}
	if n == 0 {
		return notification.ErrClaimLost
	}
	return nil
}

func (r *PostgresNotificationRepository) GetLog(ctx context.Context, appointmentID string, t notification.Type, metaKey string) (*notification.LogEntry, error) {
	query := `SELECT ` + logColumns + `
               FROM notification_log
               WHERE appointment_id = $1 AND type = $2 AND meta_key = $3`
	e, err := scanLogEntry(r.db.QueryRowContext(ctx, query, appointmentID, t, metaKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrLogEntryNotFound
		}
		return nil, fmt.Errorf("error getting notification log entry: %w", err)
	}
	return e, nil
}

func (r *PostgresNotificationRepository) ListLogs(ctx context.Context, f notification.LogFilter) ([]*notification.LogEntry, error) {
	var where []string
	var args []any
	if f.AppointmentID != "" {
		args = append(args, f.AppointmentID)
		where = append(where, fmt.Sprintf("appointment_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d::varchar[])", len(args)))
	}
	query := `SELECT ` + logColumns + ` FROM notification_log`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying notification log: %w", err)
	}
	defer rows.Close()

	entries := make([]*notification.LogEntry, 0)
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning notification log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notification log rows: %w", err)
	}
	return entries, nil
}

// --- Preferences ---

func (r *PostgresNotificationRepository) GetPreferences(ctx context.Context, userID string) (*notification.Preference, error) {
	query := `SELECT appointments_email, appointments_inapp, case_updates_email, case_updates_inapp, system_email, system_inapp
               FROM notification_preferences WHERE user_id = $1`
	var ae, ai, ce, ci, se, si bool
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&ae, &ai, &ce, &ci, &se, &si)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notification.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("error getting notification preferences: %w", err)
	}
	p := &notification.Preference{UserID: userID}
	p.Set(notification.CategoryAppointments, notification.ChannelEmail, ae)
	p.Set(notification.CategoryAppointments, notification.ChannelInApp, ai)
	p.Set(notification.CategoryCaseUpdates, notification.ChannelEmail, ce)
	p.Set(notification.CategoryCaseUpdates, notification.ChannelInApp, ci)
	p.Set(notification.CategorySystem, notification.ChannelEmail, se)
	p.Set(notification.CategorySystem, notification.ChannelInApp, si)
	return p, nil
}

func (r *PostgresNotificationRepository) UpsertPreferences(ctx context.Context, p *notification.Preference) error {
	query := `INSERT INTO notification_preferences
                   (user_id, appointments_email, appointments_inapp, case_updates_email, case_updates_inapp, system_email, system_inapp)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               ON CONFLICT (user_id) DO UPDATE SET
                   appointments_email = EXCLUDED.appointments_email,
                   appointments_inapp = EXCLUDED.appointments_inapp,
                   case_updates_email = EXCLUDED.case_updates_email,
                   case_updates_inapp = EXCLUDED.case_updates_inapp,
                   system_email = EXCLUDED.system_email,
                   system_inapp = EXCLUDED.system_inapp,
                   updated_at = NOW()`
	_, err := r.db.ExecContext(ctx, query, p.UserID,
		p.Enabled(notification.CategoryAppointments, notification.ChannelEmail),
		p.Enabled(notification.CategoryAppointments, notification.ChannelInApp),
		p.Enabled(notification.CategoryCaseUpdates, notification.ChannelEmail),
		p.Enabled(notification.CategoryCaseUpdates, notification.ChannelInApp),
		p.Enabled(notification.CategorySystem, notification.ChannelEmail),
		p.Enabled(notification.CategorySystem, notification.ChannelInApp),
	)
	if err != nil {
		return fmt.Errorf("error upserting notification preferences: %w", err)
	}
	return nil
}
