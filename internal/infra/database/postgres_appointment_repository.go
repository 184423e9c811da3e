package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"legal_agenda/internal/domain/appointment"

	"github.com/lib/pq"
)

type PostgresAppointmentRepository struct {
	db *sql.DB
}

func NewPostgresAppointmentRepository(db *sql.DB) *PostgresAppointmentRepository {
	return &PostgresAppointmentRepository{db: db}
}

const appointmentColumns = `id, title, description, location, start_time, end_time, status, type,
               requester_id, approver_id, rejection_reason, canceled_by, responsible_id, process_id,
               rescheduled_from_id, invitations_sent_at, rejection_count, admin_rejection_notified,
               completed_at, created_at, updated_at`

const participantColumns = `id, appointment_id, user_id, email, response, reason, responded_at, created_at`

type scanner interface{ Scan(...any) error }

func scanAppointment(row scanner) (*appointment.Appointment, error) {
	a := &appointment.Appointment{}
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.Location, &a.StartTime, &a.EndTime, &a.Status, &a.Type,
		&a.RequesterID, &a.ApproverID, &a.RejectionReason, &a.CanceledBy, &a.ResponsibleID, &a.ProcessID,
		&a.RescheduledFromID, &a.InvitationsSentAt, &a.RejectionCount, &a.AdminRejectionNotified,
		&a.CompletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scanAppointments(rows *sql.Rows) ([]*appointment.Appointment, error) {
	out := make([]*appointment.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning appointment row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating appointment rows: %w", err)
	}
	return out, nil
}

func scanParticipant(row scanner) (*appointment.Participant, error) {
	p := &appointment.Participant{}
	if err := row.Scan(&p.ID, &p.AppointmentID, &p.UserID, &p.Email, &p.Response, &p.Reason, &p.RespondedAt, &p.CreatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

func statusArray(ss []appointment.Status) any {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return pq.Array(out)
}

func terminalStatuses() []appointment.Status {
	return appointment.StatusesOf(
		appointment.StatusRejected, appointment.StatusCanceled,
		appointment.StatusCompleted, appointment.StatusRescheduled,
	)
}

// lockResponsible serializes writers booking the same responsible party until
// the transaction ends.
func lockResponsible(ctx context.Context, tx *sql.Tx, responsibleID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, responsibleID); err != nil {
		return fmt.Errorf("failed to lock agenda of %s: %w", responsibleID, err)
	}
	return nil
}

func overlappingIDs(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, responsibleID string, r appointment.Range, excludeID string) ([]string, error) {
	query := `SELECT id FROM appointments
               WHERE responsible_id = $1
                 AND status = ANY($2::varchar[])
                 AND start_time < $3 AND end_time > $4
                 AND id <> $5
               ORDER BY id`
	rows, err := q.QueryContext(ctx, query, responsibleID, statusArray(appointment.BlockingStatuses()), r.End, r.Start, excludeID)
	if err != nil {
		return nil, fmt.Errorf("error querying overlapping appointments: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning overlapping appointment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func insertAppointment(ctx context.Context, tx *sql.Tx, a *appointment.Appointment) error {
	query := `INSERT INTO appointments (id, title, description, location, start_time, end_time, status, type,
                   requester_id, approver_id, rejection_reason, canceled_by, responsible_id, process_id,
                   rescheduled_from_id, invitations_sent_at, rejection_count, admin_rejection_notified,
                   completed_at, created_at, updated_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err := tx.ExecContext(ctx, query,
		a.ID, a.Title, a.Description, a.Location, a.StartTime, a.EndTime, a.Status, a.Type,
		a.RequesterID, a.ApproverID, a.RejectionReason, a.CanceledBy, a.ResponsibleID, a.ProcessID,
		a.RescheduledFromID, a.InvitationsSentAt, a.RejectionCount, a.AdminRejectionNotified,
		a.CompletedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting appointment: %w", err)
	}
	return nil
}

func insertParticipants(ctx context.Context, tx *sql.Tx, ps []*appointment.Participant) error {
	if len(ps) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO appointment_participants (id, appointment_id, user_id, email, response, reason, responded_at, created_at)
                                         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
                                         ON CONFLICT ON CONSTRAINT appointment_participants_email_unique DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for participants: %w", err)
	}
	defer stmt.Close()

	for _, p := range ps {
		if _, err := stmt.ExecContext(ctx, p.ID, p.AppointmentID, p.UserID, p.Email, p.Response, p.Reason, p.RespondedAt, p.CreatedAt); err != nil {
			return fmt.Errorf("error inserting participant %s: %w", p.Email, err)
		}
	}
	return nil
}

func (r *PostgresAppointmentRepository) Create(ctx context.Context, a *appointment.Appointment, participants []*appointment.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for appointment create: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	if err := lockResponsible(ctx, tx, a.ResponsibleID); err != nil {
		return err
	}
	ids, err := overlappingIDs(ctx, tx, a.ResponsibleID, a.Range(), "")
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return &appointment.ConflictError{ConflictingIDs: ids, Reason: "time range overlaps existing appointment"}
	}
	if err := insertAppointment(ctx, tx, a); err != nil {
		return err
	}
	if err := insertParticipants(ctx, tx, participants); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresAppointmentRepository) GetByID(ctx context.Context, id string) (*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	a, err := scanAppointment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appointment.ErrNotFound
		}
		return nil, fmt.Errorf("error getting appointment by ID: %w", err)
	}
	return a, nil
}

// mismatchOrMissing explains a guarded update that touched no row.
func (r *PostgresAppointmentRepository) mismatchOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("error checking appointment existence: %w", err)
	}
	if !exists {
		return appointment.ErrNotFound
	}
	return appointment.ErrStatusMismatch
}

func (r *PostgresAppointmentRepository) UpdateStatus(ctx context.Context, id string, expected appointment.Status, upd appointment.StatusUpdate) (*appointment.Appointment, error) {
	query := `UPDATE appointments
               SET status = $3,
                   approver_id = COALESCE($4, approver_id),
                   rejection_reason = COALESCE($5, rejection_reason),
                   canceled_by = COALESCE($6, canceled_by),
                   invitations_sent_at = COALESCE($7, invitations_sent_at),
                   completed_at = COALESCE($8, completed_at),
                   updated_at = NOW()
               WHERE id = $1 AND status = $2
               RETURNING ` + appointmentColumns
	a, err := scanAppointment(r.db.QueryRowContext(ctx, query, id, expected, upd.Status,
		upd.ApproverID, upd.RejectionReason, upd.CanceledBy, upd.InvitationsSentAt, upd.CompletedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.mismatchOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("error updating appointment status: %w", err)
	}
	return a, nil
}

func (r *PostgresAppointmentRepository) UpdateDetails(ctx context.Context, id string, expected appointment.Status, title, description, location string) (*appointment.Appointment, error) {
	query := `UPDATE appointments
               SET title = $3, description = $4, location = $5, updated_at = NOW()
               WHERE id = $1 AND status = $2
               RETURNING ` + appointmentColumns
	a, err := scanAppointment(r.db.QueryRowContext(ctx, query, id, expected, title, description, location))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.mismatchOrMissing(ctx, id)
		}
		return nil, fmt.Errorf("error updating appointment details: %w", err)
	}
	return a, nil
}

func (r *PostgresAppointmentRepository) Reschedule(ctx context.Context, id string, expected, closed appointment.Status, next *appointment.Appointment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for reschedule: %w", err)
	}
	defer tx.Rollback()

	if err := lockResponsible(ctx, tx, next.ResponsibleID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE appointments SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2`, id, expected, closed)
	if err != nil {
		return fmt.Errorf("error closing rescheduled appointment: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("error reading reschedule result: %w", err)
	} else if n == 0 {
		return r.mismatchOrMissing(ctx, id)
	}
	ids, err := overlappingIDs(ctx, tx, next.ResponsibleID, next.Range(), id)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return &appointment.ConflictError{ConflictingIDs: ids, Reason: "time range overlaps existing appointment"}
	}
	if err := insertAppointment(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresAppointmentRepository) UpdateRejectionCount(ctx context.Context, id string, count int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE appointments SET rejection_count = $2, updated_at = NOW() WHERE id = $1`, id, count)
	if err != nil {
		return fmt.Errorf("error updating rejection count: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appointment.ErrNotFound
	}
	return nil
}

func (r *PostgresAppointmentRepository) ListOverlapping(ctx context.Context, responsibleID string, rg appointment.Range, excludeID string) ([]*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
               WHERE responsible_id = $1
                 AND status = ANY($2::varchar[])
                 AND start_time < $3 AND end_time > $4
                 AND id <> $5
               ORDER BY start_time, id`
	rows, err := r.db.QueryContext(ctx, query, responsibleID, statusArray(appointment.BlockingStatuses()), rg.End, rg.Start, excludeID)
	if err != nil {
		return nil, fmt.Errorf("error querying overlapping appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *PostgresAppointmentRepository) List(ctx context.Context, f appointment.Filter) ([]*appointment.Appointment, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d::varchar[])", statusArray(f.Statuses))
	}
	if f.ResponsibleID != "" {
		add("responsible_id = $%d", f.ResponsibleID)
	}
	if !f.StartFrom.IsZero() {
		add("start_time >= $%d", f.StartFrom)
	}
	if !f.StartTo.IsZero() {
		add("start_time < $%d", f.StartTo)
	}
	if !f.EndBefore.IsZero() {
		add("end_time < $%d", f.EndBefore)
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_time, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *PostgresAppointmentRepository) ListRejectionAlertsDue(ctx context.Context, threshold int) ([]*appointment.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
               WHERE rejection_count >= $1
                 AND admin_rejection_notified = FALSE
                 AND status <> ALL($2::varchar[])
               ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, threshold, statusArray(terminalStatuses()))
	if err != nil {
		return nil, fmt.Errorf("error listing rejection alerts: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

func (r *PostgresAppointmentRepository) MarkRejectionAlertSent(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE appointments SET admin_rejection_notified = TRUE, updated_at = NOW()
               WHERE id = $1 AND admin_rejection_notified = FALSE`, id)
	if err != nil {
		return false, fmt.Errorf("error flagging rejection alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error reading rejection alert result: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresAppointmentRepository) AddParticipants(ctx context.Context, appointmentID string, ps []*appointment.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for participants: %w", err)
	}
	defer tx.Rollback()
	if err := insertParticipants(ctx, tx, ps); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresAppointmentRepository) ListParticipants(ctx context.Context, appointmentID string) ([]*appointment.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM appointment_participants WHERE appointment_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("error listing participants: %w", err)
	}
	defer rows.Close()

	out := make([]*appointment.Participant, 0)
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return out, nil
}

func (r *PostgresAppointmentRepository) GetParticipant(ctx context.Context, id string) (*appointment.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM appointment_participants WHERE id = $1`
	p, err := scanParticipant(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appointment.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("error getting participant: %w", err)
	}
	return p, nil
}

func (r *PostgresAppointmentRepository) RecordResponse(ctx context.Context, p *appointment.Participant) error {
	query := `UPDATE appointment_participants ap
               SET response = $2, reason = $3, responded_at = $4
               FROM appointments a
               WHERE ap.id = $1 AND a.id = ap.appointment_id AND a.status <> ALL($5::varchar[])`
	res, err := r.db.ExecContext(ctx, query, p.ID, p.Response, p.Reason, p.RespondedAt, statusArray(terminalStatuses()))
	if err != nil {
		return fmt.Errorf("error recording participant response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading response result: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetParticipant(ctx, p.ID); err != nil {
		return err
	}
	return appointment.ErrStatusMismatch
}
