package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/domain/user"
	"legal_agenda/internal/infra/clock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Skip reasons reported by Dispatch when nothing was sent.
const (
	SkipAlreadySent  = "already-sent"
	SkipGaveUp       = "gave-up"
	SkipInFlight     = "in-flight"
	SkipSuppressed   = "suppressed"
	SkipNoRecipients = "no-recipients"
)

// DispatcherOptions tunes retries and timeouts.
type DispatcherOptions struct {
	MaxAttempts  int           // delivery rounds before giving up
	RetryBackoff time.Duration // pause between rounds, doubled each time
	ClaimLease   time.Duration // a pending entry older than this may be reclaimed
	SendTimeout  time.Duration // bound on a single transport call
	Location     *time.Location
	// Channels that have a transport. Deliveries on other channels are
	// dropped as if the recipient had them disabled. Nil means every channel.
	Channels []notification.Channel
}

func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		MaxAttempts:  3,
		RetryBackoff: 2 * time.Second,
		ClaimLease:   5 * time.Minute,
		SendTimeout:  10 * time.Second,
	}
}

// DispatchResult is the outcome of one Dispatch call.
type DispatchResult struct {
	Sent          bool
	SkippedReason string
	Status        notification.DeliveryStatus
}

// Dispatcher sends each (appointment, type, meta key) notification at most
// once, through every channel the recipients opted in to.
type Dispatcher struct {
	appts  appointment.Repository
	notifs notification.Repository
	users  user.Repository
	sender notification.Sender
	clock  clock.Clock
	opts   DispatcherOptions
	logger *logrus.Entry
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	ar appointment.Repository,
	nr notification.Repository,
	ur user.Repository,
	sender notification.Sender,
	c clock.Clock,
	opts DispatcherOptions,
	logger *logrus.Entry,
) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	return &Dispatcher{
		appts:  ar,
		notifs: nr,
		users:  ur,
		sender: sender,
		clock:  c,
		opts:   opts,
		logger: logger.WithField("component", "dispatcher"),
		sleep:  sleepCtx,
	}
}

// now is the claim clock, truncated to the store's timestamp precision so a
// claim read back compares equal to the one written.
func (d *Dispatcher) now() time.Time {
	return d.clock.Now().Truncate(time.Microsecond)
}

func (d *Dispatcher) channelAvailable(ch notification.Channel) bool {
	if d.opts.Channels == nil {
		return true
	}
	for _, c := range d.opts.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InvitationKey is the meta key of the invitation sent to participantID at sentAt.
func InvitationKey(participantID string, sentAt time.Time) string {
	return participantID + "@" + strconv.FormatInt(sentAt.Unix(), 10)
}

func participantFromKey(metaKey string) string {
	id, _, _ := strings.Cut(metaKey, "@")
	return id
}

// Dispatch sends notification t for appointmentID unless the log already
// holds an entry for (appointmentID, t, metaKey). Delivery failures are
// recorded in the log and reported through the result, never as an error;
// the error return is reserved for store failures.
func (d *Dispatcher) Dispatch(ctx context.Context, appointmentID string, t notification.Type, metaKey string) (DispatchResult, error) {
	if !t.Valid() {
		return DispatchResult{}, fmt.Errorf("unknown notification type %q", t)
	}
	log := d.logger.WithFields(logrus.Fields{
		"appointment_id": appointmentID,
		"type":           t,
		"meta_key":       metaKey,
	})

	now := d.now()
	entry, inserted, err := d.notifs.InsertLogIfAbsent(ctx, &notification.LogEntry{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		Type:          t,
		MetaKey:       metaKey,
		Status:        notification.DeliveryPending,
		ClaimedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to claim notification log entry: %w", err)
	}

	if !inserted {
		switch entry.Status {
		case notification.DeliverySent:
			log.Debug("Notification already sent, skipping")
			return DispatchResult{SkippedReason: SkipAlreadySent, Status: entry.Status}, nil
		case notification.DeliveryError:
			return DispatchResult{SkippedReason: SkipGaveUp, Status: entry.Status}, nil
		case notification.DeliverySuppressed:
			return DispatchResult{SkippedReason: SkipSuppressed, Status: entry.Status}, nil
		}
		// pending: either in flight elsewhere or abandoned by a crashed worker
		if entry.ClaimedAt.After(now.Add(-d.opts.ClaimLease)) {
			log.Debug("Notification claimed by another worker, skipping")
			return DispatchResult{SkippedReason: SkipInFlight, Status: entry.Status}, nil
		}
		ok, err := d.notifs.ReclaimLog(ctx, entry.ID, now.Add(-d.opts.ClaimLease), now)
		if err != nil {
			return DispatchResult{}, fmt.Errorf("failed to reclaim notification log entry: %w", err)
		}
		if !ok {
			return DispatchResult{SkippedReason: SkipInFlight, Status: entry.Status}, nil
		}
		entry.ClaimedAt = now
		log.WithField("attempts", entry.Attempts).Info("Reclaimed stale pending notification")
	}

	return d.deliver(ctx, entry, log)
}

type delivery struct {
	to            notification.Recipient
	channel       notification.Channel
	participantID string
}

func (dl delivery) key() string {
	who := dl.to.UserID
	if who == "" {
		who = dl.to.Email
	}
	return who + "/" + string(dl.channel)
}

func (d *Dispatcher) deliver(ctx context.Context, entry *notification.LogEntry, log *logrus.Entry) (DispatchResult, error) {
	held := entry.ClaimedAt
	var outstanding []delivery
	var failures []string
	resolved := false
	backoff := d.opts.RetryBackoff

	for entry.Attempts < d.opts.MaxAttempts {
		if !resolved {
			a, res, done, err := d.checkpoint(ctx, entry, &held, log)
			if done {
				return res, err
			}
			outstanding, err = d.resolve(ctx, a, entry.Type, entry.MetaKey)
			if err != nil {
				return DispatchResult{}, fmt.Errorf("failed to resolve recipients: %w", err)
			}
			resolved = true
			if len(outstanding) == 0 {
				log.Info("No recipient has an enabled channel for this notification")
				return d.finish(ctx, entry, held, notification.DeliverySuppressed, "no recipients with an enabled channel", log)
			}
		}

		entry.Attempts++
		var retry []delivery
		for _, dl := range outstanding {
			// Each send is preceded by a status re-read and a claim renewal, so
			// a cancel or a takeover stops the rest of the round.
			a, res, done, err := d.checkpoint(ctx, entry, &held, log)
			if done {
				return res, err
			}
			err = d.send(ctx, a, entry.Type, dl)
			if err == nil {
				entry.Recipients++
				continue
			}
			dlog := log.WithError(err).WithFields(logrus.Fields{"channel": dl.channel, "recipient": dl.key(), "attempt": entry.Attempts})
			var perm *notification.PermanentDeliveryError
			if errors.As(err, &perm) {
				dlog.Warn("Permanent delivery failure")
				failures = append(failures, err.Error())
				continue
			}
			dlog.Warn("Transient delivery failure")
			retry = append(retry, dl)
			entry.LastError = err.Error()
		}
		outstanding = retry

		if len(outstanding) == 0 {
			if len(failures) == 0 {
				return d.finish(ctx, entry, held, notification.DeliverySent, "", log)
			}
			return d.finish(ctx, entry, held, notification.DeliveryError, strings.Join(failures, "; "), log)
		}
		if entry.Attempts >= d.opts.MaxAttempts {
			break
		}

		entry.UpdatedAt = d.now()
		entry.ClaimedAt = entry.UpdatedAt
		if err := d.notifs.UpdateLog(ctx, entry, held); err != nil {
			if errors.Is(err, notification.ErrClaimLost) {
				return d.claimLost(log), nil
			}
			return DispatchResult{}, fmt.Errorf("failed to record delivery attempt: %w", err)
		}
		held = entry.ClaimedAt
		if err := d.sleep(ctx, backoff); err != nil {
			return DispatchResult{}, err
		}
		backoff *= 2
	}

	// Retry bound exhausted: whatever is still outstanding failed for good.
	for _, dl := range outstanding {
		failures = append(failures, (&notification.PermanentDeliveryError{
			Channel: dl.channel,
			Err:     fmt.Errorf("%s: gave up after %d attempts: %s", dl.key(), entry.Attempts, entry.LastError),
		}).Error())
	}
	if len(failures) == 0 {
		failures = append(failures, "retry bound exhausted")
	}
	return d.finish(ctx, entry, held, notification.DeliveryError, strings.Join(failures, "; "), log)
}

// checkpoint re-reads the appointment and renews the claim. When done is
// true the dispatch must stop and return res, err.
func (d *Dispatcher) checkpoint(ctx context.Context, entry *notification.LogEntry, held *time.Time, log *logrus.Entry) (*appointment.Appointment, DispatchResult, bool, error) {
	a, err := d.appts.GetByID(ctx, entry.AppointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			res, err := d.finish(ctx, entry, *held, notification.DeliveryError, "appointment not found", log)
			return nil, res, true, err
		}
		return nil, DispatchResult{}, true, fmt.Errorf("failed to load appointment %s: %w", entry.AppointmentID, err)
	}
	status := a.EffectiveStatus(d.clock.Now())
	if !relevantFor(entry.Type, status) {
		log.WithField("status", status).Info("Appointment no longer in a state for this notification, suppressing")
		res, err := d.finish(ctx, entry, *held, notification.DeliverySuppressed, fmt.Sprintf("appointment is %s", status), log)
		return nil, res, true, err
	}

	renewed := d.now()
	if err := d.notifs.RenewClaim(ctx, entry.ID, *held, renewed); err != nil {
		if errors.Is(err, notification.ErrClaimLost) {
			return nil, d.claimLost(log), true, nil
		}
		return nil, DispatchResult{}, true, fmt.Errorf("failed to renew notification claim: %w", err)
	}
	*held = renewed
	entry.ClaimedAt = renewed
	return a, DispatchResult{}, false, nil
}

func (d *Dispatcher) claimLost(log *logrus.Entry) DispatchResult {
	log.Warn("Notification claim taken over by another worker, stopping")
	return DispatchResult{SkippedReason: SkipInFlight, Status: notification.DeliveryPending}
}

func (d *Dispatcher) finish(ctx context.Context, entry *notification.LogEntry, held time.Time, status notification.DeliveryStatus, detail string, log *logrus.Entry) (DispatchResult, error) {
	now := d.now()
	entry.Status = status
	entry.UpdatedAt = now
	if detail != "" {
		entry.LastError = detail
	}
	if status == notification.DeliverySent {
		entry.SentAt = &now
	}
	if err := d.notifs.UpdateLog(ctx, entry, held); err != nil {
		if errors.Is(err, notification.ErrClaimLost) {
			return d.claimLost(log), nil
		}
		return DispatchResult{}, fmt.Errorf("failed to finalize notification log entry: %w", err)
	}

	res := DispatchResult{Sent: status == notification.DeliverySent, Status: status}
	switch status {
	case notification.DeliverySent:
		log.WithFields(logrus.Fields{"recipients": entry.Recipients, "attempts": entry.Attempts}).Info("Notification sent")
	case notification.DeliveryError:
		log.WithFields(logrus.Fields{"attempts": entry.Attempts, "detail": entry.LastError}).Error("Notification delivery gave up")
	case notification.DeliverySuppressed:
		res.SkippedReason = SkipSuppressed
		if detail == "no recipients with an enabled channel" {
			res.SkippedReason = SkipNoRecipients
		}
	}
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, a *appointment.Appointment, t notification.Type, dl delivery) error {
	msg := renderMessage(t, a, dl.to, dl.participantID, d.opts.Location)
	sendCtx := ctx
	if d.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.opts.SendTimeout)
		defer cancel()
	}
	err := d.sender.Send(sendCtx, dl.to, dl.channel, msg)
	if err == nil {
		return nil
	}
	var perm *notification.PermanentDeliveryError
	if errors.As(err, &perm) {
		return err
	}
	// timeouts and everything unclassified count as transient
	return &notification.TransientDeliveryError{Channel: dl.channel, Err: err}
}

// relevantFor reports whether a notification of type t still makes sense for
// an appointment in status s.
func relevantFor(t notification.Type, s appointment.Status) bool {
	switch t {
	case notification.TypeApprovalRequest, notification.TypeInvitation:
		return s.IsRequested()
	case notification.TypeApproved, notification.TypeDailyReminder, notification.TypeHourlyReminder:
		return s.IsApproved()
	case notification.TypeRejected:
		return s.Canonical() == appointment.StatusRejected
	case notification.TypeAdminRejectionAlert:
		return s.Canonical() != appointment.StatusCanceled
	}
	return false
}

// resolve expands the recipients of t into (recipient, channel) deliveries.
func (d *Dispatcher) resolve(ctx context.Context, a *appointment.Appointment, t notification.Type, metaKey string) ([]delivery, error) {
	var userIDs []string
	var participants []*appointment.Participant

	switch t {
	case notification.TypeApprovalRequest, notification.TypeAdminRejectionAlert:
		perm := PermApprove
		if t == notification.TypeAdminRejectionAlert {
			perm = PermAdmin
		}
		us, err := d.users.ListActiveByRoles(ctx, rolesWith(perm)...)
		if err != nil {
			return nil, err
		}
		for _, u := range us {
			if t == notification.TypeApprovalRequest && u.ID == a.RequesterID {
				continue
			}
			userIDs = append(userIDs, u.ID)
		}
	case notification.TypeRejected:
		userIDs = []string{a.RequesterID}
	case notification.TypeApproved, notification.TypeDailyReminder, notification.TypeHourlyReminder:
		userIDs = []string{a.RequesterID}
		if t != notification.TypeApproved {
			userIDs = append(userIDs, a.ResponsibleID)
		}
		ps, err := d.appts.ListParticipants(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range ps {
			if t != notification.TypeApproved && p.Response == appointment.ResponseDeclined {
				continue
			}
			participants = append(participants, p)
		}
	case notification.TypeInvitation:
		p, err := d.appts.GetParticipant(ctx, participantFromKey(metaKey))
		if err != nil {
			if errors.Is(err, appointment.ErrParticipantNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if p.AppointmentID != a.ID {
			return nil, nil
		}
		participants = []*appointment.Participant{p}
	}

	cat := t.Category()
	seen := make(map[string]bool)
	var out []delivery

	addUser := func(userID, participantID string) error {
		if userID == "" || seen["u:"+userID] {
			return nil
		}
		seen["u:"+userID] = true
		u, err := d.users.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, user.ErrUserNotFound) {
				// responsible party may be a resource rather than a person
				return nil
			}
			return err
		}
		if !u.IsActive {
			return nil
		}
		seen["e:"+strings.ToLower(u.Email)] = true
		pref, err := d.notifs.GetPreferences(ctx, u.ID)
		if errors.Is(err, notification.ErrPreferenceNotFound) {
			pref, err = notification.DefaultPreference(u.ID), nil
		}
		if err != nil {
			return err
		}
		to := notification.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email, TelegramID: u.TelegramID}
		for _, ch := range pref.Channels(cat) {
			if !d.channelAvailable(ch) {
				continue
			}
			if ch == notification.ChannelEmail && u.Email == "" {
				continue
			}
			if ch == notification.ChannelInApp && u.TelegramID == 0 {
				continue
			}
			out = append(out, delivery{to: to, channel: ch, participantID: participantID})
		}
		return nil
	}

	for _, id := range userIDs {
		if err := addUser(id, ""); err != nil {
			return nil, err
		}
	}
	for _, p := range participants {
		if p.UserID != nil {
			if err := addUser(*p.UserID, p.ID); err != nil {
				return nil, err
			}
			continue
		}
		email := strings.ToLower(p.Email)
		if seen["e:"+email] || !d.channelAvailable(notification.ChannelEmail) {
			continue
		}
		seen["e:"+email] = true
		out = append(out, delivery{
			to:            notification.Recipient{Email: p.Email},
			channel:       notification.ChannelEmail,
			participantID: p.ID,
		})
	}
	return out, nil
}

// MarkSent records (appointmentID, t, metaKey) as sent without delivering it.
// It returns false when an entry already existed.
func (d *Dispatcher) MarkSent(ctx context.Context, appointmentID string, t notification.Type, metaKey, note string) (bool, error) {
	if note == "" {
		note = "marked as sent manually"
	}
	now := d.now()
	_, inserted, err := d.notifs.InsertLogIfAbsent(ctx, &notification.LogEntry{
		ID:            uuid.NewString(),
		AppointmentID: appointmentID,
		Type:          t,
		MetaKey:       metaKey,
		Status:        notification.DeliverySent,
		LastError:     note,
		ClaimedAt:     now,
		SentAt:        &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark notification as sent: %w", err)
	}
	return inserted, nil
}
