package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/notification"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

var errBadSlot = errors.New("invalid slot")

// parseSlot reads "<AAAA-MM-DD> <HH:MM> <minutos>" from args in loc.
func parseSlot(args []string, loc *time.Location) (time.Time, time.Time, error) {
	if len(args) < 3 {
		return time.Time{}, time.Time{}, errBadSlot
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", args[0]+" "+args[1], loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", errBadSlot, err)
	}
	minutes, err := strconv.Atoi(args[2])
	if err != nil || minutes <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: duration must be a positive number of minutes", errBadSlot)
	}
	return start, start.Add(time.Duration(minutes) * time.Minute), nil
}

var categoryNames = map[string]notification.Category{
	"agendamentos": notification.CategoryAppointments,
	"processos":    notification.CategoryCaseUpdates,
	"sistema":      notification.CategorySystem,
}

var channelNames = map[string]notification.Channel{
	"email":    notification.ChannelEmail,
	"telegram": notification.ChannelInApp,
}

// parsePreference reads "<categoria> <canal> <on|off>".
func parsePreference(args []string) (notification.Category, notification.Channel, bool, error) {
	if len(args) != 3 {
		return "", "", false, errors.New("expected three arguments")
	}
	cat, ok := categoryNames[strings.ToLower(args[0])]
	if !ok {
		return "", "", false, fmt.Errorf("unknown category %q", args[0])
	}
	ch, ok := channelNames[strings.ToLower(args[1])]
	if !ok {
		return "", "", false, fmt.Errorf("unknown channel %q", args[1])
	}
	switch strings.ToLower(args[2]) {
	case "on", "sim":
		return cat, ch, true, nil
	case "off", "nao", "não":
		return cat, ch, false, nil
	}
	return "", "", false, fmt.Errorf("unknown switch %q", args[2])
}

// RegisterAppointmentHandlers registers lookup, reschedule, edit and
// preference commands.
func RegisterAppointmentHandlers(ctx context.Context, b *telebot.Bot, svc Services, baseLogger *logrus.Entry) {
	loc := svc.Location
	if loc == nil {
		loc = time.UTC
	}

	b.Handle("/agendamento", withActor(ctx, svc.Users, "/agendamento", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Formato inválido. Use: /agendamento <id>")
		}
		a, err := svc.Appointments.Get(ctx, args[0])
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Get appointment")
		}
		var response strings.Builder
		fmt.Fprintf(&response, "%s\n%s - %s\nStatus: %s\n",
			a.Title, a.StartTime.In(loc).Format("02/01/2006 15:04"), a.EndTime.In(loc).Format("15:04"), a.Status)
		if a.Location != "" {
			fmt.Fprintf(&response, "Local: %s\n", a.Location)
		}
		if a.RejectionReason != nil {
			fmt.Fprintf(&response, "Motivo da recusa: %s\n", *a.RejectionReason)
		}
		if a.RejectionCount > 0 {
			fmt.Fprintf(&response, "Convites recusados: %d\n", a.RejectionCount)
		}
		return c.Send(response.String())
	}))

	b.Handle("/reagendar", withActor(ctx, svc.Users, "/reagendar", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		if len(args) != 4 {
			return c.Send("Formato inválido. Use: /reagendar <id> <AAAA-MM-DD> <HH:MM> <minutos>")
		}
		start, end, err := parseSlot(args[1:], loc)
		if err != nil {
			return c.Send("Erro: data, hora ou duração inválida.")
		}
		next, err := svc.Appointments.Reschedule(ctx, actor, args[0], start, end)
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Reschedule")
		}
		log.WithFields(logrus.Fields{"appointment_id": args[0], "new_appointment_id": next.ID}).Info("Appointment rescheduled")
		return c.Send(fmt.Sprintf("Nova solicitação registrada (%s). Aguardando aprovação.", next.ID))
	}))

	b.Handle("/editar", withActor(ctx, svc.Users, "/editar", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		args := c.Args()
		// Expected format: /editar <id> <título...> [| local]
		if len(args) < 2 {
			return c.Send("Formato inválido. Use: /editar <id> <título> [| local]")
		}
		current, err := svc.Appointments.Get(ctx, args[0])
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Edit appointment")
		}
		title, place, hasPlace := strings.Cut(strings.Join(args[1:], " "), "|")
		if !hasPlace {
			place = current.Location
		}
		a, err := svc.Appointments.UpdateDetails(ctx, actor, args[0], app.DetailsInput{
			Title:       strings.TrimSpace(title),
			Description: current.Description,
			Location:    strings.TrimSpace(place),
		})
		if err != nil {
			return fail(c, log.WithField("appointment_id", args[0]), err, "Edit appointment")
		}
		return c.Send(fmt.Sprintf("Agendamento \"%s\" atualizado.", a.Title))
	}))

	b.Handle("/preferencia", withActor(ctx, svc.Users, "/preferencia", baseLogger, func(c telebot.Context, actor app.Actor, log *logrus.Entry) error {
		cat, ch, on, err := parsePreference(c.Args())
		if err != nil {
			log.WithError(err).Debug("Bad preference arguments")
			return c.Send("Formato inválido. Use: /preferencia <agendamentos|processos|sistema> <email|telegram> <on|off>")
		}
		if _, err := svc.Admin.SetPreference(ctx, actor, actor.UserID, cat, ch, on); err != nil {
			return fail(c, log, err, "Set preference")
		}
		state := "desativadas"
		if on {
			state = "ativadas"
		}
		return c.Send(fmt.Sprintf("Notificações de %s por %s %s.", c.Args()[0], c.Args()[1], state))
	}))
}
