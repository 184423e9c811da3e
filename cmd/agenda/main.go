package main

import (
	"context"
	"database/sql"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"legal_agenda/internal/app"
	"legal_agenda/internal/domain/appointment"
	"legal_agenda/internal/domain/notification"
	"legal_agenda/internal/domain/user"
	"legal_agenda/internal/infra/clock"
	"legal_agenda/internal/infra/config"
	idb "legal_agenda/internal/infra/database"
	"legal_agenda/internal/infra/logger"
	"legal_agenda/internal/infra/memstore"
	"legal_agenda/internal/infra/scheduler"
	"legal_agenda/internal/infra/telegram"
	"legal_agenda/internal/infra/transport"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

type stores struct {
	appointments  appointment.Repository
	notifications notification.Repository
	users         user.Repository
	db            *sql.DB
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Log.WithField("component", "main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"store":       cfg.StoreDriver,
		"timezone":    cfg.Timezone,
		"sweep":       cfg.SweepInterval.String(),
	}).Info("Legal agenda starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewReal(cfg.Location)
	st, err := openStores(ctx, cfg, clk, mainLogger)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize storage")
	}
	if st.db != nil {
		defer st.db.Close()
	}

	base := logrus.NewEntry(logger.Log)

	if err := bootstrapAdmin(ctx, cfg, st.users, clk); err != nil {
		mainLogger.WithError(err).Fatal("Could not bootstrap admin user")
	}

	// Initialize Telegram Bot (optional)
	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		bot, err = telebot.NewBot(telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := mainLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"message": c.Text(), "sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler error")
			},
		})
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
	}

	router := buildTransport(cfg, bot, base)
	channels := router.Channels()
	if len(channels) == 0 {
		mainLogger.Fatal("No notification channel has a transport; configure SMTP or TELEGRAM_TOKEN")
	}
	mainLogger.WithField("channels", channels).Info("Transport initialized.")

	dispatcher := app.NewDispatcher(st.appointments, st.notifications, st.users, router, clk, app.DispatcherOptions{
		MaxAttempts:  cfg.Notify.MaxAttempts,
		RetryBackoff: cfg.Notify.RetryBackoff,
		ClaimLease:   cfg.Notify.ClaimLease,
		SendTimeout:  cfg.Notify.TransportTimeout,
		Location:     cfg.Location,
		Channels:     channels,
	}, base)

	policy := schedulingPolicy(cfg)
	appointments := app.NewAppointmentService(st.appointments, app.NewConflictDetector(st.appointments), policy, dispatcher, clk, base)
	invitations := app.NewInvitationService(st.appointments, appointments, dispatcher, invitationRule(cfg), clk, base)
	reminders := app.NewReminderService(st.appointments, appointments, dispatcher, reminderBand(cfg),
		cfg.Policy.Invitation.RejectionThreshold, cfg.Location, clk, base)
	admin := app.NewAdminService(st.users, st.appointments, st.notifications, reminders, clk)
	mainLogger.Info("Services initialized.")

	sweeps := scheduler.NewSweepScheduler(reminders, cfg.SweepInterval, cfg.Location, base)
	if err := sweeps.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start sweep scheduler")
	}

	if bot != nil {
		svc := telegram.Services{
			Appointments: appointments,
			Invitations:  invitations,
			Admin:        admin,
			Users:        st.users,
			Location:     cfg.Location,
		}
		tgLogger := base.WithField("component", "telegram")
		telegram.RegisterBotCommands(ctx, bot, st.users, tgLogger)
		telegram.RegisterAdminHandlers(ctx, bot, svc, tgLogger)
		telegram.RegisterAppointmentHandlers(ctx, bot, svc, tgLogger)
		telegram.RegisterInvitationResponseHandlers(ctx, bot, svc, tgLogger)
		mainLogger.Info("Telegram handlers registered.")

		// Start bot in a goroutine so it doesn't block graceful shutdown handling
		go bot.Start()
	} else {
		mainLogger.Warn("TELEGRAM_TOKEN not set, bot commands and in-app delivery are disabled")
	}

	mainLogger.Info("Application setup complete.")
	<-ctx.Done() // Block until a signal is received

	mainLogger.Info("Shutting down application...")
	if bot != nil {
		bot.Stop()
	}
	sweeps.Stop()
	mainLogger.Info("Application shut down gracefully.")
}

func openStores(ctx context.Context, cfg *config.AppConfig, clk clock.Clock, log *logrus.Entry) (*stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("Using in-memory store; data is lost on restart")
		return &stores{
			appointments:  memstore.NewAppointmentRepository(clk),
			notifications: memstore.NewNotificationRepository(),
			users:         memstore.NewUserRepository(),
		}, nil
	}

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("Database connection established successfully.")
	if cfg.AutoMigrate {
		if err := idb.ApplySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("Database schema applied.")
	}
	return &stores{
		appointments:  idb.NewPostgresAppointmentRepository(db),
		notifications: idb.NewPostgresNotificationRepository(db),
		users:         idb.NewPostgresUserRepository(db),
		db:            db,
	}, nil
}

// buildTransport registers SMTP for email and the bot for in-app delivery.
// Channels without a transport fall back to the log sink outside production.
func buildTransport(cfg *config.AppConfig, bot *telebot.Bot, base *logrus.Entry) *transport.Router {
	router := transport.NewRouter()
	sink := transport.NewLogSink(base)
	production := cfg.Environment == "production"

	switch {
	case cfg.SMTP.Enabled():
		smtp, err := transport.NewSMTPSender(transport.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			base.WithError(err).Fatal("Could not configure SMTP transport")
		}
		router.Register(notification.ChannelEmail, transport.NewRateLimited(smtp, cfg.Notify.RatePerSecond, cfg.Notify.Burst))
	case !production:
		router.Register(notification.ChannelEmail, sink)
	}

	switch {
	case bot != nil:
		tg := transport.NewTelegramSender(telegram.NewTelebotAdapter(bot))
		router.Register(notification.ChannelInApp, transport.NewRateLimited(tg, cfg.Notify.RatePerSecond, cfg.Notify.Burst))
	case !production:
		router.Register(notification.ChannelInApp, sink)
	}
	return router
}

func bootstrapAdmin(ctx context.Context, cfg *config.AppConfig, users user.Repository, clk clock.Clock) error {
	if cfg.AdminTelegramID == 0 {
		return nil
	}
	_, err := users.GetByTelegramID(ctx, cfg.AdminTelegramID)
	if err == nil || !errors.Is(err, user.ErrUserNotFound) {
		return err
	}
	now := clk.Now()
	err = users.Create(ctx, &user.User{
		ID:         uuid.NewString(),
		Name:       cfg.AdminName,
		Email:      cfg.AdminEmail,
		TelegramID: cfg.AdminTelegramID,
		Role:       user.RoleAdmin,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, user.ErrDuplicateTelegramID) {
		return nil
	}
	return err
}

func schedulingPolicy(cfg *config.AppConfig) app.SchedulingPolicy {
	blocked := make(map[appointment.Type]bool, len(cfg.Policy.WeekendBlockedTypes))
	for _, t := range cfg.Policy.WeekendBlockedTypes {
		blocked[appointment.Type(t)] = true
	}
	return app.SchedulingPolicy{
		BusinessStartHour: cfg.Policy.BusinessHours.Start,
		BusinessEndHour:   cfg.Policy.BusinessHours.End,
		WeekendBlocked:    blocked,
		Location:          cfg.Location,
	}
}

func invitationRule(cfg *config.AppConfig) app.InvitationRule {
	inv := cfg.Policy.Invitation
	return app.InvitationRule{
		Window:             inv.Window,
		Approval:           app.ApprovalMode(inv.Approval),
		Quorum:             inv.Quorum,
		RejectionThreshold: inv.RejectionThreshold,
		OnRejection:        app.RejectionMode(inv.OnRejection),
	}
}

func reminderBand(cfg *config.AppConfig) appointment.ReminderBand {
	return appointment.ReminderBand{
		Min: cfg.Policy.Reminders.HourlyBandMin,
		Max: cfg.Policy.Reminders.HourlyBandMax,
	}
}
