// Package notify tells the practice's admins about new appointment requests.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"clinica/internal/config"
	"clinica/internal/database"
	"clinica/internal/domain"
	"clinica/internal/events"
	"clinica/internal/logging"
	"clinica/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AppointmentReader loads the appointment an event refers to.
type AppointmentReader interface {
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

type Bus interface {
	Subscribe(handler events.EventHandler, eventTypes ...string) func()
}

// NewTelegramSender connects to the Bot API with the configured token.
func NewTelegramSender(cfg config.TelegramConfig) (domain.TelegramSender, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram bot token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// TelegramNotifier messages every admin chat when a client requests an
// appointment. Delivery is best effort.
type TelegramNotifier struct {
	sender  domain.TelegramSender
	store   AppointmentReader
	chats   []int64
	queue   chan string
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewTelegramNotifier(sender domain.TelegramSender, store AppointmentReader, chats []int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender: sender,
		store:  store,
		chats:  chats,
		queue:  make(chan string, models.NotifyQueueSize),
		// Telegram allows about 30 messages per second per bot.
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		logger:  logging.Component(logger, "telegram"),
	}
}

// Subscribe listens for new appointments raised in this process.
func (n *TelegramNotifier) Subscribe(bus Bus) func() {
	return bus.Subscribe(n.onCreated, events.EventAppointmentCreated)
}

func (n *TelegramNotifier) onCreated(event *events.Event) error {
	if !event.Local() {
		return nil
	}
	change, err := events.DecodeAppointmentChange(event)
	if err != nil {
		return err
	}
	select {
	case n.queue <- change.ID:
	default:
		n.logger.Warn().Str("appointment_id", change.ID).Msg("notification queue full, dropping")
	}
	return nil
}

// Start delivers queued notifications until ctx is done.
func (n *TelegramNotifier) Start(ctx context.Context) {
	if len(n.chats) == 0 {
		n.logger.Info().Msg("no admin chats configured, notifications disabled")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-n.queue:
			n.notify(ctx, id)
		}
	}
}

func (n *TelegramNotifier) notify(ctx context.Context, id string) {
	appt, err := n.store.GetAppointment(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		// Removed before anyone was told about it.
		return
	}
	if err != nil {
		n.logger.Error().Err(err).Str("appointment_id", id).Msg("load appointment for notification")
		return
	}

	text := FormatNewAppointment(appt)
	for _, chatID := range n.chats {
		if err := n.limiter.Wait(ctx); err != nil {
			return
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("appointment_id", id).Msg("send notification")
		}
	}
}

// FormatNewAppointment renders the admin message for a pending request.
func FormatNewAppointment(appt *models.Appointment) string {
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s) }

	var b strings.Builder
	b.WriteString("🦷 *Nueva solicitud de cita*\n\n")
	fmt.Fprintf(&b, "👤 %s\n", esc(appt.OwnerEmail))
	fmt.Fprintf(&b, "💼 %s\n", esc(appt.ServiceName))
	fmt.Fprintf(&b, "📅 %s a las %s\n", esc(appt.Date), esc(appt.Time))
	fmt.Fprintf(&b, "\nID: `%s`", appt.ID)
	return b.String()
}
