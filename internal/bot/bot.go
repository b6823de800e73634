// Package bot is the Telegram front end: address checks for everyone and
// blacklist maintenance for configured operators.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/config"
	"github.com/liamashdown/amlwatch/internal/engine"
	"github.com/liamashdown/amlwatch/internal/report"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const helpText = `👋 Send an EVM address (0x…) or use:
/check <address> - risk report
/blacklist_add <address> <reason> - list an address (operators)
/blacklist_remove <address> - delist an address (operators)`

// Service is the subset of the engine the bot drives.
type Service interface {
	Analyze(ctx context.Context, address string, opts engine.Options) (*aml.AnalysisReport, error)
	BlacklistAdd(ctx context.Context, address, reason, actor string) error
	BlacklistRemove(ctx context.Context, address, actor string) error
}

// Messenger sends and edits chat messages.
type Messenger interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot handles Telegram updates
type Bot struct {
	api        Messenger
	updates    func() tgbotapi.UpdatesChannel
	stop       func()
	svc        Service
	admins     map[int64]bool
	limiter    *rate.Limiter
	workerPool chan struct{}
	timeout    time.Duration
	log        *logrus.Logger
	now        func() time.Time
}

// New connects to Telegram with the configured token
func New(cfg *config.Config, svc Service, log *logrus.Logger) (*Bot, error) {
	if cfg.TelegramToken == "" {
		return nil, errors.New("telegram token is required")
	}
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	api.Debug = cfg.TelegramDebug

	log.WithField("username", api.Self.UserName).Info("Telegram bot authorized")

	b := NewWithAPI(api, svc, cfg.TelegramAdminIDs, cfg.AnalysisTimeout, log)
	b.updates = func() tgbotapi.UpdatesChannel {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		return api.GetUpdatesChan(u)
	}
	b.stop = api.StopReceivingUpdates
	return b, nil
}

// NewWithAPI builds a bot over an existing messenger
func NewWithAPI(api Messenger, svc Service, adminIDs []int64, timeout time.Duration, log *logrus.Logger) *Bot {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}

	const workers = 8
	workerPool := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		workerPool <- struct{}{}
	}

	if timeout <= 0 {
		timeout = time.Minute
	}

	return &Bot{
		api:        api,
		svc:        svc,
		admins:     admins,
		limiter:    rate.NewLimiter(rate.Limit(20), 30), // Telegram allows ~30 msg/s per bot
		workerPool: workerPool,
		timeout:    timeout,
		log:        log,
		now:        time.Now,
	}
}

// Run polls for updates until ctx is cancelled
func (b *Bot) Run(ctx context.Context) error {
	if b.updates == nil {
		return errors.New("bot has no update source")
	}
	updates := b.updates()
	b.log.Info("Telegram bot polling for updates")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			if b.stop != nil {
				b.stop()
			}
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}

			// Acquire worker
			select {
			case <-b.workerPool:
			case <-ctx.Done():
				continue
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				defer func() { b.workerPool <- struct{}{} }()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}

// HandleUpdate processes one incoming message
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	log := b.log.WithFields(logrus.Fields{
		"chat_id": msg.Chat.ID,
		"user_id": userID,
	})

	if !msg.IsCommand() {
		text := strings.TrimSpace(msg.Text)
		if strings.HasPrefix(strings.ToLower(text), "0x") {
			b.check(ctx, msg.Chat.ID, text, log)
			return
		}
		b.reply(ctx, msg.Chat.ID, helpText)
		return
	}

	args := strings.Fields(msg.CommandArguments())
	switch msg.Command() {
	case "start", "help":
		b.reply(ctx, msg.Chat.ID, helpText)
	case "check":
		if len(args) != 1 {
			b.reply(ctx, msg.Chat.ID, "Usage: /check <address>")
			return
		}
		b.check(ctx, msg.Chat.ID, args[0], log)
	case "blacklist_add":
		if !b.admins[userID] {
			b.reply(ctx, msg.Chat.ID, "⛔ Not allowed")
			return
		}
		if len(args) < 2 {
			b.reply(ctx, msg.Chat.ID, "Usage: /blacklist_add <address> <reason>")
			return
		}
		err := b.svc.BlacklistAdd(ctx, args[0], strings.Join(args[1:], " "), actor(msg.From))
		b.replyMutation(ctx, msg.Chat.ID, err, "✅ Added to blacklist", log)
	case "blacklist_remove":
		if !b.admins[userID] {
			b.reply(ctx, msg.Chat.ID, "⛔ Not allowed")
			return
		}
		if len(args) != 1 {
			b.reply(ctx, msg.Chat.ID, "Usage: /blacklist_remove <address>")
			return
		}
		err := b.svc.BlacklistRemove(ctx, args[0], actor(msg.From))
		b.replyMutation(ctx, msg.Chat.ID, err, "✅ Removed from blacklist", log)
	default:
		b.reply(ctx, msg.Chat.ID, helpText)
	}
}

func (b *Bot) check(ctx context.Context, chatID int64, address string, log *logrus.Entry) {
	if _, err := aml.ParseAddress(address); err != nil {
		b.reply(ctx, chatID, "❌ Invalid address format")
		return
	}

	progress, err := b.send(ctx, tgbotapi.NewMessage(chatID, "🔍 Analyzing transaction graph..."))
	if err != nil {
		log.WithError(err).Warn("Failed to send progress message")
	}

	actx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var text string
	r, err := b.svc.Analyze(actx, address, engine.Options{})
	if err != nil {
		log.WithError(err).WithField("address", address).Warn("Analysis failed")
		text = errorText(err)
	} else {
		text = report.Render(r, b.now())
	}

	if progress.MessageID != 0 {
		if _, err := b.send(ctx, tgbotapi.NewEditMessageText(chatID, progress.MessageID, text)); err == nil {
			return
		}
	}
	b.reply(ctx, chatID, text)
}

func (b *Bot) replyMutation(ctx context.Context, chatID int64, err error, ok string, log *logrus.Entry) {
	if err != nil {
		log.WithError(err).Warn("Blacklist change failed")
		b.reply(ctx, chatID, errorText(err))
		return
	}
	b.reply(ctx, chatID, ok)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.send(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.WithError(err).WithField("chat_id", chatID).Error("Failed to send telegram message")
	}
}

// send waits for outbound capacity before calling the API.
func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return tgbotapi.Message{}, err
	}
	return b.api.Send(c)
}

func errorText(err error) string {
	switch {
	case errors.Is(err, aml.ErrInvalidAddress):
		return "❌ Invalid address format"
	case errors.Is(err, aml.ErrTimeout):
		return "⏱ Analysis timed out, try again later"
	case errors.Is(err, aml.ErrGatewayUnavailable):
		return "⚠️ Ledger service unavailable, try again later"
	case errors.Is(err, aml.ErrBlacklistWriteConflict):
		return "⚠️ Concurrent blacklist update, try again"
	default:
		return "⚠️ Request failed"
	}
}

func actor(u *tgbotapi.User) string {
	if u == nil {
		return "telegram"
	}
	if u.UserName != "" {
		return "telegram:" + u.UserName
	}
	return "telegram:" + strconv.FormatInt(u.ID, 10)
}
