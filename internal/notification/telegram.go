package notification

import (
	"fmt"
	"html"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"regimeforge-bot/config"
)

type messageSender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// TelegramNotifier sends notifications to one Telegram chat
type TelegramNotifier struct {
	bot     messageSender
	chatID  int64
	enabled bool
}

// NewTelegramNotifier authenticates the bot token. A disabled or
// incomplete config yields a notifier that drops everything.
func NewTelegramNotifier(cfg config.TelegramConfig) (*TelegramNotifier, error) {
	t := &TelegramNotifier{chatID: cfg.ChatID}
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == 0 {
		return t, nil
	}
	bot, err := tgbot.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to connect telegram bot: %w", err)
	}
	t.bot = bot
	t.enabled = true
	return t, nil
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t != nil && t.enabled && t.bot != nil
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.IsEnabled() {
		return nil
	}
	msg := tgbot.NewMessage(t.chatID, FormatHTML(notification))
	msg.ParseMode = tgbot.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// FormatHTML renders a notification for Telegram's HTML parse mode
func FormatHTML(n *Notification) string {
	return fmt.Sprintf("<b>%s</b>\n\n%s\n<i>%s</i>",
		html.EscapeString(n.Title),
		html.EscapeString(n.Message),
		n.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
}
