// Package bot is the Telegram glue around the service engine: a long-poll
// update loop in, best-effort sends out. No lifecycle logic lives here.
package bot

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cityduty/dutybot/internal/service"
	"github.com/cityduty/dutybot/internal/store"
)

type Bot struct {
	api *tgbotapi.BotAPI
	svc *service.Service
}

type Config struct {
	Token    string
	DutyChat int64 // Telegram chat ID of the duty volunteer group
	Debug    bool
}

func New(cfg Config, st *store.Store) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = cfg.Debug

	log.Printf("Authorized on account %s", api.Self.UserName)

	return &Bot{
		api: api,
		svc: service.New(st, notifier{api: api}, cfg.DutyChat),
	}, nil
}

// Run consumes updates until the channel closes. Each update is handled in
// its own goroutine: per-user ordering is enforced by the session locks and
// per-request ordering by the store, so concurrent handling is safe.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		update := update
		go b.handleUpdate(ctx, update)
	}

	return nil
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)

	case update.Message != nil:
		msg := update.Message
		// Flows run in private chats only; group chatter is not input.
		if msg.From == nil || msg.Text == "" || !msg.Chat.IsPrivate() {
			return
		}
		if err := b.svc.HandleMessage(ctx, msg.From.ID, msg.Text); err != nil {
			log.Printf("Error handling message from %d: %v", msg.From.ID, err)
		}
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	res, err := b.svc.HandleCallback(ctx, cb.From.ID, cb.Data)
	if err != nil {
		log.Printf("Error handling callback %q from %d: %v", cb.Data, cb.From.ID, err)
		res.Ack = "Something went wrong, try again."
		res.Edit = ""
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, res.Ack)); err != nil {
		log.Printf("Error answering callback: %v", err)
	}

	// Replace the claim message so its buttons disappear once resolved.
	if res.Edit != "" && cb.Message != nil {
		edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, res.Edit)
		if _, err := b.api.Send(edit); err != nil {
			log.Printf("Error editing message: %v", err)
		}
	}
}

// notifier adapts the Telegram API to the service's outbound contract.
// Sends are best-effort: failures are logged and never propagated.
type notifier struct {
	api *tgbotapi.BotAPI
}

func (n notifier) Send(chatID int64, text string, markup service.Markup) {
	msg := tgbotapi.NewMessage(chatID, text)

	switch {
	case markup.Inline != nil:
		msg.ReplyMarkup = inlineKeyboard(markup.Inline)
	case markup.Menu != nil:
		msg.ReplyMarkup = menuKeyboard(markup.Menu)
	case markup.RemoveMenu:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}

	if _, err := n.api.Send(msg); err != nil {
		log.Printf("Error sending message to %d: %v", chatID, err)
	}
}

func inlineKeyboard(rows [][]service.InlineButton) tgbotapi.InlineKeyboardMarkup {
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		keyboard = append(keyboard, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(keyboard...)
}

func menuKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	keyboard := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		keyboard = append(keyboard, buttons)
	}
	return tgbotapi.NewReplyKeyboard(keyboard...)
}
