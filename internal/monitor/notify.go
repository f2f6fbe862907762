package monitor

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/clipsaver/internal/delivery"
)

// AdminNotifier messages every configured admin chat.
type AdminNotifier struct {
	bot    delivery.Sender
	admins []int64
}

func NewAdminNotifier(bot delivery.Sender, admins []int64) *AdminNotifier {
	return &AdminNotifier{bot: bot, admins: admins}
}

func (n *AdminNotifier) Notify(_ context.Context, text string) error {
	var errs []error
	for _, id := range n.admins {
		if _, err := n.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
