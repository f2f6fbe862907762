package delivery

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	logx "github.com/wapuda/clipsaver/internal/logs"
	"github.com/wapuda/clipsaver/internal/video"
)

// Sender is the part of *tgbotapi.BotAPI we use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Offloader stores a file elsewhere and returns a download link.
type Offloader interface {
	Offload(ctx context.Context, path, name string) (string, error)
}

type TelegramSender struct {
	bot     Sender
	ceiling int64
	offload Offloader
}

// NewTelegramSender builds a sender. off may be nil, in which case documents
// above the ceiling turn into a failure message.
func NewTelegramSender(bot Sender, ceiling int64, off Offloader) *TelegramSender {
	return &TelegramSender{bot: bot, ceiling: ceiling, offload: off}
}

// Deliver executes one instruction. It sends exactly one outcome to the chat:
// the files for dual/document, a link when offloaded, or one failure message.
func (s *TelegramSender) Deliver(ctx context.Context, chatID int64, in Instruction, link string) error {
	lg := logx.FromCtx(ctx)
	switch in.Mode {
	case ModeDual:
		v := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(in.File.Path))
		v.SupportsStreaming = true
		v.Caption = in.Caption()
		if in.File.Duration > 0 {
			v.Duration = int(in.File.Duration)
		}
		if _, err := s.bot.Send(v); err != nil {
			lg.Warn().Err(err).Msg("send video failed, falling back to document only")
		}
		return s.document(ctx, chatID, in, link)
	case ModeDocument:
		return s.document(ctx, chatID, in, link)
	case ModeFailure:
		_, err := s.bot.Send(tgbotapi.NewMessage(chatID, in.Text(link)))
		return err
	}
	return fmt.Errorf("unknown delivery mode %q", in.Mode)
}

func (s *TelegramSender) document(ctx context.Context, chatID int64, in Instruction, link string) error {
	if in.File == nil {
		return errors.New("document delivery without a file")
	}
	if in.File.SizeBytes > s.ceiling {
		return s.offloadLink(ctx, chatID, in, link)
	}
	d := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(in.File.Path))
	d.Caption = in.Caption()
	_, err := s.bot.Send(d)
	return err
}

func (s *TelegramSender) offloadLink(ctx context.Context, chatID int64, in Instruction, link string) error {
	if s.offload == nil {
		_, err := s.bot.Send(tgbotapi.NewMessage(chatID, Instruction{Mode: ModeFailure, Reason: ReasonNoSmallerFile}.Text(link)))
		return err
	}
	url, err := s.offload.Offload(ctx, in.File.Path, in.FileName())
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Error().Err(err).Msg("offload failed")
		_, sendErr := s.bot.Send(tgbotapi.NewMessage(chatID, Instruction{Mode: ModeFailure, Reason: ReasonInternal}.Text(link)))
		return errors.Join(err, sendErr)
	}
	text := fmt.Sprintf("📦 The file is %.1f MB, too large for Telegram.\nDownload it here: %s", float64(in.File.SizeBytes)/video.MB, url)
	_, err = s.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
