package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/clipsaver/internal/config"
	"github.com/wapuda/clipsaver/internal/fetch"
	"github.com/wapuda/clipsaver/internal/jobs"
	logx "github.com/wapuda/clipsaver/internal/logs"
	"github.com/wapuda/clipsaver/internal/metrics"
	"github.com/wapuda/clipsaver/internal/stats"
)

const (
	helpText = "Send me a link to a video from YouTube, Instagram, TikTok, Facebook, X/Twitter, " +
		"Pinterest, Reddit or Vimeo and I will send it back as a playable video and as a file.\n\n" +
		"Large videos are compressed to fit Telegram's limits, which can take a few minutes."
	statsPeriod = 24 * time.Hour
)

type server struct {
	cfg   config.Config
	bot   *tgbotapi.BotAPI
	asynq *asynq.Client
	stats *stats.RedisStore
}

func main() {
	_ = godotenv.Load()
	logx.Setup(logx.FromEnv("bot"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.BotToken == "" {
		log.Fatal().Msg("BOT_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
		log.Info().Str("addr", cfg.HTTPAddr).Msg("bot health listening")
		if err := http.ListenAndServe(cfg.HTTPAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server")
		}
	}()

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth")
	}
	bot.Debug = false
	log.Info().Str("username", bot.Self.UserName).Msg("bot authorized")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer client.Close()

	s := &server{
		cfg:   cfg,
		bot:   bot,
		asynq: client,
		stats: stats.NewRedisStore(rdb, cfg.HistorySize),
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			log.Info().Msg("bot stopped")
			return
		case upd := <-updates:
			if upd.Message != nil {
				s.onMessage(ctx, upd.Message)
			}
		}
	}
}

func (s *server) reply(chatID int64, text string) (tgbotapi.Message, error) {
	return s.bot.Send(tgbotapi.NewMessage(chatID, text))
}

func (s *server) onMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil {
		return
	}
	ctx = logx.WithUser(ctx, m.From.ID)
	lg := logx.FromCtx(ctx)
	lg.Info().Int64("chat_id", m.Chat.ID).Msg("message received")

	if m.IsCommand() {
		switch m.Command() {
		case "start", "help":
			_, _ = s.reply(m.Chat.ID, helpText)
		case "stats":
			if !s.cfg.IsAdmin(m.From.ID) {
				_, _ = s.reply(m.Chat.ID, "This command is for admins only.")
				return
			}
			s.onStats(ctx, m.Chat.ID)
		default:
			_, _ = s.reply(m.Chat.ID, "Unknown command. Send a video link or /help.")
		}
		return
	}

	link, platform, ok := fetch.FindURL(m.Text)
	if !ok {
		_, _ = s.reply(m.Chat.ID, "Please send a link to a supported video. See /help.")
		return
	}
	ctx = logx.WithPlatform(ctx, platform)
	s.enqueue(ctx, m, link, platform)
}

func (s *server) enqueue(ctx context.Context, m *tgbotapi.Message, link, platform string) {
	lg := logx.FromCtx(ctx)
	status, err := s.reply(m.Chat.ID, "⏳ Queued...")
	if err != nil {
		lg.Warn().Err(err).Msg("send status message")
	}

	task, err := jobs.NewProcessVideoTask(jobs.ProcessVideoPayload{
		ChatID:    m.Chat.ID,
		UserID:    m.From.ID,
		URL:       link,
		Platform:  platform,
		MessageID: status.MessageID,
	}, s.cfg.MaxRetry)
	if err == nil {
		var info *asynq.TaskInfo
		info, err = s.asynq.EnqueueContext(ctx, task)
		if err == nil {
			lg.Info().Str("task", info.ID).Str("url", link).Msg("video queued")
			return
		}
	}

	lg.Error().Err(err).Msg("enqueue failed")
	text := "❌ Could not queue your video. Please try again."
	if status.MessageID != 0 {
		_, _ = s.bot.Send(tgbotapi.NewEditMessageText(m.Chat.ID, status.MessageID, text))
		return
	}
	_, _ = s.reply(m.Chat.ID, text)
}

func (s *server) onStats(ctx context.Context, chatID int64) {
	lg := logx.FromCtx(ctx)
	recs, err := s.stats.Recent(ctx, 0)
	if err != nil {
		lg.Error().Err(err).Msg("read job history")
		_, _ = s.reply(chatID, "❌ Could not read stats.")
		return
	}
	var snap *metrics.Snapshot
	if sn, ok, err := s.stats.LatestSnapshot(ctx); err != nil {
		lg.Warn().Err(err).Msg("read snapshot")
	} else if ok {
		snap = &sn
	}
	report := stats.Summarize(recs, statsPeriod, time.Now())
	_, _ = s.reply(chatID, stats.Format(report, snap, s.cfg.MaxConcurrent))
}
