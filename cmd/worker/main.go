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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/clipsaver/internal/compress"
	"github.com/wapuda/clipsaver/internal/config"
	"github.com/wapuda/clipsaver/internal/delivery"
	"github.com/wapuda/clipsaver/internal/fetch"
	"github.com/wapuda/clipsaver/internal/ffmpeg"
	"github.com/wapuda/clipsaver/internal/jobs"
	logx "github.com/wapuda/clipsaver/internal/logs"
	"github.com/wapuda/clipsaver/internal/metrics"
	"github.com/wapuda/clipsaver/internal/monitor"
	"github.com/wapuda/clipsaver/internal/pipeline"
	"github.com/wapuda/clipsaver/internal/stats"
	"github.com/wapuda/clipsaver/internal/tracker"
)

func main() {
	_ = godotenv.Load()
	logger := logx.Setup(logx.FromEnv("worker"))

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
	for _, bin := range []string{cfg.FFmpegPath, cfg.FFprobePath, cfg.YtDlpPath} {
		if err := ffmpeg.Available(bin); err != nil {
			log.Fatal().Err(err).Msg("missing dependency")
		}
	}
	if err := os.MkdirAll(cfg.TempDir(), 0o755); err != nil {
		log.Fatal().Err(err).Msg("create temp dir")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth")
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	store := stats.NewRedisStore(rdb, cfg.HistorySize)

	tr := tracker.New(cfg.MaxConcurrent,
		tracker.WithHistorySize(cfg.HistorySize),
		tracker.WithSink(store),
	)
	sys := metrics.NewSystem(cfg.TempDir(), tr)
	engine := compress.New(compress.Settings{
		Target:      cfg.Target(),
		TempDir:     cfg.TempDir(),
		DiskReserve: cfg.DiskReserveBytes(),
	}, tr, ffmpeg.NewProber(cfg.FFprobePath), ffmpeg.NewEncoder(cfg.FFmpegPath), sys)

	var off delivery.Offloader
	if cfg.S3Bucket != "" {
		off = delivery.NewS3Offloader(delivery.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
			LinkTTL:   cfg.S3LinkTTL,
		})
		log.Info().Str("bucket", cfg.S3Bucket).Msg("oversized files offloaded to S3")
	}
	sender := delivery.NewTelegramSender(bot, cfg.UploadLimitBytes(), off)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mon := monitor.New(sys, tr, monitor.Options{
		Interval:     cfg.StatsInterval,
		DiskReserve:  cfg.DiskReserveBytes(),
		CleanupAfter: cfg.CleanupAfter,
		FailureEvery: cfg.AdminNotifyFailures,
		Store:        store,
		Sweeper:      engine,
		Notifier:     monitor.NewAdminNotifier(bot, cfg.AdminIDs),
		Registerer:   reg,
	})
	tr.AddSink(mon)

	proc := pipeline.NewProcessor(
		fetch.NewYtDlp(cfg.YtDlpPath, cfg.FetchTimeout),
		engine, sender, bot, tr, cfg.UploadLimitBytes(),
	)

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpMux(reg, tr)}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("worker http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
		}
	}()

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency:    cfg.Concurrency,
		RetryDelayFunc: jobs.RetryDelay,
		Logger:         logx.AsynqLogger{L: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			log.Warn().Err(err).Str("type", t.Type()).Bool("retry", pipeline.IsRetryable(err)).Msg("task failed")
		}),
	})
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TaskProcessVideo, proc)

	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("asynq start")
	}
	go mon.Run(ctx)
	log.Info().
		Int("workers", cfg.Concurrency).
		Int("max_concurrent", cfg.MaxConcurrent).
		Int64("target", cfg.Target().SizeBytes).
		Msg("worker started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	srv.Shutdown()
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutCtx)
}

func httpMux(reg *prometheus.Registry, tr *tracker.Tracker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		if tr.ActiveCount() >= tr.Ceiling() {
			http.Error(w, "at capacity", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
