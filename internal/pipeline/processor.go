// Package pipeline handles one queued video request end to end.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hibiken/asynq"

	"github.com/wapuda/clipsaver/internal/compress"
	"github.com/wapuda/clipsaver/internal/delivery"
	"github.com/wapuda/clipsaver/internal/jobs"
	logx "github.com/wapuda/clipsaver/internal/logs"
	"github.com/wapuda/clipsaver/internal/video"
)

type Fetcher interface {
	Fetch(ctx context.Context, link, dir string) (string, error)
}

type Compressor interface {
	Compress(ctx context.Context, req compress.Request) (*compress.Result, error)
	JobDir(jobID string) string
}

type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, in delivery.Instruction, link string) error
}

// Observer records jobs that end before compression starts.
type Observer interface {
	Observe(ctx context.Context, rec video.JobRecord)
}

// StatusBot edits and removes the per-job status message.
type StatusBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

const (
	statusDownloading = "⏳ Downloading..."
	statusCompressing = "⏳ Compressing..."
	statusSending     = "⏳ Sending..."
	statusQueued      = "⏳ Server is busy, your video is queued and will be processed shortly..."
)

type Processor struct {
	fetch    Fetcher
	compress Compressor
	deliver  Deliverer
	bot      StatusBot
	observe  Observer
	ceiling  int64
	now      func() time.Time
}

func NewProcessor(f Fetcher, c Compressor, d Deliverer, bot StatusBot, obs Observer, ceiling int64) *Processor {
	return &Processor{fetch: f, compress: c, deliver: d, bot: bot, observe: obs, ceiling: ceiling, now: time.Now}
}

// ProcessTask implements asynq.Handler.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var pl jobs.ProcessVideoPayload
	if err := json.Unmarshal(t.Payload(), &pl); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return p.Handle(ctx, pl, retried >= maxRetry)
}

// Handle runs fetch, compress, decide and deliver for one request. The job
// directory is removed on every path. The chat gets exactly one outcome,
// except when a busy job is handed back for retry (lastTry false), which
// sends nothing.
func (p *Processor) Handle(ctx context.Context, pl jobs.ProcessVideoPayload, lastTry bool) error {
	if pl.JobID == "" {
		pl.JobID = jobs.NewID()
	}
	ctx = logx.WithPlatform(logx.WithUser(logx.WithJob(ctx, pl.JobID), pl.UserID), pl.Platform)
	lg := logx.FromCtx(ctx)
	started := p.now()

	dir := p.compress.JobDir(pl.JobID)
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			lg.Warn().Err(err).Str("dir", dir).Msg("cleanup job dir")
		}
	}()

	p.status(ctx, pl, statusDownloading)
	src, err := p.fetch.Fetch(ctx, pl.URL, dir)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lg.Warn().Err(err).Str("url", pl.URL).Msg("fetch failed")
		if p.observe != nil {
			finished := p.now()
			p.observe.Observe(context.WithoutCancel(ctx), video.JobRecord{
				ID:          pl.JobID,
				UserID:      pl.UserID,
				Platform:    pl.Platform,
				Outcome:     video.OutcomeAborted,
				AbortCause:  video.CauseFetch,
				StartedAt:   started,
				FinishedAt:  finished,
				ProcessTime: finished.Sub(started),
			})
		}
		return p.finish(ctx, pl, delivery.Failure(video.CauseFetch))
	}

	p.status(ctx, pl, statusCompressing)
	res, err := p.compress.Compress(ctx, compress.Request{
		JobID:    pl.JobID,
		Path:     src,
		UserID:   pl.UserID,
		Platform: pl.Platform,
	})
	if err != nil {
		cause := video.ClassifyAbort(err)
		switch {
		case cause == video.CauseCancelled && ctx.Err() != nil:
			lg.Info().Msg("job cancelled, leaving it to the queue")
			return err
		case cause.Busy() && !lastTry:
			lg.Info().Str("cause", string(cause)).Msg("busy, task will be retried")
			p.status(ctx, pl, statusQueued)
			return fmt.Errorf("job %s: %w", pl.JobID, err)
		}
		lg.Warn().Err(err).Str("cause", string(cause)).Msg("job aborted")
	}

	in := delivery.Decide(res, p.ceiling)
	lg.Info().
		Str("outcome", string(res.Outcome)).
		Str("mode", string(in.Mode)).
		Str("reason", string(in.Reason)).
		Dur("took", p.now().Sub(started)).
		Msg("delivery decided")
	if in.Mode != delivery.ModeFailure {
		p.status(ctx, pl, statusSending)
	}
	return p.finish(ctx, pl, in)
}

// finish sends the single outcome and clears the status message. Delivery
// errors are not retried, a retry could send the outcome twice.
func (p *Processor) finish(ctx context.Context, pl jobs.ProcessVideoPayload, in delivery.Instruction) error {
	err := p.deliver.Deliver(ctx, pl.ChatID, in, pl.URL)
	p.clearStatus(ctx, pl)
	if err != nil {
		lg := logx.FromCtx(ctx)
		lg.Error().Err(err).Str("mode", string(in.Mode)).Msg("delivery failed")
		return fmt.Errorf("deliver: %v: %w", err, asynq.SkipRetry)
	}
	if in.Mode == delivery.ModeFailure && in.Reason == delivery.ReasonBusy {
		return fmt.Errorf("job %s: gave up after retries: %w", pl.JobID, asynq.SkipRetry)
	}
	return nil
}

func (p *Processor) status(ctx context.Context, pl jobs.ProcessVideoPayload, text string) {
	if p.bot == nil || pl.MessageID == 0 {
		return
	}
	if _, err := p.bot.Send(tgbotapi.NewEditMessageText(pl.ChatID, pl.MessageID, text)); err != nil {
		lg := logx.FromCtx(ctx)
		lg.Debug().Err(err).Msg("edit status message")
	}
}

func (p *Processor) clearStatus(ctx context.Context, pl jobs.ProcessVideoPayload) {
	if p.bot == nil || pl.MessageID == 0 {
		return
	}
	if _, err := p.bot.Request(tgbotapi.NewDeleteMessage(pl.ChatID, pl.MessageID)); err != nil {
		lg := logx.FromCtx(ctx)
		lg.Debug().Err(err).Msg("delete status message")
	}
}

// IsRetryable reports whether err asks asynq for another try.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, asynq.SkipRetry)
}
