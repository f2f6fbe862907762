package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/wapuda/clipsaver/internal/compress"
	"github.com/wapuda/clipsaver/internal/video"
)

const ceiling = 50 * video.MB

func art(size int64) *video.Artifact {
	return &video.Artifact{Path: "/jobs/x/out.mp4", Metadata: video.Metadata{SizeBytes: size, Duration: 12}}
}

func TestDecide(t *testing.T) {
	cases := []struct {
		name   string
		res    *compress.Result
		mode   Mode
		reason Reason
		size   int64
	}{
		{"succeeded", &compress.Result{Outcome: video.OutcomeSucceeded, Final: art(40 * video.MB)}, ModeDual, ReasonNone, 40 * video.MB},
		{"not needed", &compress.Result{Outcome: video.OutcomeNotNeeded, Final: art(30 * video.MB)}, ModeDual, ReasonNone, 30 * video.MB},
		{"not needed over ceiling", &compress.Result{Outcome: video.OutcomeNotNeeded, Final: art(51 * video.MB)}, ModeDocument, ReasonOverCeiling, 51 * video.MB},
		{"exhausted with best", &compress.Result{Outcome: video.OutcomeExhausted, Best: art(47 * video.MB)}, ModeDocument, ReasonMissedTarget, 47 * video.MB},
		{"exhausted without best", &compress.Result{Outcome: video.OutcomeExhausted}, ModeFailure, ReasonNoSmallerFile, 0},
		{"aborted inspection", &compress.Result{Outcome: video.OutcomeAborted, Cause: video.CauseInspection}, ModeFailure, ReasonUnreadable, 0},
		{"aborted capacity", &compress.Result{Outcome: video.OutcomeAborted, Cause: video.CauseCapacity}, ModeFailure, ReasonBusy, 0},
		{"aborted disk", &compress.Result{Outcome: video.OutcomeAborted, Cause: video.CauseDisk}, ModeFailure, ReasonBusy, 0},
		{"aborted cancelled", &compress.Result{Outcome: video.OutcomeAborted, Cause: video.CauseCancelled}, ModeFailure, ReasonInternal, 0},
		{"nil", nil, ModeFailure, ReasonInternal, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := Decide(tc.res, ceiling)
			if in.Mode != tc.mode || in.Reason != tc.reason {
				t.Fatalf("Decide = %s/%s, want %s/%s", in.Mode, in.Reason, tc.mode, tc.reason)
			}
			if tc.size == 0 {
				if in.File != nil {
					t.Fatalf("failure should carry no file")
				}
				return
			}
			if in.File == nil || in.File.SizeBytes != tc.size {
				t.Fatalf("file = %+v", in.File)
			}
		})
	}
}

func TestInstructionFileName(t *testing.T) {
	in := Decide(&compress.Result{JobID: "01HZX", Outcome: video.OutcomeExhausted, Best: art(47 * video.MB)}, ceiling)
	if got := in.FileName(); got != "video-01hzx.mp4" {
		t.Fatalf("FileName = %q", got)
	}
	if got := (Instruction{Mode: ModeDocument, File: art(1)}).FileName(); got != "video.mp4" {
		t.Fatalf("FileName without job = %q", got)
	}
}

func TestFailureTexts(t *testing.T) {
	if got := Failure(video.CauseCapacity).Text(""); !strings.Contains(got, "busy") {
		t.Fatalf("busy text = %q", got)
	}
	if got := Failure(video.CauseInspection).Text("https://x.com/v/1"); !strings.Contains(got, "could not be processed") || !strings.Contains(got, "https://x.com/v/1") {
		t.Fatalf("unreadable text = %q", got)
	}
	if got := Failure(video.CauseFetch).Text(""); !strings.Contains(got, "Download failed") {
		t.Fatalf("fetch text = %q", got)
	}
}

type sent struct {
	kind    string
	caption string
	text    string
}

type fakeBot struct {
	out    []sent
	failOn string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var s sent
	switch v := c.(type) {
	case tgbotapi.VideoConfig:
		s = sent{kind: "video", caption: v.Caption}
		if !v.SupportsStreaming {
			return tgbotapi.Message{}, errors.New("video must support streaming")
		}
	case tgbotapi.DocumentConfig:
		s = sent{kind: "document", caption: v.Caption}
	case tgbotapi.MessageConfig:
		s = sent{kind: "message", text: v.Text}
	default:
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if s.kind == b.failOn {
		return tgbotapi.Message{}, errors.New("telegram down")
	}
	b.out = append(b.out, s)
	return tgbotapi.Message{}, nil
}

type fakeOffloader struct {
	url  string
	err  error
	got  string
	name string
}

func (o *fakeOffloader) Offload(_ context.Context, path, name string) (string, error) {
	o.got, o.name = path, name
	return o.url, o.err
}

func kinds(out []sent) string {
	var k []string
	for _, s := range out {
		k = append(k, s.kind)
	}
	return strings.Join(k, ",")
}

func TestDeliverDual(t *testing.T) {
	bot := &fakeBot{}
	s := NewTelegramSender(bot, ceiling, nil)
	in := Decide(&compress.Result{Outcome: video.OutcomeSucceeded, Final: art(40 * video.MB)}, ceiling)
	if err := s.Deliver(context.Background(), 1, in, ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := kinds(bot.out); got != "video,document" {
		t.Fatalf("sent %s", got)
	}
}

func TestDeliverDualVideoFailureStillSendsDocument(t *testing.T) {
	bot := &fakeBot{failOn: "video"}
	s := NewTelegramSender(bot, ceiling, nil)
	in := Instruction{Mode: ModeDual, File: art(10 * video.MB)}
	if err := s.Deliver(context.Background(), 1, in, ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got := kinds(bot.out); got != "document" {
		t.Fatalf("sent %s", got)
	}
}

func TestDeliverDocumentWithNote(t *testing.T) {
	bot := &fakeBot{}
	s := NewTelegramSender(bot, ceiling, nil)
	in := Decide(&compress.Result{Outcome: video.OutcomeExhausted, Best: art(47 * video.MB)}, ceiling)
	if err := s.Deliver(context.Background(), 1, in, ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(bot.out) != 1 || bot.out[0].kind != "document" || !strings.Contains(bot.out[0].caption, "47.0 MB") {
		t.Fatalf("sent %+v", bot.out)
	}
}

func TestDeliverOverCeilingOffloads(t *testing.T) {
	bot := &fakeBot{}
	off := &fakeOffloader{url: "https://files.example/abc"}
	s := NewTelegramSender(bot, ceiling, off)
	final := art(80 * video.MB)
	final.Path = "/jobs/01J9/attempt-2-crf32-1280x720.mp4"
	in := Decide(&compress.Result{JobID: "01J9", Outcome: video.OutcomeSucceeded, Final: final}, ceiling)
	if err := s.Deliver(context.Background(), 1, in, "https://youtu.be/x"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if off.got != final.Path {
		t.Fatalf("offloaded %q", off.got)
	}
	if off.name != "video-01j9.mp4" {
		t.Fatalf("offload name = %q, want the job name", off.name)
	}
	if len(bot.out) != 1 || !strings.Contains(bot.out[0].text, off.url) {
		t.Fatalf("sent %+v", bot.out)
	}
}

func TestDeliverOverCeilingWithoutOffloader(t *testing.T) {
	bot := &fakeBot{}
	s := NewTelegramSender(bot, ceiling, nil)
	in := Instruction{Mode: ModeDocument, Reason: ReasonOverCeiling, File: art(80 * video.MB)}
	if err := s.Deliver(context.Background(), 1, in, "https://youtu.be/x"); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(bot.out) != 1 || bot.out[0].kind != "message" || !strings.Contains(bot.out[0].text, "https://youtu.be/x") {
		t.Fatalf("sent %+v", bot.out)
	}
}

func TestDeliverOffloadErrorSendsOneMessage(t *testing.T) {
	bot := &fakeBot{}
	s := NewTelegramSender(bot, ceiling, &fakeOffloader{err: errors.New("s3 down")})
	in := Instruction{Mode: ModeDocument, Reason: ReasonOverCeiling, File: art(80 * video.MB)}
	if err := s.Deliver(context.Background(), 1, in, ""); err == nil {
		t.Fatalf("expected offload error")
	}
	if len(bot.out) != 1 || bot.out[0].kind != "message" {
		t.Fatalf("sent %+v", bot.out)
	}
}

func TestDeliverFailure(t *testing.T) {
	bot := &fakeBot{}
	s := NewTelegramSender(bot, ceiling, nil)
	if err := s.Deliver(context.Background(), 1, Failure(video.CauseDisk), ""); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(bot.out) != 1 || !strings.Contains(bot.out[0].text, "busy") {
		t.Fatalf("sent %+v", bot.out)
	}
}
