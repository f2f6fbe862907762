package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wapuda/clipsaver/internal/video"
)

const sampleMP4 = `{
  "streams": [
    {"index": 0, "codec_name": "mjpeg", "codec_type": "video", "width": 600, "height": 600,
     "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "duration": "61.000000", "disposition": {"attached_pic": 0}},
    {"index": 2, "codec_name": "aac", "codec_type": "audio", "disposition": {}}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "60.500000", "size": "104857600"}
}`

const sampleAudioOnly = `{
  "streams": [{"index": 0, "codec_name": "mp3", "codec_type": "audio"}],
  "format": {"format_name": "mp3", "duration": "180.0", "size": "4000000"}
}`

const sampleStreamDuration = `{
  "streams": [{"codec_name": "vp9", "codec_type": "video", "width": 1280, "height": 720, "duration": "12.5"}],
  "format": {"format_name": "matroska,webm", "size": "1000"}
}`

func TestParseJSON(t *testing.T) {
	md, err := ParseJSON([]byte(sampleMP4))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if md.Width != 1920 || md.Height != 1080 || md.Codec != "h264" {
		t.Fatalf("cover art picked as primary video: %+v", md)
	}
	if md.Duration != 60.5 || md.SizeBytes != 104857600 {
		t.Fatalf("format fields: %+v", md)
	}
	if !strings.HasPrefix(md.Container, "mov,mp4") {
		t.Fatalf("container = %q", md.Container)
	}
}

func TestParseJSONFallsBackToStreamDuration(t *testing.T) {
	md, err := ParseJSON([]byte(sampleStreamDuration))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if md.Duration != 12.5 {
		t.Fatalf("duration = %v", md.Duration)
	}
}

func TestParseJSONRejectsGarbage(t *testing.T) {
	if _, err := ParseJSON([]byte("not json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate(t *testing.T) {
	audio, _ := ParseJSON([]byte(sampleAudioOnly))
	cases := []struct {
		name string
		md   video.Metadata
		ok   bool
	}{
		{"valid", video.Metadata{Width: 1280, Height: 720, Duration: 3, Codec: "h264"}, true},
		{"audio only", audio, false},
		{"zero dims", video.Metadata{Codec: "h264", Duration: 3}, false},
		{"zero duration", video.Metadata{Width: 1280, Height: 720, Codec: "h264"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate("x.mp4", tc.md)
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ie *video.InspectionError
			if !errors.As(err, &ie) {
				t.Fatalf("want *InspectionError, got %v", err)
			}
		})
	}
}

func TestInspectRejectsMissingAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewProber("ffprobe-not-installed")
	for _, path := range []string{filepath.Join(dir, "missing.mp4"), empty} {
		_, err := p.Inspect(context.Background(), path)
		if video.ClassifyAbort(err) != video.CauseInspection {
			t.Fatalf("%s: got %v, want inspection error", path, err)
		}
	}
}

func TestInspectReportsMissingBinaryAsInspectionError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.mp4")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewProber("ffprobe-not-installed").Inspect(context.Background(), path)
	if video.ClassifyAbort(err) != video.CauseInspection {
		t.Fatalf("got %v", err)
	}
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs(EncodeRequest{Input: "in.mp4", Output: "out.mp4", Quality: 32, Width: 854, Height: 480, Preset: "fast"})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-y", "-i in.mp4", "-vf scale=854:480", "-c:v libx264", "-preset fast", "-crf 32",
		"-c:a aac -b:a 128k", "-movflags +faststart",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q: %s", want, joined)
		}
	}
	if args[len(args)-1] != "out.mp4" {
		t.Fatalf("output must be last: %v", args)
	}
}

func TestBuildArgsDefaults(t *testing.T) {
	joined := strings.Join(BuildArgs(EncodeRequest{Input: "a", Output: "b", Quality: 28}), " ")
	if strings.Contains(joined, "-vf") {
		t.Fatalf("no scale filter expected without dimensions: %s", joined)
	}
	if !strings.Contains(joined, "-preset medium") {
		t.Fatalf("default preset missing: %s", joined)
	}
}

func TestEncodeMissingBinary(t *testing.T) {
	err := NewEncoder("ffmpeg-not-installed").Encode(context.Background(), EncodeRequest{Input: "a", Output: "b"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

// stallingBinary writes a shell script that never exits on its own.
func stallingBinary(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh on this system")
	}
	bin := filepath.Join(t.TempDir(), "stall.sh")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return bin
}

func TestEncodeKillsProcessOnDeadline(t *testing.T) {
	enc := NewEncoder(stallingBinary(t))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := enc.Encode(ctx, EncodeRequest{Input: "in.mp4", Output: filepath.Join(t.TempDir(), "out.mp4"), Quality: 28})
	took := time.Since(start)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Encode err = %v, want deadline exceeded", err)
	}
	if took >= killGrace {
		t.Fatalf("Encode returned after %s, process was not killed", took)
	}
}

func TestInspectCancelledIsNotInspectionError(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.mp4")
	if err := os.WriteFile(src, []byte("not empty"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewProber(stallingBinary(t))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := p.Inspect(ctx, src)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Inspect err = %v, want context.Canceled", err)
	}
	var ie *video.InspectionError
	if errors.As(err, &ie) {
		t.Fatalf("cancellation reported as inspection error: %v", err)
	}
	if got := video.ClassifyAbort(err); got != video.CauseCancelled {
		t.Fatalf("ClassifyAbort = %s", got)
	}
}
