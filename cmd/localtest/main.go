package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/wapuda/clipsaver/internal/compress"
	"github.com/wapuda/clipsaver/internal/config"
	"github.com/wapuda/clipsaver/internal/delivery"
	"github.com/wapuda/clipsaver/internal/ffmpeg"
	"github.com/wapuda/clipsaver/internal/jobs"
	logx "github.com/wapuda/clipsaver/internal/logs"
	"github.com/wapuda/clipsaver/internal/metrics"
	"github.com/wapuda/clipsaver/internal/planner"
	"github.com/wapuda/clipsaver/internal/tracker"
	"github.com/wapuda/clipsaver/internal/video"
)

func main() {
	targetMB := flag.Float64("target", 0, "target size in MB (default from COMPRESSION_TARGET_SIZE_MB)")
	outDir := flag.String("out", "./out", "where to keep the delivered file")
	planOnly := flag.Bool("plan", false, "print the candidate plan and exit")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/localtest [flags] <input.mp4>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	in := flag.Arg(0)

	_ = godotenv.Load()
	c := logx.FromEnv("localtest")
	c.Format = "console"
	logx.Setup(c)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if *targetMB > 0 {
		cfg.TargetSizeMB = *targetMB
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prober := ffmpeg.NewProber(cfg.FFprobePath)
	if *planOnly {
		md, err := prober.Inspect(ctx, in)
		if err != nil {
			log.Fatal().Err(err).Msg("inspect")
		}
		fmt.Printf("source %s, %.1f MB, %.1fs\n", md.Resolution(), float64(md.SizeBytes)/video.MB, md.Duration)
		for i, cand := range planner.Plan(md.Resolution(), cfg.Target()) {
			fmt.Printf("  %d. %s\n", i+1, cand)
		}
		return
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("out dir")
	}
	tmp, err := os.MkdirTemp(*outDir, ".work-")
	if err != nil {
		log.Fatal().Err(err).Msg("temp dir")
	}
	defer os.RemoveAll(tmp)

	tr := tracker.New(cfg.MaxConcurrent)
	sys := metrics.NewSystem(tmp, tr)
	engine := compress.New(compress.Settings{
		Target:      cfg.Target(),
		TempDir:     tmp,
		DiskReserve: cfg.DiskReserveBytes(),
	}, tr, prober, ffmpeg.NewEncoder(cfg.FFmpegPath), sys)

	res, err := engine.Compress(ctx, compress.Request{JobID: jobs.NewID(), Path: in, Platform: "local"})
	defer res.Cleanup()
	if err != nil {
		log.Error().Err(err).Str("cause", string(res.Cause)).Msg("compression aborted")
	}

	fmt.Printf("\noutcome: %s\n", res.Outcome)
	for _, a := range res.Attempts {
		fmt.Printf("  #%d %-20s %-10s %7.1f MB %6.1fs %s\n",
			a.Index, a.Candidate, a.Status, float64(a.SizeBytes)/video.MB, a.Duration().Seconds(), a.Error)
	}

	inst := delivery.Decide(res, cfg.UploadLimitBytes())
	fmt.Printf("delivery: %s %s\n", inst.Mode, inst.Reason)
	if inst.Mode == delivery.ModeFailure {
		fmt.Println(inst.Text(in))
		return
	}
	if caption := inst.Caption(); caption != "" {
		fmt.Println(caption)
	}
	if inst.File.Path == in {
		fmt.Println("source kept as is:", in)
		return
	}
	dst := filepath.Join(*outDir, filepath.Base(inst.File.Path))
	if err := os.Rename(inst.File.Path, dst); err != nil {
		log.Fatal().Err(err).Msg("move result")
	}
	fmt.Printf("written: %s (%.1f MB)\n", dst, float64(inst.File.SizeBytes)/video.MB)
}
