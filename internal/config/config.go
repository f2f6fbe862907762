package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wapuda/clipsaver/internal/video"
)

// Config is read once at startup and never changed afterwards.
type Config struct {
	BotToken    string
	RedisAddr   string
	DataDir     string
	HTTPAddr    string
	AdminIDs    []int64
	Concurrency int // asynq worker goroutines
	MaxRetry    int // asynq retries per task (capacity backpressure)

	FFmpegPath   string
	FFprobePath  string
	YtDlpPath    string
	FetchTimeout time.Duration

	// Compression
	TargetSizeMB        float64
	MaxAttempts         int
	QualityLevels       []int
	MaxResolution       video.Resolution
	AttemptTimeout      time.Duration
	MaxConcurrent       int
	Preset              string
	DiskReserveMB       float64
	MinQualityCRF       int
	MaxQualityCRF       int
	CleanupAfter        time.Duration
	StatsInterval       time.Duration
	HistorySize         int
	AdminNotifyFailures int

	// Delivery
	UploadLimitMB int

	// Offload (optional; empty bucket disables)
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
	S3LinkTTL   time.Duration
}

var presets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true, "fast": true,
	"medium": true, "slow": true, "slower": true, "veryslow": true,
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func mustInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func mustFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if x, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return x
		}
	}
	return def
}

func seconds(k string, def int) time.Duration { return time.Duration(mustInt(k, def)) * time.Second }

// Load reads the environment. Malformed list values are reported as errors
// instead of silently falling back, so Validate sees what the operator set.
func Load() (Config, error) {
	quality, err := parseInts(getenv("COMPRESSION_QUALITY_LEVELS", "28,32,36"))
	if err != nil {
		return Config{}, fmt.Errorf("COMPRESSION_QUALITY_LEVELS: %w", err)
	}
	res, err := parseResolution(getenv("COMPRESSION_MAX_RESOLUTION", "1280,720"))
	if err != nil {
		return Config{}, fmt.Errorf("COMPRESSION_MAX_RESOLUTION: %w", err)
	}
	admins, err := parseIDs(getenv("ADMIN_IDS", ""))
	if err != nil {
		return Config{}, fmt.Errorf("ADMIN_IDS: %w", err)
	}

	dataDir := getenv("DATA_DIR", "/data")
	return Config{
		BotToken:    os.Getenv("BOT_TOKEN"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		DataDir:     dataDir,
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		AdminIDs:    admins,
		Concurrency: mustInt("WORKER_CONCURRENCY", 4),
		MaxRetry:    mustInt("TASK_MAX_RETRY", 5),

		FFmpegPath:   getenv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:  getenv("FFPROBE_PATH", "ffprobe"),
		YtDlpPath:    getenv("YTDLP_PATH", "yt-dlp"),
		FetchTimeout: seconds("FETCH_TIMEOUT_SECONDS", 180),

		TargetSizeMB:        mustFloat("COMPRESSION_TARGET_SIZE_MB", 45),
		MaxAttempts:         mustInt("COMPRESSION_MAX_ATTEMPTS", 3),
		QualityLevels:       quality,
		MaxResolution:       res,
		AttemptTimeout:      seconds("COMPRESSION_TIMEOUT_SECONDS", 300),
		MaxConcurrent:       mustInt("COMPRESSION_MAX_CONCURRENT", 2),
		Preset:              strings.ToLower(getenv("COMPRESSION_FFMPEG_PRESET", "medium")),
		DiskReserveMB:       mustFloat("COMPRESSION_DISK_SPACE_THRESHOLD_MB", 1000),
		MinQualityCRF:       mustInt("COMPRESSION_MIN_QUALITY_CRF", 18),
		MaxQualityCRF:       mustInt("COMPRESSION_MAX_QUALITY_CRF", 40),
		CleanupAfter:        time.Duration(mustInt("COMPRESSION_CLEANUP_TEMP_FILES_HOURS", 24)) * time.Hour,
		StatsInterval:       time.Duration(mustInt("COMPRESSION_STATS_LOG_INTERVAL", 60)) * time.Minute,
		HistorySize:         mustInt("COMPRESSION_HISTORY_SIZE", 1000),
		AdminNotifyFailures: mustInt("COMPRESSION_ADMIN_NOTIFICATION_THRESHOLD", 5),

		UploadLimitMB: mustInt("TG_UPLOAD_LIMIT_MB", 50),

		S3Bucket:    getenv("S3_BUCKET", ""),
		S3Region:    getenv("S3_REGION", "us-east-1"),
		S3AccessKey: getenv("S3_ACCESS_KEY", ""),
		S3SecretKey: getenv("S3_SECRET_KEY", ""),
		S3Endpoint:  getenv("S3_ENDPOINT", ""),
		S3LinkTTL:   time.Duration(mustInt("S3_LINK_TTL_HOURS", 72)) * time.Hour,
	}, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.TargetSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("target size must be > 0, got %v", c.TargetSizeMB))
	}
	if c.UploadLimitMB <= 0 {
		errs = append(errs, fmt.Errorf("upload limit must be > 0, got %d", c.UploadLimitMB))
	} else if c.TargetSizeMB > float64(c.UploadLimitMB) {
		errs = append(errs, fmt.Errorf("target size %vMB exceeds upload limit %dMB", c.TargetSizeMB, c.UploadLimitMB))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max attempts must be > 0, got %d", c.MaxAttempts))
	}
	if len(c.QualityLevels) == 0 {
		errs = append(errs, errors.New("quality levels must not be empty"))
	}
	if c.MinQualityCRF < 0 || c.MaxQualityCRF > 51 || c.MinQualityCRF > c.MaxQualityCRF {
		errs = append(errs, fmt.Errorf("invalid CRF bounds [%d,%d]", c.MinQualityCRF, c.MaxQualityCRF))
	}
	for _, q := range c.QualityLevels {
		if q < c.MinQualityCRF || q > c.MaxQualityCRF {
			errs = append(errs, fmt.Errorf("quality level %d outside [%d,%d]", q, c.MinQualityCRF, c.MaxQualityCRF))
		}
	}
	// Higher CRF compresses harder; the planner walks the list in order.
	for i := 1; i < len(c.QualityLevels); i++ {
		if c.QualityLevels[i] <= c.QualityLevels[i-1] {
			errs = append(errs, fmt.Errorf("quality levels must be strictly increasing, got %v", c.QualityLevels))
			break
		}
	}
	if c.MaxResolution.Width <= 0 || c.MaxResolution.Height <= 0 {
		errs = append(errs, fmt.Errorf("invalid max resolution %s", c.MaxResolution))
	}
	if c.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("attempt timeout must be > 0, got %s", c.AttemptTimeout))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max concurrent must be > 0, got %d", c.MaxConcurrent))
	}
	if !presets[c.Preset] {
		errs = append(errs, fmt.Errorf("unknown ffmpeg preset %q", c.Preset))
	}
	if c.DiskReserveMB < 0 {
		errs = append(errs, fmt.Errorf("disk reserve must be >= 0, got %v", c.DiskReserveMB))
	}
	if c.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("history size must be > 0, got %d", c.HistorySize))
	}
	if c.S3Bucket != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		errs = append(errs, errors.New("S3_BUCKET set without S3_ACCESS_KEY/S3_SECRET_KEY"))
	}
	return errors.Join(errs...)
}

// Target builds the immutable compression target.
func (c Config) Target() video.Target {
	q := make([]int, len(c.QualityLevels))
	copy(q, c.QualityLevels)
	return video.Target{
		SizeBytes:     int64(c.TargetSizeMB * video.MB),
		MaxAttempts:   c.MaxAttempts,
		QualityLevels: q,
		MaxResolution: c.MaxResolution,
		Timeout:       c.AttemptTimeout,
		Preset:        c.Preset,
	}
}

func (c Config) UploadLimitBytes() int64 { return int64(c.UploadLimitMB) * video.MB }
func (c Config) DiskReserveBytes() int64 { return int64(c.DiskReserveMB * video.MB) }
func (c Config) TempDir() string         { return filepath.Join(c.DataDir, "jobs") }

func (c Config) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseResolution(s string) (video.Resolution, error) {
	s = strings.ReplaceAll(strings.ToLower(s), "x", ",")
	parts, err := parseInts(s)
	if err != nil {
		return video.Resolution{}, err
	}
	if len(parts) != 2 {
		return video.Resolution{}, fmt.Errorf("want WIDTH,HEIGHT, got %q", s)
	}
	return video.Resolution{Width: parts[0], Height: parts[1]}, nil
}

func parseIDs(s string) ([]int64, error) {
	var out []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad id %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
