package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/wapuda/clipsaver/internal/video"
)

// Prober reads container and stream metadata with a single ffprobe call.
type Prober struct {
	bin string
}

func NewProber(bin string) *Prober {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{bin: bin}
}

// Inspect returns metadata for path. Every failure is an *video.InspectionError,
// except when ctx ends first: then the error wraps ctx.Err().
func (p *Prober) Inspect(ctx context.Context, path string) (video.Metadata, error) {
	st, err := os.Stat(path)
	if err != nil {
		return video.Metadata{}, &video.InspectionError{Path: path, Reason: "stat failed", Err: err}
	}
	if st.IsDir() || st.Size() == 0 {
		return video.Metadata{}, &video.InspectionError{Path: path, Reason: "empty file"}
	}

	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	cmd.WaitDelay = killGrace
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return video.Metadata{}, fmt.Errorf("ffprobe %s: %w", path, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return video.Metadata{}, &video.InspectionError{Path: path, Reason: "ffprobe failed", Err: err}
	}

	md, err := ParseJSON(out)
	if err != nil {
		return video.Metadata{}, &video.InspectionError{Path: path, Reason: "unreadable probe output", Err: err}
	}
	md.SizeBytes = st.Size()
	if err := validate(path, md); err != nil {
		return video.Metadata{}, err
	}
	return md, nil
}

// ParseJSON converts raw ffprobe output into Metadata. SizeBytes is taken
// from the format section; Inspect overrides it with the on-disk size.
// Exported for testing without a real ffprobe binary.
func ParseJSON(data []byte) (video.Metadata, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return video.Metadata{}, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	md := video.Metadata{
		SizeBytes: parseInt64(raw.Format.Size),
		Duration:  parseFloat(raw.Format.Duration),
		Container: raw.Format.FormatName,
	}
	for i := range raw.Streams {
		s := &raw.Streams[i]
		if s.CodecType != "video" || s.Disposition["attached_pic"] == 1 {
			continue
		}
		md.Width, md.Height, md.Codec = s.Width, s.Height, s.CodecName
		if md.Duration <= 0 {
			md.Duration = parseFloat(s.Duration)
		}
		break
	}
	return md, nil
}

var errNoVideo = errors.New("no video stream")

func validate(path string, md video.Metadata) error {
	switch {
	case md.Codec == "" && md.Width == 0 && md.Height == 0:
		return &video.InspectionError{Path: path, Reason: "no video stream", Err: errNoVideo}
	case md.Width <= 0 || md.Height <= 0:
		return &video.InspectionError{Path: path, Reason: fmt.Sprintf("invalid dimensions %dx%d", md.Width, md.Height)}
	case md.Duration <= 0:
		return &video.InspectionError{Path: path, Reason: "zero duration"}
	}
	return nil
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type probeStream struct {
	CodecName   string         `json:"codec_name"`
	CodecType   string         `json:"codec_type"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Duration    string         `json:"duration"`
	Disposition map[string]int `json:"disposition"`
}

// ffprobe reports numbers as strings.

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
