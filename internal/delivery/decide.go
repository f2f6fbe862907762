// Package delivery turns a compression result into what the user receives.
package delivery

import (
	"fmt"
	"strings"

	"github.com/wapuda/clipsaver/internal/compress"
	"github.com/wapuda/clipsaver/internal/video"
)

type Mode string

const (
	// ModeDual sends a playable video and the same file as a document.
	ModeDual     Mode = "dual"
	ModeDocument Mode = "document"
	ModeFailure  Mode = "failure"
)

type Reason string

const (
	ReasonNone          Reason = ""
	ReasonOverCeiling   Reason = "over_ceiling"    // fits nowhere playable
	ReasonMissedTarget  Reason = "missed_target"   // exhausted, best attempt kept
	ReasonNoSmallerFile Reason = "no_smaller_file" // exhausted, nothing beat the source
	ReasonUnreadable    Reason = "unreadable"
	ReasonBusy          Reason = "busy"
	ReasonFetch         Reason = "fetch"
	ReasonInternal      Reason = "internal"
)

// Instruction is the single delivery step for one job.
type Instruction struct {
	Mode   Mode
	Reason Reason
	File   *video.Artifact // nil for ModeFailure
	Name   string          // file name shown to the user
}

// FileName is the user-facing name of the delivered file.
func (in Instruction) FileName() string {
	if in.Name != "" {
		return in.Name
	}
	return "video.mp4"
}

func fileName(res *compress.Result) string {
	if res.JobID == "" {
		return ""
	}
	return "video-" + strings.ToLower(res.JobID) + ".mp4"
}

// Decide maps an engine result to an instruction. ceiling is the hard
// transport limit for playable-message delivery.
func Decide(res *compress.Result, ceiling int64) Instruction {
	if res == nil {
		return Instruction{Mode: ModeFailure, Reason: ReasonInternal}
	}
	switch res.Outcome {
	case video.OutcomeSucceeded, video.OutcomeNotNeeded:
		if res.Final == nil {
			return Instruction{Mode: ModeFailure, Reason: ReasonInternal}
		}
		if res.Final.SizeBytes > ceiling {
			return Instruction{Mode: ModeDocument, Reason: ReasonOverCeiling, File: res.Final, Name: fileName(res)}
		}
		return Instruction{Mode: ModeDual, File: res.Final, Name: fileName(res)}
	case video.OutcomeExhausted:
		if res.Best == nil {
			return Instruction{Mode: ModeFailure, Reason: ReasonNoSmallerFile}
		}
		return Instruction{Mode: ModeDocument, Reason: ReasonMissedTarget, File: res.Best, Name: fileName(res)}
	case video.OutcomeAborted:
		return Failure(res.Cause)
	}
	return Instruction{Mode: ModeFailure, Reason: ReasonInternal}
}

// Failure builds the failure instruction for an abort cause.
func Failure(cause video.AbortCause) Instruction {
	switch {
	case cause == video.CauseInspection:
		return Instruction{Mode: ModeFailure, Reason: ReasonUnreadable}
	case cause == video.CauseFetch:
		return Instruction{Mode: ModeFailure, Reason: ReasonFetch}
	case cause.Busy():
		return Instruction{Mode: ModeFailure, Reason: ReasonBusy}
	}
	return Instruction{Mode: ModeFailure, Reason: ReasonInternal}
}

// Caption is attached to delivered files; empty for a clean dual delivery.
func (in Instruction) Caption() string {
	switch in.Reason {
	case ReasonOverCeiling:
		return "ℹ️ The video is too large for an in-chat preview, sending it as a file."
	case ReasonMissedTarget:
		return fmt.Sprintf("ℹ️ Could not compress below the preview limit. Sending the smallest version (%.1f MB) as a file.",
			float64(in.File.SizeBytes)/video.MB)
	}
	return ""
}

// Text is the user-facing message for ModeFailure. link is the original URL.
func (in Instruction) Text(link string) string {
	var msg string
	switch in.Reason {
	case ReasonUnreadable:
		msg = "❌ This video could not be processed. The file looks damaged or unsupported."
	case ReasonBusy:
		msg = "⏳ The server is busy right now. Please try again in a few minutes."
	case ReasonFetch:
		msg = "❌ Download failed. Please try again later."
	case ReasonNoSmallerFile:
		msg = "❌ The video is too large to send and could not be compressed."
	default:
		msg = "❌ Something went wrong while processing this video."
	}
	if link != "" && (in.Reason == ReasonNoSmallerFile || in.Reason == ReasonUnreadable) {
		msg += "\nOriginal link: " + link
	}
	return msg
}
