package stats

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wapuda/clipsaver/internal/metrics"
	"github.com/wapuda/clipsaver/internal/video"
)

// Report aggregates job records over a period.
type Report struct {
	Period     time.Duration
	Total      int
	Successful int
	Failed     int
	Attempts   int
	TimedOut   int
	BytesSaved int64
	AvgProcess time.Duration
	AvgRatio   float64
	Outcomes   map[video.Outcome]int
	Causes     map[video.AbortCause]int
	Platforms  map[string]int
}

func (r Report) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Successful) * 100 / float64(r.Total)
}

// Summarize aggregates records finished within period before now.
func Summarize(records []video.JobRecord, period time.Duration, now time.Time) Report {
	r := Report{
		Period:    period,
		Outcomes:  map[video.Outcome]int{},
		Causes:    map[video.AbortCause]int{},
		Platforms: map[string]int{},
	}
	cutoff := now.Add(-period)
	var procSum time.Duration
	var procN int
	var ratioSum float64
	var ratioN int
	for _, rec := range records {
		if rec.FinishedAt.Before(cutoff) || rec.FinishedAt.After(now) {
			continue
		}
		r.Total++
		r.Outcomes[rec.Outcome]++
		if rec.Succeeded() {
			r.Successful++
		} else {
			r.Failed++
		}
		if rec.AbortCause != video.CauseNone {
			r.Causes[rec.AbortCause]++
		}
		p := rec.Platform
		if p == "" {
			p = "unknown"
		}
		r.Platforms[p]++

		r.Attempts += len(rec.Attempts)
		for _, a := range rec.Attempts {
			if a.Status == video.AttemptTimedOut {
				r.TimedOut++
			}
		}
		if len(rec.Attempts) > 0 && rec.ProcessTime > 0 {
			procSum += rec.ProcessTime
			procN++
		}
		if rec.FinalBytes > 0 && rec.FinalBytes < rec.Source.SizeBytes {
			r.BytesSaved += rec.Source.SizeBytes - rec.FinalBytes
			ratioSum += rec.Ratio()
			ratioN++
		}
	}
	if procN > 0 {
		r.AvgProcess = procSum / time.Duration(procN)
	}
	if ratioN > 0 {
		r.AvgRatio = ratioSum / float64(ratioN)
	}
	return r
}

// Format renders the /stats reply. snap may be nil; ceiling 0 hides it.
func Format(r Report, snap *metrics.Snapshot, ceiling int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Compression stats (last %s)\n\n", humanPeriod(r.Period))
	if r.Total == 0 {
		b.WriteString("No jobs in this period.\n")
	} else {
		fmt.Fprintf(&b, "Jobs: %d (✅ %d, ❌ %d)\n", r.Total, r.Successful, r.Failed)
		fmt.Fprintf(&b, "Success rate: %.1f%%\n", r.SuccessRate())
		fmt.Fprintf(&b, "Encode attempts: %d (timed out: %d)\n", r.Attempts, r.TimedOut)
		if r.AvgProcess > 0 {
			fmt.Fprintf(&b, "Avg processing time: %s\n", r.AvgProcess.Round(100*time.Millisecond))
		}
		if r.AvgRatio > 0 {
			fmt.Fprintf(&b, "Avg size ratio: %.0f%%\n", r.AvgRatio*100)
		}
		fmt.Fprintf(&b, "Space saved: %.1f MB\n", float64(r.BytesSaved)/video.MB)

		writeCounts(&b, "Outcomes", toStrings(r.Outcomes))
		writeCounts(&b, "Abort causes", toStrings(r.Causes))
		writeCounts(&b, "Platforms", r.Platforms)
	}

	b.WriteString("\n🖥 System\n")
	switch {
	case snap == nil:
		b.WriteString("No snapshot yet.\n")
	case snap.Unknown:
		fmt.Fprintf(&b, "Disk: unknown\nActive jobs: %d", snap.ActiveJobs)
	default:
		fmt.Fprintf(&b, "Disk free: %.1f GB (%.0f%% used)\nActive jobs: %d",
			float64(snap.FreeDiskBytes)/(1<<30), snap.DiskUsedPercent(), snap.ActiveJobs)
	}
	if snap != nil {
		if ceiling > 0 {
			fmt.Fprintf(&b, "/%d", ceiling)
		}
		fmt.Fprintf(&b, "\nAs of: %s\n", snap.TakenAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func toStrings[K ~string](m map[K]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

func writeCounts(b *strings.Builder, title string, m map[string]int) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	fmt.Fprintf(b, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %d\n", k, m[k])
	}
}

func humanPeriod(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
