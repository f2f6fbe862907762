// Package planner decides which encodes to try, in which order. It does no
// I/O; everything here is a pure function of source size and target.
package planner

import (
	"math"

	"github.com/wapuda/clipsaver/internal/video"
)

type step int

const (
	stepNone step = iota
	stepQuality
	stepResolution
)

// Ladder returns the downscale rungs for src: the (even-sized) source first,
// then successive halvings of the short side, ending at the floor given by
// the short side of floor. Sources at or below the floor get a single rung
// at native size. Aspect ratio is kept and nothing is ever upscaled.
func Ladder(src, floor video.Resolution) []video.Resolution {
	if src.Width <= 0 || src.Height <= 0 {
		return nil
	}
	first := video.Resolution{Width: evenDown(src.Width), Height: evenDown(src.Height)}
	if first.Width < 2 || first.Height < 2 {
		first = src
	}
	rungs := []video.Resolution{first}

	floorShort := floor.Short()
	if floorShort <= 0 || first.Short() <= floorShort {
		return rungs
	}

	cur := first
	for {
		next := evenUp(cur.Short() / 2)
		if next <= floorShort {
			if r := scaleToShort(src, evenUp(floorShort)); r.Short() < cur.Short() {
				rungs = append(rungs, r)
			}
			return rungs
		}
		cur = scaleToShort(src, next)
		rungs = append(rungs, cur)
	}
}

// Plan returns the candidates for one job, at most target.MaxAttempts long.
//
// Candidates walk the quality x resolution grid as a staircase: raise the
// quality level, then step down one rung, and so on, continuing along the
// remaining axis once the other runs out. Each candidate is at least as
// aggressive as every earlier one on both axes, so once an earlier one came
// out too large nothing that it dominates is tried again. No tuple repeats.
func Plan(src video.Resolution, target video.Target) []video.Candidate {
	qs := uniqueInts(target.QualityLevels)
	rungs := Ladder(src, target.MaxResolution)
	if len(qs) == 0 || len(rungs) == 0 || target.MaxAttempts <= 0 {
		return nil
	}

	qi, ri := 0, 0
	out := []video.Candidate{{Quality: qs[0], Resolution: rungs[0]}}
	last := stepNone
	for len(out) < target.MaxAttempts {
		canQ, canR := qi+1 < len(qs), ri+1 < len(rungs)
		switch {
		case canQ && (last != stepQuality || !canR):
			qi++
			last = stepQuality
		case canR:
			ri++
			last = stepResolution
		default:
			return out
		}
		out = append(out, video.Candidate{Quality: qs[qi], Resolution: rungs[ri]})
	}
	return out
}

// Sequence hands out planned candidates one at a time. An exhausted
// sequence keeps returning false.
type Sequence struct {
	cands []video.Candidate
	pos   int
}

func NewSequence(src video.Resolution, target video.Target) *Sequence {
	return &Sequence{cands: Plan(src, target)}
}

func (s *Sequence) Next() (video.Candidate, bool) {
	if s.pos >= len(s.cands) {
		return video.Candidate{}, false
	}
	c := s.cands[s.pos]
	s.pos++
	return c, true
}

func (s *Sequence) Len() int       { return len(s.cands) }
func (s *Sequence) Remaining() int { return len(s.cands) - s.pos }

func scaleToShort(src video.Resolution, short int) video.Resolution {
	landscape := src.Width >= src.Height
	long, orig := src.Width, src.Height
	if !landscape {
		long, orig = src.Height, src.Width
	}
	l := evenNearest(float64(short) * float64(long) / float64(orig))
	if landscape {
		return video.Resolution{Width: l, Height: short}
	}
	return video.Resolution{Width: short, Height: l}
}

func evenDown(n int) int { return n - n%2 }

func evenUp(n int) int { return n + n%2 }

func evenNearest(x float64) int { return int(math.Round(x/2)) * 2 }

func uniqueInts(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
