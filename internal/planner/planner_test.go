package planner

import (
	"testing"

	"github.com/wapuda/clipsaver/internal/video"
)

func res(w, h int) video.Resolution { return video.Resolution{Width: w, Height: h} }

func TestLadder(t *testing.T) {
	cases := []struct {
		name  string
		src   video.Resolution
		floor video.Resolution
		want  []video.Resolution
	}{
		{"hd to 480", res(1280, 720), res(854, 480), []video.Resolution{res(1280, 720), res(854, 480)}},
		{"fullhd to 720", res(1920, 1080), res(1280, 720), []video.Resolution{res(1920, 1080), res(1280, 720)}},
		{"4k halves then floor", res(3840, 2160), res(1280, 720), []video.Resolution{res(3840, 2160), res(1920, 1080), res(1280, 720)}},
		{"portrait", res(1080, 1920), res(1280, 720), []video.Resolution{res(1080, 1920), res(720, 1280)}},
		{"below floor stays native", res(640, 360), res(1280, 720), []video.Resolution{res(640, 360)}},
		{"odd dims rounded down", res(641, 361), res(1280, 720), []video.Resolution{res(640, 360)}},
		{"at floor", res(1280, 720), res(1280, 720), []video.Resolution{res(1280, 720)}},
		{"invalid", res(0, 720), res(1280, 720), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Ladder(tc.src, tc.floor)
			if len(got) != len(tc.want) {
				t.Fatalf("Ladder(%s) = %v, want %v", tc.src, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("Ladder(%s)[%d] = %s, want %s", tc.src, i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestPlanStaircaseOrder(t *testing.T) {
	target := video.Target{
		MaxAttempts:   10,
		QualityLevels: []int{28, 32, 36},
		MaxResolution: res(854, 480),
	}
	got := Plan(res(1280, 720), target)
	want := []video.Candidate{
		{Quality: 28, Resolution: res(1280, 720)},
		{Quality: 32, Resolution: res(1280, 720)},
		{Quality: 32, Resolution: res(854, 480)},
		{Quality: 36, Resolution: res(854, 480)},
	}
	if len(got) != len(want) {
		t.Fatalf("Plan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Plan[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPlanRespectsMaxAttempts(t *testing.T) {
	for n := 0; n <= 6; n++ {
		target := video.Target{MaxAttempts: n, QualityLevels: []int{20, 24, 28, 32, 36}, MaxResolution: res(640, 360)}
		got := Plan(res(3840, 2160), target)
		if len(got) > n {
			t.Fatalf("max attempts %d: got %d candidates", n, len(got))
		}
		if n > 0 && len(got) == 0 {
			t.Fatalf("max attempts %d: got no candidates", n)
		}
	}
}

func TestPlanInvariants(t *testing.T) {
	sources := []video.Resolution{res(3840, 2160), res(1920, 1080), res(1080, 1920), res(720, 720), res(426, 240)}
	target := video.Target{
		MaxAttempts:   20,
		QualityLevels: []int{28, 28, 32, 36, 32},
		MaxResolution: res(854, 480),
	}
	for _, src := range sources {
		plan := Plan(src, target)
		seen := map[video.Candidate]bool{}
		for i, c := range plan {
			if seen[c] {
				t.Fatalf("%s: duplicate candidate %s", src, c)
			}
			seen[c] = true
			if c.Width > src.Width || c.Height > src.Height {
				t.Fatalf("%s: candidate %s upscales", src, c)
			}
			if c.Width%2 != 0 || c.Height%2 != 0 {
				t.Fatalf("%s: candidate %s has odd dimensions", src, c)
			}
			if src.Short() > 480 && c.Short() < 480 {
				t.Fatalf("%s: candidate %s below floor", src, c)
			}
			if i > 0 {
				prev := plan[i-1]
				if c.Quality < prev.Quality || c.Short() > prev.Short() {
					t.Fatalf("%s: %s is weaker than previous %s", src, c, prev)
				}
			}
		}
	}
}

func TestPlanEmptyInputs(t *testing.T) {
	if got := Plan(res(1280, 720), video.Target{MaxAttempts: 3, MaxResolution: res(854, 480)}); got != nil {
		t.Fatalf("no quality levels: got %v", got)
	}
	if got := Plan(res(0, 0), video.Target{MaxAttempts: 3, QualityLevels: []int{28}}); got != nil {
		t.Fatalf("no source dims: got %v", got)
	}
}

func TestSequence(t *testing.T) {
	target := video.Target{MaxAttempts: 2, QualityLevels: []int{28, 32, 36}, MaxResolution: res(1280, 720)}
	seq := NewSequence(res(1920, 1080), target)
	if seq.Len() != 2 {
		t.Fatalf("Len = %d, want 2", seq.Len())
	}
	for i := 0; i < 2; i++ {
		if _, ok := seq.Next(); !ok {
			t.Fatalf("Next %d: exhausted early", i)
		}
	}
	if _, ok := seq.Next(); ok {
		t.Fatalf("Next after max attempts should be exhausted")
	}
	if seq.Remaining() != 0 {
		t.Fatalf("Remaining = %d", seq.Remaining())
	}
}
