package pyramid

import (
	"testing"

	"github.com/pspoerri/wsi2dcm/internal/wsisource"
)

// fakeSource is a minimal wsisource.Source stand-in for plan tests: a
// power-of-two pyramid with N levels over a fixed base size.
type fakeSource struct {
	baseW, baseH int
	levels       int
}

func (f *fakeSource) LevelCount() int { return f.levels }

func (f *fakeSource) LevelDimensions(l int) (int, int) {
	d := f.LevelDownsample(l)
	return int(float64(f.baseW) / d), int(float64(f.baseH) / d)
}

func (f *fakeSource) LevelDownsample(l int) float64 {
	return float64(int64(1) << uint(l))
}

func (f *fakeSource) BestLevelForDownsample(downsample float64) int {
	best := 0
	for l := 0; l < f.levels; l++ {
		if f.LevelDownsample(l) <= downsample {
			best = l
		}
	}
	return best
}

func (f *fakeSource) ReadRegion(baseLevel, x0, y0, w, h int) ([]byte, error) {
	return solidABGR(w, h, 255, 1, 2, 3), nil
}

func (f *fakeSource) PhysicalSizeMM() (float64, float64) { return 10, 10 }
func (f *fakeSource) Photometric() wsisource.Photometric  { return wsisource.PhotometricRGB }
func (f *fakeSource) Close() error                        { return nil }

func TestCeilDiv(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{10, 5, 2},
		{11, 5, 3},
		{0, 5, 0},
		{5, 0, 0},
	}
	for _, c := range cases {
		if got := ceilDiv(c.a, c.b); got != c.want {
			t.Errorf("ceilDiv(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestRoundToInt(t *testing.T) {
	cases := []struct {
		in   float64
		want int
	}{
		{1.4, 1},
		{1.5, 2},
		{1.9, 2},
		{0.4, 0},
	}
	for _, c := range cases {
		if got := roundToInt(c.in); got != c.want {
			t.Errorf("roundToInt(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestPlanLevelsMirrorsSourceByDefault(t *testing.T) {
	src := &fakeSource{baseW: 2000, baseH: 1000, levels: 3}
	s := &Scheduler{cfg: DefaultConfig(), source: src}
	s.cfg.RetileLevels = 0

	plans := s.planLevels()
	if len(plans) != 3 {
		t.Fatalf("got %d levels, want 3", len(plans))
	}
	for l, p := range plans {
		wantDownsample := float64(int64(1) << uint(l))
		if p.downsample != wantDownsample {
			t.Errorf("level %d downsample = %v, want %v", l, p.downsample, wantDownsample)
		}
	}
	if plans[0].width != 2000 || plans[0].height != 1000 {
		t.Errorf("level 0 dims = %dx%d, want 2000x1000", plans[0].width, plans[0].height)
	}
}

func TestPlanLevelsRetileLevelsOverridesCount(t *testing.T) {
	src := &fakeSource{baseW: 2000, baseH: 1000, levels: 3}
	s := &Scheduler{cfg: DefaultConfig(), source: src}
	s.cfg.RetileLevels = 2

	plans := s.planLevels()
	if len(plans) != 2 {
		t.Fatalf("got %d levels, want 2", len(plans))
	}
}

func TestPlanLevelsDownsamplesStrictlyIncrease(t *testing.T) {
	src := &fakeSource{baseW: 4096, baseH: 4096, levels: 1}
	s := &Scheduler{cfg: DefaultConfig(), source: src}
	s.cfg.RetileLevels = 5

	plans := s.planLevels()
	for i := 1; i < len(plans); i++ {
		if plans[i].downsample <= plans[i-1].downsample {
			t.Fatalf("level %d downsample %v did not increase over level %d's %v",
				i, plans[i].downsample, i-1, plans[i-1].downsample)
		}
	}
}

func TestPlanLevelsStopsAtSingleFrame(t *testing.T) {
	src := &fakeSource{baseW: 1000, baseH: 1000, levels: 1}
	s := &Scheduler{cfg: DefaultConfig(), source: src}
	s.cfg.RetileLevels = 10
	s.cfg.StopDownsamplingAtSingleFrame = true
	s.cfg.FrameWidth, s.cfg.FrameHeight = 500, 500

	plans := s.planLevels()
	if len(plans) >= 10 {
		t.Fatalf("got %d levels, expected truncation well before 10", len(plans))
	}
	last := plans[len(plans)-1]
	if last.width > 500 || last.height > 500 {
		t.Fatalf("last planned level is %dx%d, want the single-frame level included, not skipped", last.width, last.height)
	}
}

func TestDecideProgressiveRequiresFlagAndPriorLevel(t *testing.T) {
	src := &fakeSource{baseW: 1000, baseH: 1000, levels: 4}
	s := &Scheduler{cfg: DefaultConfig(), source: src}

	if s.decideProgressive(0, 2, nil, 0) {
		t.Error("level 0 should never be progressive")
	}

	s.cfg.ProgressiveDownsample = true
	if s.decideProgressive(1, 2, nil, 0) {
		t.Error("should be false with no prior levels")
	}
}

func TestDecideProgressiveRejectsLargeRatio(t *testing.T) {
	src := &fakeSource{baseW: 1000, baseH: 1000, levels: 4}
	s := &Scheduler{cfg: DefaultConfig(), source: src}
	s.cfg.ProgressiveDownsample = true

	prior := []levelPlan{{index: 0, downsample: 1, sourceLevel: 0}}
	if s.decideProgressive(1, 8, prior, 3) {
		t.Error("ratio of 8 should not be eligible for progressive downsampling")
	}
}

func TestLayoutMethod(t *testing.T) {
	if (Config{Tiled: true}).Layout() != LayoutDense {
		t.Error("Tiled config should report LayoutDense")
	}
}
