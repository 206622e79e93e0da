package pyramid

import (
	"log"
	"sync"

	"github.com/pspoerri/wsi2dcm/internal/wsisource"
	"github.com/suyashkumar/dicom"
)

// levelPlan is one output level's immutable geometry, decided entirely
// before any tile work begins.
type levelPlan struct {
	index       int
	downsample  float64
	width       int
	height      int
	tileW, tileH int
	tilesAcross int
	tilesDown   int
	sourceLevel int  // best base level in the Pyramid Source
	progressive bool // read from previous output level instead of the source
}

// Scheduler plans the level list and drives per-level tile production,
// batching, and instance emission.
type Scheduler struct {
	cfg       Config
	source    wsisource.Source
	identity  SeriesIdentity
	outDir    string
	extraTags []*dicom.Element
}

// NewScheduler builds a Scheduler bound to an opened Source and the
// identifying metadata for the whole job. extraTags are merged into
// every emitted instance last, overriding any core tag they name.
func NewScheduler(cfg Config, source wsisource.Source, identity SeriesIdentity, extraTags []*dicom.Element) *Scheduler {
	return &Scheduler{cfg: cfg, source: source, identity: identity, outDir: cfg.OutputDir, extraTags: extraTags}
}

// Run executes the full plan: every level, in order, with a strict
// barrier between levels enforced by only starting level ℓ once level
// ℓ-1's Region Reader (if needed) is fully populated.
func (s *Scheduler) Run() error {
	plans := s.planLevels()
	if s.cfg.Debug {
		log.Printf("planned %d levels", len(plans))
	}

	var prevReader *RegionReader
	for _, plan := range plans {
		if plan.index < s.startLevel() || (s.stopLevel() >= 0 && plan.index > s.stopLevel()) {
			continue
		}
		if s.cfg.Debug {
			log.Printf("level %d: %dx%d downsample=%.3f progressive=%v", plan.index, plan.width, plan.height, plan.downsample, plan.progressive)
		}

		builders, err := s.runLevel(plan, prevReader)
		if err != nil {
			return err
		}

		reader := &RegionReader{downsample: plan.downsample}
		if err := reader.setInstances(builders); err != nil {
			return err
		}
		prevReader = reader
	}
	return nil
}

func (s *Scheduler) startLevel() int {
	if s.cfg.StartLevel < 0 {
		return 0
	}
	return s.cfg.StartLevel
}

func (s *Scheduler) stopLevel() int {
	return s.cfg.StopLevel
}

// planLevels decides the output level list: retile_levels vs. mirroring
// the source pyramid, best-base-level selection, floor correction,
// crop-to-uniform-spacing, and single-frame truncation.
func (s *Scheduler) planLevels() []levelPlan {
	tw, th := s.cfg.FrameWidth, s.cfg.FrameHeight
	srcW, srcH := s.source.LevelDimensions(0)

	count := s.cfg.RetileLevels
	mirrorSource := count == 0
	if mirrorSource {
		count = s.source.LevelCount()
	}

	var plans []levelPlan
	prevDownsample := 0.0
	for l := 0; l < count; l++ {
		var downsample float64
		if mirrorSource {
			downsample = s.source.LevelDownsample(l)
		} else if l < len(s.cfg.Downsamples) && s.cfg.Downsamples[l] > 0 {
			downsample = s.cfg.Downsamples[l]
		} else {
			downsample = float64(int64(1) << uint(l))
		}
		if downsample <= prevDownsample {
			downsample = prevDownsample * 2
			if downsample == 0 {
				downsample = 1
			}
		}

		w := float64(srcW) / downsample
		h := float64(srcH) / downsample
		width, height := int(w), int(h)
		if s.cfg.FloorCorrectDownsampling {
			width = int(w)
			height = int(h)
		} else {
			width = roundToInt(w)
			height = roundToInt(h)
		}

		if s.cfg.CropToUniformPixelSpacing {
			width = (width / tw) * tw
			height = (height / th) * th
			if width == 0 {
				width = tw
			}
			if height == 0 {
				height = th
			}
		}

		sourceLevel := s.source.BestLevelForDownsample(downsample)
		progressive := s.decideProgressive(l, downsample, plans, sourceLevel)

		plans = append(plans, levelPlan{
			index:       l,
			downsample:  downsample,
			width:       width,
			height:      height,
			tileW:       tw,
			tileH:       th,
			tilesAcross: ceilDiv(width, tw),
			tilesDown:   ceilDiv(height, th),
			sourceLevel: sourceLevel,
			progressive: progressive,
		})
		prevDownsample = downsample

		if width <= tw && height <= th && s.cfg.StopDownsamplingAtSingleFrame {
			break
		}
	}
	return plans
}

func roundToInt(v float64) int {
	return int(v + 0.5)
}

// decideProgressive decides whether to read this level's pixels back
// from the previous output level's Frames instead of the source: use
// them when the ratio to it is small
// and it was produced at higher magnification than the best base level
// the source would otherwise offer.
func (s *Scheduler) decideProgressive(l int, downsample float64, prior []levelPlan, sourceLevel int) bool {
	if !s.cfg.ProgressiveDownsample || l == 0 || len(prior) == 0 {
		return false
	}
	prev := prior[len(prior)-1]
	ratio := downsample / prev.downsample
	if ratio > 2.0 {
		return false
	}
	return prev.sourceLevel < sourceLevel || prev.progressive
}

// runLevel materializes the pixel source for this level (the Pyramid
// Source directly, or a Region Reader over the previous level), submits
// every tile's slice() to the worker pool in row-major order, waits for
// every slice to finish, and then cuts batches at batch_limit and builds
// their instances one after another on the calling goroutine; instance
// building does not overlap with tile slicing.
func (s *Scheduler) runLevel(plan levelPlan, prevReader *RegionReader) ([]*builtInstance, error) {
	encoder, err := NewFrameEncoder(s.cfg.Codec, s.cfg.Quality)
	if err != nil {
		return nil, err
	}

	resampler := ResamplerNearest
	if s.cfg.UseBilinear {
		resampler = ResamplerBilinear
	}
	if s.cfg.OpenCVMethod != OpenCVNone {
		resampler = ResamplerOpenCV
	}

	totalTiles := plan.tilesAcross * plan.tilesDown

	threads := s.cfg.Threads
	if threads <= 0 {
		threads = 1
	}

	type sliceJob struct {
		frame *Frame
		row   int
		col   int
	}

	jobs := make(chan sliceJob, threads*2)
	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	reportErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job.frame.slice(); err != nil {
					reportErr(err)
				}
			}
		}()
	}

	frames := make([]*Frame, 0, totalTiles)

	for row := 0; row < plan.tilesDown; row++ {
		for col := 0; col < plan.tilesAcross; col++ {
			x := col * plan.tileW
			y := row * plan.tileH
			dstW, dstH := plan.tileW, plan.tileH

			f := s.buildFrame(plan, prevReader, x, y, dstW, dstH, resampler, encoder)
			frames = append(frames, f)
			jobs <- sliceJob{frame: f, row: row, col: col}
		}
	}
	close(jobs)
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}

	return s.cutBatches(plan, frames)
}

// buildFrame constructs the Frame for one tile, reading from the
// Pyramid Source at this level's chosen base level (scaling the
// requested rectangle by the downsample) or from the previous level's
// Region Reader when progressive.
func (s *Scheduler) buildFrame(plan levelPlan, prevReader *RegionReader, x, y, dstW, dstH int, resampler Resampler, encoder FrameEncoder) *Frame {
	row := y / plan.tileH
	col := x / plan.tileW

	if plan.progressive && prevReader != nil {
		// decideProgressive only allows this path when the ratio to the
		// previous level is <= 2, but that ratio need not be exactly 2
		// (e.g. caller-supplied downsamples like [1, 1.5]), so scale by
		// the actual ratio rather than assuming a doubling.
		ratio := plan.downsample / prevReader.downsample
		srcX := int(float64(x) * ratio)
		srcY := int(float64(y) * ratio)
		srcW := int(float64(dstW) * ratio)
		srcH := int(float64(dstH) * ratio)
		if srcW <= 0 {
			srcW = dstW
		}
		if srcH <= 0 {
			srcH = dstH
		}
		return newFrame(plan.index, row, col, prevReader, srcX, srcY, srcW, srcH, dstW, dstH, resampler, s.cfg.OpenCVMethod, encoder)
	}

	baseDownsample := s.source.LevelDownsample(plan.sourceLevel)
	scale := plan.downsample / baseDownsample
	srcX := int(float64(x) * scale)
	srcY := int(float64(y) * scale)
	srcW := int(float64(dstW) * scale)
	srcH := int(float64(dstH) * scale)
	if srcW <= 0 {
		srcW = dstW
	}
	if srcH <= 0 {
		srcH = dstH
	}

	return newSourceFrame(plan.index, row, col, s.source, plan.sourceLevel, srcX, srcY, srcW, srcH, dstW, dstH, resampler, s.cfg.OpenCVMethod, encoder)
}

// cutBatches groups the level's finished Frames into batches bounded by
// batch_limit (or one batch for the whole level when unlimited), handing
// each to an Instance Builder in submission order.
func (s *Scheduler) cutBatches(plan levelPlan, frames []*Frame) ([]*builtInstance, error) {
	limit := s.cfg.BatchLimit
	if limit <= 0 {
		limit = len(frames)
	}
	if limit == 0 {
		limit = 1
	}

	encoder, err := NewFrameEncoder(s.cfg.Codec, s.cfg.Quality)
	if err != nil {
		return nil, err
	}

	var builders []*builtInstance
	offset := 0
	ordinal := 0
	for offset < len(frames) {
		end := offset + limit
		if end > len(frames) {
			end = len(frames)
		}
		batch := frames[offset:end]

		startRow := offset / plan.tilesAcross
		startCol := offset % plan.tilesAcross

		ib := &InstanceBuilder{
			identity:  s.identity,
			level:     plan.index,
			layout:    s.cfg.Layout(),
			imgW:      plan.width,
			imgH:      plan.height,
			tileW:     plan.tileW,
			tileH:     plan.tileH,
			encoder:   encoder,
			extraTags: s.extraTags,
		}
		wmm, hmm := s.source.PhysicalSizeMM()
		ib.wmm, ib.hmm = wmm, hmm

		batchCount := ceilDiv(len(frames), limit)
		built, err := ib.Build(s.outDir, batch, ordinal, batchCount, offset, startRow, startCol, len(frames))
		if err != nil {
			return nil, err
		}
		builders = append(builders, built)

		offset = end
		ordinal++
	}
	return builders, nil
}

// Layout reports the configured DENSE/SPARSE tiling layout.
func (c Config) Layout() Layout {
	if c.Tiled {
		return LayoutDense
	}
	return LayoutSparse
}
