package pyramid

import (
	"sync"

	"github.com/pspoerri/wsi2dcm/internal/wsisource"
)

// frameState tracks a Frame's progress through slicing and encoding.
type frameState int

const (
	framePending frameState = iota
	frameRunning
	frameEncoded
	frameEmitted
)

// frameKind tags which resample kernel a Frame runs when its source
// rectangle differs from its output size.
type frameKind int

const (
	kindNearest frameKind = iota
	kindBilinear
	kindOpenCV
)

// sourceKind records which Source variant produced a Frame's pixels,
// independent of which resample kernel it uses. Informational only.
type sourceKind int

const (
	sourceRetiled sourceKind = iota
	sourceDicom
	sourceImage
	sourceTiff
)

// regionProvider supplies the raw ABGR pixels a Frame resamples from,
// abstracting over a direct Source read (building a level straight from
// the input) and a read back across an already-built parent level
// (progressive downsampling).
type regionProvider interface {
	region(x0, y0, w, h int) ([]byte, error)
}

// sourceRegion adapts a wsisource.Source level read to a regionProvider.
type sourceRegion struct {
	source wsisource.Source
	level  int
}

func (s sourceRegion) region(x0, y0, w, h int) ([]byte, error) {
	return s.source.ReadRegion(s.level, x0, y0, w, h)
}

// Frame is one tile of one pyramid level: a lazily-sliced, lazily-encoded
// region, reference-counted so its raw-pixel cache can be dropped the
// moment the last reader (the next pyramid level reading it back down)
// is done with it.
type Frame struct {
	kind   frameKind
	origin sourceKind

	level int
	row   int
	col   int

	// Geometry of the region this frame covers, in the provider's pixel
	// space (srcW, srcH) and the frame's own output size (dstW, dstH).
	srcX, srcY, srcW, srcH int
	dstW, dstH             int

	provider regionProvider
	method   OpenCVMethod
	encoder  FrameEncoder

	mu        sync.Mutex
	state     frameState
	err       error
	cache     *rawCache // transient decoded pixels, kept while leased
	encoded   []byte    // final encoded bytes, once Encoded
	readCount int       // outstanding leases on cache
	cond      *sync.Cond
}

// newSourceFrame constructs a Frame that reads directly from a Source
// level (retiling, or the base level of a mirrored pyramid). Its origin
// records which source variant produced it, purely for diagnostics; the
// resample kernel is still chosen by resampler.
func newSourceFrame(level, row, col int, source wsisource.Source, sourceLevel int, srcX, srcY, srcW, srcH, dstW, dstH int, resampler Resampler, method OpenCVMethod, encoder FrameEncoder) *Frame {
	f := newFrame(level, row, col, sourceRegion{source: source, level: sourceLevel}, srcX, srcY, srcW, srcH, dstW, dstH, resampler, method, encoder)
	switch source.(type) {
	case *wsisource.DICOMSource:
		f.origin = sourceDicom
	case *wsisource.ImageSource:
		f.origin = sourceImage
	case *wsisource.TIFFSource:
		f.origin = sourceTiff
	}
	return f
}

// newFrame constructs a Frame that resamples from an arbitrary
// regionProvider, letting a parent pyramid level stand in for the
// original Source during progressive downsampling.
func newFrame(level, row, col int, provider regionProvider, srcX, srcY, srcW, srcH, dstW, dstH int, resampler Resampler, method OpenCVMethod, encoder FrameEncoder) *Frame {
	kind := kindNearest
	switch resampler {
	case ResamplerBilinear:
		kind = kindBilinear
	case ResamplerOpenCV:
		kind = kindOpenCV
	}
	f := &Frame{
		kind:     kind,
		level:    level,
		row:      row,
		col:      col,
		srcX:     srcX,
		srcY:     srcY,
		srcW:     srcW,
		srcH:     srcH,
		dstW:     dstW,
		dstH:     dstH,
		provider: provider,
		method:   method,
		encoder:  encoder,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// slice decodes and resamples this frame's pixels, encodes them, and
// populates encoded. Safe to call from multiple goroutines; only the
// first call does work, the rest block until it finishes.
func (f *Frame) slice() error {
	f.mu.Lock()
	for f.state == frameRunning {
		f.cond.Wait()
	}
	if f.state == frameEncoded || f.state == frameEmitted {
		f.mu.Unlock()
		return f.err
	}
	f.state = frameRunning
	f.mu.Unlock()

	abgr, err := f.readPixels()
	var encoded []byte
	if err == nil {
		encoded, err = f.encoder.Encode(abgr, f.dstW, f.dstH)
	}
	// The encoder copies whatever it needs out of abgr before returning,
	// so the buffer can go back to the pool immediately.
	if f.srcW != f.dstW || f.srcH != f.dstH {
		putABGRBuffer(abgr)
	}

	f.mu.Lock()
	f.state = frameEncoded
	f.err = err
	f.encoded = encoded
	f.cond.Broadcast()
	f.mu.Unlock()
	return err
}

// readPixels reads the source region from this frame's provider and, if
// its size differs from the frame's output size, resamples it down with
// the configured kernel.
func (f *Frame) readPixels() ([]byte, error) {
	region, err := f.provider.region(f.srcX, f.srcY, f.srcW, f.srcH)
	if err != nil {
		return nil, &SourceReadError{Level: f.level, Err: err}
	}
	if f.srcW == f.dstW && f.srcH == f.dstH {
		return region, nil
	}
	return f.resample(region, f.srcW), nil
}

func (f *Frame) resample(region []byte, rowW int) []byte {
	switch f.kind {
	case kindBilinear:
		return resampleBilinear(region, rowW, 0, 0, f.srcW, f.srcH, f.dstW, f.dstH)
	case kindOpenCV:
		return resampleOpenCV(region, rowW, 0, 0, f.srcW, f.srcH, f.dstW, f.dstH, f.method)
	default:
		return resampleNearest(region, rowW, 0, 0, f.srcW, f.srcH, f.dstW, f.dstH)
	}
}

// encodedBytes waits for slicing to finish (if not already) and returns
// the final encoded bytes.
func (f *Frame) encodedBytes() ([]byte, error) {
	if err := f.slice(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encoded, f.err
}

// markEmitted releases the encoded buffer once the instance builder has
// copied it into a pixel-data element, so it isn't held twice.
func (f *Frame) markEmitted() {
	f.mu.Lock()
	f.state = frameEmitted
	f.encoded = nil
	f.mu.Unlock()
}

// acquireRawCache decodes (if necessary) and leases this frame's raw
// ABGR pixels for a parent level to downsample from, incrementing its
// read counter. Callers must call releaseRawCache when done.
func (f *Frame) acquireRawCache() ([]byte, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache == nil {
		abgr, err := f.readPixels()
		if err != nil {
			return nil, 0, 0, err
		}
		cache, err := newRawCache(abgr, f.dstW, f.dstH)
		if err != nil {
			return nil, 0, 0, err
		}
		f.cache = cache
	}
	f.readCount++
	raw, err := f.cache.decode()
	if err != nil {
		return nil, 0, 0, err
	}
	return raw, f.cache.width, f.cache.height, nil
}

// releaseRawCache drops this frame's read lease. Once the last lease is
// released the whole cache, compressed bytes included, is discarded; a
// later acquireRawCache reads the pixels from the provider and
// compresses them again.
func (f *Frame) releaseRawCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readCount > 0 {
		f.readCount--
	}
	if f.readCount == 0 {
		f.cache = nil
	}
}
