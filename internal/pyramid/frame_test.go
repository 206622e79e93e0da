package pyramid

import (
	"sync/atomic"
	"testing"
)

// countingProvider serves a solid ABGR region and counts how many times
// region() was invoked, so tests can assert slice() only decodes once.
type countingProvider struct {
	w, h    int
	a, b, g, r byte
	calls   int32
}

func (p *countingProvider) region(x0, y0, w, h int) ([]byte, error) {
	atomic.AddInt32(&p.calls, 1)
	return solidABGR(w, h, p.a, p.b, p.g, p.r), nil
}

func newTestFrame(provider regionProvider, srcW, srcH, dstW, dstH int, resampler Resampler) *Frame {
	return newFrame(0, 0, 0, provider, 0, 0, srcW, srcH, dstW, dstH, resampler, OpenCVNone, &rawEncoder{})
}

func TestFrameSliceProducesEncodedBytes(t *testing.T) {
	p := &countingProvider{a: 255, b: 1, g: 2, r: 3}
	f := newTestFrame(p, 4, 4, 4, 4, ResamplerNearest)

	if err := f.slice(); err != nil {
		t.Fatalf("slice: %v", err)
	}
	data, err := f.encodedBytes()
	if err != nil {
		t.Fatalf("encodedBytes: %v", err)
	}
	if len(data) != 4*4*3 {
		t.Fatalf("got %d bytes, want %d", len(data), 4*4*3)
	}
}

func TestFrameSliceIsIdempotent(t *testing.T) {
	p := &countingProvider{a: 255, b: 9, g: 9, r: 9}
	f := newTestFrame(p, 4, 4, 4, 4, ResamplerNearest)

	for i := 0; i < 5; i++ {
		if err := f.slice(); err != nil {
			t.Fatalf("slice call %d: %v", i, err)
		}
	}
	if atomic.LoadInt32(&p.calls) != 1 {
		t.Fatalf("provider.region called %d times, want 1", p.calls)
	}
}

func TestFrameSliceConcurrentCallersShareResult(t *testing.T) {
	p := &countingProvider{a: 255, b: 1, g: 1, r: 1}
	f := newTestFrame(p, 4, 4, 4, 4, ResamplerNearest)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() { errs <- f.slice() }()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("slice: %v", err)
		}
	}
	if atomic.LoadInt32(&p.calls) != 1 {
		t.Fatalf("provider.region called %d times, want 1", p.calls)
	}
}

func TestFrameStateMachineProgressesToEmitted(t *testing.T) {
	p := &countingProvider{a: 255, b: 1, g: 1, r: 1}
	f := newTestFrame(p, 2, 2, 2, 2, ResamplerNearest)

	f.mu.Lock()
	if f.state != framePending {
		t.Fatalf("new frame state = %v, want framePending", f.state)
	}
	f.mu.Unlock()

	if _, err := f.encodedBytes(); err != nil {
		t.Fatalf("encodedBytes: %v", err)
	}
	f.mu.Lock()
	if f.state != frameEncoded {
		t.Fatalf("state after encodedBytes = %v, want frameEncoded", f.state)
	}
	f.mu.Unlock()

	f.markEmitted()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != frameEmitted {
		t.Fatalf("state after markEmitted = %v, want frameEmitted", f.state)
	}
	if f.encoded != nil {
		t.Fatal("markEmitted should clear the encoded buffer")
	}
}

func TestFrameResampleDispatchByKind(t *testing.T) {
	p := &countingProvider{a: 255, b: 5, g: 6, r: 7}
	f := newTestFrame(p, 4, 4, 2, 2, ResamplerBilinear)
	if f.kind != kindBilinear {
		t.Fatalf("kind = %v, want kindBilinear", f.kind)
	}
	if err := f.slice(); err != nil {
		t.Fatalf("slice: %v", err)
	}
	data, err := f.encodedBytes()
	if err != nil {
		t.Fatalf("encodedBytes: %v", err)
	}
	if len(data) != 2*2*3 {
		t.Fatalf("got %d bytes, want %d", len(data), 2*2*3)
	}
}

func TestFrameAcquireReleaseRawCache(t *testing.T) {
	p := &countingProvider{a: 255, b: 1, g: 1, r: 1}
	f := newTestFrame(p, 4, 4, 4, 4, ResamplerNearest)

	raw, w, h, err := f.acquireRawCache()
	if err != nil {
		t.Fatalf("acquireRawCache: %v", err)
	}
	if w != 4 || h != 4 {
		t.Fatalf("got %dx%d, want 4x4", w, h)
	}
	if len(raw) != 4*4*4 {
		t.Fatalf("got %d bytes, want %d", len(raw), 4*4*4)
	}

	f.mu.Lock()
	if f.readCount != 1 {
		t.Fatalf("readCount = %d, want 1", f.readCount)
	}
	f.mu.Unlock()

	f.releaseRawCache()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readCount != 0 {
		t.Fatalf("readCount after release = %d, want 0", f.readCount)
	}
	if f.cache != nil {
		t.Fatal("cache should be dropped once the last lease releases")
	}
}

func TestFrameReleaseRawCacheNeverGoesNegative(t *testing.T) {
	p := &countingProvider{a: 255, b: 1, g: 1, r: 1}
	f := newTestFrame(p, 2, 2, 2, 2, ResamplerNearest)
	f.releaseRawCache()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readCount != 0 {
		t.Fatalf("readCount = %d, want 0", f.readCount)
	}
}
