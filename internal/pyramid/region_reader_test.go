package pyramid

import "testing"

// makeTestInstance builds a builtInstance with n pending (not yet sliced)
// Frames laid out starting at (startRow, startCol) in a tilesAcross-wide
// grid, each a uniform color so region() reads are easy to check.
func makeTestInstance(tilesAcross, startRow, startCol, n, tileW, tileH, imgW, imgH int, colors [][4]byte) *builtInstance {
	frames := make([]*Frame, n)
	for i := 0; i < n; i++ {
		c := colors[i%len(colors)]
		p := &countingProvider{a: c[0], b: c[1], g: c[2], r: c[3]}
		frames[i] = newTestFrame(p, tileW, tileH, tileW, tileH, ResamplerNearest)
	}
	return &builtInstance{
		frames:   frames,
		tileW:    tileW,
		tileH:    tileH,
		imgW:     imgW,
		imgH:     imgH,
		startRow: startRow,
		startCol: startCol,
	}
}

func TestRegionReaderSetInstancesRejectsEmpty(t *testing.T) {
	var r RegionReader
	if err := r.setInstances(nil); err == nil {
		t.Fatal("expected error for no instances")
	}
}

func TestRegionReaderSetInstancesRejectsDimensionMismatch(t *testing.T) {
	a := makeTestInstance(2, 0, 0, 4, 2, 2, 4, 4, [][4]byte{{255, 1, 1, 1}})
	b := makeTestInstance(2, 0, 0, 4, 3, 3, 6, 6, [][4]byte{{255, 2, 2, 2}})
	var r RegionReader
	if err := r.setInstances([]*builtInstance{a, b}); err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestRegionReaderOrdersByBatch(t *testing.T) {
	a := makeTestInstance(2, 0, 0, 2, 2, 2, 4, 2, [][4]byte{{255, 1, 1, 1}})
	a.batchOrdinal = 1
	b := makeTestInstance(2, 0, 0, 2, 2, 2, 4, 2, [][4]byte{{255, 2, 2, 2}})
	b.batchOrdinal = 0

	var r RegionReader
	if err := r.setInstances([]*builtInstance{a, b}); err != nil {
		t.Fatalf("setInstances: %v", err)
	}
	if len(r.frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(r.frames))
	}
	// b (ordinal 0) should come first.
	if r.frames[0] != b.frames[0] {
		t.Fatal("frames not sorted by batchOrdinal")
	}
}

func TestRegionReaderRegionReadsAcrossTiles(t *testing.T) {
	// A 4x2 image, 2x2 tiles: left tile red, right tile blue.
	instance := makeTestInstance(2, 0, 0, 2, 2, 2, 4, 2, [][4]byte{
		{255, 0, 0, 200}, // left tile: r=200
		{255, 200, 0, 0}, // right tile: b=200
	})
	var r RegionReader
	if err := r.setInstances([]*builtInstance{instance}); err != nil {
		t.Fatalf("setInstances: %v", err)
	}

	out, err := r.region(0, 0, 4, 2)
	if err != nil {
		t.Fatalf("region: %v", err)
	}
	if len(out) != 4*2*4 {
		t.Fatalf("got %d bytes, want %d", len(out), 4*2*4)
	}
	// Left half (x=0,1) should be the red tile; right half (x=2,3) blue.
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			off := (y*4 + x) * 4
			r := out[off+3]
			b := out[off+1]
			if x < 2 && r != 200 {
				t.Fatalf("pixel (%d,%d): got r=%d, want 200", x, y, r)
			}
			if x >= 2 && b != 200 {
				t.Fatalf("pixel (%d,%d): got b=%d, want 200", x, y, b)
			}
		}
	}
}

func TestRegionReaderFrameIndexOutOfRangeReturnsNegativeOne(t *testing.T) {
	instance := makeTestInstance(2, 0, 0, 2, 2, 2, 4, 2, [][4]byte{{255, 1, 1, 1}})
	var r RegionReader
	if err := r.setInstances([]*builtInstance{instance}); err != nil {
		t.Fatalf("setInstances: %v", err)
	}
	if idx := r.frameIndex(-1, 0); idx != -1 {
		t.Errorf("frameIndex(-1,0) = %d, want -1", idx)
	}
	if idx := r.frameIndex(100, 100); idx != -1 {
		t.Errorf("frameIndex(100,100) = %d, want -1", idx)
	}
}
