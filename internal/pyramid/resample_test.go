package pyramid

import "testing"

func solidABGR(w, h int, a, b, g, r byte) []byte {
	out := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		out[i*4] = a
		out[i*4+1] = b
		out[i*4+2] = g
		out[i*4+3] = r
	}
	return out
}

func TestResampleNearestIdentity(t *testing.T) {
	src := []byte{10, 20, 30, 40, 50, 60, 70, 80}
	out := resampleNearest(src, 2, 0, 0, 2, 1, 2, 1)
	if len(out) != len(src) {
		t.Fatalf("got %d bytes, want %d", len(out), len(src))
	}
	for i := range src {
		if out[i] != src[i] {
			t.Fatalf("byte %d: got %d want %d", i, out[i], src[i])
		}
	}
}

func TestResampleNearestDownsampleHalves(t *testing.T) {
	// 4x4 solid image downsampled to 2x2 should stay solid.
	src := solidABGR(4, 4, 255, 1, 2, 3)
	out := resampleNearest(src, 4, 0, 0, 4, 4, 2, 2)
	if len(out) != 2*2*4 {
		t.Fatalf("got %d bytes, want 16", len(out))
	}
	for i := 0; i < 4; i++ {
		if out[i*4] != 255 || out[i*4+1] != 1 || out[i*4+2] != 2 || out[i*4+3] != 3 {
			t.Fatalf("pixel %d: got %v", i, out[i*4:i*4+4])
		}
	}
}

func TestResampleBilinearSolidColorPreserved(t *testing.T) {
	src := solidABGR(4, 4, 255, 100, 150, 200)
	out := resampleBilinear(src, 4, 0, 0, 4, 4, 2, 2)
	for i := 0; i < 4; i++ {
		a, b, g, r := out[i*4], out[i*4+1], out[i*4+2], out[i*4+3]
		if a != 255 {
			t.Fatalf("pixel %d alpha: got %d want 255", i, a)
		}
		if b != 100 || g != 150 || r != 200 {
			t.Fatalf("pixel %d color: got (%d,%d,%d) want (100,150,200)", i, b, g, r)
		}
	}
}

func TestResampleBilinearTransparentPixelsSkipped(t *testing.T) {
	// Half the source is fully transparent; the opaque half's color
	// should dominate the downsampled result rather than being diluted.
	src := make([]byte, 4*4*4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			off := (y*4 + x) * 4
			if x < 2 {
				// transparent
				src[off] = 0
			} else {
				src[off] = 255
				src[off+1] = 10
				src[off+2] = 20
				src[off+3] = 30
			}
		}
	}
	out := resampleBilinear(src, 4, 0, 0, 4, 4, 2, 2)
	// Right column of the output should be fully opaque with the source color.
	for _, i := range []int{1, 3} {
		a, b, g, r := out[i*4], out[i*4+1], out[i*4+2], out[i*4+3]
		if a != 255 || b != 10 || g != 20 || r != 30 {
			t.Fatalf("pixel %d: got (%d,%d,%d,%d)", i, a, b, g, r)
		}
	}
}

func TestResampleOpenCVNearestMatchesResampleNearest(t *testing.T) {
	src := solidABGR(4, 4, 255, 5, 6, 7)
	want := resampleNearest(src, 4, 0, 0, 4, 4, 2, 2)
	got := resampleOpenCV(src, 4, 0, 0, 4, 4, 2, 2, OpenCVNearest)
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d want %d", i, got[i], want[i])
		}
	}
}

func TestResampleOpenCVCubicSolidColorPreserved(t *testing.T) {
	src := solidABGR(8, 8, 255, 11, 22, 33)
	out := resampleOpenCV(src, 8, 0, 0, 8, 8, 3, 3, OpenCVCubic)
	for i := 0; i < 9; i++ {
		b, g, r := out[i*4+1], out[i*4+2], out[i*4+3]
		if b != 11 || g != 22 || r != 33 {
			t.Fatalf("pixel %d: got (%d,%d,%d)", i, b, g, r)
		}
	}
}

func TestClampByte(t *testing.T) {
	cases := []struct {
		in   float64
		want byte
	}{
		{-10, 0},
		{0, 0},
		{127.6, 128},
		{255, 255},
		{300, 255},
	}
	for _, c := range cases {
		if got := clampByte(c.in); got != c.want {
			t.Errorf("clampByte(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestOverlap1D(t *testing.T) {
	cases := []struct {
		a0, a1, b0, b1 float64
		want           float64
	}{
		{0, 1, 0, 1, 1},
		{0, 1, 1, 2, 0},
		{0, 2, 1, 3, 1},
		{0, 1, 0.5, 0.75, 0.25},
	}
	for _, c := range cases {
		if got := overlap1D(c.a0, c.a1, c.b0, c.b1); got != c.want {
			t.Errorf("overlap1D(%v,%v,%v,%v) = %v, want %v", c.a0, c.a1, c.b0, c.b1, got, c.want)
		}
	}
}
