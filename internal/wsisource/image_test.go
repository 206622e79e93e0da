package wsisource

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeTestPNG(t *testing.T, w, h int, fill color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	path := filepath.Join(t.TempDir(), "fixture.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestOpenImageReadsDimensions(t *testing.T) {
	path := writeTestPNG(t, 8, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	src, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer src.Close()

	if src.LevelCount() != 1 {
		t.Fatalf("LevelCount = %d, want 1", src.LevelCount())
	}
	w, h := src.LevelDimensions(0)
	if w != 8 || h != 4 {
		t.Fatalf("LevelDimensions = %dx%d, want 8x4", w, h)
	}
	if src.LevelDownsample(0) != 1.0 {
		t.Errorf("LevelDownsample(0) = %v, want 1.0", src.LevelDownsample(0))
	}
}

func TestImageSourceReadRegionFull(t *testing.T) {
	path := writeTestPNG(t, 4, 4, color.RGBA{R: 100, G: 150, B: 200, A: 255})
	src, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer src.Close()

	out, err := src.ReadRegion(0, 0, 0, 4, 4)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	for i := 0; i < 16; i++ {
		off := i * 4
		if out[off] != 255 || out[off+1] != 200 || out[off+2] != 150 || out[off+3] != 100 {
			t.Fatalf("pixel %d: got %v", i, out[off:off+4])
		}
	}
}

func TestImageSourceReadRegionOutOfBoundsFillsZero(t *testing.T) {
	path := writeTestPNG(t, 4, 4, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	src, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer src.Close()

	// Read a 4x4 rectangle starting 2 pixels left of the image: the left
	// two columns should be zero-filled, the right two should be opaque.
	out, err := src.ReadRegion(0, -2, 0, 4, 4)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	for y := 0; y < 4; y++ {
		leftOff := (y*4 + 0) * 4
		if out[leftOff] != 0 {
			t.Fatalf("row %d left pixel should be zero-filled, got alpha %d", y, out[leftOff])
		}
		rightOff := (y*4 + 3) * 4
		if out[rightOff] != 255 {
			t.Fatalf("row %d right pixel should be opaque, got %v", y, out[rightOff:rightOff+4])
		}
	}
}

func TestImageSourceReadRegionRejectsNonzeroLevel(t *testing.T) {
	path := writeTestPNG(t, 2, 2, color.RGBA{A: 255})
	src, err := OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer src.Close()

	if _, err := src.ReadRegion(1, 0, 0, 2, 2); err == nil {
		t.Fatal("expected error reading a nonzero level from a single-level source")
	}
}
