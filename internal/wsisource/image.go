package wsisource

import (
	"bufio"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// ImageSource treats a single ordinary image file (PNG, JPEG) as a
// one-level pyramid. It exists for small slide thumbnails and for test
// fixtures that don't need a full tiled TIFF.
type ImageSource struct {
	img image.Image
	w, h int
}

// OpenImage decodes a plain image file with the standard image package
// registry and wraps it as a single-level Source.
func OpenImage(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	b := img.Bounds()
	return &ImageSource{img: img, w: b.Dx(), h: b.Dy()}, nil
}

func (s *ImageSource) Close() error { return nil }

func (s *ImageSource) LevelCount() int { return 1 }

func (s *ImageSource) LevelDimensions(l int) (int, int) {
	return s.w, s.h
}

func (s *ImageSource) LevelDownsample(l int) float64 { return 1.0 }

func (s *ImageSource) BestLevelForDownsample(downsample float64) int { return 0 }

func (s *ImageSource) PhysicalSizeMM() (float64, float64) { return 0, 0 }

func (s *ImageSource) Photometric() Photometric { return PhotometricRGB }

// ReadRegion crops and pads the single level to the requested rectangle,
// returning ABGR. Coordinates outside the image are filled with ABGR=0.
func (s *ImageSource) ReadRegion(baseLevel, x0, y0, w, h int) ([]byte, error) {
	if baseLevel != 0 {
		return nil, fmt.Errorf("invalid level %d: image source has only level 0", baseLevel)
	}

	out := make([]byte, w*h*4)
	fillOutOfBounds(out, w, h, x0, y0, s.w, s.h)

	clipX0 := max(x0, 0)
	clipY0 := max(y0, 0)
	clipX1 := min(x0+w, s.w)
	clipY1 := min(y0+h, s.h)

	b := s.img.Bounds()
	for y := clipY0; y < clipY1; y++ {
		for x := clipX0; x < clipX1; x++ {
			rr, g, bb, a := s.img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := ((y-y0)*w + (x - x0)) * 4
			abgrAt(out, off, uint8(a>>8), uint8(bb>>8), uint8(g>>8), uint8(rr>>8))
		}
	}
	return out, nil
}

var _ Source = (*ImageSource)(nil)
