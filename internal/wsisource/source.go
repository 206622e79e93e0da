// Package wsisource implements the readers that feed pixels into a pyramid
// build: a native multi-resolution whole-slide image file, an existing tiled
// DICOM pyramid, or a plain 2-D image treated as a single level.
package wsisource

import "image"

// Photometric identifies how a source's samples map to color.
type Photometric int

const (
	PhotometricRGB Photometric = iota
	PhotometricMonochrome2
	PhotometricYBRFull422
)

// Source is the capability set shared by every pyramid input. Coordinates
// passed to ReadRegion are always in the pixel space of the given base level.
type Source interface {
	// LevelCount returns the number of resolution levels the source exposes.
	LevelCount() int

	// LevelDimensions returns the pixel width and height of level l.
	LevelDimensions(l int) (width, height int)

	// LevelDownsample returns the downsample factor of level l relative to
	// level 0 (1.0 for the base level).
	LevelDownsample(l int) float64

	// BestLevelForDownsample returns the source level closest to, but not
	// coarser than, the requested downsample factor.
	BestLevelForDownsample(downsample float64) int

	// ReadRegion decodes the w x h rectangle at (x0, y0) in level
	// baseLevel's pixel space and returns it as ABGR (4 bytes per pixel:
	// alpha first, then blue, green, red). Color channels are taken from
	// image/color's RGBA method and so are alpha-premultiplied; ReadRegion
	// does not un-premultiply them. Coordinates outside the level's
	// bounds are filled with ABGR=0 rather than returning an error.
	ReadRegion(baseLevel, x0, y0, w, h int) ([]byte, error)

	// PhysicalSizeMM returns the physical size of the level-0 image in
	// millimeters, when known. Zero values mean the source has no
	// physical calibration.
	PhysicalSizeMM() (widthMM, heightMM float64)

	// Photometric returns the color interpretation of decoded pixels.
	Photometric() Photometric

	Close() error
}

// fillOutOfBounds zeroes the ABGR buffer region that falls outside
// [0, srcW) x [0, srcH) so out-of-image reads return ABGR=0 rather than
// garbage or an error, matching every Source variant's edge behavior.
func fillOutOfBounds(dst []byte, dstW, dstH, x0, y0, srcW, srcH int) {
	for y := 0; y < dstH; y++ {
		srcY := y0 + y
		rowOff := y * dstW * 4
		if srcY < 0 || srcY >= srcH {
			for i := rowOff; i < rowOff+dstW*4; i++ {
				dst[i] = 0
			}
			continue
		}
		for x := 0; x < dstW; x++ {
			srcX := x0 + x
			if srcX < 0 || srcX >= srcW {
				off := rowOff + x*4
				dst[off], dst[off+1], dst[off+2], dst[off+3] = 0, 0, 0, 0
			}
		}
	}
}

// abgrAt packs one pixel into the destination buffer in ABGR order.
func abgrAt(dst []byte, idx int, a, b, g, rr uint8) {
	dst[idx] = a
	dst[idx+1] = b
	dst[idx+2] = g
	dst[idx+3] = rr
}

// rgbaToABGR converts a decoded image.Image tile into an ABGR byte slice.
func rgbaToABGR(img image.Image) []byte {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]byte, w*h*4)
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rr, g, b, a := img.At(x, y).RGBA()
			abgrAt(out, idx, uint8(a>>8), uint8(b>>8), uint8(g>>8), uint8(rr>>8))
			idx += 4
		}
	}
	return out
}
