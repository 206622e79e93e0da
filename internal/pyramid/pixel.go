package pyramid

import "image"

// abgrToRGBA builds a standard library RGBA image from a width*height*4
// ABGR byte buffer, for handoff to stdlib/ecosystem codecs that expect
// image.Image.
func abgrToRGBA(abgr []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		a := abgr[i*4]
		b := abgr[i*4+1]
		g := abgr[i*4+2]
		r := abgr[i*4+3]
		img.Pix[i*4] = r
		img.Pix[i*4+1] = g
		img.Pix[i*4+2] = b
		img.Pix[i*4+3] = a
	}
	return img
}

// rgbaToABGRSized converts a decoded image.Image into a width*height*4
// ABGR buffer, cropping or zero-padding to the requested dimensions if
// the decoded image disagrees (a malformed or truncated frame).
func rgbaToABGRSized(img image.Image, width, height int) []byte {
	out := make([]byte, width*height*4)
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	for y := 0; y < height; y++ {
		if y >= srcH {
			break
		}
		for x := 0; x < width; x++ {
			if x >= srcW {
				break
			}
			rr, g, bb, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			off := (y*width + x) * 4
			out[off] = uint8(a >> 8)
			out[off+1] = uint8(bb >> 8)
			out[off+2] = uint8(g >> 8)
			out[off+3] = uint8(rr >> 8)
		}
	}
	return out
}
