package pyramid

import "math"

// resampleNearest reads the source rectangle [srcX0,srcY0,srcW,srcH) of
// src (ABGR, width srcRowW) scaled by the level multiplier, then
// nearest-neighbor resizes it to (dstW, dstH).
func resampleNearest(src []byte, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH int) []byte {
	dst := getABGRBuffer(dstW * dstH * 4)
	scaleX := float64(srcW) / float64(dstW)
	scaleY := float64(srcH) / float64(dstH)

	for dy := 0; dy < dstH; dy++ {
		sy := srcY0 + int(float64(dy)*scaleY)
		for dx := 0; dx < dstW; dx++ {
			sx := srcX0 + int(float64(dx)*scaleX)
			srcOff := (sy*srcRowW + sx) * 4
			dstOff := (dy*dstW + dx) * 4
			copy(dst[dstOff:dstOff+4], src[srcOff:srcOff+4])
		}
	}
	return dst
}

// resampleBilinear implements the custom weighted-area-overlap bilinear
// kernel described in the component design: every source pixel straddling
// a destination-pixel boundary distributes its color into up to four
// destination pixels in proportion to the fractional overlap. The final
// pixel is the weighted sum divided by the accumulated area (opaque white
// where area is zero). Transparent source pixels (alpha = 0) are skipped;
// partially transparent ones are un-premultiplied before accumulation.
func resampleBilinear(src []byte, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH int) []byte {
	scaleX := float64(srcW) / float64(dstW)
	scaleY := float64(srcH) / float64(dstH)

	accumR := make([]float64, dstW*dstH)
	accumG := make([]float64, dstW*dstH)
	accumB := make([]float64, dstW*dstH)
	accumA := make([]float64, dstW*dstH)
	area := make([]float64, dstW*dstH)

	for sy := 0; sy < srcH; sy++ {
		dy0 := float64(sy) / scaleY
		dy1 := float64(sy+1) / scaleY
		for sx := 0; sx < srcW; sx++ {
			srcOff := ((srcY0+sy)*srcRowW + (srcX0 + sx)) * 4
			a := src[srcOff]
			if a == 0 {
				continue
			}
			b := float64(src[srcOff+1])
			g := float64(src[srcOff+2])
			r := float64(src[srcOff+3])
			if a != 255 {
				f := 255.0 / float64(a)
				r *= f
				g *= f
				b *= f
			}

			dx0 := float64(sx) / scaleX
			dx1 := float64(sx+1) / scaleX

			distributeOverlap(dx0, dx1, dy0, dy1, dstW, dstH, func(ddx, ddy int, weight float64) {
				idx := ddy*dstW + ddx
				accumR[idx] += r * weight
				accumG[idx] += g * weight
				accumB[idx] += b * weight
				accumA[idx] += float64(a) * weight
				area[idx] += weight
			})
		}
	}

	dst := getABGRBuffer(dstW * dstH * 4)
	for i := 0; i < dstW*dstH; i++ {
		off := i * 4
		if area[i] == 0 {
			dst[off], dst[off+1], dst[off+2], dst[off+3] = 255, 255, 255, 255
			continue
		}
		dst[off] = clampByte(accumA[i] / area[i])
		dst[off+1] = clampByte(accumB[i] / area[i])
		dst[off+2] = clampByte(accumG[i] / area[i])
		dst[off+3] = clampByte(accumR[i] / area[i])
	}
	return dst
}

// distributeOverlap splits the source-pixel rectangle [x0,x1)x[y0,y1) in
// destination-pixel coordinates across the up-to-four destination pixels
// it overlaps, invoking fn with the fractional area of each overlap.
func distributeOverlap(x0, x1, y0, y1 float64, dstW, dstH int, fn func(dx, dy int, weight float64)) {
	ix0, ix1 := int(math.Floor(x0)), int(math.Ceil(x1))
	iy0, iy1 := int(math.Floor(y0)), int(math.Ceil(y1))
	for dy := iy0; dy < iy1; dy++ {
		if dy < 0 || dy >= dstH {
			continue
		}
		overlapY := overlap1D(y0, y1, float64(dy), float64(dy+1))
		if overlapY <= 0 {
			continue
		}
		for dx := ix0; dx < ix1; dx++ {
			if dx < 0 || dx >= dstW {
				continue
			}
			overlapX := overlap1D(x0, x1, float64(dx), float64(dx+1))
			if overlapX <= 0 {
				continue
			}
			fn(dx, dy, overlapX*overlapY)
		}
	}
}

func overlap1D(a0, a1, b0, b1 float64) float64 {
	lo := math.Max(a0, b0)
	hi := math.Min(a1, b1)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}

// resampleOpenCV runs the configured OpenCV-style kernel over the source
// rectangle: nearest uses resampleNearest; area, linear-exact and
// bilinear use resampleBilinear; cubic and Lanczos-4 use
// resampleSeparableWide. No padding margin is read around the
// rectangle: the wide kernels clamp their taps to its edges, so they do
// not sample across tile boundaries.
func resampleOpenCV(src []byte, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH int, method OpenCVMethod) []byte {
	switch method {
	case OpenCVNearest:
		return resampleNearest(src, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH)
	case OpenCVArea, OpenCVLinearExact, OpenCVBilinear:
		return resampleBilinear(src, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH)
	case OpenCVCubic, OpenCVLanczos4:
		return resampleSeparableWide(src, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH, method)
	default:
		return resampleBilinear(src, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH)
	}
}

// resampleSeparableWide applies a wide separable kernel (cubic or
// Lanczos-4) in two passes (horizontal then vertical).
func resampleSeparableWide(src []byte, srcRowW, srcX0, srcY0, srcW, srcH, dstW, dstH int, method OpenCVMethod) []byte {
	kernel := cubicWeight
	radius := 2.0
	if method == OpenCVLanczos4 {
		kernel = lanczosWeight
		radius = 4.0
	}

	scaleX := float64(srcW) / float64(dstW)
	scaleY := float64(srcH) / float64(dstH)

	// Horizontal pass into a float intermediate of size dstW x srcH.
	tmp := make([]float64, dstW*srcH*4)
	for sy := 0; sy < srcH; sy++ {
		for dx := 0; dx < dstW; dx++ {
			center := (float64(dx) + 0.5) * scaleX
			loX := int(math.Floor(center - radius))
			hiX := int(math.Ceil(center + radius))
			var r, g, b, a, wsum float64
			for sx := loX; sx <= hiX; sx++ {
				cx := sx
				if cx < 0 {
					cx = 0
				}
				if cx >= srcW {
					cx = srcW - 1
				}
				w := kernel((float64(sx)+0.5-center)/1.0, radius)
				if w == 0 {
					continue
				}
				off := ((srcY0+sy)*srcRowW + (srcX0 + cx)) * 4
				a += float64(src[off]) * w
				b += float64(src[off+1]) * w
				g += float64(src[off+2]) * w
				r += float64(src[off+3]) * w
				wsum += w
			}
			if wsum == 0 {
				wsum = 1
			}
			off := (sy*dstW + dx) * 4
			tmp[off] = r / wsum
			tmp[off+1] = g / wsum
			tmp[off+2] = b / wsum
			tmp[off+3] = a / wsum
		}
	}

	// Vertical pass into the final dstW x dstH buffer.
	dst := getABGRBuffer(dstW * dstH * 4)
	for dy := 0; dy < dstH; dy++ {
		center := (float64(dy) + 0.5) * scaleY
		loY := int(math.Floor(center - radius))
		hiY := int(math.Ceil(center + radius))
		for dx := 0; dx < dstW; dx++ {
			var r, g, b, a, wsum float64
			for sy := loY; sy <= hiY; sy++ {
				cy := sy
				if cy < 0 {
					cy = 0
				}
				if cy >= srcH {
					cy = srcH - 1
				}
				w := kernel(float64(sy)+0.5-center, radius)
				if w == 0 {
					continue
				}
				off := (cy*dstW + dx) * 4
				r += tmp[off] * w
				g += tmp[off+1] * w
				b += tmp[off+2] * w
				a += tmp[off+3] * w
				wsum += w
			}
			if wsum == 0 {
				wsum = 1
			}
			off := (dy*dstW + dx) * 4
			dst[off] = clampByte(a / wsum)
			dst[off+1] = clampByte(b / wsum)
			dst[off+2] = clampByte(g / wsum)
			dst[off+3] = clampByte(r / wsum)
		}
	}
	return dst
}

func cubicWeight(x, _ float64) float64 {
	x = math.Abs(x)
	const a = -0.5
	switch {
	case x <= 1:
		return (a+2)*x*x*x - (a+3)*x*x + 1
	case x < 2:
		return a*x*x*x - 5*a*x*x + 8*a*x - 4*a
	default:
		return 0
	}
}

func lanczosWeight(x, radius float64) float64 {
	if x == 0 {
		return 1
	}
	if math.Abs(x) >= radius {
		return 0
	}
	px := math.Pi * x
	return radius * math.Sin(px) * math.Sin(px/radius) / (px * px)
}
