package pyramid

import "sort"

// RegionReader presents the Frames of N completed Instance Builders for
// one level as a single flat, frame-indexed array, and serves arbitrary
// rectangular ABGR reads that may span multiple frames and multiple
// output files. It is how progressive downsampling reads level ℓ-1
// without the next level knowing about batch or file boundaries.
type RegionReader struct {
	frames       []*Frame // flattened, row-major
	tileW, tileH int
	imgW, imgH   int
	tilesAcross  int
	tilesDown    int
	downsample   float64 // the output level this reader flattens
}

// setInstances captures the Frame list, tile size, and image size shared
// by every builder; all builders must agree on these or the level plan
// built them wrong.
func (r *RegionReader) setInstances(builders []*builtInstance) error {
	if len(builders) == 0 {
		return &SourceReadError{Err: errNoInstances}
	}
	sort.Slice(builders, func(i, j int) bool { return builders[i].batchOrdinal < builders[j].batchOrdinal })

	tw, th := builders[0].tileW, builders[0].tileH
	w, h := builders[0].imgW, builders[0].imgH
	var frames []*Frame
	for _, b := range builders {
		if b.tileW != tw || b.tileH != th || b.imgW != w || b.imgH != h {
			return &SourceReadError{Err: errDimensionMismatch}
		}
		frames = append(frames, b.frames...)
	}

	r.frames = frames
	r.tileW, r.tileH = tw, th
	r.imgW, r.imgH = w, h
	r.tilesAcross = ceilDiv(w, tw)
	r.tilesDown = ceilDiv(h, th)
	return nil
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// frameIndex maps a pixel coordinate to its covering frame index, or -1
// if the coordinate falls beyond the captured frame array (a truncated
// SPARSE level).
func (r *RegionReader) frameIndex(x, y int) int {
	if x < 0 || y < 0 {
		return -1
	}
	col := x / r.tileW
	row := y / r.tileH
	if col < 0 || row < 0 || col >= r.tilesAcross || row >= r.tilesDown {
		return -1
	}
	idx := row*r.tilesAcross + col
	if idx >= len(r.frames) {
		return -1
	}
	return idx
}

// region implements regionProvider so a RegionReader can stand in as a
// Frame's pixel source during progressive downsampling.
func (r *RegionReader) region(x0, y0, w, h int) ([]byte, error) {
	out := make([]byte, w*h*4)

	touched := map[int]bool{}
	for y := y0; y < y0+h; y++ {
		if y < 0 || y >= r.imgH {
			continue
		}
		for x := x0; x < x0+w; x += r.tileW {
			idx := r.frameIndex(x, y)
			if idx >= 0 {
				touched[idx] = true
			}
		}
		if idx := r.frameIndex(x0+w-1, y); idx >= 0 {
			touched[idx] = true
		}
	}

	pixels := make(map[int][]byte, len(touched))
	for idx := range touched {
		raw, _, _, err := r.frames[idx].acquireRawCache()
		if err != nil {
			return nil, err
		}
		pixels[idx] = raw
	}
	defer func() {
		for idx := range touched {
			r.frames[idx].releaseRawCache()
		}
	}()

	for dy := 0; dy < h; dy++ {
		sy := y0 + dy
		if sy < 0 || sy >= r.imgH {
			continue
		}
		for dx := 0; dx < w; dx++ {
			sx := x0 + dx
			if sx < 0 || sx >= r.imgW {
				continue
			}
			idx := r.frameIndex(sx, sy)
			if idx < 0 {
				continue
			}
			raw, ok := pixels[idx]
			if !ok {
				continue
			}
			localX := sx % r.tileW
			localY := sy % r.tileH
			srcOff := (localY*r.tileW + localX) * 4
			dstOff := (dy*w + dx) * 4
			copy(out[dstOff:dstOff+4], raw[srcOff:srcOff+4])
		}
	}
	return out, nil
}
