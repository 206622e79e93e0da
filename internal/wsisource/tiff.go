package wsisource

import (
	"bytes"
	"compress/flate"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
)

// TIFFSource provides level-level access to a pyramidal whole-slide TIFF
// (Aperio SVS and similar baseline-tiled formats, one IFD per resolution
// level). The file is memory-mapped for lock-free concurrent reads.
type TIFFSource struct {
	data  []byte
	bo    binary.ByteOrder
	ifds  []ifd
	path  string
	strip *stripLayout

	mmX, mmY float64 // physical pixel spacing in millimeters, 0 if unknown
}

// stripLayout records the original strip layout for strip-based TIFFs so
// virtual tiles can be composed from multiple strips at read time.
type stripLayout struct {
	offsets       []uint64
	byteCounts    []uint64
	rowsPerStrip  uint32
	stripsPerTile int
}

// OpenTIFF opens a pyramidal TIFF by memory-mapping it and parsing its IFD
// chain, one IFD per resolution level in descending-resolution order.
// Strip-based level 0 is supported by converting the strip layout into a
// virtual tile layout so the rest of the reader only ever deals with tiles.
func OpenTIFF(path string) (*TIFFSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	data, err := mmapFile(f.Fd(), int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	ifds, bo, err := parseTIFF(bytes.NewReader(data))
	if err != nil {
		munmapFile(data)
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(ifds) == 0 {
		munmapFile(data)
		return nil, fmt.Errorf("%s: no resolution levels found", path)
	}

	first := &ifds[0]

	var sl *stripLayout
	if first.TileWidth == 0 || first.TileHeight == 0 {
		if len(first.StripOffsets) > 0 {
			sl = promoteStripsToTiles(first)
		} else {
			munmapFile(data)
			return nil, fmt.Errorf("%s: no tile or strip layout found", path)
		}
	}

	switch first.Compression {
	case 1, 5, 7, 8, 32946:
		// None, LZW, JPEG, Deflate.
	default:
		munmapFile(data)
		return nil, fmt.Errorf("%s: unsupported compression type %d", path, first.Compression)
	}

	return &TIFFSource{
		data:  data,
		bo:    bo,
		ifds:  ifds,
		path:  path,
		strip: sl,
	}, nil
}

// promoteStripsToTiles converts a strip-based IFD into a virtual tile
// layout, grouping small strips into virtual tiles of at least 256 rows.
func promoteStripsToTiles(d *ifd) *stripLayout {
	rps := d.RowsPerStrip
	if rps == 0 {
		rps = d.Height
	}

	const minTileHeight = 256
	stripsPerTile := 1
	if rps < minTileHeight {
		stripsPerTile = int((minTileHeight + rps - 1) / rps)
	}
	virtualTileH := rps * uint32(stripsPerTile)

	totalStrips := len(d.StripOffsets)
	numVirtualTiles := (totalStrips + stripsPerTile - 1) / stripsPerTile

	virtualOffsets := make([]uint64, numVirtualTiles)
	virtualByteCounts := make([]uint64, numVirtualTiles)
	for i := 0; i < numVirtualTiles; i++ {
		startStrip := i * stripsPerTile
		virtualOffsets[i] = d.StripOffsets[startStrip]
		var totalBytes uint64
		endStrip := startStrip + stripsPerTile
		if endStrip > totalStrips {
			endStrip = totalStrips
		}
		for s := startStrip; s < endStrip; s++ {
			totalBytes += d.StripByteCounts[s]
		}
		virtualByteCounts[i] = totalBytes
	}

	sl := &stripLayout{
		offsets:       d.StripOffsets,
		byteCounts:    d.StripByteCounts,
		rowsPerStrip:  rps,
		stripsPerTile: stripsPerTile,
	}

	d.TileWidth = d.Width
	d.TileHeight = virtualTileH
	d.TileOffsets = virtualOffsets
	d.TileByteCounts = virtualByteCounts

	return sl
}

func (t *TIFFSource) Close() error {
	if t.data != nil {
		err := munmapFile(t.data)
		t.data = nil
		return err
	}
	return nil
}

func (t *TIFFSource) Path() string { return t.path }

func (t *TIFFSource) LevelCount() int { return len(t.ifds) }

func (t *TIFFSource) LevelDimensions(l int) (int, int) {
	d := &t.ifds[l]
	return int(d.Width), int(d.Height)
}

func (t *TIFFSource) LevelDownsample(l int) float64 {
	base := &t.ifds[0]
	d := &t.ifds[l]
	return float64(base.Width) / float64(d.Width)
}

func (t *TIFFSource) BestLevelForDownsample(downsample float64) int {
	best := 0
	for l := range t.ifds {
		if t.LevelDownsample(l) <= downsample {
			best = l
		}
	}
	return best
}

func (t *TIFFSource) PhysicalSizeMM() (float64, float64) {
	if t.mmX == 0 && t.mmY == 0 {
		return 0, 0
	}
	base := &t.ifds[0]
	return float64(base.Width) * t.mmX, float64(base.Height) * t.mmY
}

func (t *TIFFSource) Photometric() Photometric {
	d := &t.ifds[0]
	switch d.Photometric {
	case 6: // YCbCr
		return PhotometricYBRFull422
	case 1: // BlackIsZero
		return PhotometricMonochrome2
	default:
		return PhotometricRGB
	}
}

// readTileRaw reads and decompresses raw tile bytes at (col, row) in the
// given level, reversing any horizontal-differencing predictor.
func (t *TIFFSource) readTileRaw(level, col, row int) ([]byte, *ifd, error) {
	if level < 0 || level >= len(t.ifds) {
		return nil, nil, fmt.Errorf("invalid level %d (have %d)", level, len(t.ifds))
	}

	d := &t.ifds[level]
	tilesAcross := d.tilesAcross()
	tilesDown := d.tilesDown()

	if col < 0 || col >= tilesAcross || row < 0 || row >= tilesDown {
		return nil, nil, fmt.Errorf("tile (%d,%d) out of range (%dx%d)", col, row, tilesAcross, tilesDown)
	}

	if t.strip != nil && level == 0 {
		return t.readStripTileRaw(d, row)
	}

	tileIdx := row*tilesAcross + col
	if tileIdx >= len(d.TileOffsets) || tileIdx >= len(d.TileByteCounts) {
		return nil, nil, fmt.Errorf("tile index %d out of range", tileIdx)
	}

	offset := d.TileOffsets[tileIdx]
	size := d.TileByteCounts[tileIdx]
	if size == 0 {
		return nil, d, nil
	}

	end := offset + size
	if end > uint64(len(t.data)) {
		return nil, nil, fmt.Errorf("tile data [%d:%d] exceeds file size %d", offset, end, len(t.data))
	}
	data := t.data[offset:end]

	var decompressed []byte
	switch d.Compression {
	case 7: // JPEG, caller decodes directly.
		return data, d, nil
	case 1:
		decompressed = data
	case 8, 32946:
		dec, err := decompressDeflate(data)
		if err != nil {
			return nil, nil, fmt.Errorf("decompressing deflate tile: %w", err)
		}
		decompressed = dec
	case 5:
		dec, err := decompressLZW(data)
		if err != nil {
			return nil, nil, fmt.Errorf("decompressing LZW tile: %w", err)
		}
		decompressed = dec
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %d", d.Compression)
	}

	if d.Predictor == 2 {
		undoHorizontalDifferencing(decompressed, int(d.TileWidth), int(d.SamplesPerPixel))
	}
	return decompressed, d, nil
}

func (t *TIFFSource) readStripTileRaw(d *ifd, tileRow int) ([]byte, *ifd, error) {
	sl := t.strip
	startStrip := tileRow * sl.stripsPerTile
	endStrip := startStrip + sl.stripsPerTile
	if endStrip > len(sl.offsets) {
		endStrip = len(sl.offsets)
	}

	var combined []byte
	for s := startStrip; s < endStrip; s++ {
		offset := sl.offsets[s]
		size := sl.byteCounts[s]
		if size == 0 {
			continue
		}
		end := offset + size
		if end > uint64(len(t.data)) {
			return nil, nil, fmt.Errorf("strip %d data [%d:%d] exceeds file size %d", s, offset, end, len(t.data))
		}
		chunk := t.data[offset:end]

		switch d.Compression {
		case 1, 7:
			combined = append(combined, chunk...)
		case 8, 32946:
			dec, err := decompressDeflate(chunk)
			if err != nil {
				return nil, nil, fmt.Errorf("decompressing deflate strip %d: %w", s, err)
			}
			combined = append(combined, dec...)
		case 5:
			dec, err := decompressLZW(chunk)
			if err != nil {
				return nil, nil, fmt.Errorf("decompressing LZW strip %d: %w", s, err)
			}
			combined = append(combined, dec...)
		default:
			return nil, nil, fmt.Errorf("unsupported compression: %d", d.Compression)
		}
	}

	if len(combined) == 0 {
		return nil, d, nil
	}
	if d.Predictor == 2 {
		undoHorizontalDifferencing(combined, int(d.Width), int(d.SamplesPerPixel))
	}
	return combined, d, nil
}

// undoHorizontalDifferencing reverses TIFF predictor=2 in place.
func undoHorizontalDifferencing(data []byte, width, samplesPerPixel int) {
	rowBytes := width * samplesPerPixel
	for off := 0; off+rowBytes <= len(data); off += rowBytes {
		row := data[off : off+rowBytes]
		for x := samplesPerPixel; x < rowBytes; x++ {
			row[x] += row[x-samplesPerPixel]
		}
	}
}

// readTile decodes a single tile at (col, row) in the given level.
func (t *TIFFSource) readTile(level, col, row int) (image.Image, error) {
	if level < 0 || level >= len(t.ifds) {
		return nil, fmt.Errorf("invalid level %d (have %d)", level, len(t.ifds))
	}
	d := &t.ifds[level]
	tilesAcross := d.tilesAcross()
	tilesDown := d.tilesDown()

	if col < 0 || col >= tilesAcross || row < 0 || row >= tilesDown {
		return nil, fmt.Errorf("tile (%d,%d) out of range (%dx%d)", col, row, tilesAcross, tilesDown)
	}

	if t.strip != nil && level == 0 {
		data, _, err := t.readStripTileRaw(d, row)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return image.NewRGBA(image.Rect(0, 0, int(d.TileWidth), int(d.TileHeight))), nil
		}
		return t.decodeRawTile(d, data)
	}

	tileIdx := row*tilesAcross + col
	if tileIdx >= len(d.TileOffsets) || tileIdx >= len(d.TileByteCounts) {
		return nil, fmt.Errorf("tile index %d out of range", tileIdx)
	}

	offset := d.TileOffsets[tileIdx]
	size := d.TileByteCounts[tileIdx]
	if size == 0 {
		return image.NewRGBA(image.Rect(0, 0, int(d.TileWidth), int(d.TileHeight))), nil
	}

	end := offset + size
	if end > uint64(len(t.data)) {
		return nil, fmt.Errorf("tile data [%d:%d] exceeds file size %d", offset, end, len(t.data))
	}
	data := t.data[offset:end]

	switch d.Compression {
	case 7:
		return t.decodeJPEGTile(d, data)
	case 1:
		if d.Predictor == 2 {
			buf := make([]byte, len(data))
			copy(buf, data)
			undoHorizontalDifferencing(buf, int(d.TileWidth), int(d.SamplesPerPixel))
			return t.decodeRawTile(d, buf)
		}
		return t.decodeRawTile(d, data)
	case 8, 32946:
		decompressed, err := decompressDeflate(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing deflate tile: %w", err)
		}
		if d.Predictor == 2 {
			undoHorizontalDifferencing(decompressed, int(d.TileWidth), int(d.SamplesPerPixel))
		}
		return t.decodeRawTile(d, decompressed)
	case 5:
		decompressed, err := decompressLZW(data)
		if err != nil {
			return nil, fmt.Errorf("decompressing LZW tile: %w", err)
		}
		if d.Predictor == 2 {
			undoHorizontalDifferencing(decompressed, int(d.TileWidth), int(d.SamplesPerPixel))
		}
		return t.decodeRawTile(d, decompressed)
	default:
		return nil, fmt.Errorf("unsupported compression: %d", d.Compression)
	}
}

func decompressDeflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err == nil {
		defer r.Close()
		result, err := io.ReadAll(r)
		if err == nil {
			return result, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}

func decompressLZW(data []byte) ([]byte, error) {
	return decompressTIFFLZW(data)
}

// decodeJPEGTile decodes a JPEG-compressed tile, prepending any separately
// stored JPEG tables (shared quantization/Huffman tables for the level).
func (t *TIFFSource) decodeJPEGTile(d *ifd, data []byte) (image.Image, error) {
	var jpegData []byte
	if len(d.JPEGTables) > 0 {
		tables := d.JPEGTables
		if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
			tables = tables[:len(tables)-2]
		}
		tileData := data
		if len(tileData) >= 2 && tileData[0] == 0xFF && tileData[1] == 0xD8 {
			tileData = tileData[2:]
		}
		jpegData = make([]byte, len(tables)+len(tileData))
		copy(jpegData, tables)
		copy(jpegData[len(tables):], tileData)
	} else {
		jpegData = data
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decoding JPEG tile: %w", err)
	}
	return img, nil
}

// decodeRawTile decodes an uncompressed or predictor-reversed tile.
func (t *TIFFSource) decodeRawTile(d *ifd, data []byte) (image.Image, error) {
	w := int(d.TileWidth)
	h := int(d.TileHeight)
	spp := int(d.SamplesPerPixel)

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := (y*w + x) * spp
			if idx+spp > len(data) {
				break
			}
			var c color.RGBA
			switch spp {
			case 1:
				v := data[idx]
				c.R, c.G, c.B, c.A = v, v, v, 255
			case 2:
				v := data[idx]
				c.R, c.G, c.B, c.A = v, v, v, data[idx+1]
			default:
				c.R = data[idx]
				if spp > 1 {
					c.G = data[idx+1]
				}
				if spp > 2 {
					c.B = data[idx+2]
				}
				if spp > 3 {
					c.A = data[idx+3]
				} else {
					c.A = 255
				}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// ReadRegion decodes the w x h rectangle at (x0, y0) in level baseLevel's
// pixel space and returns it as ABGR. Reads that spill outside the level's
// bounds are padded with ABGR=0 rather than failing.
func (t *TIFFSource) ReadRegion(baseLevel, x0, y0, w, h int) ([]byte, error) {
	if baseLevel < 0 || baseLevel >= len(t.ifds) {
		return nil, fmt.Errorf("invalid level %d", baseLevel)
	}
	d := &t.ifds[baseLevel]
	tw := int(d.TileWidth)
	th := int(d.TileHeight)
	srcW, srcH := int(d.Width), int(d.Height)

	out := make([]byte, w*h*4)
	fillOutOfBounds(out, w, h, x0, y0, srcW, srcH)

	clipX0 := max(x0, 0)
	clipY0 := max(y0, 0)
	clipX1 := min(x0+w, srcW)
	clipY1 := min(y0+h, srcH)
	if clipX0 >= clipX1 || clipY0 >= clipY1 {
		return out, nil
	}

	colStart := clipX0 / tw
	colEnd := (clipX1 - 1) / tw
	rowStart := clipY0 / th
	rowEnd := (clipY1 - 1) / th

	for row := rowStart; row <= rowEnd; row++ {
		for col := colStart; col <= colEnd; col++ {
			tile, err := t.readTile(baseLevel, col, row)
			if err != nil {
				return nil, fmt.Errorf("reading tile (%d,%d) at level %d: %w", col, row, baseLevel, err)
			}

			tileMinX := col * tw
			tileMinY := row * th

			srcMinX := max(clipX0, tileMinX) - tileMinX
			srcMinY := max(clipY0, tileMinY) - tileMinY
			srcMaxX := min(clipX1, tileMinX+tw) - tileMinX
			srcMaxY := min(clipY1, tileMinY+th) - tileMinY

			dstMinX := max(clipX0, tileMinX) - x0
			dstMinY := max(clipY0, tileMinY) - y0

			for y := srcMinY; y < srcMaxY; y++ {
				for x := srcMinX; x < srcMaxX; x++ {
					rr, g, b, a := tile.At(x, y).RGBA()
					dstX := dstMinX + (x - srcMinX)
					dstY := dstMinY + (y - srcMinY)
					off := (dstY*w + dstX) * 4
					abgrAt(out, off, uint8(a>>8), uint8(b>>8), uint8(g>>8), uint8(rr>>8))
				}
			}
		}
	}

	return out, nil
}

var _ Source = (*TIFFSource)(nil)
