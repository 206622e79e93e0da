package wsisource

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// readerPoolSize bounds the pool of concurrently usable dataset readers
// per concatenation file; requests are dispensed round-robin so no
// single mutex serializes every frame decode.
const readerPoolSize = 32

// datasetReader pairs a mutex with a concatenation instance's parsed
// dataset. Every reader in a file's pool refers to the same parsed
// dataset; the file is parsed once, not once per reader.
type datasetReader struct {
	mu sync.Mutex
	ds dicom.Dataset
}

// concatFile is one concatenation instance of a DICOM pyramid level:
// it holds frames [frameOffset, frameOffset+frameCount) of the level's
// flattened tile array.
type concatFile struct {
	path         string
	frameOffset  int
	frameCount   int
	readers      []*datasetReader
	next         atomic.Int64
}

func (c *concatFile) acquireReader() *datasetReader {
	idx := c.next.Add(1) % int64(len(c.readers))
	return c.readers[idx]
}

// DICOMSource exposes an existing tiled DICOM instance (possibly split
// across several concatenation files sharing one Frame-of-Reference UID)
// as a single pyramid level.
type DICOMSource struct {
	files []*concatFile

	tileCols, tileRows   int // per-frame tile dimensions
	totalCols, totalRows int // TotalPixelMatrixColumns/Rows
	framesAcross         int
	samplesPerPixel      uint16
	bitsAllocated        uint16
	photometric          Photometric
	encapsulated         bool
	transferSyntaxUID    string

	dispenserMu sync.Mutex
}

// OpenDICOMPyramidLevel opens every concatenation instance belonging to
// one pyramid level and assembles them into a single addressable frame
// array, ordered by frame offset.
func OpenDICOMPyramidLevel(paths []string) (*DICOMSource, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no DICOM instance files given for pyramid level")
	}

	files := make([]*concatFile, 0, len(paths))
	var first dicom.Dataset
	haveFirst := false

	for _, p := range paths {
		ds, err := dicom.ParseFile(p, nil)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", p, err)
		}
		if !haveFirst {
			first = ds
			haveFirst = true
		}

		offset, count, err := concatenationRange(ds)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}

		readers := make([]*datasetReader, readerPoolSize)
		readers[0] = &datasetReader{ds: ds}
		for i := 1; i < readerPoolSize; i++ {
			readers[i] = &datasetReader{ds: ds}
		}

		files = append(files, &concatFile{
			path:        p,
			frameOffset: offset,
			frameCount:  count,
			readers:     readers,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].frameOffset < files[j].frameOffset })

	src := &DICOMSource{files: files}
	if err := src.readGeometry(first); err != nil {
		return nil, fmt.Errorf("invalid source: %w", err)
	}
	return src, nil
}

func concatenationRange(ds dicom.Dataset) (offset, count int, err error) {
	elem, findErr := ds.FindElementByTag(tag.ConcatenationFrameOffsetNumber)
	if findErr == nil {
		offset = getIntValue(elem)
	}
	numFrames, findErr := ds.FindElementByTag(tag.NumberOfFrames)
	if findErr != nil {
		return 0, 0, fmt.Errorf("invalid source: missing NumberOfFrames")
	}
	count = getIntValue(numFrames)
	if count <= 0 {
		return 0, 0, fmt.Errorf("invalid source: NumberOfFrames is %d", count)
	}
	return offset, count, nil
}

func (s *DICOMSource) readGeometry(ds dicom.Dataset) error {
	rowsElem, err := ds.FindElementByTag(tag.Rows)
	if err != nil {
		return fmt.Errorf("missing Rows")
	}
	colsElem, err := ds.FindElementByTag(tag.Columns)
	if err != nil {
		return fmt.Errorf("missing Columns")
	}
	s.tileRows = getIntValue(rowsElem)
	s.tileCols = getIntValue(colsElem)

	totalColsElem, err := ds.FindElementByTag(tag.TotalPixelMatrixColumns)
	if err != nil {
		return fmt.Errorf("missing TotalPixelMatrixColumns")
	}
	totalRowsElem, err := ds.FindElementByTag(tag.TotalPixelMatrixRows)
	if err != nil {
		return fmt.Errorf("missing TotalPixelMatrixRows")
	}
	s.totalCols = getIntValue(totalColsElem)
	s.totalRows = getIntValue(totalRowsElem)

	if s.tileCols == 0 || s.tileRows == 0 || s.totalCols == 0 || s.totalRows == 0 {
		return fmt.Errorf("degenerate tile grid")
	}
	s.framesAcross = (s.totalCols + s.tileCols - 1) / s.tileCols

	if sppElem, err := ds.FindElementByTag(tag.SamplesPerPixel); err == nil {
		s.samplesPerPixel = uint16(getIntValue(sppElem))
	} else {
		s.samplesPerPixel = 1
	}
	if baElem, err := ds.FindElementByTag(tag.BitsAllocated); err == nil {
		s.bitsAllocated = uint16(getIntValue(baElem))
	} else {
		s.bitsAllocated = 8
	}

	s.photometric = PhotometricRGB
	if photoElem, err := ds.FindElementByTag(tag.PhotometricInterpretation); err == nil {
		switch strings.TrimSpace(getStringValue(photoElem)) {
		case "MONOCHROME2":
			s.photometric = PhotometricMonochrome2
		case "YBR_FULL_422", "YBR_FULL":
			s.photometric = PhotometricYBRFull422
		}
	}

	if tsElem, err := ds.FindElementByTag(tag.TransferSyntaxUID); err == nil {
		s.transferSyntaxUID = strings.TrimSpace(getStringValue(tsElem))
	}
	s.encapsulated = s.transferSyntaxUID != "" && s.transferSyntaxUID != "1.2.840.10008.1.2.1" &&
		s.transferSyntaxUID != "1.2.840.10008.1.2"

	return nil
}

func getIntValue(elem *dicom.Element) int {
	v := elem.Value.GetValue()
	switch t := v.(type) {
	case []int:
		if len(t) > 0 {
			return t[0]
		}
	case []string:
		if len(t) > 0 {
			n, _ := strconv.Atoi(strings.TrimSpace(t[0]))
			return n
		}
	case int:
		return t
	}
	return 0
}

func getStringValue(elem *dicom.Element) string {
	v := elem.Value.GetValue()
	if s, ok := v.([]string); ok && len(s) > 0 {
		return s[0]
	}
	return ""
}

func (s *DICOMSource) Close() error { return nil }

func (s *DICOMSource) LevelCount() int { return 1 }

func (s *DICOMSource) LevelDimensions(l int) (int, int) { return s.totalCols, s.totalRows }

func (s *DICOMSource) LevelDownsample(l int) float64 { return 1.0 }

func (s *DICOMSource) BestLevelForDownsample(downsample float64) int { return 0 }

func (s *DICOMSource) PhysicalSizeMM() (float64, float64) { return 0, 0 }

func (s *DICOMSource) Photometric() Photometric { return s.photometric }

// fileForFrame returns the concatenation file holding the given
// zero-based flattened frame index, and its within-file index.
func (s *DICOMSource) fileForFrame(frameIdx int) (*concatFile, int, error) {
	for _, f := range s.files {
		if frameIdx >= f.frameOffset && frameIdx < f.frameOffset+f.frameCount {
			return f, frameIdx - f.frameOffset, nil
		}
	}
	return nil, 0, fmt.Errorf("frame %d beyond the array", frameIdx)
}

// decodeFrame decodes one tile frame to ABGR bytes (tileCols*tileRows*4).
func (s *DICOMSource) decodeFrame(frameIdx int) ([]byte, error) {
	f, localIdx, err := s.fileForFrame(frameIdx)
	if err != nil {
		// Beyond the flattened array: treat as a hole, not an error.
		out := make([]byte, s.tileCols*s.tileRows*4)
		return out, nil
	}

	reader := f.acquireReader()
	reader.mu.Lock()
	defer reader.mu.Unlock()

	pixElem, err := reader.ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("no pixel data in %s", f.path)
	}
	info, ok := pixElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || localIdx >= len(info.Frames) {
		return nil, fmt.Errorf("frame %d missing in %s", localIdx, f.path)
	}
	fr := info.Frames[localIdx]

	if fr.Encapsulated {
		return DecodeEncapsulatedABGR(fr.EncapsulatedData.Data, s.transferSyntaxUID)
	}
	return s.decodeNativeFrame(fr)
}

func (s *DICOMSource) decodeNativeFrame(fr *frame.Frame) ([]byte, error) {
	if fr.NativeData.Data == nil {
		return nil, fmt.Errorf("native frame has no pixel data")
	}
	pixelCount := s.tileCols * s.tileRows
	out := make([]byte, pixelCount*4)
	for i, pixel := range fr.NativeData.Data {
		if i >= pixelCount {
			break
		}
		var rr, g, b uint8
		switch len(pixel) {
		case 1:
			rr, g, b = uint8(pixel[0]), uint8(pixel[0]), uint8(pixel[0])
		default:
			rr = uint8(pixel[0])
			if len(pixel) > 1 {
				g = uint8(pixel[1])
			}
			if len(pixel) > 2 {
				b = uint8(pixel[2])
			}
		}
		abgrAt(out, i*4, 255, b, g, rr)
	}
	return out, nil
}

// ReadRegion assembles the w x h rectangle at (x0, y0) from the frames it
// overlaps, decoding each frame at most once per call. Reads spanning
// beyond the flattened frame array are padded with ABGR=0.
func (s *DICOMSource) ReadRegion(baseLevel, x0, y0, w, h int) ([]byte, error) {
	if baseLevel != 0 {
		return nil, fmt.Errorf("invalid level %d", baseLevel)
	}

	out := make([]byte, w*h*4)
	fillOutOfBounds(out, w, h, x0, y0, s.totalCols, s.totalRows)

	clipX0 := max(x0, 0)
	clipY0 := max(y0, 0)
	clipX1 := min(x0+w, s.totalCols)
	clipY1 := min(y0+h, s.totalRows)
	if clipX0 >= clipX1 || clipY0 >= clipY1 {
		return out, nil
	}

	colStart := clipX0 / s.tileCols
	colEnd := (clipX1 - 1) / s.tileCols
	rowStart := clipY0 / s.tileRows
	rowEnd := (clipY1 - 1) / s.tileRows

	for row := rowStart; row <= rowEnd; row++ {
		for col := colStart; col <= colEnd; col++ {
			frameIdx := row*s.framesAcross + col
			tile, err := s.decodeFrame(frameIdx)
			if err != nil {
				return nil, err
			}

			tileMinX := col * s.tileCols
			tileMinY := row * s.tileRows

			srcMinX := max(clipX0, tileMinX) - tileMinX
			srcMinY := max(clipY0, tileMinY) - tileMinY
			srcMaxX := min(clipX1, tileMinX+s.tileCols) - tileMinX
			srcMaxY := min(clipY1, tileMinY+s.tileRows) - tileMinY

			dstMinX := max(clipX0, tileMinX) - x0
			dstMinY := max(clipY0, tileMinY) - y0

			for y := srcMinY; y < srcMaxY; y++ {
				for x := srcMinX; x < srcMaxX; x++ {
					srcOff := (y*s.tileCols + x) * 4
					dstOff := ((dstMinY+(y-srcMinY))*w + (dstMinX + (x - srcMinX))) * 4
					copy(out[dstOff:dstOff+4], tile[srcOff:srcOff+4])
				}
			}
		}
	}

	return out, nil
}

var _ Source = (*DICOMSource)(nil)
