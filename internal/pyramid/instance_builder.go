package pyramid

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	sopClassWSI = "1.2.840.10008.5.1.4.1.1.77.1.6"
	modalitySM  = "SM"
)

// SeriesIdentity carries the identifiers shared by every instance in one
// conversion job: study and series UIDs (caller-provided or generated
// once at plan time) plus the human-facing labels.
type SeriesIdentity struct {
	StudyInstanceUID string
	SeriesInstanceUID string
	StudyID           string
	SeriesNumber      string
	ImageName         string
}

// builtInstance is one written DICOM file: the Frames it owns (kept so
// a RegionReader over this level can serve progressive-downsample reads
// of the next level), plus the geometry the Region Reader needs to
// validate instances against each other.
type builtInstance struct {
	path          string
	frames        []*Frame
	batchOrdinal  int // 0-based
	batchCount    int
	frameOffset   int // frames already written earlier in this level
	startRow      int
	startCol      int
	tileW, tileH  int
	imgW, imgH    int
}

// InstanceBuilder assembles one batch of finished Frames into a DICOM
// file. One is created per batch-cut by the scheduler.
type InstanceBuilder struct {
	identity SeriesIdentity
	level    int
	layout   Layout

	imgW, imgH   int
	tileW, tileH int
	wmm, hmm     float64

	encoder FrameEncoder

	extraTags []*dicom.Element
}

// Build waits for every frame to finish encoding, assembles the DICOM
// dataset, and writes it to outputDir following the
// level-<l>-frames-<offset>-<offset+count>.dcm naming grammar. It
// releases each frame's encoded buffer as the pixel-data element is
// populated.
func (b *InstanceBuilder) Build(outputDir string, frames []*Frame, batchOrdinal, batchCount, frameOffset, startRow, startCol, totalFramesInLevel int) (*builtInstance, error) {
	encodedFrames := make([][]byte, len(frames))
	for i, f := range frames {
		data, err := waitForEncoded(f)
		if err != nil {
			return nil, fmt.Errorf("batch %d frame %d: %w", batchOrdinal, i, err)
		}
		encodedFrames[i] = data
	}

	ds, err := b.buildDataset(encodedFrames, batchOrdinal, batchCount, frameOffset, startRow, startCol, totalFramesInLevel)
	if err != nil {
		return nil, err
	}

	for _, f := range frames {
		f.markEmitted()
	}

	count := len(frames)
	name := fmt.Sprintf("level-%d-frames-%d-%d.dcm", b.level, frameOffset, frameOffset+count)
	path := filepath.Join(outputDir, name)
	if err := writeDataset(path, ds); err != nil {
		return nil, &IOError{Path: path, Err: err}
	}

	return &builtInstance{
		path:         path,
		frames:       frames,
		batchOrdinal: batchOrdinal,
		batchCount:   batchCount,
		frameOffset:  frameOffset,
		startRow:     startRow,
		startCol:     startCol,
		tileW:        b.tileW,
		tileH:        b.tileH,
		imgW:         b.imgW,
		imgH:         b.imgH,
	}, nil
}

// waitForEncoded cooperatively polls a Frame until its slice() (already
// submitted to the worker pool by the scheduler) has finished, yielding
// between checks rather than spinning.
func waitForEncoded(f *Frame) ([]byte, error) {
	for {
		f.mu.Lock()
		state := f.state
		f.mu.Unlock()
		if state == frameEncoded || state == frameEmitted {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return f.encodedBytes()
}

func writeDataset(path string, ds dicom.Dataset) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return dicom.Write(file, ds,
		dicom.SkipVRVerification(),
		dicom.SkipValueTypeVerification(),
	)
}

func (b *InstanceBuilder) buildDataset(encodedFrames [][]byte, batchOrdinal, batchCount, frameOffset, startRow, startCol, totalFramesInLevel int) (dicom.Dataset, error) {
	var elements []*dicom.Element

	add := func(t tag.Tag, val interface{}) error {
		e, err := dicom.NewElement(t, val)
		if err != nil {
			return &MetadataError{Tag: fmt.Sprintf("%v", t), Err: err}
		}
		elements = append(elements, e)
		return nil
	}

	sopInstanceUID := NewSOPInstanceUID()

	imageType := "DERIVED\\PRIMARY\\VOLUME\\RESAMPLED"
	if b.level == 0 {
		imageType = "DERIVED\\PRIMARY\\VOLUME\\NONE"
	}

	checks := []error{
		add(tag.SOPClassUID, []string{sopClassWSI}),
		add(tag.SOPInstanceUID, []string{sopInstanceUID}),
		add(tag.Modality, []string{modalitySM}),
		add(tag.ImageType, []string{imageType}),
		add(tag.StudyInstanceUID, []string{b.identity.StudyInstanceUID}),
		add(tag.SeriesInstanceUID, []string{b.identity.SeriesInstanceUID}),
		add(tag.InstanceNumber, []string{fmt.Sprintf("%d", b.level+1)}),
		add(tag.ImageOrientationSlide, []string{"0", "-1", "0", "-1", "0", "0"}),
		add(tag.RepresentativeFrameNumber, []int{1}),
		add(tag.Rows, []int{b.tileH}),
		add(tag.Columns, []int{b.tileW}),
		add(tag.TotalPixelMatrixColumns, []int{b.imgW}),
		add(tag.TotalPixelMatrixRows, []int{b.imgH}),
		add(tag.SamplesPerPixel, []int{3}),
		add(tag.PhotometricInterpretation, []string{"RGB"}),
		add(tag.PlanarConfiguration, []int{0}),
		add(tag.BitsAllocated, []int{8}),
		add(tag.BitsStored, []int{8}),
		add(tag.HighBit, []int{7}),
		add(tag.PixelRepresentation, []int{0}),
		add(tag.NumberOfFrames, []string{fmt.Sprintf("%d", len(encodedFrames))}),
	}
	if b.identity.StudyID != "" {
		checks = append(checks, add(tag.StudyID, []string{b.identity.StudyID}))
	}
	if b.identity.ImageName != "" {
		checks = append(checks, add(tag.ContentLabel, []string{b.identity.ImageName}))
	}
	if b.encoder.LossyCompression() {
		checks = append(checks, add(tag.LossyImageCompression, []string{"01"}))
	} else {
		checks = append(checks, add(tag.LossyImageCompression, []string{"00"}))
	}
	checks = append(checks, add(tag.TransferSyntaxUID, []string{b.encoder.TransferSyntaxUID()}))

	if batchCount > 1 {
		forUID := frameOfReferenceUID(b.identity.SeriesInstanceUID, b.level)
		concatUID := concatenationUID(b.identity.SeriesInstanceUID, b.level)
		checks = append(checks,
			add(tag.FrameOfReferenceUID, []string{forUID}),
			add(tag.ConcatenationUID, []string{concatUID}),
			add(tag.ConcatenationFrameOffsetNumber, []int{frameOffset}),
			add(tag.InConcatenationNumber, []int{batchOrdinal + 1}),
			add(tag.InConcatenationTotalNumber, []int{batchCount}),
		)
	} else {
		forUID := frameOfReferenceUID(b.identity.SeriesInstanceUID, b.level)
		checks = append(checks, add(tag.FrameOfReferenceUID, []string{forUID}))
	}

	dimOrgType := "TILED_FULL"
	if b.layout == LayoutSparse {
		dimOrgType = "TILED_SPARSE"
	}
	checks = append(checks,
		add(tag.DimensionOrganizationType, []string{dimOrgType}),
		add(tag.SharedFunctionalGroupsSequence, b.sharedFunctionalGroups()),
	)

	if b.layout == LayoutSparse {
		checks = append(checks, add(tag.PerFrameFunctionalGroupsSequence, b.perFrameFunctionalGroups(len(encodedFrames), startRow, startCol)))
	}

	for _, err := range checks {
		if err != nil {
			return dicom.Dataset{}, err
		}
	}

	pixelElem, err := b.pixelDataElement(encodedFrames)
	if err != nil {
		return dicom.Dataset{}, err
	}
	elements = append(elements, pixelElem)

	for _, extra := range b.extraTags {
		for i, e := range elements {
			if e.Tag == extra.Tag {
				elements = append(elements[:i], elements[i+1:]...)
				break
			}
		}
		elements = append(elements, extra)
	}

	return dicom.Dataset{Elements: elements}, nil
}

// pixelSpacingMM returns the per-pixel spacing for this level, falling
// back to the default 0.1 mm when the source carries no physical
// calibration.
func (b *InstanceBuilder) pixelSpacingMM() float64 {
	if b.hmm <= 0 || b.imgH <= 0 {
		return 0.1
	}
	return b.hmm / float64(b.imgH)
}

func (b *InstanceBuilder) sharedFunctionalGroups() []*dicom.Dataset {
	spacing := b.pixelSpacingMM()
	pixelMeasures, _ := dicom.NewElement(tag.PixelSpacing, []string{
		fmt.Sprintf("%.6f", spacing), fmt.Sprintf("%.6f", spacing),
	})
	pixelMeasuresSeq, _ := dicom.NewElement(tag.PixelMeasuresSequence, []*dicom.Dataset{
		{Elements: []*dicom.Element{pixelMeasures}},
	})

	dimIdxItem := func() *dicom.Dataset {
		ptr, _ := dicom.NewElement(tag.DimensionIndexPointer, []int{int(tag.ColumnPositionInTotalImagePixelMatrix.Group), int(tag.ColumnPositionInTotalImagePixelMatrix.Element)})
		grp, _ := dicom.NewElement(tag.FunctionalGroupPointer, []int{int(tag.PlanePositionSlideSequence.Group), int(tag.PlanePositionSlideSequence.Element)})
		return &dicom.Dataset{Elements: []*dicom.Element{ptr, grp}}
	}
	dimIdxSeq, _ := dicom.NewElement(tag.DimensionIndexSequence, []*dicom.Dataset{
		dimIdxItem(),
		dimIdxItem(),
	})

	return []*dicom.Dataset{
		{Elements: []*dicom.Element{pixelMeasuresSeq, dimIdxSeq}},
	}
}

// perFrameFunctionalGroups writes the row/column position (1-based, in
// pixels) of each frame in this batch, walking the tile grid from the
// batch's starting row/column.
func (b *InstanceBuilder) perFrameFunctionalGroups(count, startRow, startCol int) []*dicom.Dataset {
	tilesAcross := ceilDiv(b.imgW, b.tileW)
	out := make([]*dicom.Dataset, 0, count)

	row, col := startRow, startCol
	for i := 0; i < count; i++ {
		colPx := col*b.tileW + 1
		rowPx := row*b.tileH + 1

		colElem, _ := dicom.NewElement(tag.ColumnPositionInTotalImagePixelMatrix, []int{colPx})
		rowElem, _ := dicom.NewElement(tag.RowPositionInTotalImagePixelMatrix, []int{rowPx})
		planePosSeq, _ := dicom.NewElement(tag.PlanePositionSlideSequence, []*dicom.Dataset{
			{Elements: []*dicom.Element{colElem, rowElem}},
		})
		out = append(out, &dicom.Dataset{Elements: []*dicom.Element{planePosSeq}})

		col++
		if col >= tilesAcross {
			col = 0
			row++
		}
	}
	return out
}

func (b *InstanceBuilder) pixelDataElement(encodedFrames [][]byte) (*dicom.Element, error) {
	frames := make([]*frame.Frame, len(encodedFrames))
	encapsulated := b.encoder.Encapsulated()
	for i, data := range encodedFrames {
		if encapsulated {
			frames[i] = &frame.Frame{
				Encapsulated:     true,
				EncapsulatedData: frame.EncapsulatedFrame{Data: data},
			}
		} else {
			frames[i] = &frame.Frame{
				Encapsulated: false,
				NativeData:   bytesToNativeFrame(data, b.tileW, b.tileH),
			}
		}
	}
	info := dicom.PixelDataInfo{Frames: frames}
	elem, err := dicom.NewElement(tag.PixelData, info)
	if err != nil {
		return nil, &MetadataError{Tag: "PixelData", Err: err}
	}
	return elem, nil
}

// bytesToNativeFrame repacks a 3-bytes-per-pixel interleaved RGB buffer
// into the library's native per-sample flat pixel array.
func bytesToNativeFrame(rgb []byte, w, h int) *frame.NativeFrame[uint8] {
	pixelsPerFrame := w * h
	nf := frame.NewNativeFrame[uint8](8, h, w, pixelsPerFrame*3, 3)
	copy(nf.RawData, rgb)
	return nf
}
