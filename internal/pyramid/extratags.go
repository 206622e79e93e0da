package pyramid

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// knownExtraTags maps the keywords a caller-supplied JSON tag file may
// name to their DICOM tag. Only identifying/descriptive tags a caller
// plausibly wants to override are recognized; an unknown keyword is a
// warning, not a fatal error.
var knownExtraTags = map[string]tag.Tag{
	"StudyDate":        tag.StudyDate,
	"SeriesDate":       tag.SeriesDate,
	"StudyDescription": tag.StudyDescription,
	"PatientName":      tag.PatientName,
	"PatientID":        tag.PatientID,
	"AccessionNumber":  tag.AccessionNumber,
	"Manufacturer":     tag.Manufacturer,
	"StudyID":          tag.StudyID,
}

// BuildExtraTags converts a flat keyword/value map (as decoded from a
// caller-supplied JSON tag file) into DICOM elements, skipping and
// reporting any keyword this converter doesn't recognize.
func BuildExtraTags(raw map[string]string) ([]*dicom.Element, error) {
	var elems []*dicom.Element
	var unknown []string
	for k, v := range raw {
		t, ok := knownExtraTags[k]
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		e, err := dicom.NewElement(t, []string{v})
		if err != nil {
			return nil, &MetadataError{Tag: k, Err: err}
		}
		elems = append(elems, e)
	}
	if len(unknown) > 0 {
		return elems, fmt.Errorf("unrecognized tag keyword(s): %v", unknown)
	}
	return elems, nil
}
