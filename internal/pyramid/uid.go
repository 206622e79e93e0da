package pyramid

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// dicomUIDRoot is the OID root under which a UUID, written as one
// decimal integer, forms a DICOM UID.
const dicomUIDRoot = "2.25"

// newUID derives a DICOM-legal UID (digits and dots only, <= 64 chars)
// from a fresh random UUID.
func newUID() string {
	u := uuid.New()
	// A UUID's 128 bits fit in a 39-digit decimal number; combined with
	// the "2.25" root this matches the scheme DICOM PS3.5 Annex B
	// describes for UUID-derived UIDs.
	return dicomUIDRoot + "." + new(big.Int).SetBytes(u[:]).String()
}

// NewStudyInstanceUID generates a new Study Instance UID.
func NewStudyInstanceUID() string { return newUID() }

// NewSeriesInstanceUID generates a new Series Instance UID.
func NewSeriesInstanceUID() string { return newUID() }

// NewSOPInstanceUID generates a new SOP Instance UID.
func NewSOPInstanceUID() string { return newUID() }

// concatenationUID derives a per-level Concatenation UID from the series
// UID by appending the 1-based level index.
func concatenationUID(seriesUID string, level int) string {
	return fmt.Sprintf("%s.%d", strings.TrimSuffix(seriesUID, "."), level+1)
}

// frameOfReferenceUID derives a per-level Frame-of-Reference UID from the
// series UID the same way.
func frameOfReferenceUID(seriesUID string, level int) string {
	return fmt.Sprintf("%s.%d", strings.TrimSuffix(seriesUID, "."), level+1)
}
