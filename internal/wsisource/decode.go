package wsisource

import (
	"bytes"
	"fmt"
	"image"
	stdjpeg "image/jpeg"
	"strings"

	jpeg2000 "github.com/mrjoshuak/go-jpeg2000"
)

// CanDecodeJPEG answers whether DecodeJPEG would attempt the given bytes,
// without allocating the decoded result.
func CanDecodeJPEG(data []byte) bool {
	return len(data) >= 2 && data[0] == 0xFF && data[1] == 0xD8
}

// DecodeJPEG decodes baseline/extended JPEG bytes.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := stdjpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding JPEG frame: %w", err)
	}
	return img, nil
}

// DecodeJP2 decodes JPEG 2000 bytes.
func DecodeJP2(data []byte) (image.Image, error) {
	img, err := jpeg2000.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding JPEG2000 frame: %w", err)
	}
	return img, nil
}

// DecodeEncapsulatedABGR decodes one encapsulated DICOM frame's compressed
// bytes to ABGR, choosing JPEG vs. JPEG 2000 by the instance's transfer
// syntax UID. This is the single decode path shared by the DICOM pyramid
// source and anything else that needs to read a compressed frame back.
func DecodeEncapsulatedABGR(data []byte, transferSyntaxUID string) ([]byte, error) {
	if strings.HasSuffix(transferSyntaxUID, ".4.90") || strings.HasSuffix(transferSyntaxUID, ".4.91") { // JPEG 2000 family
		img, err := DecodeJP2(data)
		if err != nil {
			return nil, err
		}
		return rgbaToABGR(img), nil
	}
	img, err := DecodeJPEG(data)
	if err != nil {
		return nil, err
	}
	return rgbaToABGR(img), nil
}
