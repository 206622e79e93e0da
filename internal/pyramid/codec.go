package pyramid

import (
	"bytes"
	stdjpeg "image/jpeg"
	"io"

	"github.com/klauspost/compress/flate"
	jpeg2000 "github.com/mrjoshuak/go-jpeg2000"

	"github.com/pspoerri/wsi2dcm/internal/wsisource"
)

// FrameEncoder turns one ABGR tile into the bytes a DICOM pixel-data
// element holds for one frame, plus whether the transfer syntax it
// implies is encapsulated (JPEG family) or native (raw).
type FrameEncoder interface {
	Encode(abgr []byte, w, h int) ([]byte, error)
	Encapsulated() bool
	LossyCompression() bool
	TransferSyntaxUID() string
	Name() string
}

const (
	tsJPEGBaseline     = "1.2.840.10008.1.2.4.50"
	tsJPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	tsExplicitVRLE     = "1.2.840.10008.1.2.1"
)

// NewFrameEncoder builds the FrameEncoder for the configured codec.
func NewFrameEncoder(codec Codec, quality int) (FrameEncoder, error) {
	switch codec {
	case CodecJPEG:
		return &jpegEncoder{quality: quality}, nil
	case CodecJPEG2000:
		return &jpeg2000Encoder{}, nil
	case CodecRaw:
		return &rawEncoder{}, nil
	default:
		return nil, &ConfigError{Option: "codec", Reason: "unknown codec"}
	}
}

// jpegEncoder implements baseline process-1 JPEG via the standard
// library.
type jpegEncoder struct{ quality int }

func (e *jpegEncoder) Encode(abgr []byte, w, h int) ([]byte, error) {
	img := abgrToRGBA(abgr, w, h)
	var buf bytes.Buffer
	if err := stdjpeg.Encode(&buf, img, &stdjpeg.Options{Quality: e.quality}); err != nil {
		return nil, &EncodeError{Codec: "jpeg", Err: err}
	}
	return buf.Bytes(), nil
}

func (e *jpegEncoder) Encapsulated() bool        { return true }
func (e *jpegEncoder) LossyCompression() bool    { return true }
func (e *jpegEncoder) TransferSyntaxUID() string { return tsJPEGBaseline }
func (e *jpegEncoder) Name() string              { return "jpeg" }

// jpeg2000Encoder implements lossless single-layer JPEG 2000.
type jpeg2000Encoder struct{}

func (e *jpeg2000Encoder) Encode(abgr []byte, w, h int) ([]byte, error) {
	img := abgrToRGBA(abgr, w, h)
	var buf bytes.Buffer
	if err := jpeg2000.Encode(&buf, img, &jpeg2000.Options{Lossless: true}); err != nil {
		return nil, &EncodeError{Codec: "jpeg2000", Err: err}
	}
	return buf.Bytes(), nil
}

func (e *jpeg2000Encoder) Encapsulated() bool        { return true }
func (e *jpeg2000Encoder) LossyCompression() bool    { return false }
func (e *jpeg2000Encoder) TransferSyntaxUID() string { return tsJPEG2000Lossless }
func (e *jpeg2000Encoder) Name() string              { return "jpeg2000" }

// rawEncoder copies raw pixel bytes into a native little-endian 8-bit
// pixel array (one 3-byte RGB triple per pixel; no alpha).
type rawEncoder struct{}

func (e *rawEncoder) Encode(abgr []byte, w, h int) ([]byte, error) {
	out := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		b := abgr[i*4+1]
		g := abgr[i*4+2]
		r := abgr[i*4+3]
		out[i*3] = r
		out[i*3+1] = g
		out[i*3+2] = b
	}
	return out, nil
}

func (e *rawEncoder) Encapsulated() bool        { return false }
func (e *rawEncoder) LossyCompression() bool    { return false }
func (e *rawEncoder) TransferSyntaxUID() string { return tsExplicitVRLE }
func (e *rawEncoder) Name() string              { return "raw" }

// canDecodeJPEG answers whether decodeJPEG would attempt the given
// bytes (they start with the JPEG start-of-image marker), without
// allocating the decoded result.
func canDecodeJPEG(data []byte) bool {
	return wsisource.CanDecodeJPEG(data)
}

// decodeJPEG decodes JPEG bytes into ABGR pixels of exactly
// width*height*4 bytes, using the decoder shared with the DICOM pyramid
// source's encapsulated-frame read path.
func decodeJPEG(data []byte, width, height int) ([]byte, error) {
	img, err := wsisource.DecodeJPEG(data)
	if err != nil {
		return nil, &EncodeError{Codec: "jpeg", Err: err}
	}
	return rgbaToABGRSized(img, width, height), nil
}

// decodeJP2 decodes JPEG 2000 bytes into ABGR pixels of exactly
// width*height*4 bytes, using the decoder shared with the DICOM pyramid
// source's encapsulated-frame read path.
func decodeJP2(data []byte, width, height int) ([]byte, error) {
	img, err := wsisource.DecodeJP2(data)
	if err != nil {
		return nil, &EncodeError{Codec: "jpeg2000", Err: err}
	}
	return rgbaToABGRSized(img, width, height), nil
}

// compressLossless is the in-memory lossless compressor used for
// transient per-Frame raw-pixel caches.
func compressLossless(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompressLossless is compressLossless's inverse.
func decompressLossless(compressed []byte, size int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	out := make([]byte, 0, size)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
