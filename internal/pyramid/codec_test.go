package pyramid

import "testing"

func TestPixelABGRRoundTrip(t *testing.T) {
	abgr := solidABGR(4, 4, 255, 10, 20, 30)
	img := abgrToRGBA(abgr, 4, 4)
	back := rgbaToABGRSized(img, 4, 4)
	for i := range abgr {
		if abgr[i] != back[i] {
			t.Fatalf("byte %d: got %d want %d", i, back[i], abgr[i])
		}
	}
}

func TestRawEncoderEncode(t *testing.T) {
	enc := &rawEncoder{}
	abgr := solidABGR(2, 2, 255, 1, 2, 3)
	out, err := enc.Encode(abgr, 2, 2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(out) != 2*2*3 {
		t.Fatalf("got %d bytes, want %d", len(out), 2*2*3)
	}
	for i := 0; i < 4; i++ {
		if out[i*3] != 3 || out[i*3+1] != 2 || out[i*3+2] != 1 {
			t.Fatalf("pixel %d: got (%d,%d,%d)", i, out[i*3], out[i*3+1], out[i*3+2])
		}
	}
	if enc.Encapsulated() {
		t.Error("raw encoder should not be encapsulated")
	}
	if enc.LossyCompression() {
		t.Error("raw encoder should not be lossy")
	}
}

func TestJPEGEncoderRoundTrip(t *testing.T) {
	enc := &jpegEncoder{quality: 90}
	abgr := solidABGR(8, 8, 255, 64, 128, 192)
	out, err := enc.Encode(abgr, 8, 8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !canDecodeJPEG(out) {
		t.Fatal("encoded bytes don't look like a JPEG stream")
	}
	decoded, err := decodeJPEG(out, 8, 8)
	if err != nil {
		t.Fatalf("decodeJPEG: %v", err)
	}
	if len(decoded) != len(abgr) {
		t.Fatalf("got %d bytes, want %d", len(decoded), len(abgr))
	}
	// Lossy round trip: allow a tolerance rather than exact equality.
	for i := 0; i < len(abgr); i += 4 {
		if diff(decoded[i+1], abgr[i+1]) > 8 || diff(decoded[i+2], abgr[i+2]) > 8 || diff(decoded[i+3], abgr[i+3]) > 8 {
			t.Fatalf("pixel %d: got %v want %v", i/4, decoded[i:i+4], abgr[i:i+4])
		}
	}
}

func diff(a, b byte) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestCompressLosslessRoundTrip(t *testing.T) {
	raw := solidABGR(16, 16, 255, 7, 8, 9)
	compressed, err := compressLossless(raw)
	if err != nil {
		t.Fatalf("compressLossless: %v", err)
	}
	back, err := decompressLossless(compressed, len(raw))
	if err != nil {
		t.Fatalf("decompressLossless: %v", err)
	}
	if len(back) != len(raw) {
		t.Fatalf("got %d bytes, want %d", len(back), len(raw))
	}
	for i := range raw {
		if raw[i] != back[i] {
			t.Fatalf("byte %d: got %d want %d", i, back[i], raw[i])
		}
	}
}

func TestNewFrameEncoderUnknownCodec(t *testing.T) {
	if _, err := NewFrameEncoder(Codec(99), 80); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}
