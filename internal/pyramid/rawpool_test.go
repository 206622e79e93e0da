package pyramid

import "testing"

func TestABGRBufferPoolReusesSameSize(t *testing.T) {
	buf := getABGRBuffer(64)
	if len(buf) != 64 {
		t.Fatalf("got %d bytes, want 64", len(buf))
	}
	buf[0] = 0xFF
	putABGRBuffer(buf)

	reused := getABGRBuffer(64)
	if len(reused) != 64 {
		t.Fatalf("got %d bytes, want 64", len(reused))
	}
	if reused[0] != 0 {
		t.Errorf("reused buffer not cleared, byte 0 = %d", reused[0])
	}
}

func TestABGRBufferPoolDifferentSizesIndependent(t *testing.T) {
	a := getABGRBuffer(16)
	b := getABGRBuffer(32)
	if len(a) == len(b) {
		t.Fatalf("expected different lengths, got %d and %d", len(a), len(b))
	}
}
