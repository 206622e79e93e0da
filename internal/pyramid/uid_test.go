package pyramid

import (
	"strings"
	"testing"
)

func TestNewUIDFormat(t *testing.T) {
	u := newUID()
	if !strings.HasPrefix(u, dicomUIDRoot+".") {
		t.Fatalf("uid %q does not start with root %q", u, dicomUIDRoot)
	}
	if len(u) > 64 {
		t.Errorf("uid %q is %d chars, DICOM UIDs must be <= 64", u, len(u))
	}
	for _, r := range u {
		if r != '.' && (r < '0' || r > '9') {
			t.Fatalf("uid %q contains non-digit, non-dot character %q", u, r)
		}
	}
}

func TestNewUIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		u := newUID()
		if seen[u] {
			t.Fatalf("duplicate uid generated: %q", u)
		}
		seen[u] = true
	}
}

func TestConcatenationUIDDeterministicPerLevel(t *testing.T) {
	series := "2.25.12345"
	a := concatenationUID(series, 0)
	b := concatenationUID(series, 0)
	if a != b {
		t.Fatalf("concatenationUID not deterministic: %q vs %q", a, b)
	}
	c := concatenationUID(series, 1)
	if a == c {
		t.Fatalf("concatenationUID should differ by level: %q", a)
	}
	if !strings.HasPrefix(a, series) {
		t.Fatalf("concatenationUID %q should extend the series UID %q", a, series)
	}
}

func TestFrameOfReferenceUIDExtendsSeriesUID(t *testing.T) {
	series := "2.25.54321"
	forUID := frameOfReferenceUID(series, 0)
	if !strings.HasPrefix(forUID, series) {
		t.Fatalf("frameOfReferenceUID %q should extend the series UID %q", forUID, series)
	}
}
