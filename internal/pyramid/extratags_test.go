package pyramid

import "testing"

func TestBuildExtraTagsKnownKeyword(t *testing.T) {
	elems, err := BuildExtraTags(map[string]string{"PatientID": "ABC123"})
	if err != nil {
		t.Fatalf("BuildExtraTags: %v", err)
	}
	if len(elems) != 1 {
		t.Fatalf("got %d elements, want 1", len(elems))
	}
}

func TestBuildExtraTagsUnknownKeywordReported(t *testing.T) {
	elems, err := BuildExtraTags(map[string]string{"NotARealTag": "x"})
	if err == nil {
		t.Fatal("expected an error listing the unrecognized keyword")
	}
	if len(elems) != 0 {
		t.Fatalf("got %d elements, want 0", len(elems))
	}
}

func TestBuildExtraTagsMixedKnownAndUnknown(t *testing.T) {
	elems, err := BuildExtraTags(map[string]string{
		"StudyID":     "S1",
		"NotARealTag": "x",
	})
	if err == nil {
		t.Fatal("expected an error for the unrecognized keyword")
	}
	if len(elems) != 1 {
		t.Fatalf("got %d elements, want 1 (the recognized one still returned)", len(elems))
	}
}

func TestBuildExtraTagsEmpty(t *testing.T) {
	elems, err := BuildExtraTags(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(elems) != 0 {
		t.Fatalf("got %d elements, want 0", len(elems))
	}
}
