package transcode

import "testing"

func TestMetadataStripVolatile(t *testing.T) {
	src := Metadata{
		"title":           "clip",
		"artist":          "someone",
		"creation_time":   "2021-01-01T00:00:00Z",
		"company_name":    "Acme",
		"product_name":    "Recorder",
		"product_version": "1.2",
	}
	got := src.StripVolatile()

	if len(got) != 2 || got["title"] != "clip" || got["artist"] != "someone" {
		t.Errorf("StripVolatile() = %v, want only title and artist", got)
	}
	// The source map is untouched.
	if len(src) != 6 {
		t.Errorf("source metadata mutated: %v", src)
	}
}

func TestMetadataClone(t *testing.T) {
	src := Metadata{"title": "clip"}
	got := src.Clone()
	got["title"] = "changed"
	if src["title"] != "clip" {
		t.Error("Clone should not share storage with the source")
	}
}
