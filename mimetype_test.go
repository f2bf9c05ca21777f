package glycin

import "testing"

// tiffHeader is a little-endian TIFF header, which content sniffing
// reports as image/tiff regardless of the raw format inside.
var tiffHeader = []byte{0x49, 0x49, 0x2A, 0x00, 0x08, 0x00, 0x00, 0x00}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestGuessMimeTypePNG(t *testing.T) {
	mt, err := guessMimeType(pngHeader, "photo.png")
	if err != nil {
		t.Fatalf("guessMimeType failed: %v", err)
	}
	if mt != "image/png" {
		t.Errorf("mime type = %q, want image/png", mt)
	}
}

func TestGuessMimeTypeRawOverridesTiff(t *testing.T) {
	// A Nikon raw file sniffs as TIFF; the filename hint wins.
	mt, err := guessMimeType(tiffHeader, "shot.NEF")
	if err != nil {
		t.Fatalf("guessMimeType failed: %v", err)
	}
	if mt != "image/x-nikon-nef" {
		t.Errorf("mime type = %q, want image/x-nikon-nef", mt)
	}
}

func TestGuessMimeTypePlainTiffKeepsType(t *testing.T) {
	mt, err := guessMimeType(tiffHeader, "scan.tiff")
	if err != nil {
		t.Fatalf("guessMimeType failed: %v", err)
	}
	if mt != "image/tiff" {
		t.Errorf("mime type = %q, want image/tiff", mt)
	}
}

func TestGuessMimeTypeXMLPrefersSVGName(t *testing.T) {
	head := []byte(`<?xml version="1.0"?><!-- a very long comment -->`)
	mt, err := guessMimeType(head, "drawing.svg")
	if err != nil {
		t.Fatalf("guessMimeType failed: %v", err)
	}
	if mt != "image/svg+xml" {
		t.Errorf("mime type = %q, want image/svg+xml", mt)
	}
}

func TestGuessMimeTypeUnknown(t *testing.T) {
	_, err := guessMimeType([]byte{0x00, 0x01, 0x02, 0x03}, "")
	if err == nil {
		t.Fatal("expected unknown-media-type error")
	}
	if err.Kind != KindUnknownMediaType {
		t.Errorf("kind = %v, want KindUnknownMediaType", err.Kind)
	}
}

func TestBaseTypeStripsParameters(t *testing.T) {
	if got := baseType("image/svg+xml; charset=utf-8"); got != "image/svg+xml" {
		t.Errorf("baseType = %q", got)
	}
}
