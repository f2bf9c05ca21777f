package icc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/offsoc/glycin/pixel"
)

// grayProfile builds a minimal GRAY/XYZ matrix-TRC profile with an
// identity kTRC curve.
func grayProfile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[16:], sigGray)
	binary.BigEndian.PutUint32(header[20:], sigXYZ)
	binary.BigEndian.PutUint32(header[36:], sigAcsp)
	buf.Write(header)

	// Tag table: one entry pointing at the curve tag.
	binary.Write(&buf, binary.BigEndian, uint32(1))
	binary.Write(&buf, binary.BigEndian, uint32(sigKTRC))
	binary.Write(&buf, binary.BigEndian, uint32(headerSize+4+12))
	binary.Write(&buf, binary.BigEndian, uint32(12))

	// curv with zero points: identity.
	binary.Write(&buf, binary.BigEndian, uint32(sigCurv))
	binary.Write(&buf, binary.BigEndian, uint32(0))
	binary.Write(&buf, binary.BigEndian, uint32(0))

	return buf.Bytes()
}

func TestParseRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("not a profile")},
		{"bad signature", make([]byte, 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.data); !errors.Is(err, ErrUnsupported) {
				t.Errorf("Parse = %v, want ErrUnsupported", err)
			}
		})
	}
}

func TestParseGrayProfile(t *testing.T) {
	p, err := Parse(grayProfile(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !p.gray {
		t.Error("profile should be grayscale")
	}
}

func TestGrayTransformEndpoints(t *testing.T) {
	p, err := Parse(grayProfile(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	buf := []byte{0, 128, 255}
	if err := p.Apply(buf, pixel.G8, 3, 1, 3); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	// Black and white are fixed points of the sRGB encoding.
	if buf[0] != 0 {
		t.Errorf("black became %d", buf[0])
	}
	if buf[2] != 255 {
		t.Errorf("white became %d", buf[2])
	}
	// A linear mid-gray gets brighter under the sRGB curve.
	if buf[1] <= 128 {
		t.Errorf("mid-gray = %d, want > 128", buf[1])
	}
}

func TestApplyRejectsFloatFormats(t *testing.T) {
	p, err := Parse(grayProfile(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	err = p.Apply(make([]byte, 12), pixel.R32G32B32Float, 1, 1, 12)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Apply on float format = %v, want ErrUnsupported", err)
	}
}

func TestApplyRejectsClassMismatch(t *testing.T) {
	p, err := Parse(grayProfile(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	err = p.Apply(make([]byte, 4), pixel.R8G8B8A8, 1, 1, 4)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("gray profile on RGB pixels = %v, want ErrUnsupported", err)
	}
}

func TestCurveEval(t *testing.T) {
	identity := curve{gamma: 1}
	if got := identity.eval(0.25); got != 0.25 {
		t.Errorf("identity eval = %v", got)
	}

	gamma := curve{gamma: 2}
	if got := gamma.eval(0.5); got != 0.25 {
		t.Errorf("gamma 2 eval(0.5) = %v, want 0.25", got)
	}

	lut := curve{points: []float64{0, 1}}
	if got := lut.eval(0.5); got != 0.5 {
		t.Errorf("two-point lut eval(0.5) = %v, want 0.5", got)
	}

	// Parametric type 0 is a plain gamma.
	para := curve{isPara: true, paraTyp: 0, para: []float64{2}}
	if got := para.eval(0.5); got != 0.25 {
		t.Errorf("parametric gamma eval(0.5) = %v, want 0.25", got)
	}
}
