package wire

import (
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/offsoc/glycin/pixel"
)

func TestFDRefIndexing(t *testing.T) {
	if NoFD.Index() != -1 {
		t.Errorf("NoFD.Index() = %d, want -1", NoFD.Index())
	}
	if RefFD(0).Index() != 0 {
		t.Errorf("RefFD(0).Index() = %d, want 0", RefFD(0).Index())
	}
	if RefFD(2) != FDRef(3) {
		t.Errorf("RefFD(2) = %d", RefFD(2))
	}
}

func TestFrameRoundTrip(t *testing.T) {
	delay := 40 * time.Millisecond
	depth := uint8(10)
	frame := Frame{
		Width:   640,
		Height:  480,
		Stride:  2560,
		Format:  pixel.R8G8B8A8,
		Texture: RefFD(0),
		Delay:   &delay,
		Details: FrameDetails{
			ICCProfile: RefFD(1),
			CICP:       []byte{9, 16, 9, 1},
			BitDepth:   &depth,
		},
	}

	data, err := msgpack.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got Frame
	if err := msgpack.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got.Width != 640 || got.Height != 480 || got.Stride != 2560 {
		t.Errorf("geometry = %dx%d/%d", got.Width, got.Height, got.Stride)
	}
	if got.Format != pixel.R8G8B8A8 {
		t.Errorf("format = %v", got.Format)
	}
	if got.Texture.Index() != 0 {
		t.Errorf("texture index = %d", got.Texture.Index())
	}
	if got.Delay == nil || *got.Delay != delay {
		t.Errorf("delay = %v", got.Delay)
	}
	if got.Details.ICCProfile.Index() != 1 {
		t.Errorf("iccp index = %d", got.Details.ICCProfile.Index())
	}
	if got.Details.BitDepth == nil || *got.Details.BitDepth != 10 {
		t.Errorf("bit depth = %v", got.Details.BitDepth)
	}
	if got.Details.AlphaChannel != nil {
		t.Error("absent alpha flag decoded as present")
	}
}

func TestAbsentDescriptorFieldsDecodeAsNoFD(t *testing.T) {
	// An info dict without exif/xmp must not alias descriptor 0.
	data, err := msgpack.Marshal(ImageInfo{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got ImageInfo
	if err := msgpack.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Details.Exif != NoFD || got.Details.Xmp != NoFD {
		t.Errorf("absent blobs decoded as %v/%v", got.Details.Exif, got.Details.Xmp)
	}
}

func TestErrorNameRoundTrip(t *testing.T) {
	kinds := []RemoteErrorKind{
		KindTransport,
		KindLoadingError,
		KindInternalLoaderError,
		KindUnsupportedImageFormat,
		KindDimensionTooLarge,
		KindOutOfMemory,
	}
	for _, kind := range kinds {
		name := kind.WireName()
		if got := KindFromWireName(name); got != kind {
			t.Errorf("KindFromWireName(%q) = %v, want %v", name, got, kind)
		}
	}

	if got := KindFromWireName("org.gnome.glycin.Error.FromTheFuture"); got != KindTransport {
		t.Errorf("unknown name mapped to %v, want Transport", got)
	}
}

func TestErrorNamePrefix(t *testing.T) {
	name := KindLoadingError.WireName()
	if name != "org.gnome.glycin.Error.LoadingError" {
		t.Errorf("wire name = %q", name)
	}
}
