package pixel

import "testing"

func TestFormatAttributes(t *testing.T) {
	tests := []struct {
		format        Format
		bytes         int
		channels      int
		alpha         bool
		premultiplied bool
	}{
		{R8G8B8A8, 4, 4, true, false},
		{R8G8B8A8Premultiplied, 4, 4, true, true},
		{B8G8R8A8, 4, 4, true, false},
		{R8G8B8, 3, 3, false, false},
		{R16G16B16, 6, 3, false, false},
		{R16G16B16A16, 8, 4, true, false},
		{R32G32B32Float, 12, 3, false, false},
		{R32G32B32A32FloatPremultiplied, 16, 4, true, true},
		{G8, 1, 1, false, false},
		{G8A8, 2, 2, true, false},
		{G16, 2, 2, false, false},
		{G16A16Premultiplied, 4, 2, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := tt.format.BytesPerPixel(); got != tt.bytes {
				t.Errorf("BytesPerPixel() = %d, want %d", got, tt.bytes)
			}
			if got := tt.format.Channels(); got != tt.channels {
				t.Errorf("Channels() = %d, want %d", got, tt.channels)
			}
			if got := tt.format.HasAlpha(); got != tt.alpha {
				t.Errorf("HasAlpha() = %v, want %v", got, tt.alpha)
			}
			if got := tt.format.IsPremultiplied(); got != tt.premultiplied {
				t.Errorf("IsPremultiplied() = %v, want %v", got, tt.premultiplied)
			}
		})
	}
}

func TestFormatWireValues(t *testing.T) {
	// The numeric values are part of the wire protocol.
	if B8G8R8A8Premultiplied != 0 {
		t.Errorf("B8G8R8A8Premultiplied = %d, want 0", B8G8R8A8Premultiplied)
	}
	if R8G8B8A8 != 5 {
		t.Errorf("R8G8B8A8 = %d, want 5", R8G8B8A8)
	}
	if G16 != 22 {
		t.Errorf("G16 = %d, want 22", G16)
	}
}

func TestRowSize(t *testing.T) {
	row, err := R8G8B8A8.RowSize(1024)
	if err != nil {
		t.Fatalf("RowSize(1024) failed: %v", err)
	}
	if row != 4096 {
		t.Errorf("RowSize(1024) = %d, want 4096", row)
	}

	if _, err := R32G32B32A32Float.RowSize(1 << 31); err != ErrDimensionTooLarge {
		t.Errorf("expected ErrDimensionTooLarge, got %v", err)
	}
}

func TestBufferSize(t *testing.T) {
	n, err := BufferSize(4096, 1024)
	if err != nil {
		t.Fatalf("BufferSize failed: %v", err)
	}
	if n != 4096*1024 {
		t.Errorf("BufferSize = %d, want %d", n, 4096*1024)
	}

	if _, err := BufferSize(1<<31, 1<<31); err != ErrDimensionTooLarge {
		t.Errorf("expected ErrDimensionTooLarge, got %v", err)
	}
}

func TestFormatValid(t *testing.T) {
	if !R8G8B8A8.Valid() {
		t.Error("R8G8B8A8 should be valid")
	}
	if Format(-1).Valid() || Format(23).Valid() {
		t.Error("out-of-range formats should be invalid")
	}
}
